package authstore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/fameblinds/fame-go/pkg/registry"
)

// StateVersion is the current version of the store file format.
const StateVersion = 1

// hkdfInfo binds derived keys to this store format.
var hkdfInfo = []byte("fame-authstore chacha20poly1305 v1")

var (
	// ErrInvalidDeviceID is returned for malformed device IDs.
	ErrInvalidDeviceID = errors.New("invalid device id")

	// ErrNotFound is returned when no password is stored for a device.
	ErrNotFound = errors.New("no password stored for device")
)

// storeFile is the on-disk representation.
type storeFile struct {
	// Version is the store file format version.
	Version int `json:"version"`

	// SavedAt is when the store was last saved.
	SavedAt time.Time `json:"saved_at"`

	// Devices contains one sealed entry per device.
	Devices []entry `json:"devices,omitempty"`
}

// entry is one sealed password.
type entry struct {
	// DeviceID is the 8-hex-char device identifier.
	DeviceID string `json:"device_id"`

	// Nonce is the AEAD nonce used to seal this entry.
	Nonce []byte `json:"nonce"`

	// Sealed is the AEAD-sealed password.
	Sealed []byte `json:"sealed"`

	// AddedAt is when the password was stored.
	AddedAt time.Time `json:"added_at"`

	// ExpiresAt is when the password stops being usable. Zero means no
	// expiry.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Store manages sealed device passwords backed by a JSON file.
type Store struct {
	mu      sync.Mutex
	path    string
	key     []byte
	entries map[string]entry
	now     func() time.Time
}

// NewStore opens (or creates) the store at path. secret seeds the
// sealing key; the same secret must be supplied on every open or
// previously stored passwords become unreadable.
func NewStore(path string, secret []byte) (*Store, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, hkdfInfo), key); err != nil {
		return nil, fmt.Errorf("derive sealing key: %w", err)
	}

	s := &Store{
		path:    path,
		key:     key,
		entries: make(map[string]entry),
		now:     time.Now,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Authenticate seals and stores the password for a device. A zero
// expiry stores the password indefinitely.
func (s *Store) Authenticate(deviceID, password string, expiry time.Duration) error {
	deviceID = registry.NormalizeDeviceID(deviceID)
	if !registry.ValidDeviceID(deviceID) {
		return fmt.Errorf("%q: %w", deviceID, ErrInvalidDeviceID)
	}

	aead, err := chacha20poly1305.New(s.key)
	if err != nil {
		return fmt.Errorf("init aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, []byte(password), []byte(deviceID))

	s.mu.Lock()
	defer s.mu.Unlock()

	e := entry{
		DeviceID: deviceID,
		Nonce:    nonce,
		Sealed:   sealed,
		AddedAt:  s.now(),
	}
	if expiry > 0 {
		e.ExpiresAt = e.AddedAt.Add(expiry)
	}
	s.entries[deviceID] = e
	return s.saveLocked()
}

// Password returns the stored password for a device. Expired and
// missing entries report false. Satisfies deviceapi.PasswordSource.
func (s *Store) Password(deviceID string) (string, bool) {
	deviceID = registry.NormalizeDeviceID(deviceID)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[deviceID]
	if !ok {
		return "", false
	}
	if !e.ExpiresAt.IsZero() && !s.now().Before(e.ExpiresAt) {
		return "", false
	}

	aead, err := chacha20poly1305.New(s.key)
	if err != nil {
		return "", false
	}
	pw, err := aead.Open(nil, e.Nonce, e.Sealed, []byte(deviceID))
	if err != nil {
		// Wrong secret or corrupted file.
		return "", false
	}
	return string(pw), true
}

// Has reports whether an unexpired password exists for a device.
func (s *Store) Has(deviceID string) bool {
	_, ok := s.Password(deviceID)
	return ok
}

// Remove deletes the stored password for a device.
func (s *Store) Remove(deviceID string) error {
	deviceID = registry.NormalizeDeviceID(deviceID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[deviceID]; !ok {
		return fmt.Errorf("%s: %w", deviceID, ErrNotFound)
	}
	delete(s.entries, deviceID)
	return s.saveLocked()
}

// Clear removes all stored passwords and deletes the state file.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]entry)
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// load reads the state file. A missing file is an empty store.
func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read auth store: %w", err)
	}

	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("decode auth store: %w", err)
	}
	for _, e := range file.Devices {
		s.entries[e.DeviceID] = e
	}
	return nil
}

// saveLocked writes the state file. Caller holds s.mu.
func (s *Store) saveLocked() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	file := storeFile{
		Version: StateVersion,
		SavedAt: s.now(),
	}
	for _, e := range s.entries {
		file.Devices = append(file.Devices, e)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0600)
}

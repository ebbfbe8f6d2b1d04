package authstore

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T, secret string) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "auth.json")
	s, err := NewStore(path, []byte(secret))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return s, path
}

func TestRoundTrip(t *testing.T) {
	s, _ := newTestStore(t, "secret")

	if err := s.Authenticate("A1B2C3D4", "hunter2", 0); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	pw, ok := s.Password("a1b2c3d4")
	if !ok {
		t.Fatal("password should exist")
	}
	if pw != "hunter2" {
		t.Errorf("password = %q, want hunter2", pw)
	}
	if !s.Has("a1b2c3d4") {
		t.Error("Has should report true")
	}
}

func TestInvalidDeviceID(t *testing.T) {
	s, _ := newTestStore(t, "secret")

	err := s.Authenticate("not-a-device", "pw", 0)
	if !errors.Is(err, ErrInvalidDeviceID) {
		t.Errorf("expected ErrInvalidDeviceID, got %v", err)
	}
}

func TestReopenWithSameSecret(t *testing.T) {
	s, path := newTestStore(t, "secret")
	if err := s.Authenticate("a1b2c3d4", "hunter2", 0); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	reopened, err := NewStore(path, []byte("secret"))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	pw, ok := reopened.Password("a1b2c3d4")
	if !ok || pw != "hunter2" {
		t.Errorf("reopened store returned (%q, %v), want (hunter2, true)", pw, ok)
	}
}

func TestWrongSecretUnreadable(t *testing.T) {
	s, path := newTestStore(t, "secret")
	if err := s.Authenticate("a1b2c3d4", "hunter2", 0); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	reopened, err := NewStore(path, []byte("different"))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if _, ok := reopened.Password("a1b2c3d4"); ok {
		t.Error("password should be unreadable with wrong secret")
	}
}

func TestPasswordNotInPlaintext(t *testing.T) {
	s, path := newTestStore(t, "secret")
	if err := s.Authenticate("a1b2c3d4", "super-secret-password", 0); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read state file: %v", err)
	}
	if strings.Contains(string(data), "super-secret-password") {
		t.Error("state file contains plaintext password")
	}
}

func TestExpiry(t *testing.T) {
	s, _ := newTestStore(t, "secret")

	now := time.Now()
	s.now = func() time.Time { return now }

	if err := s.Authenticate("a1b2c3d4", "pw", time.Hour); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	if _, ok := s.Password("a1b2c3d4"); !ok {
		t.Error("password should be valid before expiry")
	}

	now = now.Add(time.Hour - time.Second)
	if _, ok := s.Password("a1b2c3d4"); !ok {
		t.Error("password should be valid just before expiry")
	}

	now = now.Add(2 * time.Second)
	if _, ok := s.Password("a1b2c3d4"); ok {
		t.Error("password should be expired")
	}
}

func TestRemove(t *testing.T) {
	s, _ := newTestStore(t, "secret")

	if err := s.Remove("a1b2c3d4"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := s.Authenticate("a1b2c3d4", "pw", 0); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if err := s.Remove("a1b2c3d4"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if s.Has("a1b2c3d4") {
		t.Error("password should be gone after Remove")
	}
}

func TestClear(t *testing.T) {
	s, path := newTestStore(t, "secret")
	if err := s.Authenticate("a1b2c3d4", "pw", 0); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if s.Has("a1b2c3d4") {
		t.Error("store should be empty after Clear")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("state file should be deleted after Clear")
	}
}

package registry

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Config customizes registry behavior.
type Config struct {
	// StaleAge is the default eviction age for RemoveStale.
	// Zero means DefaultStaleAge.
	StaleAge time.Duration

	// Logger receives debug-level drop/evict messages. Nil disables.
	Logger *slog.Logger
}

// Registry is the single authoritative store of device records.
// All mutations are serialized; it is safe for concurrent use by both
// discovery sources and the provisioning flow.
type Registry struct {
	mu sync.RWMutex

	// devices holds all records keyed by normalized device ID.
	devices map[string]*DeviceRecord

	// inSetup is the device ID currently being provisioned over BLE,
	// or "" when no flow is active. HTTP updates for this ID are dropped.
	inSetup string

	staleAge time.Duration
	logger   *slog.Logger

	// Scan cooldown state, see cooldown.go.
	coolingDown bool
	cooldownGen uint64

	// Snapshot subscribers keyed by token.
	subs    map[uint64]chan []DeviceRecord
	nextSub uint64

	onChange func([]DeviceRecord)

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a registry with default configuration.
func New() *Registry {
	return NewWithConfig(Config{})
}

// NewWithConfig creates a registry with custom configuration.
func NewWithConfig(cfg Config) *Registry {
	if cfg.StaleAge <= 0 {
		cfg.StaleAge = DefaultStaleAge
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		devices:  make(map[string]*DeviceRecord),
		staleAge: cfg.StaleAge,
		logger:   cfg.Logger,
		subs:     make(map[uint64]chan []DeviceRecord),
		now:      time.Now,
	}
}

// OnChange registers a callback invoked with the sorted device list after
// every mutation that changed it. The callback runs with the registry
// locked and must not call back into the registry.
func (r *Registry) OnChange(fn func([]DeviceRecord)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// UpdateFromBLE applies a BLE advertisement event. The device ID is derived
// from the advertised name; the cached platform name is consulted only when
// no advertised name is available, since platform BLE caches can return
// stale names for previously-seen peripherals. Events without a stable ID
// are dropped.
func (r *Registry) UpdateFromBLE(ref PeripheralRef, advertisedName string, rssi int) {
	name := advertisedName
	if name == "" {
		if cached, ok := ref.(interface{ CachedName() string }); ok {
			name = cached.CachedName()
		}
	}

	id := DeviceIDFromName(name)
	if id == "" {
		r.logger.Debug("ble event ignored, no stable id", "name", name)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.devices[id]
	if !exists {
		rec = &DeviceRecord{DeviceID: id}
		r.devices[id] = rec
	}

	rec.BLERef = ref
	rec.RSSI = rssi
	if !rec.WifiConnected || rec.DisplayName == "" {
		rec.DisplayName = name
	}
	r.touchLocked(rec)
	r.publishLocked()
}

// UpdateFromHTTP applies a verified mDNS/HTTP discovery event. The hostname
// wins over any BLE-advertised name. Events for the device currently marked
// in-setup are dropped silently so a device mid-provisioning cannot appear
// configured through a lingering mDNS announcement.
func (r *Registry) UpdateFromHTTP(name, ip, deviceID, mac string) {
	id := NormalizeDeviceID(deviceID)
	if id == "" {
		r.logger.Debug("http event ignored, empty device id", "name", name, "ip", ip)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id == r.inSetup {
		return
	}

	rec, exists := r.devices[id]
	if !exists {
		rec = &DeviceRecord{DeviceID: id}
		r.devices[id] = rec
	}

	if name != "" {
		rec.DisplayName = name
	}
	rec.IPAddress = ip
	if mac != "" {
		rec.MACAddress = mac
	}
	rec.WifiConnected = true
	r.touchLocked(rec)
	r.publishLocked()
}

// MarkInSetup suppresses HTTP updates for the given device ID until
// cleared with an empty string. At most one device is suppressed at a
// time; marking a new one replaces the previous suppression.
func (r *Registry) MarkInSetup(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inSetup = NormalizeDeviceID(deviceID)
}

// InSetup returns the currently-suppressed device ID, or "".
func (r *Registry) InSetup() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inSetup
}

// Get returns a copy of the record for the given device ID.
func (r *Registry) Get(deviceID string) (DeviceRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.devices[NormalizeDeviceID(deviceID)]
	if !ok {
		return DeviceRecord{}, false
	}
	return *rec, true
}

// List returns copies of all records sorted by display name, with device
// ID as a stable secondary order so name ties don't flicker.
func (r *Registry) List() []DeviceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Remove deletes the record for the given device ID.
// Returns true if a record was removed.
func (r *Registry) Remove(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := NormalizeDeviceID(deviceID)
	if _, ok := r.devices[id]; !ok {
		return false
	}
	delete(r.devices, id)
	r.publishLocked()
	return true
}

// Clear removes all records.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.devices) == 0 {
		return
	}
	r.devices = make(map[string]*DeviceRecord)
	r.publishLocked()
}

// ClearBLEOnly removes records that are BLE-visible but not WiFi-configured.
// Called before a fresh BLE scan so stale unconfigured entries don't linger.
// Returns the number of records removed.
func (r *Registry) ClearBLEOnly() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, rec := range r.devices {
		if rec.Provisionable() {
			delete(r.devices, id)
			removed++
		}
	}
	if removed > 0 {
		r.publishLocked()
	}
	return removed
}

// RemoveStale evicts records whose LastSeen is older than maxAge.
// A maxAge of zero uses the configured default. Returns the number of
// records evicted.
func (r *Registry) RemoveStale(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = r.staleAge
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxAge)
	removed := 0
	for id, rec := range r.devices {
		if rec.LastSeen.Before(cutoff) {
			delete(r.devices, id)
			removed++
			r.logger.Debug("stale device evicted", "device_id", id, "last_seen", rec.LastSeen)
		}
	}
	if removed > 0 {
		r.publishLocked()
	}
	return removed
}

// Subscribe returns a channel that carries the current sorted device list
// and every subsequent change. The latest snapshot replaces any undelivered
// one, so a slow receiver always observes the newest state. The returned
// cancel function releases the subscription and closes the channel.
func (r *Registry) Subscribe() (<-chan []DeviceRecord, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan []DeviceRecord, 1)
	ch <- r.snapshotLocked()

	token := r.nextSub
	r.nextSub++
	r.subs[token] = ch

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if sub, ok := r.subs[token]; ok {
			delete(r.subs, token)
			close(sub)
		}
	}
	return ch, cancel
}

// touchLocked advances LastSeen, never backwards.
func (r *Registry) touchLocked(rec *DeviceRecord) {
	if t := r.now(); t.After(rec.LastSeen) {
		rec.LastSeen = t
	}
}

// snapshotLocked returns sorted copies of all records.
func (r *Registry) snapshotLocked() []DeviceRecord {
	out := make([]DeviceRecord, 0, len(r.devices))
	for _, rec := range r.devices {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		ni, nj := strings.ToLower(out[i].DisplayName), strings.ToLower(out[j].DisplayName)
		if ni != nj {
			return ni < nj
		}
		return out[i].DeviceID < out[j].DeviceID
	})
	return out
}

// publishLocked pushes the current snapshot to all subscribers and the
// change callback. Callers must hold the write lock.
func (r *Registry) publishLocked() {
	if len(r.subs) == 0 && r.onChange == nil {
		return
	}
	snap := r.snapshotLocked()
	for _, ch := range r.subs {
		// Replace an undelivered snapshot rather than blocking.
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
	if r.onChange != nil {
		r.onChange(snap)
	}
}

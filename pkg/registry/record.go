package registry

import (
	"regexp"
	"strings"
	"time"
)

// DefaultStaleAge is how long a record may go without a discovery event
// from either source before RemoveStale evicts it.
const DefaultStaleAge = 300 * time.Second

// PeripheralRef is an opaque handle to a BLE peripheral, supplied by the
// transport that discovered it. The registry stores it untouched and hands
// it back to whichever flow needs to connect.
type PeripheralRef interface {
	// Addr returns the peripheral address in transport-native form.
	Addr() string
}

// DeviceRecord is the merged view of one physical device as seen by both
// discovery sources.
type DeviceRecord struct {
	// DeviceID is the stable 8-hex-character identifier. Never changes
	// once assigned and always stored lowercase.
	DeviceID string

	// DisplayName is the human-readable name. The HTTP hostname is
	// authoritative once the device has been verified over WiFi; the
	// BLE-advertised name is used until then.
	DisplayName string

	// MACAddress is filled by HTTP discovery. Empty until then.
	MACAddress string

	// BLERef is present only while the device is BLE-visible.
	BLERef PeripheralRef

	// RSSI is the last BLE signal strength, 0 if never seen via BLE.
	RSSI int

	// IPAddress is set by HTTP discovery. A non-empty IPAddress means
	// the device is WiFi-configured and controllable over HTTP.
	IPAddress string

	// WifiConnected is set once HTTP discovery has verified the device.
	WifiConnected bool

	// LastSeen is updated on every discovery event from either source.
	// It only moves forward.
	LastSeen time.Time
}

// Configured reports whether the device is reachable over HTTP.
func (r *DeviceRecord) Configured() bool {
	return r.IPAddress != ""
}

// Provisionable reports whether the device is BLE-visible but not yet
// WiFi-configured, i.e. a candidate for the provisioning flow.
func (r *DeviceRecord) Provisionable() bool {
	return r.BLERef != nil && r.IPAddress == ""
}

var deviceIDPattern = regexp.MustCompile(`^[0-9a-f]{8}$`)

// NormalizeDeviceID lowercases an ID for indexing. All registry lookups
// go through this.
func NormalizeDeviceID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// ValidDeviceID reports whether id is a normalized 8-hex-character device ID.
func ValidDeviceID(id string) bool {
	return deviceIDPattern.MatchString(id)
}

// DeviceIDFromName extracts the device ID suffix from an advertised name
// or hostname of the form "<friendly>_<8hex>". Returns "" if the name
// carries no valid suffix.
func DeviceIDFromName(name string) string {
	idx := strings.LastIndexByte(name, '_')
	if idx < 0 || idx == len(name)-1 {
		return ""
	}
	id := NormalizeDeviceID(name[idx+1:])
	if !ValidDeviceID(id) {
		return ""
	}
	return id
}

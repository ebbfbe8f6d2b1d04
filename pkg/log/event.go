package log

import "time"

// Event represents a discovery or provisioning event captured at any
// component boundary. CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// Source is the component that captured the event.
	Source Source `cbor:"2,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"3,keyasint"`

	// ConnectionID identifies the BLE connection attempt (UUID).
	// Empty for events outside a connection.
	ConnectionID string `cbor:"4,keyasint,omitempty"`

	// DeviceID is the 8-hex device identifier, when known.
	DeviceID string `cbor:"5,keyasint,omitempty"`

	// RemoteAddr is the peer address: BLE peripheral address or IP.
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Discovery      *DiscoveryEvent      `cbor:"7,keyasint,omitempty"`
	StateChange    *StateChangeEvent    `cbor:"8,keyasint,omitempty"`
	Characteristic *CharacteristicEvent `cbor:"9,keyasint,omitempty"`
	Error          *ErrorEventData      `cbor:"10,keyasint,omitempty"`
}

// Source indicates which component captured the event.
type Source uint8

const (
	// SourceBLE is the BLE scanner and connection manager.
	SourceBLE Source = 0
	// SourceMDNS is the mDNS browser.
	SourceMDNS Source = 1
	// SourceHTTP is the HTTP device client.
	SourceHTTP Source = 2
	// SourceProvisioning is the provisioning state machine.
	SourceProvisioning Source = 3
	// SourceRegistry is the device registry.
	SourceRegistry Source = 4
)

// String returns the source name.
func (s Source) String() string {
	switch s {
	case SourceBLE:
		return "BLE"
	case SourceMDNS:
		return "MDNS"
	case SourceHTTP:
		return "HTTP"
	case SourceProvisioning:
		return "PROVISIONING"
	case SourceRegistry:
		return "REGISTRY"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryDiscovery indicates a device sighting from either source.
	CategoryDiscovery Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 1
	// CategoryCharacteristic indicates characteristic I/O.
	CategoryCharacteristic Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryDiscovery:
		return "DISCOVERY"
	case CategoryState:
		return "STATE"
	case CategoryCharacteristic:
		return "CHARACTERISTIC"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Direction indicates the direction of characteristic I/O.
type Direction uint8

const (
	// DirectionIn is data received from the device (read result, notification).
	DirectionIn Direction = 0
	// DirectionOut is data written to the device.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// DiscoveryEvent captures one device sighting.
type DiscoveryEvent struct {
	// Name is the advertised name or verified hostname.
	Name string `cbor:"1,keyasint,omitempty"`

	// RSSI is the BLE signal strength (BLE sightings only).
	RSSI int `cbor:"2,keyasint,omitempty"`

	// IP is the resolved address (mDNS/HTTP sightings only).
	IP string `cbor:"3,keyasint,omitempty"`

	// Verified indicates the /info query confirmed the device type.
	Verified bool `cbor:"4,keyasint,omitempty"`
}

// StateChangeEvent captures connection, scan and provisioning lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a BLE connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntityScan indicates a scan lifecycle change.
	StateEntityScan StateEntity = 1
	// StateEntityProvisioning indicates a provisioning step change.
	StateEntityProvisioning StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityScan:
		return "SCAN"
	case StateEntityProvisioning:
		return "PROVISIONING"
	default:
		return "UNKNOWN"
	}
}

// CharacteristicEvent captures a read, write or notification on a GATT
// characteristic.
type CharacteristicEvent struct {
	// Name is the well-known characteristic name (e.g. "wifi-ssid").
	Name string `cbor:"1,keyasint"`

	// Direction of the transfer.
	Direction Direction `cbor:"2,keyasint"`

	// Size is the payload size in bytes.
	Size int `cbor:"3,keyasint"`

	// Notify indicates the data arrived as a notification rather than
	// a read response.
	Notify bool `cbor:"4,keyasint,omitempty"`
}

// ErrorEventData captures errors at any component.
type ErrorEventData struct {
	// Message is the error message.
	Message string `cbor:"1,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"2,keyasint,omitempty"`
}

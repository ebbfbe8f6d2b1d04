package ble

import (
	"context"
	"errors"

	"github.com/fameblinds/fame-go/pkg/registry"
)

// Transport errors.
var (
	ErrScanCooldown     = errors.New("scanning blocked by restart cooldown")
	ErrScanInProgress   = errors.New("scan already in progress")
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrConnectTimeout   = errors.New("connection timeout")
	ErrConnectAborted   = errors.New("connection attempt aborted")
	ErrCharNotFound     = errors.New("characteristic not found")
)

// Advertisement is one BLE sighting. Name is taken strictly from the
// advertisement payload; an empty Name means the payload carried none.
type Advertisement struct {
	// Ref is the platform handle for connecting to this peripheral.
	Ref registry.PeripheralRef

	// Name is the advertised local name.
	Name string

	// RSSI is the signal strength in dBm.
	RSSI int
}

// Transport is the platform BLE stack the core drives. Implementations
// wrap an OS stack (see the gatt subpackage); tests substitute fakes.
type Transport interface {
	// Scan streams advertisements for peripherals exposing serviceUUID
	// to fn until ctx is cancelled. With allowDuplicates false the
	// platform de-duplicates repeat sightings of the same peripheral.
	// fn may be called from the platform's goroutine.
	Scan(ctx context.Context, allowDuplicates bool, serviceUUID string, fn func(Advertisement)) error

	// Connect establishes a link to the peripheral. The returned Client
	// is not yet usable for configuration I/O; the connection handshake
	// in Conn drives discovery and subscription setup first.
	Connect(ctx context.Context, ref registry.PeripheralRef) (Client, error)
}

// Client is an established platform link to one peripheral.
type Client interface {
	// DiscoverCharacteristics resolves the given characteristic UUIDs
	// under serviceUUID. Missing characteristics are absent from the
	// result rather than an error; firmware revisions differ in which
	// optional characteristics they expose.
	DiscoverCharacteristics(ctx context.Context, serviceUUID string, charUUIDs []string) (map[string]Characteristic, error)

	// Disconnected returns a channel closed when the link drops,
	// whether by Disconnect or by the peripheral going away.
	Disconnected() <-chan struct{}

	// Disconnect tears the link down.
	Disconnect() error
}

// Characteristic is one resolved GATT characteristic.
type Characteristic interface {
	// UUID returns the characteristic UUID.
	UUID() string

	// Read performs a GATT read.
	Read(ctx context.Context) ([]byte, error)

	// Write performs a GATT write. The write type (with or without
	// response) follows what the characteristic declares as supported.
	Write(ctx context.Context, data []byte) error

	// Supports reports whether the characteristic declares notify
	// support.
	SupportsNotify() bool

	// Subscribe enables notifications, delivering each value to fn.
	// fn may be called from the platform's goroutine.
	Subscribe(ctx context.Context, fn func([]byte)) error

	// Unsubscribe disables notifications.
	Unsubscribe() error
}

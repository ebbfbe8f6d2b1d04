// Package gatt implements the BLE transport over the go-ble HCI stack.
//
// This is the production implementation of [fame.Transport] for Linux
// hosts. It adapts go-ble's callback API onto the channel/context model
// the core expects; nothing above this package knows go-ble exists.
package gatt

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"

	fame "github.com/fameblinds/fame-go/pkg/ble"
	"github.com/fameblinds/fame-go/pkg/registry"
)

// Transport drives a local HCI adapter.
type Transport struct {
	dev ble.Device
}

// NewTransport opens the default HCI adapter.
func NewTransport() (*Transport, error) {
	dev, err := linux.NewDevice()
	if err != nil {
		return nil, fmt.Errorf("open hci adapter: %w", err)
	}
	return &Transport{dev: dev}, nil
}

// Close releases the HCI adapter.
func (t *Transport) Close() error {
	return t.dev.Stop()
}

// Peripheral is the go-ble peripheral handle stored in the registry.
type Peripheral struct {
	addr string
}

// Addr returns the peripheral's BLE address.
func (p *Peripheral) Addr() string { return p.addr }

// Scan streams advertisements for peripherals exposing serviceUUID until
// ctx is cancelled. Names are taken from the advertisement payload only.
func (t *Transport) Scan(ctx context.Context, allowDuplicates bool, serviceUUID string, fn func(fame.Advertisement)) error {
	svc, err := ble.Parse(serviceUUID)
	if err != nil {
		return fmt.Errorf("parse service uuid: %w", err)
	}

	handler := func(adv ble.Advertisement) {
		if !ble.Contains(adv.Services(), svc) {
			return
		}
		fn(fame.Advertisement{
			Ref:  &Peripheral{addr: adv.Addr().String()},
			Name: adv.LocalName(),
			RSSI: adv.RSSI(),
		})
	}

	err = t.dev.Scan(ctx, allowDuplicates, handler)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Connect dials the peripheral.
func (t *Transport) Connect(ctx context.Context, ref registry.PeripheralRef) (fame.Client, error) {
	cl, err := t.dev.Dial(ctx, ble.NewAddr(ref.Addr()))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", ref.Addr(), err)
	}
	return &client{cl: cl}, nil
}

// client wraps an established go-ble connection.
type client struct {
	cl ble.Client
}

// DiscoverCharacteristics resolves the requested characteristics under
// serviceUUID. The result is keyed by the requested UUID strings. Missing
// characteristics are simply absent; firmware revisions differ in which
// optional characteristics they expose.
func (c *client) DiscoverCharacteristics(ctx context.Context, serviceUUID string, charUUIDs []string) (map[string]fame.Characteristic, error) {
	profile, err := c.cl.DiscoverProfile(true)
	if err != nil {
		return nil, fmt.Errorf("discover profile: %w", err)
	}

	svc, err := ble.Parse(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("parse service uuid: %w", err)
	}

	var service *ble.Service
	for _, s := range profile.Services {
		if s.UUID.Equal(svc) {
			service = s
			break
		}
	}
	if service == nil {
		return nil, fmt.Errorf("service %s not present on peripheral", serviceUUID)
	}

	out := make(map[string]fame.Characteristic)
	for _, wanted := range charUUIDs {
		u, err := ble.Parse(wanted)
		if err != nil {
			return nil, fmt.Errorf("parse characteristic uuid %q: %w", wanted, err)
		}
		for _, ch := range service.Characteristics {
			if ch.UUID.Equal(u) {
				out[wanted] = &characteristic{cl: c.cl, ch: ch, uuid: wanted}
				break
			}
		}
	}
	return out, nil
}

// Disconnected returns a channel closed when the link drops.
func (c *client) Disconnected() <-chan struct{} {
	return c.cl.Disconnected()
}

// Disconnect tears the link down.
func (c *client) Disconnect() error {
	return c.cl.CancelConnection()
}

// characteristic wraps one resolved GATT characteristic.
type characteristic struct {
	cl   ble.Client
	ch   *ble.Characteristic
	uuid string
}

// UUID returns the characteristic UUID as requested at discovery.
func (c *characteristic) UUID() string { return c.uuid }

// Read performs a GATT read. go-ble reads carry no context; cancellation
// is bounded by the connection itself.
func (c *characteristic) Read(ctx context.Context) ([]byte, error) {
	return c.cl.ReadCharacteristic(c.ch)
}

// Write performs a GATT write, with or without response depending on what
// the characteristic declares.
func (c *characteristic) Write(ctx context.Context, data []byte) error {
	noRsp := c.ch.Property&ble.CharWriteNR != 0 && c.ch.Property&ble.CharWrite == 0
	return c.cl.WriteCharacteristic(c.ch, data, noRsp)
}

// SupportsNotify reports declared notify support.
func (c *characteristic) SupportsNotify() bool {
	return c.ch.Property&ble.CharNotify != 0
}

// Subscribe enables notifications.
func (c *characteristic) Subscribe(ctx context.Context, fn func([]byte)) error {
	return c.cl.Subscribe(c.ch, false, func(data []byte) { fn(data) })
}

// Unsubscribe disables notifications.
func (c *characteristic) Unsubscribe() error {
	return c.cl.Unsubscribe(c.ch, false)
}

// Compile-time interface satisfaction checks.
var (
	_ fame.Transport      = (*Transport)(nil)
	_ fame.Client         = (*client)(nil)
	_ fame.Characteristic = (*characteristic)(nil)
)

package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fameblinds/fame-go/pkg/log"
	"github.com/fameblinds/fame-go/pkg/registry"
)

// DefaultConnectTimeout bounds a connection attempt, including service
// discovery and subscription setup. If it fires the attempt is torn down
// and the connection returns to StateDisconnected.
const DefaultConnectTimeout = 10 * time.Second

// State represents the connection state.
type State uint8

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected State = iota

	// StateConnecting indicates a platform connection attempt is in progress.
	StateConnecting

	// StateDiscovering indicates GATT service/characteristic discovery.
	StateDiscovering

	// StateSubscribing indicates pending required subscriptions are being
	// resolved. The connection is not yet usable for writes.
	StateSubscribing

	// StateConnected indicates the handshake completed; the connection
	// is usable for configuration I/O.
	StateConnected

	// StateDisconnecting indicates teardown is in progress.
	StateDisconnecting
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateDiscovering:
		return "DISCOVERING"
	case StateSubscribing:
		return "SUBSCRIBING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnecting:
		return "DISCONNECTING"
	default:
		return "UNKNOWN"
	}
}

// ConnConfig customizes connection behavior.
type ConnConfig struct {
	// ConnectTimeout bounds the whole connection handshake.
	// Zero means DefaultConnectTimeout.
	ConnectTimeout time.Duration

	// Logger receives operational messages. Nil disables.
	Logger *slog.Logger

	// Events receives structured state-change and I/O events. Nil disables.
	Events log.Logger
}

// Conn manages one BLE configuration connection. The blind controller
// accepts a single connection at a time, so the flow that called Connect
// owns the link exclusively until Disconnect.
type Conn struct {
	mu sync.Mutex

	transport Transport
	cfg       ConnConfig

	// id identifies this connection attempt in logs (UUID).
	id string

	state  State
	client Client
	addr   string

	// attempt guards in-flight Connect handshakes: every teardown bumps
	// it, and the handshake re-checks it before each state transition so
	// a Disconnect issued mid-handshake cannot be overtaken.
	attempt uint64

	// chars caches resolved characteristic handles while connected.
	chars map[CharID]Characteristic

	// handlers dispatches notifications per characteristic.
	handlers map[CharID]func([]byte)

	onStateChange  func(old, new State)
	onDisconnected func()
}

// NewConn creates a connection manager over the given transport.
func NewConn(transport Transport, cfg ConnConfig) *Conn {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Events == nil {
		cfg.Events = log.NoopLogger{}
	}
	return &Conn{
		transport: transport,
		cfg:       cfg,
		state:     StateDisconnected,
		handlers:  make(map[CharID]func([]byte)),
	}
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConnectionID returns the UUID of the current (or last) connection attempt.
func (c *Conn) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// OnStateChange registers a callback invoked on every state transition.
// The callback runs with the connection locked.
func (c *Conn) OnStateChange(fn func(old, new State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStateChange = fn
}

// OnDisconnected registers a callback invoked when the link drops for any
// reason, including an explicit Disconnect.
func (c *Conn) OnDisconnected(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnected = fn
}

// HandleNotify registers the notification handler for one characteristic.
// Must be called before Connect for the handler to observe priming values.
func (c *Conn) HandleNotify(id CharID, fn func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[id] = fn
}

// Connect establishes a usable configuration connection: platform connect,
// GATT discovery, then notification setup on every pushed characteristic.
// It returns only when the connection reached StateConnected or the attempt
// failed and the state is back to StateDisconnected.
func (c *Conn) Connect(ctx context.Context, ref registry.PeripheralRef) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.attempt++
	attempt := c.attempt
	c.id = uuid.NewString()
	c.addr = ref.Addr()
	c.setStateLocked(StateConnecting, "")
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	client, err := c.transport.Connect(ctx, ref)
	if err != nil {
		c.failConnect(attempt, nil, "platform connect", err)
		return fmt.Errorf("connect %s: %w", ref.Addr(), c.timeoutErr(ctx, err))
	}

	if !c.advance(attempt, StateDiscovering) {
		_ = client.Disconnect()
		return fmt.Errorf("connect %s: %w", ref.Addr(), ErrConnectAborted)
	}

	uuids := make([]string, 0, len(charUUIDs))
	for _, id := range AllCharacteristics() {
		uuids = append(uuids, id.UUID())
	}
	resolved, err := client.DiscoverCharacteristics(ctx, ServiceUUID, uuids)
	if err != nil {
		c.failConnect(attempt, client, "gatt discovery", err)
		return fmt.Errorf("discover characteristics: %w", c.timeoutErr(ctx, err))
	}

	chars := make(map[CharID]Characteristic, len(resolved))
	for _, id := range AllCharacteristics() {
		if ch, ok := resolved[id.UUID()]; ok {
			chars[id] = ch
		}
	}

	c.mu.Lock()
	if c.attempt != attempt {
		c.mu.Unlock()
		_ = client.Disconnect()
		return fmt.Errorf("connect %s: %w", ref.Addr(), ErrConnectAborted)
	}
	c.client = client
	c.chars = chars
	c.setStateLocked(StateSubscribing, "")
	c.mu.Unlock()

	// Resolve every pending required subscription before declaring the
	// connection usable. Failures are tolerated: the characteristic is
	// dropped from the pending set and callers poll instead.
	for _, id := range notifyCharacteristics {
		ch, ok := chars[id]
		if !ok || !ch.SupportsNotify() {
			continue
		}
		id := id
		if err := ch.Subscribe(ctx, func(data []byte) { c.dispatch(id, data) }); err != nil {
			c.cfg.Logger.Debug("subscription failed, falling back to polling",
				"characteristic", id.String(), "err", err)
			c.event(log.CategoryError, log.Event{Error: &log.ErrorEventData{
				Message: err.Error(),
				Context: "subscribe " + id.String(),
			}})
		}
		if ctx.Err() != nil {
			c.failConnect(attempt, client, "subscription setup", ctx.Err())
			return fmt.Errorf("subscription setup: %w", c.timeoutErr(ctx, ctx.Err()))
		}
	}

	if !c.advance(attempt, StateConnected) {
		_ = client.Disconnect()
		return fmt.Errorf("connect %s: %w", ref.Addr(), ErrConnectAborted)
	}

	go c.watch(client)
	return nil
}

// advance moves the handshake to the next state unless the attempt was
// superseded by a teardown in the meantime.
func (c *Conn) advance(attempt uint64, next State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt != attempt {
		return false
	}
	c.setStateLocked(next, "")
	return true
}

// Disconnect tears down the connection and clears cached characteristic
// handles. Safe to call in any state.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	client := c.client
	c.setStateLocked(StateDisconnecting, "")
	c.mu.Unlock()

	var err error
	if client != nil {
		err = client.Disconnect()
	}
	c.finalize(client, "local disconnect")
	return err
}

// Read reads a characteristic value. The connection must be established.
func (c *Conn) Read(ctx context.Context, id CharID) ([]byte, error) {
	ch, err := c.characteristic(id)
	if err != nil {
		return nil, err
	}
	data, err := ch.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	c.event(log.CategoryCharacteristic, log.Event{Characteristic: &log.CharacteristicEvent{
		Name:      id.String(),
		Direction: log.DirectionIn,
		Size:      len(data),
	}})
	return data, nil
}

// Write writes a characteristic value. The write type follows what the
// characteristic declares as supported.
func (c *Conn) Write(ctx context.Context, id CharID, data []byte) error {
	ch, err := c.characteristic(id)
	if err != nil {
		return err
	}
	if err := ch.Write(ctx, data); err != nil {
		return fmt.Errorf("write %s: %w", id, err)
	}
	c.event(log.CategoryCharacteristic, log.Event{Characteristic: &log.CharacteristicEvent{
		Name:      id.String(),
		Direction: log.DirectionOut,
		Size:      len(data),
	}})
	return nil
}

// WriteString writes a string value to a characteristic.
func (c *Conn) WriteString(ctx context.Context, id CharID, value string) error {
	return c.Write(ctx, id, []byte(value))
}

// characteristic returns the cached handle for id.
func (c *Conn) characteristic(id CharID) (Characteristic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return nil, ErrNotConnected
	}
	ch, ok := c.chars[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCharNotFound, id)
	}
	return ch, nil
}

// dispatch routes a notification to the registered handler.
func (c *Conn) dispatch(id CharID, data []byte) {
	c.mu.Lock()
	fn := c.handlers[id]
	c.mu.Unlock()

	c.event(log.CategoryCharacteristic, log.Event{Characteristic: &log.CharacteristicEvent{
		Name:      id.String(),
		Direction: log.DirectionIn,
		Size:      len(data),
		Notify:    true,
	}})
	if fn != nil {
		fn(data)
	}
}

// watch finalizes the connection when the platform link drops.
func (c *Conn) watch(client Client) {
	<-client.Disconnected()
	c.finalize(client, "link dropped")
}

// finalize transitions to StateDisconnected and clears cached handles.
// It is a no-op if a newer connection took over in the meantime.
func (c *Conn) finalize(client Client, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateDisconnected {
		return
	}
	if client != nil && c.client != client {
		return
	}
	c.attempt++
	c.client = nil
	c.chars = nil
	c.setStateLocked(StateDisconnected, reason)
	if c.onDisconnected != nil {
		c.onDisconnected()
	}
}

// failConnect cleans up a partial connection attempt. A teardown that
// already superseded the attempt owns the state; only the client is
// released then.
func (c *Conn) failConnect(attempt uint64, client Client, context string, err error) {
	if client != nil {
		_ = client.Disconnect()
	}
	c.event(log.CategoryError, log.Event{Error: &log.ErrorEventData{
		Message: err.Error(),
		Context: context,
	}})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt != attempt {
		return
	}
	c.attempt++
	c.client = nil
	c.chars = nil
	c.setStateLocked(StateDisconnected, context)
}

// timeoutErr maps a deadline expiry onto ErrConnectTimeout.
func (c *Conn) timeoutErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrConnectTimeout
	}
	return err
}

// setStateLocked transitions the state and fires callbacks/events.
// Callers must hold the lock.
func (c *Conn) setStateLocked(next State, reason string) {
	if c.state == next {
		return
	}
	old := c.state
	c.state = next

	c.cfg.Logger.Debug("connection state", "conn_id", c.id, "old", old.String(), "new", next.String())
	c.cfg.Events.Log(log.Event{
		Timestamp:    time.Now(),
		Source:       log.SourceBLE,
		Category:     log.CategoryState,
		ConnectionID: c.id,
		RemoteAddr:   c.addr,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: old.String(),
			NewState: next.String(),
			Reason:   reason,
		},
	})
	if c.onStateChange != nil {
		c.onStateChange(old, next)
	}
}

// event emits a structured event stamped with connection identifiers.
func (c *Conn) event(category log.Category, event log.Event) {
	c.mu.Lock()
	event.ConnectionID = c.id
	event.RemoteAddr = c.addr
	c.mu.Unlock()

	event.Timestamp = time.Now()
	event.Source = log.SourceBLE
	event.Category = category
	c.cfg.Events.Log(event)
}

package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fameblinds/fame-go/pkg/ble"
	"github.com/fameblinds/fame-go/pkg/log"
	"github.com/fameblinds/fame-go/pkg/registry"
	"github.com/fameblinds/fame-go/pkg/wire"
)

const (
	// PasswordWriteDelay separates the SSID and password writes so the
	// device's write handler is not overwhelmed.
	PasswordWriteDelay = 300 * time.Millisecond

	// StatusPollInterval is the WiFi status poll cadence.
	StatusPollInterval = time.Second

	// WifiTimeout bounds one WiFi connection attempt. The firmware's own
	// internal attempt runs about 15 seconds; this adds margin.
	WifiTimeout = 20 * time.Second

	// SettleDelay is how long the name and orientation steps wait after
	// a write before advancing. No confirmation is read back.
	SettleDelay = 1500 * time.Millisecond

	// DiscoveryRestartDelay is how long Done waits before kicking
	// network discovery, so the restarting device is caught promptly
	// once it joins WiFi.
	DiscoveryRestartDelay = 2 * time.Second
)

var (
	// ErrBadStep is returned when an operation does not apply to the
	// flow's current step.
	ErrBadStep = errors.New("operation not valid in current step")

	// ErrUnknownDevice is returned when the selected device is not in
	// the registry.
	ErrUnknownDevice = errors.New("device not in registry")

	// ErrNotProvisionable is returned when the selected device has no
	// BLE peripheral to connect to.
	ErrNotProvisionable = errors.New("device has no BLE peripheral")
)

// AuthStore persists device passwords. *authstore.Store satisfies this.
type AuthStore interface {
	Authenticate(deviceID, password string, expiry time.Duration) error
}

// DiscoveryKicker restarts network discovery. *discovery.Manager
// satisfies this.
type DiscoveryKicker interface {
	Refresh() error
}

// Config configures a Flow.
type Config struct {
	// Auth receives the device password when the operator sets one.
	// May be nil.
	Auth AuthStore

	// Discovery is kicked after Done so the freshly provisioned device
	// is picked up quickly. May be nil.
	Discovery DiscoveryKicker

	// Logger receives operational logging. Defaults to a discard logger.
	Logger *slog.Logger

	// Events receives structured provisioning events. May be nil.
	Events log.Logger

	// WifiTimeout overrides the WiFi attempt timeout. Zero uses
	// WifiTimeout.
	WifiTimeout time.Duration

	// PollInterval overrides the status poll cadence. Zero uses
	// StatusPollInterval.
	PollInterval time.Duration

	// SettleDelay overrides the post-write settle delay. Zero uses
	// SettleDelay.
	SettleDelay time.Duration
}

// Flow is the provisioning state machine for one device at a time.
type Flow struct {
	reg  *registry.Registry
	conn *ble.Conn
	cfg  Config

	logger *slog.Logger

	mu       sync.Mutex
	step     Step
	deviceID string
	lastErr  string

	// WiFi sub-flow. gen invalidates stale poll results and timeout
	// fires after the sub-flow was torn down.
	wifiActive  bool
	wifiGen     uint64
	wifiStatus  WifiStatus
	wifiStop    chan struct{}
	wifiTimeout *time.Timer

	settleTimer *time.Timer

	onStep func(old, new Step)
	onWifi func(WifiStatus)
}

// NewFlow creates a Flow. conn must be dedicated to this flow; the flow
// owns its callbacks and its single active connection.
func NewFlow(reg *registry.Registry, conn *ble.Conn, cfg Config) *Flow {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.WifiTimeout == 0 {
		cfg.WifiTimeout = WifiTimeout
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = StatusPollInterval
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = SettleDelay
	}
	f := &Flow{
		reg:    reg,
		conn:   conn,
		cfg:    cfg,
		logger: logger,
		step:   StepSelectDevice,
	}

	conn.OnStateChange(f.connStateChanged)
	conn.OnDisconnected(f.connDropped)
	conn.HandleNotify(ble.CharStatus, func(data []byte) {
		f.handleWifiStatus(string(data))
	})
	return f
}

// Step returns the current step.
func (f *Flow) Step() Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step
}

// DeviceID returns the device under provisioning, empty when idle.
func (f *Flow) DeviceID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deviceID
}

// LastError returns the most recent recoverable step error for display.
func (f *Flow) LastError() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// Wifi returns the WiFi sub-flow state for display.
func (f *Flow) Wifi() WifiStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wifiStatus
}

// OnStepChange registers a callback invoked on every step transition.
// The callback runs with internal state settled but must not call back
// into the flow synchronously.
func (f *Flow) OnStepChange(fn func(old, new Step)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onStep = fn
}

// OnWifiStatus registers a callback for WiFi sub-flow updates.
func (f *Flow) OnWifiStatus(fn func(WifiStatus)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onWifi = fn
}

// Start selects a device and begins connecting. The device is marked
// in-setup immediately, suppressing HTTP registry updates for it until
// Done, Cancel, or a failed connect abandons the flow. Connection
// progress arrives via OnStepChange: the flow advances to the WiFi step
// on its own once the handshake completes, and falls back to device
// selection, suppression lifted, if the link drops first.
func (f *Flow) Start(ctx context.Context, deviceID string) error {
	deviceID = registry.NormalizeDeviceID(deviceID)

	rec, ok := f.reg.Get(deviceID)
	if !ok {
		return fmt.Errorf("%s: %w", deviceID, ErrUnknownDevice)
	}
	if rec.BLERef == nil {
		return fmt.Errorf("%s: %w", deviceID, ErrNotProvisionable)
	}

	f.mu.Lock()
	if f.step != StepSelectDevice {
		f.mu.Unlock()
		return fmt.Errorf("flow busy in %s: %w", f.step, ErrBadStep)
	}
	f.deviceID = deviceID
	f.lastErr = ""
	f.setStepLocked(StepConnectBLE, "device selected")
	f.mu.Unlock()

	f.reg.MarkInSetup(deviceID)

	go func() {
		if err := f.conn.Connect(ctx, rec.BLERef); err != nil {
			f.logger.Warn("BLE connect failed", "deviceId", deviceID, "error", err)
			f.mu.Lock()
			abandoned := f.step == StepConnectBLE
			if abandoned {
				f.lastErr = err.Error()
				f.resetLocked("connect failed")
			}
			f.mu.Unlock()
			if abandoned {
				f.reg.MarkInSetup("")
			}
		}
	}()
	return nil
}

// SubmitWiFi writes credentials and starts the status poll plus timeout.
// The outcome arrives via OnWifiStatus and, on success, an automatic
// advance to the name step.
func (f *Flow) SubmitWiFi(ctx context.Context, ssid, password string) error {
	f.mu.Lock()
	if f.step != StepConfigureWiFi {
		f.mu.Unlock()
		return fmt.Errorf("in %s: %w", f.step, ErrBadStep)
	}
	// A resubmit while an attempt is running replaces it.
	f.stopWifiLocked()
	f.mu.Unlock()

	if err := f.conn.WriteString(ctx, ble.CharWifiSSID, ssid); err != nil {
		return f.stepError("write ssid", err)
	}

	select {
	case <-time.After(PasswordWriteDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := f.conn.WriteString(ctx, ble.CharWifiPassword, password); err != nil {
		return f.stepError("write wifi password", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step != StepConfigureWiFi {
		// Cancelled while writing.
		return nil
	}

	f.wifiActive = true
	f.wifiGen++
	gen := f.wifiGen
	f.wifiStop = make(chan struct{})
	f.setWifiLocked(WifiStatus{Waiting: true, Message: "waiting for device"})

	f.wifiTimeout = time.AfterFunc(f.cfg.WifiTimeout, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.wifiActive || f.wifiGen != gen {
			return
		}
		f.stopWifiLocked()
		f.setWifiLocked(WifiStatus{Failed: true, Message: "timed out"})
		f.logger.Warn("WiFi attempt timed out", "deviceId", f.deviceID)
	})

	go f.poll(ctx, f.wifiStop)

	f.logger.Info("WiFi credentials written", "deviceId", f.deviceID, "ssid", ssid)
	return nil
}

// poll reads the status characteristic once per interval. It is the
// fallback path for firmware whose status notifications never arrive;
// results feed the same classifier as notifications.
func (f *Flow) poll(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			data, err := f.conn.Read(ctx, ble.CharStatus)
			if err != nil {
				continue
			}
			f.handleWifiStatus(string(data))
		}
	}
}

// handleWifiStatus classifies one raw status string. Both the poll and
// the notification path land here; stale deliveries after the sub-flow
// ended are ignored.
func (f *Flow) handleWifiStatus(raw string) {
	outcome := wire.ClassifyWifi(raw)

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.wifiActive || f.step != StepConfigureWiFi {
		return
	}

	switch outcome {
	case wire.WifiConnected:
		f.stopWifiLocked()
		f.setWifiLocked(WifiStatus{Message: "connected"})
		f.setStepLocked(StepConfigureName, "wifi connected")
		f.logger.Info("Device reached WiFi", "deviceId", f.deviceID, "status", raw)

	case wire.WifiFailed:
		f.stopWifiLocked()
		f.setWifiLocked(WifiStatus{Failed: true, Message: "wrong credentials"})
		f.logger.Warn("WiFi attempt failed", "deviceId", f.deviceID, "status", raw)

	case wire.WifiConnecting:
		f.setWifiLocked(WifiStatus{Waiting: true, Message: "connecting..."})

	case wire.WifiIgnored:
		// No WiFi information in this status.
	}
}

// SubmitName writes the display name and advances after a settle delay.
// The local record is renamed optimistically to the suffixed form the
// firmware will advertise after restart.
func (f *Flow) SubmitName(ctx context.Context, name string) error {
	f.mu.Lock()
	if f.step != StepConfigureName {
		f.mu.Unlock()
		return fmt.Errorf("in %s: %w", f.step, ErrBadStep)
	}
	deviceID := f.deviceID
	f.mu.Unlock()

	if err := f.conn.WriteString(ctx, ble.CharDeviceName, name); err != nil {
		return f.stepError("write name", err)
	}

	if rec, ok := f.reg.Get(deviceID); ok && rec.BLERef != nil {
		f.reg.UpdateFromBLE(rec.BLERef, fmt.Sprintf("%s_%s", name, deviceID), rec.RSSI)
	}

	f.settle(StepConfigureName, StepConfigureOrientation, "name written")
	return nil
}

// SubmitOrientation writes the mounting orientation and advances after a
// settle delay.
func (f *Flow) SubmitOrientation(ctx context.Context, orientation string) error {
	f.mu.Lock()
	if f.step != StepConfigureOrientation {
		f.mu.Unlock()
		return fmt.Errorf("in %s: %w", f.step, ErrBadStep)
	}
	f.mu.Unlock()

	if err := f.conn.WriteString(ctx, ble.CharOrientation, orientation); err != nil {
		return f.stepError("write orientation", err)
	}

	f.settle(StepConfigureOrientation, StepConfigurePassword, "orientation written")
	return nil
}

// SubmitPassword sets a device password and stores it for later HTTP
// calls, then advances to the terminal step. An empty password behaves
// like SkipPassword.
func (f *Flow) SubmitPassword(ctx context.Context, password string) error {
	f.mu.Lock()
	if f.step != StepConfigurePassword {
		f.mu.Unlock()
		return fmt.Errorf("in %s: %w", f.step, ErrBadStep)
	}
	deviceID := f.deviceID
	f.mu.Unlock()

	if password == "" {
		return f.SkipPassword()
	}

	if err := f.conn.WriteString(ctx, ble.CharDevicePassword, password); err != nil {
		return f.stepError("write device password", err)
	}
	if f.cfg.Auth != nil {
		if err := f.cfg.Auth.Authenticate(deviceID, password, 0); err != nil {
			// The device has the password; losing the local copy is
			// recoverable via factory reset, so warn and continue.
			f.logger.Warn("Failed to store device password", "deviceId", deviceID, "error", err)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step == StepConfigurePassword {
		f.setStepLocked(StepComplete, "password set")
	}
	return nil
}

// SkipPassword advances to the terminal step without setting a password.
func (f *Flow) SkipPassword() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step != StepConfigurePassword {
		return fmt.Errorf("in %s: %w", f.step, ErrBadStep)
	}
	f.setStepLocked(StepComplete, "password skipped")
	return nil
}

// Done finalizes the flow: restart the device, start the scan cooldown
// so the next BLE scan does not race the reboot, drop the BLE link,
// lift the in-setup suppression, clear BLE-only registry entries (the
// device re-announces fresh over mDNS), and kick discovery shortly
// after.
func (f *Flow) Done(ctx context.Context) error {
	f.mu.Lock()
	if f.step != StepComplete {
		f.mu.Unlock()
		return fmt.Errorf("in %s: %w", f.step, ErrBadStep)
	}
	deviceID := f.deviceID
	f.mu.Unlock()

	if err := f.conn.WriteString(ctx, ble.CharCommand, ble.CmdRestart); err != nil {
		// The device may already be rebooting; finish the handoff anyway.
		f.logger.Warn("Restart command failed", "deviceId", deviceID, "error", err)
	}

	f.reg.StartScanCooldown(registry.DefaultCooldown)

	// Leave the flow before dropping the link so the disconnect is not
	// taken for a mid-flow loss.
	f.mu.Lock()
	f.deviceID = ""
	f.setStepLocked(StepSelectDevice, "provisioning complete")
	f.mu.Unlock()

	if err := f.conn.Disconnect(); err != nil {
		f.logger.Debug("Disconnect after restart", "deviceId", deviceID, "error", err)
	}
	f.reg.MarkInSetup("")
	f.reg.ClearBLEOnly()

	if f.cfg.Discovery != nil {
		kicker := f.cfg.Discovery
		time.AfterFunc(DiscoveryRestartDelay, func() {
			if err := kicker.Refresh(); err != nil {
				f.logger.Debug("Discovery refresh after provisioning", "error", err)
			}
		})
	}

	f.logger.Info("Provisioning complete", "deviceId", deviceID)
	return nil
}

// Cancel aborts the flow from any step: timers stopped, suppression
// lifted, BLE link dropped, back to device selection.
func (f *Flow) Cancel() error {
	f.mu.Lock()
	if f.step == StepSelectDevice {
		f.mu.Unlock()
		return nil
	}
	deviceID := f.deviceID
	f.resetLocked("cancelled")
	f.mu.Unlock()

	f.reg.MarkInSetup("")
	if err := f.conn.Disconnect(); err != nil {
		f.logger.Debug("Disconnect on cancel", "deviceId", deviceID, "error", err)
	}
	f.logger.Info("Provisioning cancelled", "deviceId", deviceID)
	return nil
}

// connStateChanged advances the flow when the BLE handshake lands.
func (f *Flow) connStateChanged(old, new ble.State) {
	if new != ble.StateConnected {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step == StepConnectBLE {
		f.setStepLocked(StepConfigureWiFi, "ble connected")
	}
}

// connDropped handles an unexpected link loss. During the connect step
// this abandons the device: back to selection with the in-setup
// suppression lifted. Mid-flow it surfaces as a recoverable error and
// tears down the WiFi sub-flow; the suppression stays until Cancel or
// Done because the operator still owns the device.
func (f *Flow) connDropped() {
	f.mu.Lock()
	abandoned := false

	switch {
	case f.step == StepConnectBLE:
		f.resetLocked("link lost while connecting")
		abandoned = true
	case f.step == StepSelectDevice:
		// Disconnect we asked for.
	default:
		f.stopWifiLocked()
		f.lastErr = "connection lost"
		if f.wifiStatus.Waiting {
			f.setWifiLocked(WifiStatus{Failed: true, Message: "connection lost"})
		}
		f.logger.Warn("BLE link lost during provisioning", "deviceId", f.deviceID, "step", f.step.String())
	}
	f.mu.Unlock()

	if abandoned {
		f.reg.MarkInSetup("")
	}
}

// settle advances from one step to the next after the fixed delay,
// unless the flow moved (cancel) in the meantime.
func (f *Flow) settle(from, to Step, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.settleTimer != nil {
		f.settleTimer.Stop()
	}
	f.settleTimer = time.AfterFunc(f.cfg.SettleDelay, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.step == from {
			f.setStepLocked(to, reason)
		}
	})
}

// stepError records a recoverable error and hands it to the caller. The
// flow stays in place for a retry.
func (f *Flow) stepError(context string, err error) error {
	f.mu.Lock()
	f.lastErr = err.Error()
	deviceID := f.deviceID
	f.mu.Unlock()

	f.logger.Warn("Provisioning step failed", "deviceId", deviceID, "context", context, "error", err)
	if f.cfg.Events != nil {
		f.cfg.Events.Log(log.Event{
			Timestamp: time.Now(),
			Source:    log.SourceProvisioning,
			Category:  log.CategoryError,
			DeviceID:  deviceID,
			Error: &log.ErrorEventData{
				Message: err.Error(),
				Context: context,
			},
		})
	}
	return fmt.Errorf("%s: %w", context, err)
}

// stopWifiLocked tears down the WiFi sub-flow timers. Unconditional on
// every exit from the WiFi step so no one-second poll outlives it.
// Caller holds f.mu.
func (f *Flow) stopWifiLocked() {
	if f.wifiTimeout != nil {
		f.wifiTimeout.Stop()
		f.wifiTimeout = nil
	}
	if f.wifiStop != nil {
		close(f.wifiStop)
		f.wifiStop = nil
	}
	f.wifiActive = false
	f.wifiGen++
}

// resetLocked returns the flow to device selection. Caller holds f.mu.
func (f *Flow) resetLocked(reason string) {
	f.stopWifiLocked()
	if f.settleTimer != nil {
		f.settleTimer.Stop()
		f.settleTimer = nil
	}
	f.wifiStatus = WifiStatus{}
	f.deviceID = ""
	f.setStepLocked(StepSelectDevice, reason)
}

// setStepLocked transitions the step and notifies. Caller holds f.mu.
func (f *Flow) setStepLocked(next Step, reason string) {
	if f.step == next {
		return
	}
	old := f.step
	f.step = next

	f.logger.Debug("Provisioning step", "old", old.String(), "new", next.String(), "reason", reason)
	if f.cfg.Events != nil {
		f.cfg.Events.Log(log.Event{
			Timestamp: time.Now(),
			Source:    log.SourceProvisioning,
			Category:  log.CategoryState,
			DeviceID:  f.deviceID,
			StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntityProvisioning,
				OldState: old.String(),
				NewState: next.String(),
				Reason:   reason,
			},
		})
	}
	if f.onStep != nil {
		fn := f.onStep
		go fn(old, next)
	}
}

// setWifiLocked updates the WiFi display state and notifies. Caller
// holds f.mu.
func (f *Flow) setWifiLocked(st WifiStatus) {
	f.wifiStatus = st
	if f.onWifi != nil {
		fn := f.onWifi
		go fn(st)
	}
}

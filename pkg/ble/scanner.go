package ble

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fameblinds/fame-go/pkg/log"
	"github.com/fameblinds/fame-go/pkg/registry"
)

// Scan timing constants.
const (
	// ScanTimeout bounds a scan; the scan auto-stops when it expires.
	ScanTimeout = 15 * time.Second

	// FreshScanBurst is how long a fresh scan allows duplicate
	// advertisements before switching to de-duplicated scanning.
	// Long enough to force fresh payloads out of the OS advertisement
	// cache even for previously-seen peripherals.
	FreshScanBurst = 2 * time.Second
)

// ScannerConfig customizes scanner behavior.
type ScannerConfig struct {
	// Timeout bounds each scan. Zero means ScanTimeout.
	Timeout time.Duration

	// FreshBurst is the duplicate-allowed window at the start of a
	// fresh scan. Zero means FreshScanBurst.
	FreshBurst time.Duration

	// Logger receives operational messages. Nil disables.
	Logger *slog.Logger

	// Events receives structured scan events. Nil disables.
	Events log.Logger
}

// Scanner runs BLE scans and feeds every stable sighting into the registry.
type Scanner struct {
	transport Transport
	reg       *registry.Registry
	cfg       ScannerConfig

	mu       sync.Mutex
	scanning bool
	cancel   context.CancelFunc
}

// NewScanner creates a scanner feeding the given registry.
func NewScanner(transport Transport, reg *registry.Registry, cfg ScannerConfig) *Scanner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = ScanTimeout
	}
	if cfg.FreshBurst <= 0 {
		cfg.FreshBurst = FreshScanBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Events == nil {
		cfg.Events = log.NoopLogger{}
	}
	return &Scanner{transport: transport, reg: reg, cfg: cfg}
}

// Scanning reports whether a scan is in progress.
func (s *Scanner) Scanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanning
}

// Stop cancels a scan in progress.
func (s *Scanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Scan runs a normal de-duplicated scan bounded by the configured timeout.
// It returns once the scan window closes or ctx is cancelled, and refuses
// to run while a restart cooldown is active.
func (s *Scanner) Scan(ctx context.Context) error {
	return s.run(ctx, false)
}

// FreshScan runs a scan that starts with a duplicate-allowed burst to
// defeat OS-level advertisement caching, then continues de-duplicated
// for the remainder of the window. Used when entering the setup flow.
func (s *Scanner) FreshScan(ctx context.Context) error {
	return s.run(ctx, true)
}

func (s *Scanner) run(ctx context.Context, fresh bool) error {
	if !s.reg.CanScan() {
		return ErrScanCooldown
	}

	s.mu.Lock()
	if s.scanning {
		s.mu.Unlock()
		return ErrScanInProgress
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	s.scanning = true
	s.cancel = cancel
	s.mu.Unlock()

	s.scanEvent("IDLE", "SCANNING", "")
	defer func() {
		cancel()
		s.mu.Lock()
		s.scanning = false
		s.cancel = nil
		s.mu.Unlock()
		s.scanEvent("SCANNING", "IDLE", "")
	}()

	if fresh {
		burst, burstCancel := context.WithTimeout(ctx, s.cfg.FreshBurst)
		err := s.transport.Scan(burst, true, ServiceUUID, s.sighting)
		burstCancel()
		if err != nil && ctx.Err() == nil && burst.Err() == nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}

	err := s.transport.Scan(ctx, false, ServiceUUID, s.sighting)
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// sighting forwards one advertisement into the registry. Sightings
// without an advertised name are self-noise or unnamed peripherals and
// carry no stable identity, so they are dropped here.
func (s *Scanner) sighting(adv Advertisement) {
	if adv.Name == "" {
		return
	}

	s.cfg.Events.Log(log.Event{
		Timestamp:  time.Now(),
		Source:     log.SourceBLE,
		Category:   log.CategoryDiscovery,
		DeviceID:   registry.DeviceIDFromName(adv.Name),
		RemoteAddr: adv.Ref.Addr(),
		Discovery: &log.DiscoveryEvent{
			Name: adv.Name,
			RSSI: adv.RSSI,
		},
	})
	s.reg.UpdateFromBLE(adv.Ref, adv.Name, adv.RSSI)
}

func (s *Scanner) scanEvent(old, new, reason string) {
	s.cfg.Events.Log(log.Event{
		Timestamp: time.Now(),
		Source:    log.SourceBLE,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityScan,
			OldState: old,
			NewState: new,
			Reason:   reason,
		},
	})
}

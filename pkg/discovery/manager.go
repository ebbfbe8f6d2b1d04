package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fameblinds/fame-go/pkg/deviceapi"
	"github.com/fameblinds/fame-go/pkg/log"
	"github.com/fameblinds/fame-go/pkg/registry"
)

// RecheckInterval is how often known devices are re-verified and the
// browser restarted. Controllers re-announce under a new instance name
// after a rename; the restart picks that up.
const RecheckInterval = 30 * time.Second

// VerifyTimeout bounds one /info verification.
const VerifyTimeout = 4 * time.Second

// ErrNotRunning is returned for operations that need an active manager.
var ErrNotRunning = errors.New("discovery manager not running")

// Verifier fetches and verifies a device's identity document.
// *deviceapi.Client satisfies this.
type Verifier interface {
	VerifiedInfo(ctx context.Context, ip string) (*deviceapi.Info, error)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Browser streams service announcements. Defaults to an MDNSBrowser
	// on all interfaces.
	Browser Browser

	// RecheckInterval overrides the periodic sweep interval.
	RecheckInterval time.Duration

	// Logger receives operational logging. Defaults to a discard logger.
	Logger *slog.Logger

	// Events receives structured discovery events. May be nil.
	Events log.Logger
}

// Manager runs network discovery and keeps the registry current.
type Manager struct {
	reg      *registry.Registry
	verifier Verifier
	browser  Browser
	interval time.Duration
	logger   *slog.Logger
	events   log.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	kick    chan struct{}
}

// NewManager creates a Manager with default configuration.
func NewManager(reg *registry.Registry, verifier Verifier) *Manager {
	return NewManagerWithConfig(reg, verifier, ManagerConfig{})
}

// NewManagerWithConfig creates a Manager.
func NewManagerWithConfig(reg *registry.Registry, verifier Verifier, cfg ManagerConfig) *Manager {
	browser := cfg.Browser
	if browser == nil {
		browser = NewMDNSBrowser(BrowserConfig{})
	}
	interval := cfg.RecheckInterval
	if interval == 0 {
		interval = RecheckInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		reg:      reg,
		verifier: verifier,
		browser:  browser,
		interval: interval,
		logger:   logger,
		events:   cfg.Events,
		kick:     make(chan struct{}, 1),
	}
}

// Start launches discovery. It returns immediately; browsing and
// verification run in the background until ctx is cancelled or Stop is
// called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel

	go m.run(runCtx)
	m.logger.Info("Network discovery started")
	return nil
}

// Stop halts discovery. Registry contents are left in place.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.running = false
	m.cancel()
	m.logger.Info("Network discovery stopped")
}

// Refresh forces an immediate re-verification sweep and browser restart
// instead of waiting for the next periodic tick.
func (m *Manager) Refresh() error {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	if !running {
		return ErrNotRunning
	}
	select {
	case m.kick <- struct{}{}:
	default:
	}
	return nil
}

// AddManual verifies a device at a user-supplied address and adds it to
// the registry. Unlike browse results, a failure here is reported to the
// caller; the user typed the address and wants to know it was wrong.
func (m *Manager) AddManual(ctx context.Context, ip string) (*deviceapi.Info, error) {
	vctx, cancel := context.WithTimeout(ctx, VerifyTimeout)
	defer cancel()

	info, err := m.verifier.VerifiedInfo(vctx, ip)
	if err != nil {
		return nil, fmt.Errorf("verify %s: %w", ip, err)
	}
	m.admit(info, ip)
	return info, nil
}

// run owns the browse/recheck cycle. Each cycle browses until the timer
// fires or Refresh kicks, then re-verifies known devices and starts a
// fresh browse.
func (m *Manager) run(ctx context.Context) {
	for ctx.Err() == nil {
		m.browseCycle(ctx)
	}

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

func (m *Manager) browseCycle(ctx context.Context) {
	cycleCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	services, err := m.browser.Browse(cycleCtx)
	if err != nil {
		m.logger.Warn("mDNS browse failed", "error", err)
		// Back off before the next cycle rather than spinning.
		select {
		case <-time.After(m.interval):
		case <-ctx.Done():
		}
		return
	}

	timer := time.NewTimer(m.interval)
	defer timer.Stop()

	for {
		select {
		case svc, ok := <-services:
			if !ok {
				return
			}
			if svc.Addr() == "" {
				continue
			}
			go m.verify(ctx, svc.Addr())

		case <-timer.C:
			m.recheck(ctx)
			return

		case <-m.kick:
			m.recheck(ctx)
			return

		case <-ctx.Done():
			return
		}
	}
}

// recheck re-verifies every registry device with a known address. A
// failure is swallowed; an unreachable device simply stops being
// touched and ages out of the registry.
func (m *Manager) recheck(ctx context.Context) {
	for _, rec := range m.reg.List() {
		if rec.IPAddress == "" {
			continue
		}
		go m.verify(ctx, rec.IPAddress)
	}
}

// verify fetches /info from one address. Non-controllers and unreachable
// hosts are dropped silently; the browse is broad and most candidates
// are not ours.
func (m *Manager) verify(ctx context.Context, ip string) {
	vctx, cancel := context.WithTimeout(ctx, VerifyTimeout)
	defer cancel()

	info, err := m.verifier.VerifiedInfo(vctx, ip)
	if err != nil {
		m.logger.Debug("Verification failed", "ip", ip, "error", err)
		return
	}
	m.admit(info, ip)
}

// admit records a verified device in the registry.
func (m *Manager) admit(info *deviceapi.Info, ip string) {
	name := info.Name
	if name == "" {
		name = info.Hostname
	}
	m.reg.UpdateFromHTTP(name, ip, info.DeviceID, info.MAC)

	m.logger.Debug("Device verified", "ip", ip, "deviceId", info.DeviceID, "name", name)
	if m.events != nil {
		m.events.Log(log.Event{
			Timestamp:  time.Now(),
			Source:     log.SourceMDNS,
			Category:   log.CategoryDiscovery,
			DeviceID:   info.DeviceID,
			RemoteAddr: ip,
			Discovery: &log.DiscoveryEvent{
				Name:     name,
				IP:       ip,
				Verified: true,
			},
		})
	}
}

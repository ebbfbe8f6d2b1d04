package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fameblinds/fame-go/pkg/deviceapi"
	"github.com/fameblinds/fame-go/pkg/registry"
)

// fakeBrowser replays a fixed set of announcements on every browse.
type fakeBrowser struct {
	mu       sync.Mutex
	services []*HTTPService
	browses  int
}

func (b *fakeBrowser) Browse(ctx context.Context) (<-chan *HTTPService, error) {
	b.mu.Lock()
	b.browses++
	services := make([]*HTTPService, len(b.services))
	copy(services, b.services)
	b.mu.Unlock()

	out := make(chan *HTTPService)
	go func() {
		defer close(out)
		for _, svc := range services {
			select {
			case out <- svc:
			case <-ctx.Done():
				return
			}
		}
		<-ctx.Done()
	}()
	return out, nil
}

func (b *fakeBrowser) browseCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.browses
}

// fakeVerifier serves canned /info documents keyed by address.
type fakeVerifier struct {
	mu    sync.Mutex
	infos map[string]*deviceapi.Info
	calls map[string]int
}

func (v *fakeVerifier) VerifiedInfo(ctx context.Context, ip string) (*deviceapi.Info, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.calls == nil {
		v.calls = make(map[string]int)
	}
	v.calls[ip]++
	info, ok := v.infos[ip]
	if !ok {
		return nil, errors.New("connection refused")
	}
	if info.Device != deviceapi.ProductName {
		return nil, deviceapi.ErrWrongProduct
	}
	return info, nil
}

func (v *fakeVerifier) callCount(ip string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls[ip]
}

func controllerInfo(deviceID, name string) *deviceapi.Info {
	return &deviceapi.Info{
		Device:   deviceapi.ProductName,
		Version:  "2.4.1",
		DeviceID: deviceID,
		Name:     name,
		Hostname: "blind_" + deviceID,
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestBrowseAdmitsVerifiedDevices(t *testing.T) {
	reg := registry.New()
	browser := &fakeBrowser{services: []*HTTPService{
		{InstanceName: "Living Room", Addresses: []string{"192.168.1.40"}},
		{InstanceName: "Office Printer", Addresses: []string{"192.168.1.50"}},
		{InstanceName: "pending", Addresses: nil},
	}}
	verifier := &fakeVerifier{infos: map[string]*deviceapi.Info{
		"192.168.1.40": controllerInfo("a1b2c3d4", "Living Room"),
		"192.168.1.50": {Device: "SomePrinter"},
	}}

	m := NewManagerWithConfig(reg, verifier, ManagerConfig{
		Browser:         browser,
		RecheckInterval: time.Hour,
	})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	waitFor(t, func() bool { return reg.Len() == 1 }, "verified device never reached registry")

	rec, ok := reg.Get("a1b2c3d4")
	if !ok {
		t.Fatal("device missing from registry")
	}
	if rec.DisplayName != "Living Room" || rec.IPAddress != "192.168.1.40" {
		t.Errorf("record = %+v", rec)
	}
	if !rec.WifiConnected {
		t.Error("network-verified device should be marked connected")
	}
	if verifier.callCount("192.168.1.50") == 0 {
		t.Error("printer address should still have been probed")
	}
}

func TestRefreshRestartsBrowseAndRechecks(t *testing.T) {
	reg := registry.New()
	browser := &fakeBrowser{services: []*HTTPService{
		{InstanceName: "Living Room", Addresses: []string{"192.168.1.40"}},
	}}
	verifier := &fakeVerifier{infos: map[string]*deviceapi.Info{
		"192.168.1.40": controllerInfo("a1b2c3d4", "Living Room"),
	}}

	m := NewManagerWithConfig(reg, verifier, ManagerConfig{
		Browser:         browser,
		RecheckInterval: time.Hour,
	})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	waitFor(t, func() bool { return reg.Len() == 1 }, "device never admitted")
	first := verifier.callCount("192.168.1.40")

	if err := m.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	waitFor(t, func() bool { return browser.browseCount() >= 2 }, "browse never restarted")
	waitFor(t, func() bool { return verifier.callCount("192.168.1.40") > first }, "device never re-verified")
}

func TestRefreshWhenStopped(t *testing.T) {
	m := NewManagerWithConfig(registry.New(), &fakeVerifier{}, ManagerConfig{
		Browser: &fakeBrowser{},
	})
	if err := m.Refresh(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}

func TestAddManual(t *testing.T) {
	reg := registry.New()
	verifier := &fakeVerifier{infos: map[string]*deviceapi.Info{
		"10.0.0.7": controllerInfo("feedbeef", ""),
	}}
	m := NewManagerWithConfig(reg, verifier, ManagerConfig{Browser: &fakeBrowser{}})

	info, err := m.AddManual(context.Background(), "10.0.0.7")
	if err != nil {
		t.Fatalf("AddManual failed: %v", err)
	}
	if info.DeviceID != "feedbeef" {
		t.Errorf("deviceId = %q", info.DeviceID)
	}

	rec, ok := reg.Get("feedbeef")
	if !ok {
		t.Fatal("manual device missing from registry")
	}
	// No display name in /info falls back to the hostname.
	if rec.DisplayName != "blind_feedbeef" {
		t.Errorf("display name = %q", rec.DisplayName)
	}
}

func TestAddManualReportsFailure(t *testing.T) {
	m := NewManagerWithConfig(registry.New(), &fakeVerifier{}, ManagerConfig{Browser: &fakeBrowser{}})

	if _, err := m.AddManual(context.Background(), "10.0.0.9"); err == nil {
		t.Fatal("expected error for unreachable address")
	}
}

func TestVerificationFailureLeavesRegistryUntouched(t *testing.T) {
	reg := registry.New()
	reg.UpdateFromHTTP("Living Room", "192.168.1.40", "a1b2c3d4", "")

	browser := &fakeBrowser{services: []*HTTPService{
		{InstanceName: "Living Room", Addresses: []string{"192.168.1.40"}},
	}}
	verifier := &fakeVerifier{} // everything unreachable

	m := NewManagerWithConfig(reg, verifier, ManagerConfig{
		Browser:         browser,
		RecheckInterval: time.Hour,
	})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	waitFor(t, func() bool { return verifier.callCount("192.168.1.40") > 0 }, "address never probed")

	if _, ok := reg.Get("a1b2c3d4"); !ok {
		t.Error("failed verification must not evict the device")
	}
}

package log

import (
	"bytes"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func sampleEvent(deviceID string, src Source) Event {
	return Event{
		Timestamp:    time.Now(),
		Source:       src,
		Category:     CategoryDiscovery,
		ConnectionID: "8b6c2e4a-0000-0000-0000-000000000001",
		DeviceID:     deviceID,
		RemoteAddr:   "192.168.1.42",
		Discovery: &DiscoveryEvent{
			Name:     "FAMEBlinds_" + deviceID,
			IP:       "192.168.1.42",
			Verified: true,
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	event := Event{
		Timestamp: time.Now(),
		Source:    SourceBLE,
		Category:  CategoryState,
		DeviceID:  "23c57e80",
		StateChange: &StateChangeEvent{
			Entity:   StateEntityConnection,
			OldState: "CONNECTING",
			NewState: "CONNECTED",
		},
	}

	data, err := EncodeEvent(event)
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}

	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if decoded.DeviceID != event.DeviceID || decoded.Source != event.Source {
		t.Errorf("identifiers lost: %+v", decoded)
	}
	if decoded.StateChange == nil || decoded.StateChange.NewState != "CONNECTED" {
		t.Errorf("state change payload lost: %+v", decoded.StateChange)
	}
	// Nanosecond-precision timestamps survive the round trip.
	if !decoded.Timestamp.Equal(event.Timestamp) {
		t.Errorf("timestamp drifted: %v vs %v", decoded.Timestamp, event.Timestamp)
	}
}

func TestFileLoggerAndReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "discovery.flog")

	fl, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	fl.Log(sampleEvent("23c57e80", SourceMDNS))
	fl.Log(sampleEvent("1a2b3c4d", SourceBLE))
	fl.Log(sampleEvent("23c57e80", SourceHTTP))
	if err := fl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Log after Close is silently ignored.
	fl.Log(sampleEvent("ffffffff", SourceBLE))

	r, err := NewFilteredReader(path, Filter{DeviceID: "23c57e80"})
	if err != nil {
		t.Fatalf("NewFilteredReader: %v", err)
	}
	defer r.Close()

	count := 0
	for {
		event, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if event.DeviceID != "23c57e80" {
			t.Errorf("filter leaked event for %q", event.DeviceID)
		}
		count++
	}
	if count != 2 {
		t.Errorf("read %d filtered events, want 2", count)
	}
}

func TestReaderSourceFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "discovery.flog")

	fl, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	fl.Log(sampleEvent("23c57e80", SourceMDNS))
	fl.Log(sampleEvent("23c57e80", SourceBLE))
	fl.Close()

	src := SourceBLE
	r, err := NewFilteredReader(path, Filter{Source: &src})
	if err != nil {
		t.Fatalf("NewFilteredReader: %v", err)
	}
	defer r.Close()

	event, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if event.Source != SourceBLE {
		t.Errorf("Source = %s, want BLE", event.Source)
	}
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestMultiLogger(t *testing.T) {
	var a, b captureLogger
	ml := NewMultiLogger(&a, &b)
	ml.Log(sampleEvent("23c57e80", SourceBLE))

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Errorf("events not fanned out: %d, %d", len(a.events), len(b.events))
	}
}

// captureLogger records events for assertions.
type captureLogger struct {
	events []Event
}

func (c *captureLogger) Log(event Event) { c.events = append(c.events, event) }

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	NewSlogAdapter(logger).Log(sampleEvent("23c57e80", SourceMDNS))

	out := buf.String()
	for _, want := range []string{"device_id=23c57e80", "source=MDNS", "verified=true"} {
		if !bytes.Contains([]byte(out), []byte(want)) {
			t.Errorf("slog output missing %q: %s", want, out)
		}
	}
}

func TestNoopLogger(t *testing.T) {
	// Must be usable as a zero value and never panic.
	var l NoopLogger
	l.Log(Event{})
}

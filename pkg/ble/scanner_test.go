package ble

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fameblinds/fame-go/pkg/registry"
)

func TestScanFeedsRegistry(t *testing.T) {
	reg := registry.New()
	tr := &fakeTransport{advs: []Advertisement{
		{Ref: &fakeRef{addr: "aa:01"}, Name: "FAMEBlinds_23c57e80", RSSI: -58},
		{Ref: &fakeRef{addr: "aa:02"}, Name: "", RSSI: -40},              // no payload name
		{Ref: &fakeRef{addr: "aa:03"}, Name: "SomeHeadphones", RSSI: -66}, // no id suffix
	}}
	s := NewScanner(tr, reg, ScannerConfig{Timeout: 50 * time.Millisecond})

	if err := s.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if reg.Len() != 1 {
		t.Fatalf("registry size = %d, want 1", reg.Len())
	}
	rec, _ := reg.Get("23c57e80")
	if rec.RSSI != -58 || rec.BLERef == nil {
		t.Errorf("record = %+v", rec)
	}
	if s.Scanning() {
		t.Error("scanner still scanning after window closed")
	}
}

func TestFreshScanPhases(t *testing.T) {
	reg := registry.New()
	tr := &fakeTransport{}
	s := NewScanner(tr, reg, ScannerConfig{
		Timeout:    120 * time.Millisecond,
		FreshBurst: 20 * time.Millisecond,
	})

	if err := s.FreshScan(context.Background()); err != nil {
		t.Fatalf("FreshScan: %v", err)
	}

	tr.mu.Lock()
	calls := tr.scanCalls
	tr.mu.Unlock()
	if len(calls) != 2 {
		t.Fatalf("scan calls = %v, want duplicate burst then dedup", calls)
	}
	if !calls[0] || calls[1] {
		t.Errorf("scan modes = %v, want [true false]", calls)
	}
}

func TestScanRespectsCooldown(t *testing.T) {
	reg := registry.New()
	reg.StartScanCooldown(time.Minute)
	s := NewScanner(&fakeTransport{}, reg, ScannerConfig{Timeout: 20 * time.Millisecond})

	if err := s.Scan(context.Background()); !errors.Is(err, ErrScanCooldown) {
		t.Errorf("err = %v, want ErrScanCooldown", err)
	}
}

func TestScanRefusesConcurrent(t *testing.T) {
	reg := registry.New()
	s := NewScanner(&fakeTransport{}, reg, ScannerConfig{Timeout: 200 * time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- s.Scan(context.Background()) }()

	// Wait for the first scan to be in flight.
	deadline := time.After(time.Second)
	for !s.Scanning() {
		select {
		case <-deadline:
			t.Fatal("first scan never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := s.Scan(context.Background()); !errors.Is(err, ErrScanInProgress) {
		t.Errorf("err = %v, want ErrScanInProgress", err)
	}
	s.Stop()
	if err := <-done; err != nil {
		t.Errorf("first scan: %v", err)
	}
}

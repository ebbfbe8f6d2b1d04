package registry

import (
	"fmt"
	"testing"
	"time"
)

// fakeRef is a stand-in peripheral handle.
type fakeRef struct {
	addr string
}

func (f *fakeRef) Addr() string { return f.addr }

// cachedRef additionally carries a platform-cached name.
type cachedRef struct {
	fakeRef
	cached string
}

func (c *cachedRef) CachedName() string { return c.cached }

func TestDeviceIDFromName(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"FAMEBlinds_23c57e80", "23c57e80"},
		{"FAMEBlinds_23C57E80", "23c57e80"},
		{"Living_Room_1a2b3c4d", "1a2b3c4d"},
		{"FAMEBlinds", ""},
		{"FAMEBlinds_", ""},
		{"FAMEBlinds_xyz", ""},
		{"FAMEBlinds_23c57e8", ""},   // too short
		{"FAMEBlinds_23c57e801", ""}, // too long
		{"", ""},
	}
	for _, tc := range cases {
		if got := DeviceIDFromName(tc.name); got != tc.want {
			t.Errorf("DeviceIDFromName(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestUpdateFromBLE(t *testing.T) {
	t.Run("CreatesRecord", func(t *testing.T) {
		r := New()
		ref := &fakeRef{addr: "aa:bb"}
		r.UpdateFromBLE(ref, "FAMEBlinds_23c57e80", -62)

		rec, ok := r.Get("23c57e80")
		if !ok {
			t.Fatal("record not created")
		}
		if rec.DisplayName != "FAMEBlinds_23c57e80" {
			t.Errorf("DisplayName = %q", rec.DisplayName)
		}
		if rec.RSSI != -62 {
			t.Errorf("RSSI = %d, want -62", rec.RSSI)
		}
		if rec.BLERef != ref {
			t.Error("BLERef not stored")
		}
		if rec.Configured() {
			t.Error("BLE-only record must not be configured")
		}
		if !rec.Provisionable() {
			t.Error("BLE-only record must be provisionable")
		}
	})

	t.Run("EmptyIDDropped", func(t *testing.T) {
		r := New()
		r.UpdateFromBLE(&fakeRef{}, "NoSuffixHere", -50)
		r.UpdateFromBLE(&fakeRef{}, "", -50)
		if r.Len() != 0 {
			t.Errorf("registry size = %d, want 0", r.Len())
		}
	})

	t.Run("CachedNameFallback", func(t *testing.T) {
		r := New()
		ref := &cachedRef{cached: "FAMEBlinds_1a2b3c4d"}
		r.UpdateFromBLE(ref, "", -70)
		if _, ok := r.Get("1a2b3c4d"); !ok {
			t.Error("cached name fallback not used")
		}
	})

	t.Run("AdvertisedNamePreferred", func(t *testing.T) {
		r := New()
		ref := &cachedRef{cached: "OldName_1a2b3c4d"}
		r.UpdateFromBLE(ref, "NewName_1a2b3c4d", -70)
		rec, _ := r.Get("1a2b3c4d")
		if rec.DisplayName != "NewName_1a2b3c4d" {
			t.Errorf("DisplayName = %q, want advertised name", rec.DisplayName)
		}
	})

	t.Run("MergePreservesHTTPFields", func(t *testing.T) {
		r := New()
		r.UpdateFromHTTP("Kitchen_23c57e80", "192.168.1.5", "23c57e80", "aa:bb:cc:dd:ee:ff")
		r.UpdateFromBLE(&fakeRef{}, "Renamed_23c57e80", -40)

		rec, _ := r.Get("23c57e80")
		if rec.IPAddress != "192.168.1.5" {
			t.Errorf("IPAddress lost on BLE merge: %q", rec.IPAddress)
		}
		if rec.MACAddress != "aa:bb:cc:dd:ee:ff" {
			t.Errorf("MACAddress lost on BLE merge: %q", rec.MACAddress)
		}
		// Hostname stays authoritative once WiFi-verified.
		if rec.DisplayName != "Kitchen_23c57e80" {
			t.Errorf("DisplayName = %q, want HTTP hostname", rec.DisplayName)
		}
		if rec.RSSI != -40 {
			t.Errorf("RSSI = %d, want -40", rec.RSSI)
		}
	})
}

func TestUpdateFromHTTP(t *testing.T) {
	t.Run("Idempotent", func(t *testing.T) {
		r := New()
		r.UpdateFromHTTP("Kitchen_23c57e80", "192.168.1.5", "23c57e80", "aa:bb")
		first, _ := r.Get("23c57e80")

		r.UpdateFromHTTP("Kitchen_23c57e80", "192.168.1.5", "23c57e80", "aa:bb")
		second, _ := r.Get("23c57e80")

		if r.Len() != 1 {
			t.Fatalf("registry size = %d, want 1", r.Len())
		}
		if second.LastSeen.Before(first.LastSeen) {
			t.Error("LastSeen moved backwards")
		}
		second.LastSeen = first.LastSeen
		if first != second {
			t.Errorf("records differ after identical event: %+v vs %+v", first, second)
		}
	})

	t.Run("EmptyIDDropped", func(t *testing.T) {
		r := New()
		r.UpdateFromHTTP("Kitchen", "192.168.1.5", "", "aa:bb")
		r.UpdateFromHTTP("Kitchen", "192.168.1.5", "   ", "aa:bb")
		if r.Len() != 0 {
			t.Errorf("registry size = %d, want 0", r.Len())
		}
	})

	t.Run("NameWinsOverBLE", func(t *testing.T) {
		r := New()
		r.UpdateFromBLE(&fakeRef{}, "FAMEBlinds_23c57e80", -60)
		r.UpdateFromHTTP("Kitchen_23c57e80", "192.168.1.5", "23c57e80", "")

		rec, _ := r.Get("23c57e80")
		if rec.DisplayName != "Kitchen_23c57e80" {
			t.Errorf("DisplayName = %q, want HTTP name", rec.DisplayName)
		}
		if !rec.WifiConnected {
			t.Error("WifiConnected not set")
		}
		if rec.BLERef == nil {
			t.Error("BLERef lost on HTTP merge")
		}
	})

	t.Run("CaseNormalization", func(t *testing.T) {
		r := New()
		r.UpdateFromHTTP("A", "192.168.1.5", "ABC12345", "")
		r.UpdateFromHTTP("B", "192.168.1.6", "abc12345", "")
		if r.Len() != 1 {
			t.Fatalf("registry size = %d, want 1", r.Len())
		}
		if _, ok := r.Get("ABC12345"); !ok {
			t.Error("uppercase lookup failed")
		}
		rec, _ := r.Get("abc12345")
		if rec.IPAddress != "192.168.1.6" {
			t.Errorf("IPAddress = %q, want the second event applied", rec.IPAddress)
		}
	})
}

func TestInSetupSuppression(t *testing.T) {
	r := New()
	r.UpdateFromBLE(&fakeRef{}, "FAMEBlinds_23c57e80", -60)
	r.MarkInSetup("23c57e80")

	// HTTP events for the suppressed ID are dropped silently.
	r.UpdateFromHTTP("FAMEBlinds_23c57e80", "192.168.10.5", "23c57e80", "aa:bb")
	rec, _ := r.Get("23c57e80")
	if rec.IPAddress != "" || rec.WifiConnected {
		t.Fatalf("suppressed HTTP event applied: %+v", rec)
	}

	// Other IDs proceed normally.
	r.UpdateFromHTTP("Other_1a2b3c4d", "192.168.10.9", "1a2b3c4d", "")
	if other, ok := r.Get("1a2b3c4d"); !ok || other.IPAddress != "192.168.10.9" {
		t.Error("unrelated device blocked by suppression")
	}

	// Suppression matches normalized IDs.
	r.MarkInSetup("ABC12345")
	r.UpdateFromHTTP("x", "10.0.0.1", "abc12345", "")
	if _, ok := r.Get("abc12345"); ok {
		t.Error("suppression did not normalize case")
	}

	// After clearing, the previously-suppressed ID accepts updates again.
	r.MarkInSetup("")
	r.UpdateFromHTTP("FAMEBlinds_23c57e80", "192.168.10.5", "23c57e80", "aa:bb")
	rec, _ = r.Get("23c57e80")
	if rec.IPAddress != "192.168.10.5" || !rec.WifiConnected {
		t.Errorf("update not applied after suppression cleared: %+v", rec)
	}
}

func TestNoDuplicateKeys(t *testing.T) {
	r := New()
	for i := 0; i < 5; i++ {
		r.UpdateFromBLE(&fakeRef{}, "FAMEBlinds_23c57e80", -60-i)
		r.UpdateFromHTTP("FAMEBlinds_23c57e80", "192.168.1.5", "23C57E80", "")
	}
	if r.Len() != 1 {
		t.Errorf("registry size = %d, want 1", r.Len())
	}
}

func TestRemoveAndClear(t *testing.T) {
	r := New()
	r.UpdateFromBLE(&fakeRef{}, "A_1a2b3c4d", -60)
	r.UpdateFromHTTP("B_23c57e80", "192.168.1.5", "23c57e80", "")

	if !r.Remove("1A2B3C4D") {
		t.Error("Remove with uppercase ID failed")
	}
	if r.Remove("1a2b3c4d") {
		t.Error("second Remove reported success")
	}

	r.Clear()
	if r.Len() != 0 {
		t.Errorf("registry size after Clear = %d", r.Len())
	}
}

func TestClearBLEOnly(t *testing.T) {
	r := New()
	r.UpdateFromBLE(&fakeRef{}, "A_1a2b3c4d", -60)
	r.UpdateFromHTTP("B_23c57e80", "192.168.1.5", "23c57e80", "")
	// Seen by both sources: configured, must survive.
	r.UpdateFromBLE(&fakeRef{}, "B_23c57e80", -55)

	if n := r.ClearBLEOnly(); n != 1 {
		t.Errorf("ClearBLEOnly removed %d, want 1", n)
	}
	if _, ok := r.Get("1a2b3c4d"); ok {
		t.Error("BLE-only record retained")
	}
	if _, ok := r.Get("23c57e80"); !ok {
		t.Error("configured record removed")
	}
}

func TestRemoveStaleBoundary(t *testing.T) {
	r := New()
	base := time.Now()

	r.now = func() time.Time { return base.Add(-DefaultStaleAge - time.Second) }
	r.UpdateFromBLE(&fakeRef{}, "Old_1a2b3c4d", -60)

	r.now = func() time.Time { return base.Add(-DefaultStaleAge + time.Second) }
	r.UpdateFromBLE(&fakeRef{}, "Fresh_23c57e80", -60)

	r.now = func() time.Time { return base }
	if n := r.RemoveStale(0); n != 1 {
		t.Errorf("RemoveStale evicted %d, want 1", n)
	}
	if _, ok := r.Get("1a2b3c4d"); ok {
		t.Error("record past maxAge retained")
	}
	if _, ok := r.Get("23c57e80"); !ok {
		t.Error("record within maxAge evicted")
	}
}

func TestListOrdering(t *testing.T) {
	r := New()
	r.UpdateFromBLE(&fakeRef{}, "bravo_1a2b3c4d", -60)
	r.UpdateFromBLE(&fakeRef{}, "Alpha_23c57e80", -60)
	// Name tie, ordered by device ID.
	r.UpdateFromBLE(&fakeRef{}, "Alpha_23c57e80", -60)
	r.UpdateFromHTTP("Alpha_23c57e80", "10.0.0.2", "00000001", "")

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	if list[0].DeviceID != "00000001" || list[1].DeviceID != "23c57e80" {
		t.Errorf("name-tie order unstable: %s, %s", list[0].DeviceID, list[1].DeviceID)
	}
	if list[2].DeviceID != "1a2b3c4d" {
		t.Errorf("sort by name broken, got %s last", list[2].DeviceID)
	}
}

func TestSubscribe(t *testing.T) {
	r := New()
	r.UpdateFromBLE(&fakeRef{}, "A_1a2b3c4d", -60)

	ch, cancel := r.Subscribe()
	defer cancel()

	// New subscribers replay the current snapshot.
	snap := <-ch
	if len(snap) != 1 {
		t.Fatalf("replayed snapshot has %d records, want 1", len(snap))
	}

	// A burst of updates: the latest snapshot wins, the channel never blocks.
	for i := 0; i < 10; i++ {
		r.UpdateFromHTTP(fmt.Sprintf("D_%08x", i), "10.0.0.1", fmt.Sprintf("%08x", i), "")
	}
	snap = <-ch
	if len(snap) != 11 {
		t.Errorf("latest snapshot has %d records, want 11", len(snap))
	}
}

func TestScanCooldown(t *testing.T) {
	r := New()
	if !r.CanScan() {
		t.Fatal("CanScan must start true")
	}

	r.StartScanCooldown(50 * time.Millisecond)
	if r.CanScan() {
		t.Fatal("CanScan true immediately after StartScanCooldown")
	}

	deadline := time.After(2 * time.Second)
	for !r.CanScan() {
		select {
		case <-deadline:
			t.Fatal("cooldown never expired")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestScanCooldownExtended(t *testing.T) {
	r := New()
	r.StartScanCooldown(30 * time.Millisecond)
	r.StartScanCooldown(200 * time.Millisecond)

	// The first timer firing must not clear the newer window.
	time.Sleep(80 * time.Millisecond)
	if r.CanScan() {
		t.Error("older cooldown timer cleared the newer window")
	}

	time.Sleep(200 * time.Millisecond)
	if !r.CanScan() {
		t.Error("extended cooldown never expired")
	}
}

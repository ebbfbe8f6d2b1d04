package wire

import "testing"

func TestClassifyWifi(t *testing.T) {
	cases := []struct {
		raw  string
		want WifiOutcome
	}{
		{"wifi:192.168.1.50", WifiConnected},
		{"wifi:192.168.1.42,mqtt:ok", WifiConnected},
		{"wifi:10.0.0.7", WifiConnected},
		{"wifi:172.16.4.2", WifiConnected},
		{"wifi:1", WifiConnected},
		{"status:ok,wifi_connected", WifiConnected},
		{"wifi_failed,reason:auth", WifiFailed},
		{"wifi:connecting", WifiConnecting},
		{"wifi_connecting", WifiConnecting},
		{"mqtt:ok", WifiIgnored},
		{"", WifiIgnored},
		// Connected beats failed when the firmware emits both in one line.
		{"wifi_connected,wifi_failed", WifiConnected},
	}

	for _, tc := range cases {
		if got := ClassifyWifi(tc.raw); got != tc.want {
			t.Errorf("ClassifyWifi(%q) = %s, want %s", tc.raw, got, tc.want)
		}
	}
}

func TestParseStatus(t *testing.T) {
	got := ParseStatus("wifi:192.168.1.42,mqtt:ok, pos:40 ,flag")
	want := map[string]string{
		"wifi": "192.168.1.42",
		"mqtt": "ok",
		"pos":  "40",
		"flag": "",
	}
	if len(got) != len(want) {
		t.Fatalf("ParseStatus returned %d pairs, want %d: %v", len(got), len(want), got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("ParseStatus[%q] = %q, want %q", k, got[k], v)
		}
	}
}

func TestDecodeScanResults(t *testing.T) {
	data := []byte(`{"n":[{"s":"attic","r":-80,"e":0},{"s":"home","r":-40,"e":1},{"s":"garage","r":-60,"e":1}]}`)
	networks, err := DecodeScanResults(data)
	if err != nil {
		t.Fatalf("DecodeScanResults: %v", err)
	}

	wantOrder := []int{-40, -60, -80}
	if len(networks) != len(wantOrder) {
		t.Fatalf("got %d networks, want %d", len(networks), len(wantOrder))
	}
	for i, rssi := range wantOrder {
		if networks[i].RSSI != rssi {
			t.Errorf("networks[%d].RSSI = %d, want %d", i, networks[i].RSSI, rssi)
		}
	}
	if !networks[0].Secure || networks[0].SSID != "home" {
		t.Errorf("strongest network = %+v, want secure 'home'", networks[0])
	}
	if networks[2].Secure {
		t.Error("open network decoded as secure")
	}
}

func TestDecodeScanResultsMalformed(t *testing.T) {
	if _, err := DecodeScanResults([]byte(`{"n":[{`)); err == nil {
		t.Error("malformed payload must return an error")
	}
	networks, err := DecodeScanResults([]byte(`{}`))
	if err != nil || len(networks) != 0 {
		t.Errorf("empty payload: networks=%v err=%v", networks, err)
	}
}

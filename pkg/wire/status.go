package wire

import "strings"

// WifiOutcome classifies a raw status string with respect to the WiFi
// connection attempt in progress.
type WifiOutcome uint8

const (
	// WifiIgnored means the status carries no WiFi-relevant information.
	WifiIgnored WifiOutcome = iota

	// WifiConnecting means the device reports an attempt in progress.
	// Callers update user-visible progress only; no state transition.
	WifiConnecting

	// WifiConnected means the device reached the network.
	WifiConnected

	// WifiFailed means the device rejected the credentials or gave up.
	WifiFailed
)

// String returns the outcome name.
func (o WifiOutcome) String() string {
	switch o {
	case WifiIgnored:
		return "IGNORED"
	case WifiConnecting:
		return "CONNECTING"
	case WifiConnected:
		return "CONNECTED"
	case WifiFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// ClassifyWifi interprets a raw status string. The checks run against the
// raw string, in this order:
//
//  1. "wifi_connected" anywhere, a "wifi:1" prefix, or a private-range
//     address ("wifi:172.", "wifi:192.", "wifi:10.") anywhere → connected
//  2. "wifi_failed" anywhere → failed
//  3. "wifi_connecting" or "wifi:connecting" anywhere → connecting
//  4. anything else → ignored
func ClassifyWifi(raw string) WifiOutcome {
	switch {
	case strings.Contains(raw, "wifi_connected"),
		strings.HasPrefix(raw, "wifi:1"),
		strings.Contains(raw, "wifi:172."),
		strings.Contains(raw, "wifi:192."),
		strings.Contains(raw, "wifi:10."):
		return WifiConnected

	case strings.Contains(raw, "wifi_failed"):
		return WifiFailed

	case strings.Contains(raw, "wifi_connecting"),
		strings.Contains(raw, "wifi:connecting"):
		return WifiConnecting

	default:
		return WifiIgnored
	}
}

// ParseStatus splits a status string into its key:value pairs. Pairs
// without a colon are kept with an empty value. Later duplicate keys win.
// Use this for display and for non-WiFi keys; WiFi decisions go through
// ClassifyWifi on the raw string.
func ParseStatus(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, ":")
		out[key] = value
	}
	return out
}

package wire

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Network is one WiFi network reported by the device's scan.
type Network struct {
	// SSID is the network name.
	SSID string

	// RSSI is the signal strength in dBm.
	RSSI int

	// Secure indicates the network requires a password.
	Secure bool
}

// scanPayload mirrors the firmware's compact-keyed scan result JSON.
type scanPayload struct {
	Networks []scanNetwork `json:"n"`
}

type scanNetwork struct {
	SSID   string `json:"s"`
	RSSI   int    `json:"r"`
	Secure int    `json:"e"`
}

// DecodeScanResults decodes a scan-results payload and returns the
// networks sorted by descending signal strength.
func DecodeScanResults(data []byte) ([]Network, error) {
	var payload scanPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("malformed scan results: %w", err)
	}

	networks := make([]Network, 0, len(payload.Networks))
	for _, n := range payload.Networks {
		networks = append(networks, Network{
			SSID:   n.SSID,
			RSSI:   n.RSSI,
			Secure: n.Secure != 0,
		})
	}

	sort.SliceStable(networks, func(i, j int) bool {
		return networks[i].RSSI > networks[j].RSSI
	})
	return networks, nil
}

package ble

// ServiceUUID identifies the blind controller's configuration GATT service.
const ServiceUUID = "f3ae0001-0a73-4f4e-8a5e-1d6f5bfa2d01"

// CharID names one of the well-known configuration characteristics.
type CharID uint8

const (
	// CharWifiSSID holds the WiFi network name to join.
	CharWifiSSID CharID = iota
	// CharWifiPassword holds the WiFi password.
	CharWifiPassword
	// CharDeviceName holds the friendly device name.
	CharDeviceName
	// CharMQTTBroker holds the MQTT broker host:port.
	CharMQTTBroker
	// CharStatus delivers the firmware status string.
	CharStatus
	// CharCommand accepts command sentinels ("restart", "factory-reset").
	CharCommand
	// CharDevicePassword sets the device's HTTP password.
	CharDevicePassword
	// CharOrientation sets the blind's mounting orientation.
	CharOrientation
	// CharWifiScanTrigger starts a WiFi network scan on the device.
	CharWifiScanTrigger
	// CharWifiScanResults delivers WiFi scan results as compact JSON.
	CharWifiScanResults
)

// charUUIDs maps each characteristic to its 128-bit UUID.
var charUUIDs = map[CharID]string{
	CharWifiSSID:        "f3ae0002-0a73-4f4e-8a5e-1d6f5bfa2d01",
	CharWifiPassword:    "f3ae0003-0a73-4f4e-8a5e-1d6f5bfa2d01",
	CharDeviceName:      "f3ae0004-0a73-4f4e-8a5e-1d6f5bfa2d01",
	CharMQTTBroker:      "f3ae0005-0a73-4f4e-8a5e-1d6f5bfa2d01",
	CharStatus:          "f3ae0006-0a73-4f4e-8a5e-1d6f5bfa2d01",
	CharCommand:         "f3ae0007-0a73-4f4e-8a5e-1d6f5bfa2d01",
	CharDevicePassword:  "f3ae0008-0a73-4f4e-8a5e-1d6f5bfa2d01",
	CharOrientation:     "f3ae0009-0a73-4f4e-8a5e-1d6f5bfa2d01",
	CharWifiScanTrigger: "f3ae000a-0a73-4f4e-8a5e-1d6f5bfa2d01",
	CharWifiScanResults: "f3ae000b-0a73-4f4e-8a5e-1d6f5bfa2d01",
}

var charNames = map[CharID]string{
	CharWifiSSID:        "wifi-ssid",
	CharWifiPassword:    "wifi-password",
	CharDeviceName:      "device-name",
	CharMQTTBroker:      "mqtt-broker",
	CharStatus:          "status",
	CharCommand:         "command",
	CharDevicePassword:  "device-password",
	CharOrientation:     "orientation",
	CharWifiScanTrigger: "wifi-scan-trigger",
	CharWifiScanResults: "wifi-scan-results",
}

// UUID returns the characteristic's 128-bit UUID, or "" for an unknown ID.
func (c CharID) UUID() string {
	return charUUIDs[c]
}

// String returns the short characteristic name used in logs.
func (c CharID) String() string {
	if name, ok := charNames[c]; ok {
		return name
	}
	return "unknown"
}

// AllCharacteristics lists every well-known characteristic.
func AllCharacteristics() []CharID {
	return []CharID{
		CharWifiSSID, CharWifiPassword, CharDeviceName, CharMQTTBroker,
		CharStatus, CharCommand, CharDevicePassword, CharOrientation,
		CharWifiScanTrigger, CharWifiScanResults,
	}
}

// notifyCharacteristics lists the characteristics that deliver pushed data
// and therefore take part in the pending-subscription phase of the
// connection handshake. CharWifiScanResults is subscribed only where the
// firmware exposes it with notify support.
var notifyCharacteristics = []CharID{CharStatus, CharWifiScanResults}

// Command sentinels written to CharCommand.
const (
	// CmdRestart reboots the device.
	CmdRestart = "restart"
	// CmdFactoryReset wipes configuration and reboots.
	CmdFactoryReset = "factory-reset"
)

// WifiScanSentinel is the value written to CharWifiScanTrigger to start
// a WiFi network scan on the device.
const WifiScanSentinel = "scan"

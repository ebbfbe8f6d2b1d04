// Package provisioning drives a factory-fresh controller from BLE
// discovery to a WiFi-reachable device.
//
// The flow is a linear step machine: pick a device, connect over BLE,
// push WiFi credentials, then name, orientation and an optional device
// password, and finally restart the device onto the network. The WiFi
// step carries its own sub-machine with a one-second status poll and a
// twenty-second timeout; notification delivery for the status
// characteristic is unreliable on some firmware, so the poll is the
// fallback path and both feed the same classifier.
//
// While a flow is active its device is marked in-setup in the registry,
// which suppresses competing HTTP updates until completion or cancel.
package provisioning

// Package registry provides the authoritative device store for FAME blind
// controllers discovered on the local network.
//
// Two independent discovery sources feed the registry: BLE advertisement
// scanning and mDNS/HTTP verification. Both may report the same physical
// device, so the registry reconciles every event by device ID and keeps
// exactly one record per device. Records are merged in place rather than
// replaced, because each source populates fields the other cannot see
// (BLE knows the peripheral handle and RSSI, HTTP knows the IP address
// and MAC).
//
// # Device Identity
//
// A device ID is an 8-character lowercase hex string derived from the
// device's MAC address. The firmware embeds it as a suffix in both the
// BLE-advertised name and the mDNS hostname ("<friendly>_<8hex>"), which
// is what lets the two discovery channels agree on identity before the
// device is reachable over HTTP.
//
// # In-Setup Suppression
//
// While a device is being provisioned over BLE, lingering mDNS
// announcements can race the setup flow and make the device appear
// configured before it actually is. [Registry.MarkInSetup] suppresses
// HTTP updates for exactly one device at a time; BLE updates are never
// suppressed.
//
// # Scan Cooldown
//
// After a device is told to restart, scanning into it produces bad BLE
// state. [Registry.StartScanCooldown] blocks scanning for a fixed window
// and clears itself without caller involvement.
package registry

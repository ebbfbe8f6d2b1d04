// Package ble provides the BLE side of device discovery and setup:
// advertisement scanning and the GATT connection used to push
// configuration onto an unprovisioned blind controller.
//
// # Scanning
//
// The blind controller advertises "<friendly>_<8hex>" and the scanner
// forwards every sighting with a non-empty advertised name into the
// registry. Names come strictly from the advertisement payload; platform
// name caches are never consulted here because they can return a stale
// name for a peripheral that was renamed since it was last seen.
//
// Two scan modes exist. A normal scan is de-duplicated and bounded by
// ScanTimeout. A fresh scan, used when entering the setup flow, allows
// duplicates for FreshScanBurst to force fresh advertisement payloads
// out of the OS cache, then switches to de-duplicated scanning for the
// rest of the window.
//
// # Connection Handshake
//
// A connection is not usable the moment the platform reports it
// connected. The required GATT service and characteristics are
// discovered first, then notifications are enabled on every
// characteristic that delivers pushed data. Only when all of those
// pending subscriptions have resolved (success or failure) does the
// connection reach StateConnected. Writes issued earlier can race the
// firmware and silently go missing, which is exactly the failure mode
// this two-phase handshake exists to close.
//
// Subscription failures are tolerated: the characteristic is dropped
// from the pending set and callers fall back to explicit polling reads.
package ble

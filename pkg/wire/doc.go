// Package wire decodes the formats the blind firmware puts on the air.
//
// There are two of them:
//
//   - Status strings: comma-separated "key:value" pairs read from the
//     status characteristic, e.g. "wifi:192.168.1.42,mqtt:ok". This is
//     not JSON and the firmware emits variant forms during transient
//     states, so WiFi classification deliberately uses substring and
//     prefix heuristics instead of strict parsing. The rule order in
//     [ClassifyWifi] matches firmware behavior and must not be changed.
//
//   - WiFi scan results: compact-keyed JSON delivered through the
//     scan-results characteristic, {"n":[{"s":<ssid>,"r":<rssi>,"e":0|1}]}.
//
// Malformed payloads are decode errors here; callers treat them as
// transient and ignore them rather than surfacing them to the user.
package wire

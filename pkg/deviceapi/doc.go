// Package deviceapi talks to a blind controller's embedded HTTP server.
//
// Once a device is on WiFi it exposes a small REST-ish surface: an /info
// identity document, setters for WiFi credentials and the display name,
// restart and factory-reset triggers, and a chunked firmware upload.
// Requests authenticate with the device password when the device was
// provisioned with one; the password is looked up through a
// PasswordSource so callers can plug in the persistent auth store.
package deviceapi

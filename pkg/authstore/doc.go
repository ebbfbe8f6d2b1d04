// Package authstore persists device passwords between sessions.
//
// Passwords are sealed with ChaCha20-Poly1305 before they hit disk; the
// sealing key is derived from a caller-supplied secret with HKDF, so the
// state file alone is not enough to recover a password. The store
// satisfies the password lookup interface the HTTP device client uses.
package authstore

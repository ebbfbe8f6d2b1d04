// Package log provides structured event logging for device discovery and
// provisioning.
//
// This package defines the Logger interface and Event types for capturing
// discovery sightings, BLE connection state changes, characteristic I/O
// and provisioning step transitions. It is separate from operational
// logging (slog) - event capture provides a complete machine-readable
// trace for debugging flaky discovery and setup sessions after the fact.
//
// # Basic Usage
//
// Components accept a Logger; pass nil or NoopLogger to disable:
//
//	// For development: log to console via slog
//	events := log.NewSlogAdapter(slog.Default())
//
//	// For field debugging: write to binary file
//	events, _ := log.NewFileLogger("discovery.flog")
//
//	// Both: use MultiLogger
//	events := log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # File Format
//
// Log files use CBOR encoding with integer keys. Reader streams events
// back out of a file, optionally filtered by device, source or time range.
package log

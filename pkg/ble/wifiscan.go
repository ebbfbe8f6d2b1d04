package ble

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fameblinds/fame-go/pkg/wire"
)

// WifiScanTimeout clears the scanning flag if the device never delivers
// results.
const WifiScanTimeout = 20 * time.Second

// WifiScan drives the on-device WiFi network scan: write the trigger
// sentinel, then wait for the results characteristic to push a compact
// JSON payload. Results are sorted by descending signal strength.
type WifiScan struct {
	mu sync.Mutex

	conn   *Conn
	logger *slog.Logger

	scanning bool
	gen      uint64
	networks []wire.Network

	onResults func([]wire.Network)
}

// NewWifiScan creates the scan flow over an established connection and
// registers for result notifications. Call before Conn.Connect so the
// handler is in place when subscriptions are enabled.
func NewWifiScan(conn *Conn, logger *slog.Logger) *WifiScan {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ws := &WifiScan{conn: conn, logger: logger}
	conn.HandleNotify(CharWifiScanResults, ws.handleResults)
	return ws
}

// OnResults registers a callback invoked with each sorted result set.
func (w *WifiScan) OnResults(fn func([]wire.Network)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onResults = fn
}

// Scanning reports whether a device-side scan is in progress.
func (w *WifiScan) Scanning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.scanning
}

// Networks returns the most recent sorted result set.
func (w *WifiScan) Networks() []wire.Network {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.networks
}

// Start triggers a scan on the device. The scanning flag clears when
// results arrive or after WifiScanTimeout, whichever comes first.
func (w *WifiScan) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.scanning {
		w.mu.Unlock()
		return ErrScanInProgress
	}
	w.scanning = true
	w.gen++
	gen := w.gen
	w.mu.Unlock()

	if err := w.conn.WriteString(ctx, CharWifiScanTrigger, WifiScanSentinel); err != nil {
		w.mu.Lock()
		if w.gen == gen {
			w.scanning = false
		}
		w.mu.Unlock()
		return err
	}

	time.AfterFunc(WifiScanTimeout, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		// Results arrived, or a newer scan owns the flag.
		if w.gen != gen || !w.scanning {
			return
		}
		w.scanning = false
		w.logger.Debug("wifi scan timed out without results")
	})
	return nil
}

// handleResults decodes one pushed result payload. Malformed payloads are
// ignored; the firmware emits partial strings during transient states.
func (w *WifiScan) handleResults(data []byte) {
	networks, err := wire.DecodeScanResults(data)
	if err != nil {
		w.logger.Debug("ignoring malformed wifi scan results", "err", err)
		return
	}

	w.mu.Lock()
	w.scanning = false
	w.gen++ // invalidate the pending timeout
	w.networks = networks
	fn := w.onResults
	w.mu.Unlock()

	if fn != nil {
		fn(networks)
	}
}

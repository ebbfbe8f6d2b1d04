package registry

import "time"

// DefaultCooldown is the scan cooldown started after a provisioned device
// is told to restart. Chosen to exceed typical device reboot time.
const DefaultCooldown = 6 * time.Second

// StartScanCooldown blocks scanning for the given duration, clearing
// itself when the window expires. The call returns immediately; no caller
// action is needed for the flag to clear. A duration of zero uses
// DefaultCooldown. Starting a new cooldown while one is active extends
// the window to the new duration.
func (r *Registry) StartScanCooldown(d time.Duration) {
	if d <= 0 {
		d = DefaultCooldown
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.coolingDown = true
	r.cooldownGen++
	gen := r.cooldownGen

	time.AfterFunc(d, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		// A newer cooldown owns the flag now.
		if r.cooldownGen != gen {
			return
		}
		r.coolingDown = false
	})
}

// CanScan reports whether no scan cooldown is active.
func (r *Registry) CanScan() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.coolingDown
}

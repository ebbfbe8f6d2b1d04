package interactive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fameblinds/fame-go/pkg/ble"
	"github.com/fameblinds/fame-go/pkg/provisioning"
)

const (
	// connectWait bounds the BLE connection handshake from the shell's
	// point of view; the handshake itself retries nothing, so this only
	// needs headroom over the transport timeout.
	connectWait = 30 * time.Second

	// wifiWait bounds one credential attempt. Longer than the flow's
	// own timeout so the shell reports the flow's verdict, not its own.
	wifiWait = 45 * time.Second

	// settleWait bounds the pause between configuration writes.
	settleWait = 10 * time.Second
)

// cmdProvision walks the operator through the full setup of one device:
// BLE connect, WiFi credentials, name, orientation, optional password.
func (c *Controller) cmdProvision(ctx context.Context, args []string) {
	out := c.rl.Stdout()
	flow := c.app.Flow
	if flow == nil {
		fmt.Fprintln(out, "BLE is not available on this machine.")
		return
	}
	if len(args) < 1 {
		fmt.Fprintln(out, "Usage: provision <device-id>")
		return
	}
	rec, ok := c.resolveDevice(args[0])
	if !ok {
		return
	}

	if err := flow.Start(ctx, rec.DeviceID); err != nil {
		fmt.Fprintf(out, "Cannot provision %s: %v\n", rec.DisplayName, err)
		return
	}

	fmt.Fprintf(out, "Connecting to %s over BLE...\n", rec.DisplayName)
	if !c.waitStep(provisioning.StepConfigureWiFi, connectWait) {
		fmt.Fprintf(out, "Connection failed: %s\n", flow.LastError())
		_ = flow.Cancel()
		return
	}
	fmt.Fprintln(out, "Connected.")

	if !c.provisionWifi(ctx) {
		return
	}

	name, ok := c.promptName()
	if !ok {
		c.abortProvision()
		return
	}
	if err := flow.SubmitName(ctx, name); err != nil {
		fmt.Fprintf(out, "Could not set the name: %v\n", err)
		c.abortProvision()
		return
	}
	if !c.waitStep(provisioning.StepConfigureOrientation, settleWait) {
		fmt.Fprintf(out, "Setup lost the device: %s\n", flow.LastError())
		return
	}

	orientation, ok := c.promptOrientation()
	if !ok {
		c.abortProvision()
		return
	}
	if err := flow.SubmitOrientation(ctx, orientation); err != nil {
		fmt.Fprintf(out, "Could not set the orientation: %v\n", err)
		c.abortProvision()
		return
	}
	if !c.waitStep(provisioning.StepConfigurePassword, settleWait) {
		fmt.Fprintf(out, "Setup lost the device: %s\n", flow.LastError())
		return
	}

	pw, err := c.rl.ReadPassword("Device password (empty to skip): ")
	if err != nil {
		c.abortProvision()
		return
	}
	if err := flow.SubmitPassword(ctx, string(pw)); err != nil {
		fmt.Fprintf(out, "Could not set the password: %v\n", err)
		c.abortProvision()
		return
	}

	if err := flow.Done(ctx); err != nil {
		fmt.Fprintf(out, "Could not finalize setup: %v\n", err)
		return
	}
	fmt.Fprintln(out, "Provisioning complete. The device is restarting and will")
	fmt.Fprintln(out, "reappear on the network shortly; 'devices' will show it.")
}

// provisionWifi runs the credential loop: prompt, submit, wait for the
// device's verdict, offer a retry on failure.
func (c *Controller) provisionWifi(ctx context.Context) bool {
	out := c.rl.Stdout()
	flow := c.app.Flow

	for {
		ssid, err := c.prompt("WiFi SSID (or 'scan' to list networks): ")
		if err != nil {
			c.abortProvision()
			return false
		}
		if ssid == "" {
			continue
		}
		if strings.EqualFold(ssid, "scan") {
			c.cmdNetworks(ctx)
			continue
		}

		pw, err := c.rl.ReadPassword("WiFi password: ")
		if err != nil {
			c.abortProvision()
			return false
		}

		if err := flow.SubmitWiFi(ctx, ssid, string(pw)); err != nil {
			fmt.Fprintf(out, "Could not send credentials: %v\n", err)
			c.abortProvision()
			return false
		}

		fmt.Fprintln(out, "Waiting for the device to join the network...")
		ok, msg := c.waitWifi(wifiWait)
		if ok {
			fmt.Fprintln(out, "Device is on the network.")
			return true
		}
		fmt.Fprintf(out, "WiFi setup failed: %s\n", msg)

		if flow.Step() != provisioning.StepConfigureWiFi {
			// Connection dropped; nothing left to retry against.
			return false
		}
		again, err := c.prompt("Try different credentials? [Y/n]: ")
		if err != nil || strings.HasPrefix(strings.ToLower(again), "n") {
			c.abortProvision()
			return false
		}
	}
}

// cmdNetworks asks the connected device to scan for WiFi networks and
// prints what it sees. Only meaningful while a setup connection is up.
func (c *Controller) cmdNetworks(ctx context.Context) {
	out := c.rl.Stdout()
	ws := c.app.WifiScan
	if ws == nil {
		fmt.Fprintln(out, "BLE is not available on this machine.")
		return
	}
	if c.app.Conn.State() != ble.StateConnected {
		fmt.Fprintln(out, "No device connected; start with 'provision <device-id>'.")
		return
	}

	if err := ws.Start(ctx); err != nil {
		fmt.Fprintf(out, "Could not start the scan: %v\n", err)
		return
	}

	fmt.Fprintln(out, "Asking the device to scan...")
	deadline := time.Now().Add(ble.WifiScanTimeout)
	for ws.Scanning() {
		if time.Now().After(deadline) || ctx.Err() != nil {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}

	networks := ws.Networks()
	if len(networks) == 0 {
		fmt.Fprintln(out, "No networks reported.")
		return
	}
	fmt.Fprintf(out, "Networks seen by the device (%d):\n", len(networks))
	for _, n := range networks {
		lock := " "
		if n.Secure {
			lock = "*"
		}
		fmt.Fprintf(out, "  %s %-32s %d dBm\n", lock, n.SSID, n.RSSI)
	}
}

func (c *Controller) promptName() (string, bool) {
	for {
		name, err := c.prompt("Device name: ")
		if err != nil {
			return "", false
		}
		if name != "" {
			return name, true
		}
	}
}

func (c *Controller) promptOrientation() (string, bool) {
	for {
		o, err := c.prompt("Mount orientation (left/right) [left]: ")
		if err != nil {
			return "", false
		}
		switch strings.ToLower(o) {
		case "":
			return "left", true
		case "left", "right":
			return strings.ToLower(o), true
		}
		fmt.Fprintln(c.rl.Stdout(), "Enter 'left' or 'right'.")
	}
}

// prompt reads one line with a temporary prompt, restoring the shell
// prompt afterwards. An interrupt or EOF is returned as an error.
func (c *Controller) prompt(p string) (string, error) {
	c.rl.SetPrompt(p)
	defer c.rl.SetPrompt("fame> ")

	line, err := c.rl.Readline()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (c *Controller) abortProvision() {
	if err := c.app.Flow.Cancel(); err == nil {
		fmt.Fprintln(c.rl.Stdout(), "Provisioning cancelled.")
	}
}

// waitStep polls until the flow reaches the target step. Returns false
// on timeout or when the flow falls back to idle (connection lost).
func (c *Controller) waitStep(target provisioning.Step, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		switch c.app.Flow.Step() {
		case target:
			return true
		case provisioning.StepSelectDevice:
			return false
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// waitWifi polls for the outcome of one credential attempt: the flow
// advances past the WiFi step on success and raises a failed status on
// a rejection or timeout.
func (c *Controller) waitWifi(timeout time.Duration) (bool, string) {
	deadline := time.Now().Add(timeout)
	for {
		switch c.app.Flow.Step() {
		case provisioning.StepConfigureWiFi:
			if st := c.app.Flow.Wifi(); st.Failed {
				return false, st.Message
			}
		case provisioning.StepSelectDevice:
			return false, c.app.Flow.LastError()
		default:
			return true, ""
		}
		if time.Now().After(deadline) {
			return false, "no response from the device"
		}
		time.Sleep(100 * time.Millisecond)
	}
}

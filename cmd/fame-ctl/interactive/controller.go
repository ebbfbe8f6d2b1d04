// Package interactive provides the interactive command-line interface
// for fame-ctl.
package interactive

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/fameblinds/fame-go/pkg/authstore"
	"github.com/fameblinds/fame-go/pkg/ble"
	"github.com/fameblinds/fame-go/pkg/deviceapi"
	"github.com/fameblinds/fame-go/pkg/discovery"
	"github.com/fameblinds/fame-go/pkg/provisioning"
	"github.com/fameblinds/fame-go/pkg/registry"
)

// App bundles the wired components the interactive shell operates on.
// Scanner, Conn, WifiScan and Flow are nil when no BLE adapter is
// available; the shell degrades to network-only commands.
type App struct {
	Registry  *registry.Registry
	Scanner   *ble.Scanner
	Conn      *ble.Conn
	WifiScan  *ble.WifiScan
	Flow      *provisioning.Flow
	Discovery *discovery.Manager
	API       *deviceapi.Client
	Auth      *authstore.Store
}

// Controller handles interactive mode for fame-ctl.
type Controller struct {
	app App
	rl  *readline.Instance
}

// New creates a new interactive controller handler.
func New(app App) (*Controller, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "fame> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	return &Controller{app: app, rl: rl}, nil
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (c *Controller) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Stderr returns a writer that properly coordinates with the readline input.
func (c *Controller) Stderr() io.Writer {
	return c.rl.Stderr()
}

// Run starts the interactive command loop.
func (c *Controller) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "devices", "list", "ls":
			c.cmdDevices()

		case "scan":
			c.cmdScan(ctx, args)

		case "refresh":
			c.cmdRefresh()

		case "add":
			c.cmdAdd(ctx, args)

		case "info":
			c.cmdInfo(ctx, args)

		case "provision", "setup":
			c.cmdProvision(ctx, args)

		case "networks":
			c.cmdNetworks(ctx)

		case "rename":
			c.cmdRename(ctx, args)

		case "restart":
			c.cmdRestart(ctx, args)

		case "password":
			c.cmdPassword(ctx, args)

		case "forget":
			c.cmdForget(args)

		case "update":
			c.cmdUpdate(ctx, args)

		case "remove", "rm":
			c.cmdRemove(args)

		case "clear":
			c.cmdClear()

		case "quit", "exit", "q":
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(c.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (c *Controller) printHelp() {
	fmt.Fprintln(c.rl.Stdout(), `
FAME Blind Controller Commands:
  Discovery:
    devices                  - List known devices
    scan [fresh]             - Scan for devices over BLE
    refresh                  - Restart network discovery
    add <ip>                 - Add a device by IP address

  Setup:
    provision <device-id>    - Provision a device over BLE
    networks                 - List WiFi networks seen by the connected device

  Device Control:
    info <device-id>         - Show device details over HTTP
    rename <device-id> <name> - Rename a device
    restart <device-id>      - Restart a device
    password <device-id>     - Store the device password
    forget <device-id>       - Drop the stored device password
    update <device-id> <file> - Upload a firmware image

  General:
    remove <device-id>       - Remove a device from the list
    clear                    - Remove all devices from the list
    help                     - Show this help
    quit                     - Exit`)
}

// cmdDevices handles the devices/list command.
func (c *Controller) cmdDevices() {
	out := c.rl.Stdout()
	devices := c.app.Registry.List()
	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices known. Try 'scan' or 'refresh'.")
		return
	}

	fmt.Fprintf(out, "\nKnown devices (%d):\n", len(devices))
	fmt.Fprintf(out, "  %-10s %-24s %-16s %-8s %s\n", "ID", "NAME", "ADDRESS", "RSSI", "LAST SEEN")
	for _, d := range devices {
		addr := d.IPAddress
		if addr == "" {
			addr = "(ble only)"
		}
		rssi := "-"
		if d.RSSI != 0 {
			rssi = fmt.Sprintf("%d dBm", d.RSSI)
		}
		fmt.Fprintf(out, "  %-10s %-24s %-16s %-8s %s\n",
			d.DeviceID, d.DisplayName, addr, rssi, d.LastSeen.Format("15:04:05"))
	}
}

// cmdScan handles the scan command. The scan blocks the shell for its
// whole window so results print once, when the sweep is done.
func (c *Controller) cmdScan(ctx context.Context, args []string) {
	out := c.rl.Stdout()
	if c.app.Scanner == nil {
		fmt.Fprintln(out, "BLE is not available on this machine.")
		return
	}

	fresh := len(args) > 0 && strings.EqualFold(args[0], "fresh")
	fmt.Fprintf(out, "Scanning for devices (%s)...\n", ble.ScanTimeout)

	var err error
	if fresh {
		err = c.app.Scanner.FreshScan(ctx)
	} else {
		err = c.app.Scanner.Scan(ctx)
	}
	if err != nil {
		fmt.Fprintf(out, "Scan failed: %v\n", err)
		return
	}
	c.cmdDevices()
}

// cmdRefresh handles the refresh command.
func (c *Controller) cmdRefresh() {
	out := c.rl.Stdout()
	if err := c.app.Discovery.Refresh(); err != nil {
		fmt.Fprintf(out, "Refresh failed: %v\n", err)
		return
	}
	fmt.Fprintln(out, "Network discovery restarted")
}

// cmdAdd handles the add command.
func (c *Controller) cmdAdd(ctx context.Context, args []string) {
	out := c.rl.Stdout()
	if len(args) < 1 {
		fmt.Fprintln(out, "Usage: add <ip>")
		return
	}

	info, err := c.app.Discovery.AddManual(ctx, args[0])
	if err != nil {
		fmt.Fprintf(out, "Could not add %s: %v\n", args[0], err)
		return
	}
	fmt.Fprintf(out, "Added %s (%s) at %s\n", info.Name, info.DeviceID, args[0])
}

// cmdInfo handles the info command.
func (c *Controller) cmdInfo(ctx context.Context, args []string) {
	out := c.rl.Stdout()
	if len(args) < 1 {
		fmt.Fprintln(out, "Usage: info <device-id>")
		return
	}
	rec, ok := c.resolveDevice(args[0])
	if !ok {
		return
	}
	if rec.IPAddress == "" {
		fmt.Fprintf(out, "%s has no IP address yet; provision it first\n", rec.DisplayName)
		return
	}

	info, err := c.app.API.Info(ctx, rec.IPAddress)
	if err != nil {
		fmt.Fprintf(out, "Request failed: %v\n", err)
		return
	}

	fmt.Fprintf(out, "\nDevice: %s\n", info.Name)
	fmt.Fprintf(out, "  ID: %s\n", info.DeviceID)
	fmt.Fprintf(out, "  Hostname: %s\n", info.Hostname)
	fmt.Fprintf(out, "  Version: %s\n", info.Version)
	fmt.Fprintf(out, "  MAC: %s\n", info.MAC)
	fmt.Fprintf(out, "  WiFi SSID: %s\n", info.WifiSSID)
	fmt.Fprintf(out, "  Orientation: %s\n", info.Orientation)
	if info.PasswordRequired {
		stored := "no"
		if c.app.Auth != nil && c.app.Auth.Has(info.DeviceID) {
			stored = "yes"
		}
		fmt.Fprintf(out, "  Password required: yes (stored: %s)\n", stored)
	}
}

// cmdRename handles the rename command.
func (c *Controller) cmdRename(ctx context.Context, args []string) {
	out := c.rl.Stdout()
	if len(args) < 2 {
		fmt.Fprintln(out, "Usage: rename <device-id> <name>")
		return
	}
	rec, ok := c.resolveDevice(args[0])
	if !ok {
		return
	}
	if rec.IPAddress == "" {
		fmt.Fprintf(out, "%s is not reachable over the network\n", rec.DisplayName)
		return
	}

	name := strings.Join(args[1:], " ")
	if err := c.app.API.SetName(ctx, rec.IPAddress, rec.DeviceID, name); err != nil {
		fmt.Fprintf(out, "Rename failed: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Renamed to %s; the device restarts to apply it\n", name)
}

// cmdRestart handles the restart command.
func (c *Controller) cmdRestart(ctx context.Context, args []string) {
	out := c.rl.Stdout()
	if len(args) < 1 {
		fmt.Fprintln(out, "Usage: restart <device-id>")
		return
	}
	rec, ok := c.resolveDevice(args[0])
	if !ok {
		return
	}
	if rec.IPAddress == "" {
		fmt.Fprintf(out, "%s is not reachable over the network\n", rec.DisplayName)
		return
	}

	if err := c.app.API.Restart(ctx, rec.IPAddress, rec.DeviceID); err != nil {
		fmt.Fprintf(out, "Restart failed: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Restarting %s\n", rec.DisplayName)
}

// cmdPassword handles the password command. The password is verified
// against the device when it is reachable.
func (c *Controller) cmdPassword(ctx context.Context, args []string) {
	out := c.rl.Stdout()
	if len(args) < 1 {
		fmt.Fprintln(out, "Usage: password <device-id>")
		return
	}
	if c.app.Auth == nil {
		fmt.Fprintln(out, "Password storage is not configured")
		return
	}
	rec, ok := c.resolveDevice(args[0])
	if !ok {
		return
	}

	pw, err := c.rl.ReadPassword("Device password: ")
	if err != nil {
		return
	}
	if err := c.app.Auth.Authenticate(rec.DeviceID, string(pw), 0); err != nil {
		fmt.Fprintf(out, "Could not store password: %v\n", err)
		return
	}

	if rec.IPAddress != "" {
		if _, err := c.app.API.Info(ctx, rec.IPAddress); err != nil {
			fmt.Fprintf(out, "Stored, but the device rejected it: %v\n", err)
			return
		}
	}
	fmt.Fprintf(out, "Password stored for %s\n", rec.DeviceID)
}

// cmdForget handles the forget command.
func (c *Controller) cmdForget(args []string) {
	out := c.rl.Stdout()
	if len(args) < 1 {
		fmt.Fprintln(out, "Usage: forget <device-id>")
		return
	}
	if c.app.Auth == nil {
		fmt.Fprintln(out, "Password storage is not configured")
		return
	}
	rec, ok := c.resolveDevice(args[0])
	if !ok {
		return
	}

	if err := c.app.Auth.Remove(rec.DeviceID); err != nil {
		fmt.Fprintf(out, "Nothing stored for %s\n", rec.DeviceID)
		return
	}
	fmt.Fprintf(out, "Dropped the stored password for %s\n", rec.DeviceID)
}

// cmdUpdate handles the update command.
func (c *Controller) cmdUpdate(ctx context.Context, args []string) {
	out := c.rl.Stdout()
	if len(args) < 2 {
		fmt.Fprintln(out, "Usage: update <device-id> <firmware-file>")
		return
	}
	rec, ok := c.resolveDevice(args[0])
	if !ok {
		return
	}
	if rec.IPAddress == "" {
		fmt.Fprintf(out, "%s is not reachable over the network\n", rec.DisplayName)
		return
	}

	f, err := os.Open(args[1])
	if err != nil {
		fmt.Fprintf(out, "Could not open firmware: %v\n", err)
		return
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		fmt.Fprintf(out, "Could not stat firmware: %v\n", err)
		return
	}

	fmt.Fprintf(out, "Uploading %d bytes to %s...\n", st.Size(), rec.DisplayName)
	start := time.Now()
	if err := c.app.API.UploadFirmware(ctx, rec.IPAddress, rec.DeviceID, f, st.Size()); err != nil {
		fmt.Fprintf(out, "Upload failed: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Upload complete in %s; the device is rebooting\n", time.Since(start).Round(time.Second))
}

// cmdRemove handles the remove command.
func (c *Controller) cmdRemove(args []string) {
	out := c.rl.Stdout()
	if len(args) < 1 {
		fmt.Fprintln(out, "Usage: remove <device-id>")
		return
	}
	rec, ok := c.resolveDevice(args[0])
	if !ok {
		return
	}

	c.app.Registry.Remove(rec.DeviceID)
	if c.app.Auth != nil {
		_ = c.app.Auth.Remove(rec.DeviceID)
	}
	fmt.Fprintf(out, "Removed %s\n", rec.DisplayName)
}

// cmdClear handles the clear command.
func (c *Controller) cmdClear() {
	c.app.Registry.Clear()
	fmt.Fprintln(c.rl.Stdout(), "Device list cleared")
}

// resolveDevice looks a device up by exact ID first, then by substring
// match on ID and display name. Ambiguous matches are rejected.
func (c *Controller) resolveDevice(partial string) (registry.DeviceRecord, bool) {
	out := c.rl.Stdout()

	matches := matchDevices(c.app.Registry, partial)
	switch len(matches) {
	case 1:
		return matches[0], true
	case 0:
		fmt.Fprintf(out, "Device not found: %s\n", partial)
	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.DeviceID
		}
		fmt.Fprintf(out, "Ambiguous device %q: matches %s\n", partial, strings.Join(ids, ", "))
	}
	return registry.DeviceRecord{}, false
}

// matchDevices returns the records matching a partial identifier. An
// exact device ID wins outright; otherwise the partial is matched as a
// case-insensitive substring of the ID and the display name.
func matchDevices(reg *registry.Registry, partial string) []registry.DeviceRecord {
	if rec, ok := reg.Get(partial); ok {
		return []registry.DeviceRecord{rec}
	}

	needle := strings.ToLower(partial)
	var matches []registry.DeviceRecord
	for _, d := range reg.List() {
		if strings.Contains(d.DeviceID, needle) || strings.Contains(strings.ToLower(d.DisplayName), needle) {
			matches = append(matches, d)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].DeviceID < matches[j].DeviceID })
	return matches
}

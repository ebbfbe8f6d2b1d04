// fame-ctl is the operator console for FAMEBlinds controllers: it
// discovers devices over mDNS and BLE, provisions new devices onto the
// WiFi network, and drives the device HTTP API for day-to-day control.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/fameblinds/fame-go/cmd/fame-ctl/interactive"
	"github.com/fameblinds/fame-go/pkg/authstore"
	"github.com/fameblinds/fame-go/pkg/ble"
	"github.com/fameblinds/fame-go/pkg/ble/gatt"
	"github.com/fameblinds/fame-go/pkg/deviceapi"
	"github.com/fameblinds/fame-go/pkg/discovery"
	"github.com/fameblinds/fame-go/pkg/log"
	"github.com/fameblinds/fame-go/pkg/provisioning"
	"github.com/fameblinds/fame-go/pkg/registry"
)

// defaultAuthSecret seals the password store when the operator has not
// set one. It guards against casual reads of the state file, not
// against an attacker with the config file.
const defaultAuthSecret = "fame-ctl-local"

// Config holds the fame-ctl configuration, merged from the config file
// and command-line flags. Flags win.
type Config struct {
	ConfigFile string `yaml:"-"`
	Interface  string `yaml:"interface"`
	LogLevel   string `yaml:"log_level"`
	StateDir   string `yaml:"state_dir"`
	EventLog   string `yaml:"event_log"`
	AuthSecret string `yaml:"auth_secret"`
}

var config Config

func init() {
	flag.StringVar(&config.ConfigFile, "config", "", "Configuration file path (default ~/.fame-ctl.yaml)")
	flag.StringVar(&config.Interface, "iface", "", "Network interface for mDNS discovery")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&config.StateDir, "state-dir", "", "Directory for persistent state (default ~/.fame-ctl)")
	flag.StringVar(&config.EventLog, "event-log", "", "Append structured events to this file")
}

func main() {
	flag.Parse()

	if err := loadConfigFile(&config); err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	if config.StateDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			config.StateDir = filepath.Join(home, ".fame-ctl")
		} else {
			config.StateDir = ".fame-ctl"
		}
	}
	if config.AuthSecret == "" {
		config.AuthSecret = defaultAuthSecret
	}

	// Log output moves behind the readline prompt once the shell is up.
	logOut := &switchableWriter{w: os.Stderr}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{
		Level: parseLevel(config.LogLevel),
	}))

	var events log.Logger
	if config.EventLog != "" {
		fl, err := log.NewFileLogger(config.EventLog)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Cannot open event log: %v\n", err)
			os.Exit(1)
		}
		defer fl.Close()
		// At debug level the event stream also shows on the console.
		events = log.NewMultiLogger(fl, log.NewSlogAdapter(logger))
	}

	reg := registry.NewWithConfig(registry.Config{Logger: logger})

	auth, err := authstore.NewStore(filepath.Join(config.StateDir, "auth.json"), []byte(config.AuthSecret))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot open password store: %v\n", err)
		os.Exit(1)
	}

	api := deviceapi.NewClientWithConfig(deviceapi.Config{
		Passwords: auth,
		Logger:    logger,
	})

	mgr := discovery.NewManagerWithConfig(reg, api, discovery.ManagerConfig{
		Browser: discovery.NewMDNSBrowser(discovery.BrowserConfig{Interface: config.Interface}),
		Logger:  logger,
		Events:  events,
	})

	app := interactive.App{
		Registry:  reg,
		Discovery: mgr,
		API:       api,
		Auth:      auth,
	}

	// BLE is optional: without an adapter the console still does
	// network discovery and HTTP control.
	transport, err := gatt.NewTransport()
	if err != nil {
		logger.Warn("BLE adapter unavailable, provisioning disabled", "err", err)
	} else {
		defer transport.Close()
		conn := ble.NewConn(transport, ble.ConnConfig{Logger: logger, Events: events})
		app.Scanner = ble.NewScanner(transport, reg, ble.ScannerConfig{Logger: logger, Events: events})
		app.Conn = conn
		app.WifiScan = ble.NewWifiScan(conn, logger)
		app.Flow = provisioning.NewFlow(reg, conn, provisioning.Config{
			Auth:      auth,
			Discovery: mgr,
			Logger:    logger,
			Events:    events,
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mgr.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Cannot start discovery: %v\n", err)
		os.Exit(1)
	}
	defer mgr.Stop()

	ic, err := interactive.New(app)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot start console: %v\n", err)
		os.Exit(1)
	}
	logOut.SetOutput(ic.Stderr())
	go ic.Run(ctx, cancel)

	// Wait for shutdown signal or console exit
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig.String())
	case <-ctx.Done():
	}

	if app.Flow != nil {
		_ = app.Flow.Cancel()
	}
}

// loadConfigFile merges the YAML config file into cfg for fields not
// set on the command line. A missing default file is fine; a missing
// explicit -config is an error.
func loadConfigFile(cfg *Config) error {
	path := cfg.ConfigFile
	explicit := path != ""
	if !explicit {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		path = filepath.Join(home, ".fame-ctl.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return err
	}

	var fc Config
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if !set["iface"] && fc.Interface != "" {
		cfg.Interface = fc.Interface
	}
	if !set["log-level"] && fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	if !set["state-dir"] && fc.StateDir != "" {
		cfg.StateDir = fc.StateDir
	}
	if !set["event-log"] && fc.EventLog != "" {
		cfg.EventLog = fc.EventLog
	}
	if fc.AuthSecret != "" {
		cfg.AuthSecret = fc.AuthSecret
	}
	return nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// switchableWriter lets the log destination move to the readline-aware
// writer after the console starts, mirroring log.SetOutput for slog.
type switchableWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *switchableWriter) SetOutput(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w = w
}

func (s *switchableWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

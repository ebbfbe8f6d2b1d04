package deviceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ProductName is the identity every genuine controller reports in the
// "device" field of /info. Anything else on the LAN that happens to run
// an HTTP server fails verification on this field.
const ProductName = "FAMEBlinds"

// PasswordHeader carries the device password on authenticated requests.
const PasswordHeader = "X-Device-Password"

// DefaultTimeout bounds a single HTTP request to a device.
const DefaultTimeout = 5 * time.Second

// OTAChunkSize is the firmware upload chunk size. Kept well under the
// controller's request body limit.
const OTAChunkSize = 4096

var (
	// ErrUnauthorized is returned when the device rejects the password.
	ErrUnauthorized = errors.New("device rejected password")

	// ErrWrongProduct is returned when /info identifies something other
	// than a blind controller.
	ErrWrongProduct = errors.New("not a blind controller")
)

// Info is the identity document served at /info.
type Info struct {
	Device           string `json:"device"`
	Version          string `json:"version"`
	MAC              string `json:"mac"`
	DeviceID         string `json:"deviceId"`
	Hostname         string `json:"hostname"`
	Name             string `json:"name,omitempty"`
	Orientation      string `json:"orientation,omitempty"`
	Speed            int    `json:"speed,omitempty"`
	WifiSSID         string `json:"wifiSsid,omitempty"`
	MQTTBroker       string `json:"mqttBroker,omitempty"`
	MQTTPort         int    `json:"mqttPort,omitempty"`
	MQTTUser         string `json:"mqttUser,omitempty"`
	PasswordRequired bool   `json:"passwordRequired,omitempty"`
}

// IsBlindController reports whether the document identifies a genuine
// controller.
func (i *Info) IsBlindController() bool {
	return i.Device == ProductName
}

// OTAStatus is the firmware upload progress document served at /ota/status.
type OTAStatus struct {
	InProgress bool `json:"inProgress"`
	Received   int  `json:"received"`
	Total      int  `json:"total"`
}

// PasswordSource resolves the stored password for a device, if any.
type PasswordSource interface {
	Password(deviceID string) (string, bool)
}

// Config configures a Client. The zero value is usable.
type Config struct {
	// Timeout bounds each request. Defaults to DefaultTimeout.
	Timeout time.Duration

	// Passwords supplies device passwords for authenticated requests.
	// May be nil when no devices use passwords.
	Passwords PasswordSource

	// Logger receives operational logging. Defaults to a discard logger.
	Logger *slog.Logger
}

// Client issues requests to device HTTP servers. Devices are addressed
// by IP per call; one Client serves the whole fleet.
type Client struct {
	http      *http.Client
	passwords PasswordSource
	logger    *slog.Logger
}

// NewClient creates a Client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(Config{})
}

// NewClientWithConfig creates a Client.
func NewClientWithConfig(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		http:      &http.Client{Timeout: cfg.Timeout},
		passwords: cfg.Passwords,
		logger:    logger,
	}
}

// Info fetches and decodes the device's identity document. The device
// field is not verified here; callers that need verification check
// IsBlindController on the result.
func (c *Client) Info(ctx context.Context, ip string) (*Info, error) {
	body, err := c.do(ctx, http.MethodGet, ip, "", "/info", nil, nil)
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode /info from %s: %w", ip, err)
	}
	return &info, nil
}

// VerifiedInfo fetches /info and rejects anything that does not identify
// as a blind controller.
func (c *Client) VerifiedInfo(ctx context.Context, ip string) (*Info, error) {
	info, err := c.Info(ctx, ip)
	if err != nil {
		return nil, err
	}
	if !info.IsBlindController() {
		return nil, fmt.Errorf("%s reports device %q: %w", ip, info.Device, ErrWrongProduct)
	}
	return info, nil
}

// SetWiFi pushes new WiFi credentials. The device drops off the network
// and rejoins; the caller should expect it to disappear briefly.
func (c *Client) SetWiFi(ctx context.Context, ip, deviceID, ssid, password string) error {
	q := url.Values{"ssid": {ssid}, "password": {password}}
	_, err := c.do(ctx, http.MethodPost, ip, deviceID, "/wifi", q, nil)
	return err
}

// SetName renames the device. The device re-announces itself under the
// new name on the next mDNS cycle.
func (c *Client) SetName(ctx context.Context, ip, deviceID, name string) error {
	q := url.Values{"name": {name}}
	_, err := c.do(ctx, http.MethodPost, ip, deviceID, "/name", q, nil)
	return err
}

// Restart reboots the device.
func (c *Client) Restart(ctx context.Context, ip, deviceID string) error {
	_, err := c.do(ctx, http.MethodPost, ip, deviceID, "/restart", nil, nil)
	return err
}

// FactoryReset wipes the device's configuration. It reboots into BLE
// provisioning mode afterwards.
func (c *Client) FactoryReset(ctx context.Context, ip, deviceID string) error {
	_, err := c.do(ctx, http.MethodPost, ip, deviceID, "/factory-reset", nil, nil)
	return err
}

// OTABegin starts a firmware upload of size bytes.
func (c *Client) OTABegin(ctx context.Context, ip, deviceID string, size int64) error {
	q := url.Values{"size": {strconv.FormatInt(size, 10)}}
	_, err := c.do(ctx, http.MethodPost, ip, deviceID, "/ota/begin", q, nil)
	return err
}

// OTAChunk uploads one chunk of firmware.
func (c *Client) OTAChunk(ctx context.Context, ip, deviceID string, data []byte) error {
	_, err := c.do(ctx, http.MethodPost, ip, deviceID, "/ota/chunk", nil, data)
	return err
}

// OTAEnd finalizes the upload. The device verifies the image and reboots
// into it.
func (c *Client) OTAEnd(ctx context.Context, ip, deviceID string) error {
	_, err := c.do(ctx, http.MethodPost, ip, deviceID, "/ota/end", nil, nil)
	return err
}

// OTAAbort discards a partial upload.
func (c *Client) OTAAbort(ctx context.Context, ip, deviceID string) error {
	_, err := c.do(ctx, http.MethodPost, ip, deviceID, "/ota/abort", nil, nil)
	return err
}

// OTAStatus reports upload progress.
func (c *Client) OTAStatus(ctx context.Context, ip string) (*OTAStatus, error) {
	body, err := c.do(ctx, http.MethodGet, ip, "", "/ota/status", nil, nil)
	if err != nil {
		return nil, err
	}
	var st OTAStatus
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("decode /ota/status from %s: %w", ip, err)
	}
	return &st, nil
}

// UploadFirmware streams a firmware image in OTAChunkSize pieces. On any
// failure the partial upload is aborted before the error is returned.
func (c *Client) UploadFirmware(ctx context.Context, ip, deviceID string, image io.Reader, size int64) error {
	if err := c.OTABegin(ctx, ip, deviceID, size); err != nil {
		return fmt.Errorf("begin upload: %w", err)
	}

	buf := make([]byte, OTAChunkSize)
	var sent int64
	for {
		n, err := image.Read(buf)
		if n > 0 {
			if cerr := c.OTAChunk(ctx, ip, deviceID, buf[:n]); cerr != nil {
				c.abort(ip, deviceID)
				return fmt.Errorf("upload chunk at %d: %w", sent, cerr)
			}
			sent += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			c.abort(ip, deviceID)
			return fmt.Errorf("read image at %d: %w", sent, err)
		}
	}

	if sent != size {
		c.abort(ip, deviceID)
		return fmt.Errorf("image size mismatch: declared %d, read %d", size, sent)
	}
	if err := c.OTAEnd(ctx, ip, deviceID); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}
	c.logger.Info("Firmware uploaded", "ip", ip, "deviceId", deviceID, "bytes", sent)
	return nil
}

func (c *Client) abort(ip, deviceID string) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()
	if err := c.OTAAbort(ctx, ip, deviceID); err != nil {
		c.logger.Warn("Failed to abort firmware upload", "ip", ip, "error", err)
	}
}

// do issues one request and returns the response body. deviceID may be
// empty for unauthenticated endpoints.
func (c *Client) do(ctx context.Context, method, ip, deviceID, path string, query url.Values, body []byte) ([]byte, error) {
	u := url.URL{Scheme: "http", Host: ip, Path: path}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	if deviceID != "" && c.passwords != nil {
		if pw, ok := c.passwords.Password(deviceID); ok {
			req.Header.Set(PasswordHeader, pw)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s%s: %w", method, ip, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response from %s%s: %w", ip, path, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%s%s: %w", ip, path, ErrUnauthorized)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%s%s: device returned %d", ip, path, resp.StatusCode)
	}
	return data, nil
}

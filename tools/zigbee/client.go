// Package zigbee provides the device tools of the zigbee persona. Devices
// are reached through a Zigbee2MQTT style REST bridge.
package zigbee

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Aidanwa/smart-home/logging"
	"github.com/tidwall/gjson"
)

const (
	DefaultBaseURL = "http://localhost:8000"
	DefaultTimeout = 5 * time.Second
)

// APIError reports a non-200 answer of the bridge.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API returned %d - %s", e.Status, e.Body)
}

// ClientOptions configure a Client.
type ClientOptions struct {
	BaseURL    string
	APIKey     string // sent as X-API-Key when set
	HTTPClient *http.Client
	Timeout    time.Duration // per request
	Logger     logging.Logger
}

// Client talks to the device bridge.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	timeout time.Duration
	logger  logging.Logger
}

// NewClient creates a bridge client.
func NewClient(optFns ...func(o *ClientOptions)) *Client {
	opts := ClientOptions{
		BaseURL:    DefaultBaseURL,
		HTTPClient: http.DefaultClient,
		Timeout:    DefaultTimeout,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		http:    opts.HTTPClient,
		timeout: opts.Timeout,
		logger:  opts.Logger,
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("request failed - %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed - %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("request failed - %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("zigbee.api.status", "method", method, "path", path, "status", resp.StatusCode)
		return nil, &APIError{Status: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

func devicePath(name string) string {
	return "/api/devices/" + url.PathEscape(name)
}

// Device returns the current state document of one device.
func (c *Client) Device(ctx context.Context, name string) (gjson.Result, error) {
	data, err := c.do(ctx, http.MethodGet, devicePath(name), nil)
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("invalid JSON response from API")
	}
	return gjson.ParseBytes(data), nil
}

// SetDevice applies payload to one device.
func (c *Client) SetDevice(ctx context.Context, name string, payload map[string]any) error {
	_, err := c.do(ctx, http.MethodPost, devicePath(name)+"/set", payload)
	return err
}

// DeviceInfo is one entry of the device list.
type DeviceInfo struct {
	FriendlyName string
	Description  string
}

// Devices lists the devices known to the bridge.
func (c *Client) Devices(ctx context.Context) ([]DeviceInfo, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/devices", nil)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid JSON response from API")
	}

	var out []DeviceInfo
	gjson.GetBytes(data, "devices").ForEach(func(_, d gjson.Result) bool {
		info := DeviceInfo{FriendlyName: "Unknown", Description: "No description"}
		if n := d.Get("friendly_name"); n.Exists() {
			info.FriendlyName = n.String()
		}
		if desc := d.Get("definition.description"); desc.Exists() && desc.String() != "" {
			info.Description = desc.String()
		}
		out = append(out, info)
		return true
	})
	return out, nil
}

// Summary renders the device list for a system prompt.
func (c *Client) Summary(ctx context.Context) (string, error) {
	devices, err := c.Devices(ctx)
	if err != nil {
		return "", err
	}
	if len(devices) == 0 {
		return "No Zigbee devices are currently connected.", nil
	}

	lines := []string{"Available Zigbee Devices:"}
	for _, d := range devices {
		lines = append(lines, fmt.Sprintf("- %s (%s)", d.FriendlyName, d.Description))
	}
	return strings.Join(lines, "\n"), nil
}

// Temperature reads a thermostat and renders its temperature with unit,
// e.g. "71.6°F".
func (c *Client) Temperature(ctx context.Context, name string) (string, error) {
	state, err := c.Device(ctx, name)
	if err != nil {
		return "", err
	}
	t := state.Get("temperature")
	if !t.Exists() || t.Type == gjson.Null {
		return "", fmt.Errorf("device %s reports no temperature", name)
	}
	return formatTemperature(t.Float(), state.Get("temperature_units").String()), nil
}

// formatTemperature converts the bridge's Celsius reading into the unit the
// device is configured for. Fahrenheit is the default.
func formatTemperature(celsius float64, units string) string {
	if units == "" || units == "fahrenheit" {
		return fmt.Sprintf("%.1f°F", celsius*9/5+32)
	}
	return fmt.Sprintf("%.1f°C", celsius)
}

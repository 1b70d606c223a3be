package zigbee

import (
	"context"
	"fmt"
	"strings"

	"github.com/Aidanwa/smart-home/tool"
	"github.com/tidwall/gjson"
)

const (
	GetDevicesName = "get_zigbee_devices"
	SetDevicesName = "set_zigbee_devices"
)

// ToolOptions configure the device tools.
type ToolOptions struct {
	FanOutLimit int // concurrent bridge requests per call
}

func toolOptions(optFns []func(o *ToolOptions)) ToolOptions {
	opts := ToolOptions{FanOutLimit: tool.DefaultFanOutLimit}
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}

// Tools returns both device tools bound to c.
func Tools(c *Client, optFns ...func(o *ToolOptions)) []tool.Tool {
	return []tool.Tool{NewGetDevicesTool(c, optFns...), NewSetDevicesTool(c, optFns...)}
}

var deviceNamesParam = map[string]any{
	"type":  "array",
	"items": map[string]any{"type": "string"},
	"description": "Array of device friendly names. For a single device, still use an array " +
		"format: ['DeviceName'].",
}

// NewGetDevicesTool reports the current state of one or more devices.
func NewGetDevicesTool(c *Client, optFns ...func(o *ToolOptions)) tool.Tool {
	opts := toolOptions(optFns)
	params := map[string]any{
		"type":       "object",
		"properties": map[string]any{"device_names": deviceNamesParam},
		"required":   []any{"device_names"},
	}
	description := "Get detailed current state information for one or more Zigbee devices. " +
		"Use this to check the current status of devices if necessary. Don't use unless you need to. " +
		"Primarily for debugging or verification purposes, or answering questions."

	return tool.NewFunctionTool(GetDevicesName, description, params, func(tc *tool.Context, args map[string]any) (any, error) {
		names := deviceNames(args["device_names"])
		results := tool.FanOut(tc.Context(), names, opts.FanOutLimit, func(ctx context.Context, name string) (gjson.Result, error) {
			return c.Device(ctx, name)
		})

		var ok, failed []string
		for _, r := range results {
			if r.Err != nil {
				failed = append(failed, fmt.Sprintf("%s: %v", r.Target, r.Err))
				continue
			}
			ok = append(ok, FormatState(r.Target, r.Value))
		}
		tc.Logger().Debug("zigbee.get", "devices", len(names), "errors", len(failed))

		var summary []string
		if len(ok) > 0 {
			summary = append(summary, fmt.Sprintf("Retrieved state for %d device(s):\n", len(ok)))
			summary = append(summary, ok...)
		}
		return joinSummary(summary, failed, len(ok) > 0), nil
	})
}

// NewSetDevicesTool applies the same settings to one or more devices.
func NewSetDevicesTool(c *Client, optFns ...func(o *ToolOptions)) tool.Tool {
	opts := toolOptions(optFns)
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"device_names": deviceNamesParam,
			"state": map[string]any{
				"type":        "string",
				"enum":        []any{"ON", "OFF", "TOGGLE"},
				"description": "Power state: ON (turn on), OFF (turn off), or TOGGLE (switch between on/off). Optional.",
			},
			"brightness": map[string]any{
				"type":        "integer",
				"minimum":     0,
				"maximum":     254,
				"description": "Brightness level from 0 (minimum) to 254 (maximum). Optional.",
			},
			"color_temp": map[string]any{
				"type":    "integer",
				"minimum": 153,
				"maximum": 500,
				"description": "Color temperature in mireds. Lower values (153) are cooler/bluer, " +
					"higher values (500) are warmer/yellower. Optional.",
			},
		},
		"required": []any{"device_names"},
	}
	description := "Control Zigbee smart home devices by setting their state (ON/OFF/TOGGLE), " +
		"brightness level (0-254), and/or color temperature (153-500 mireds). " +
		"This tool accepts MULTIPLE devices in a SINGLE call via the device_names array parameter. " +
		"When controlling multiple devices with the same settings, pass ALL device names in one array; " +
		"do NOT call this tool multiple times."

	return tool.NewFunctionTool(SetDevicesName, description, params, func(tc *tool.Context, args map[string]any) (any, error) {
		payload := map[string]any{}
		var applied []string
		if s, ok := args["state"].(string); ok {
			payload["state"] = s
			if s != "" {
				applied = append(applied, "state="+s)
			}
		}
		for _, key := range []string{"brightness", "color_temp"} {
			if v, ok := args[key].(float64); ok {
				payload[key] = int(v)
				applied = append(applied, fmt.Sprintf("%s=%d", key, int(v)))
			}
		}
		if len(payload) == 0 {
			return "Error: No fields to update. Provide at least one of state, brightness, color_temp.", nil
		}

		names := deviceNames(args["device_names"])
		results := tool.FanOut(tc.Context(), names, opts.FanOutLimit, func(ctx context.Context, name string) (struct{}, error) {
			return struct{}{}, c.SetDevice(ctx, name, payload)
		})

		var ok, failed []string
		for _, r := range results {
			if r.Err != nil {
				failed = append(failed, fmt.Sprintf("%s: %v", r.Target, r.Err))
				continue
			}
			ok = append(ok, r.Target+": updated successfully")
		}
		tc.Logger().Info("zigbee.set", "devices", len(names), "errors", len(failed), "settings", strings.Join(applied, ","))

		var summary []string
		if len(ok) > 0 {
			summary = append(summary, fmt.Sprintf("Applied settings (%s) to %d device(s):", strings.Join(applied, ", "), len(ok)))
			summary = append(summary, ok...)
		}
		return joinSummary(summary, failed, len(ok) > 0), nil
	})
}

func joinSummary(summary, failed []string, anyOK bool) string {
	if len(failed) > 0 {
		if anyOK {
			summary = append(summary, "\nErrors:")
		}
		summary = append(summary, failed...)
	}
	return strings.Join(summary, "\n")
}

// deviceNames accepts an array of names or a single name.
func deviceNames(v any) []string {
	switch names := v.(type) {
	case string:
		return []string{names}
	case []string:
		return names
	case []any:
		out := make([]string, 0, len(names))
		for _, n := range names {
			if s, ok := n.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// FormatState renders a device state document as the two-line summary shown
// to the model.
func FormatState(name string, state gjson.Result) string {
	lines := []string{"• " + name + ":"}
	if !state.IsObject() {
		return lines[0]
	}

	present := func(key string) (gjson.Result, bool) {
		v := state.Get(key)
		return v, v.Exists() && v.Type != gjson.Null
	}

	var parts []string
	if v, ok := present("state"); ok {
		parts = append(parts, "state="+v.String())
	}
	if v, ok := present("brightness"); ok {
		parts = append(parts, fmt.Sprintf("brightness=%d%% (%s/254)", int(v.Float()/254*100), v.String()))
	}
	if v, ok := present("color_temp"); ok {
		parts = append(parts, fmt.Sprintf("color_temp=%s mireds", v.String()))
	}
	if v, ok := present("temperature"); ok {
		parts = append(parts, "temperature="+formatTemperature(v.Float(), state.Get("temperature_units").String()))
	}
	units := []struct{ key, label, suffix string }{
		{"humidity", "humidity", "%"},
		{"battery", "battery", "%"},
		{"power", "power", "W"},
		{"voltage", "voltage", "V"},
		{"current", "current", "A"},
		{"energy", "energy", "kWh"},
		{"linkquality", "signal", ""},
	}
	for _, u := range units {
		if v, ok := present(u.key); ok {
			parts = append(parts, u.label+"="+v.String()+u.suffix)
		}
	}

	if len(parts) == 0 {
		lines = append(lines, "  No state data available")
	} else {
		lines = append(lines, "  "+strings.Join(parts, ", "))
	}
	return strings.Join(lines, "\n")
}

package zigbee

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/Aidanwa/smart-home/tool"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type fakeBridge struct {
	mu      sync.Mutex
	states  map[string]map[string]any
	applied map[string]map[string]any
	keys    []string
}

func newFakeBridge(t *testing.T) (*fakeBridge, *Client) {
	t.Helper()
	b := &fakeBridge{
		states: map[string]map[string]any{
			"Lamp":       {"state": "ON", "brightness": 127, "color_temp": 370, "linkquality": 96},
			"Thermostat": {"temperature": 22, "humidity": 41.5, "battery": 88},
			"Plug":       {"state": "OFF", "power": 0, "voltage": 231, "current": 0.02, "energy": 1.4},
			"Sensor":     {"temperature": 19.5, "temperature_units": "celsius"},
			"Mystery":    {"unknown": true},
		},
		applied: map[string]map[string]any{},
	}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			b.mu.Lock()
			b.keys = append(b.keys, req.Header.Get("X-API-Key"))
			b.mu.Unlock()
			next.ServeHTTP(w, req)
		})
	})
	r.Get("/api/devices", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"devices":[
			{"friendly_name":"Lamp","definition":{"description":"Hue white ambiance bulb"}},
			{"friendly_name":"Plug","definition":null},
			{"definition":{"description":"Door sensor"}}
		]}`))
	})
	r.Get("/api/devices/{name}", func(w http.ResponseWriter, req *http.Request) {
		b.mu.Lock()
		state, ok := b.states[chi.URLParam(req, "name")]
		b.mu.Unlock()
		if !ok {
			http.Error(w, "device not found", http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(state)
	})
	r.Post("/api/devices/{name}/set", func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "name")
		if name == "Broken" {
			http.Error(w, "device offline", http.StatusBadGateway)
			return
		}
		var payload map[string]any
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b.mu.Lock()
		b.applied[name] = payload
		b.mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return b, NewClient(func(o *ClientOptions) {
		o.BaseURL = srv.URL + "/"
		o.APIKey = "secret"
		o.HTTPClient = srv.Client()
	})
}

func call(t *testing.T, tl tool.Tool, args map[string]any) string {
	t.Helper()
	out, err := tl.Call(tool.NewContext(context.Background(), "call_1", tool.AgentInfo{ID: "z", Type: "zigbee"}, nil), args)
	require.NoError(t, err)
	s, ok := out.(string)
	require.True(t, ok)
	return s
}

func TestGetDevices(t *testing.T) {
	b, c := newFakeBridge(t)
	get := NewGetDevicesTool(c)

	out := call(t, get, map[string]any{"device_names": []any{"Lamp", "Ghost", "Thermostat"}})
	assert.Equal(t, "Retrieved state for 2 device(s):\n\n"+
		"• Lamp:\n  state=ON, brightness=50% (127/254), color_temp=370 mireds, signal=96\n"+
		"• Thermostat:\n  temperature=71.6°F, humidity=41.5%, battery=88%\n"+
		"\nErrors:\n"+
		"Ghost: API returned 404 - device not found\n", out)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range b.keys {
		assert.Equal(t, "secret", k)
	}
}

func TestGetDevices_AllFail(t *testing.T) {
	_, c := newFakeBridge(t)
	out := call(t, NewGetDevicesTool(c), map[string]any{"device_names": []any{"A", "B"}})
	assert.Equal(t, "A: API returned 404 - device not found\n\nB: API returned 404 - device not found\n", out)
}

func TestGetDevices_Validation(t *testing.T) {
	_, c := newFakeBridge(t)
	ctx := tool.NewContext(context.Background(), "call_1", tool.AgentInfo{}, nil)
	_, err := NewGetDevicesTool(c).Call(ctx, map[string]any{})
	var toolErr *tool.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, tool.CodeValidation, toolErr.Code)
}

func TestSetDevices_FanOutWithFailure(t *testing.T) {
	b, c := newFakeBridge(t)
	set := NewSetDevicesTool(c, func(o *ToolOptions) { o.FanOutLimit = 2 })

	out := call(t, set, map[string]any{
		"device_names": []any{"Lamp", "Broken", "Plug"},
		"state":        "ON",
		"brightness":   200.0,
	})
	assert.Equal(t, "Applied settings (state=ON, brightness=200) to 2 device(s):\n"+
		"Lamp: updated successfully\n"+
		"Plug: updated successfully\n"+
		"\nErrors:\n"+
		"Broken: API returned 502 - device offline\n", out)

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Equal(t, map[string]any{"state": "ON", "brightness": 200.0}, b.applied["Lamp"])
	assert.Contains(t, b.applied, "Plug")
}

func TestSetDevices_NoFields(t *testing.T) {
	_, c := newFakeBridge(t)
	out := call(t, NewSetDevicesTool(c), map[string]any{"device_names": []any{"Lamp"}})
	assert.Equal(t, "Error: No fields to update. Provide at least one of state, brightness, color_temp.", out)
}

func TestSetDevices_RejectsOutOfRange(t *testing.T) {
	_, c := newFakeBridge(t)
	ctx := tool.NewContext(context.Background(), "call_1", tool.AgentInfo{}, nil)
	_, err := NewSetDevicesTool(c).Call(ctx, map[string]any{"device_names": []any{"Lamp"}, "color_temp": 20.0})
	assert.Error(t, err)
}

func TestFormatState(t *testing.T) {
	assert.Equal(t, "• Sensor:\n  temperature=19.5°C", FormatState("Sensor", gjson.Parse(`{"temperature":19.5,"temperature_units":"celsius"}`)))
	assert.Equal(t, "• Mystery:\n  No state data available", FormatState("Mystery", gjson.Parse(`{"unknown":true,"state":null}`)))
	assert.Equal(t, "• Plug:\n  state=OFF, power=0W, voltage=231V, current=0.02A, energy=1.4kWh",
		FormatState("Plug", gjson.Parse(`{"state":"OFF","power":0,"voltage":231,"current":0.02,"energy":1.4}`)))
}

func TestClient_SummaryAndTemperature(t *testing.T) {
	_, c := newFakeBridge(t)
	ctx := context.Background()

	summary, err := c.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Available Zigbee Devices:\n"+
		"- Lamp (Hue white ambiance bulb)\n"+
		"- Plug (No description)\n"+
		"- Unknown (Door sensor)", summary)

	temp, err := c.Temperature(ctx, "Thermostat")
	require.NoError(t, err)
	assert.Equal(t, "71.6°F", temp)

	_, err = c.Temperature(ctx, "Lamp")
	assert.Error(t, err)

	_, err = c.Temperature(ctx, "Ghost")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestDeviceNames(t *testing.T) {
	assert.Equal(t, []string{"Lamp"}, deviceNames("Lamp"))
	assert.Equal(t, []string{"a", "b"}, deviceNames([]any{"a", 3, "b"}))
	assert.Nil(t, deviceNames(nil))
}

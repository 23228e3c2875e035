package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yombo/yombo-gateway-sub004/pkg/api/types"
	"github.com/yombo/yombo-gateway-sub004/pkg/catalog"
	"github.com/yombo/yombo-gateway-sub004/pkg/clock"
	"github.com/yombo/yombo-gateway-sub004/pkg/device"
	"github.com/yombo/yombo-gateway-sub004/pkg/gateway"
	"github.com/yombo/yombo-gateway-sub004/pkg/metrics"
)

const apiCatalog = `
locations:
  - id: loc-home
    label: Home
device_types:
  - id: fan-type
    platform: fan
    commands: [on, off, set_speed]
    extra_fields: [speed]
    inputs:
      set_speed:
        type: object
        properties:
          speed: {type: integer, minimum: 0, maximum: 3}
        required: [speed]
  - id: switch-type
    platform: switch
    commands: [on, off]
devices:
  - id: fan
    device_type: fan-type
    location: loc-home
    label: Fan
    energy_type: electric
    energy_tracker_source: calculated
    energy_map: {"0": 0, "1": 90}
  - id: safe
    device_type: switch-type
    label: Safe
    pin_required: true
    pin_code: "4321"
`

type okDriver struct {
	mu   sync.Mutex
	sent int
}

func (d *okDriver) Execute(context.Context, *device.CommandRecord) error {
	d.mu.Lock()
	d.sent++
	d.mu.Unlock()
	return nil
}

type testServer struct {
	handler http.Handler
	clock   *clock.Fake
	gw      *gateway.Gateway
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cat, err := catalog.Parse([]byte(apiCatalog), "gw-test")
	require.NoError(t, err)

	fake := clock.NewFake(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	m := metrics.New()
	gw := gateway.New(gateway.Config{
		GatewayID: "gw-test",
		Clock:     fake,
		Catalog:   cat,
		Driver:    &okDriver{},
		Metrics:   m,
	})
	require.NoError(t, gw.LoadDevices(context.Background(), cat.Devices()))

	return &testServer{handler: NewRouter(gw, m).Handler(), clock: fake, gw: gw}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[types.HealthResponse](t, rec)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "gw-test", health.GatewayID)
	assert.Equal(t, 2, health.Devices)
}

func TestHealth_NoDriver(t *testing.T) {
	gw := gateway.New(gateway.Config{GatewayID: "gw"})
	rec := httptest.NewRecorder()
	NewRouter(gw, nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "disconnected", decode[types.HealthResponse](t, rec).Driver)
}

func TestDevices(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/devices", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[types.ListDevicesResponse](t, rec)
	require.Equal(t, 2, list.Count)
	assert.Equal(t, "fan", list.Devices[0].ID)
	assert.Equal(t, "fan", list.Devices[0].Platform)
	require.NotNil(t, list.Devices[0].State)
	assert.True(t, list.Devices[0].State.Fake)

	rec = s.do(t, http.MethodGet, "/api/v1/devices/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[types.ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPatch, "/api/v1/devices/fan", map[string]any{"enabled": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[types.DeviceResponse](t, rec).Device.Enabled)

	rec = s.do(t, http.MethodPatch, "/api/v1/devices/fan", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/v1/devices/safe", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodDelete, "/api/v1/devices/safe", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCommands_Lifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/devices/fan/commands", map[string]any{
		"command": "set_speed",
		"inputs":  map[string]any{"speed": 2},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	cmd := decode[types.CommandResponse](t, rec).Command
	assert.Equal(t, device.StatusSent, cmd.Status)

	rec = s.do(t, http.MethodPost, "/api/v1/commands/"+cmd.DeviceCommandID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_in_flight", decode[types.ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPost, "/api/v1/commands/"+cmd.DeviceCommandID+"/ack", map[string]any{"status": "done"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, device.StatusDone, decode[types.CommandResponse](t, rec).Command.Status)

	rec = s.do(t, http.MethodPost, "/api/v1/commands/"+cmd.DeviceCommandID+"/ack", map[string]any{"status": "received"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/commands/"+cmd.DeviceCommandID+"/ack", map[string]any{"status": "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/commands/"+cmd.DeviceCommandID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, device.StatusDone, decode[types.CommandResponse](t, rec).Command.Status)

	rec = s.do(t, http.MethodGet, "/api/v1/devices/fan/commands", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[types.CommandsResponse](t, rec).Count)
}

func TestCommands_Delayed(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/devices/fan/commands", map[string]any{
		"command":           "on",
		"delay_seconds":     5,
		"max_delay_seconds": 10,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	cmd := decode[types.CommandResponse](t, rec).Command
	assert.Equal(t, device.StatusDelayed, cmd.Status)
	require.NotNil(t, cmd.NotBeforeAt)
	assert.Equal(t, 5*time.Second, cmd.NotBeforeAt.Sub(cmd.CreatedAt))

	rec = s.do(t, http.MethodGet, "/api/v1/devices/fan/commands?filter=delayed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[types.CommandsResponse](t, rec).Count)

	rec = s.do(t, http.MethodGet, "/api/v1/devices/fan/commands?filter=weird", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/commands/"+cmd.DeviceCommandID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, device.StatusCancelled, decode[types.CommandResponse](t, rec).Command.Status)

	rec = s.do(t, http.MethodGet, "/api/v1/devices/fan/commands?filter=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[types.CommandsResponse](t, rec).Count)
}

func TestCommands_Errors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		body   map[string]any
		status int
		code   string
	}{
		{"missing command", "/api/v1/devices/fan/commands", map[string]any{}, http.StatusBadRequest, "invalid_request"},
		{"unknown command", "/api/v1/devices/fan/commands", map[string]any{"command": "dance"}, http.StatusBadRequest, "invalid_command"},
		{"bad inputs", "/api/v1/devices/fan/commands", map[string]any{"command": "set_speed", "inputs": map[string]any{"speed": 9}}, http.StatusBadRequest, "invalid_command"},
		{"bad window", "/api/v1/devices/fan/commands", map[string]any{"command": "on", "delay_seconds": -1}, http.StatusBadRequest, "invalid_schedule"},
		{"toggle without history", "/api/v1/devices/fan/commands", map[string]any{"command": "toggle"}, http.StatusBadRequest, "not_toggleable"},
		{"pin missing", "/api/v1/devices/safe/commands", map[string]any{"command": "on"}, http.StatusUnauthorized, "pin_required"},
		{"pin wrong", "/api/v1/devices/safe/commands", map[string]any{"command": "on", "pin": "0000"}, http.StatusForbidden, "pin_mismatch"},
		{"unknown device", "/api/v1/devices/ghost/commands", map[string]any{"command": "on"}, http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[types.ErrorResponse](t, rec).Error)
		})
	}

	rec := s.do(t, http.MethodPost, "/api/v1/devices/safe/commands", map[string]any{"command": "on", "pin": "4321"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCommands_IdempotencyHeader(t *testing.T) {
	s := newTestServer(t)

	send := func() *device.CommandRecord {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/fan/commands", strings.NewReader(`{"command":"on"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", "req-1")
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code)
		return decode[types.CommandResponse](t, rec).Command
	}
	first, second := send(), send()
	assert.Equal(t, first.DeviceCommandID, second.DeviceCommandID)
}

func TestState(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/devices/fan/state", map[string]any{
		"machine_state":       1,
		"machine_state_extra": map[string]any{"speed": 3, "color": "red"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[types.StateResponse](t, rec)
	assert.True(t, resp.Changed)
	assert.Equal(t, "High", resp.State.HumanState)
	assert.Equal(t, 90.0, resp.State.EnergyUsage)
	assert.NotContains(t, resp.State.MachineStateExtra, "color")

	// same state again is not recorded
	rec = s.do(t, http.MethodPost, "/api/v1/devices/fan/state", map[string]any{"machine_state": 1})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[types.StateResponse](t, rec).Changed)

	rec = s.do(t, http.MethodPost, "/api/v1/devices/fan/state", map[string]any{"human_state": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_machine_state", decode[types.ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPost, "/api/v1/devices/fan/state", map[string]any{"machine_state": 0, "delay_ms": 200})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	s.clock.Advance(200 * time.Millisecond)

	rec = s.do(t, http.MethodGet, "/api/v1/devices/fan/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.0, decode[types.StateResponse](t, rec).State.MachineState)

	rec = s.do(t, http.MethodGet, "/api/v1/devices/fan/states", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[types.StatesResponse](t, rec).Count)
}

func TestEnergyAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/devices/fan/state", map[string]any{
		"machine_state":       1,
		"machine_state_extra": map[string]any{"speed": 3},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	s.clock.Advance(time.Second)

	rec = s.do(t, http.MethodGet, "/api/v1/energy", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	energy := decode[types.EnergyResponse](t, rec)
	assert.Equal(t, 90.0, energy.Totals["Home"][device.EnergyElectric])

	rec = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `gateway_energy_usage{energy_type="electric",location="Home"} 90`)
	assert.Contains(t, body, `gateway_http_requests_total{route="/api/v1/energy",status="200"} 1`)
}

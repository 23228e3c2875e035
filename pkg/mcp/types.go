package mcp

import (
	"github.com/yombo/yombo-gateway-sub004/pkg/device"
	"github.com/yombo/yombo-gateway-sub004/pkg/energy"
)

// --- Health Tool ---

// GetHealthOutput is the output for the get_health tool
type GetHealthOutput struct {
	Status    string `json:"status" jsonschema:"description=Overall health status (healthy or degraded)"`
	Driver    string `json:"driver" jsonschema:"description=Device driver connection status"`
	GatewayID string `json:"gateway_id" jsonschema:"description=Id of this gateway"`
	Devices   int    `json:"devices" jsonschema:"description=Number of loaded devices"`
	Timestamp string `json:"timestamp" jsonschema:"description=ISO8601 timestamp"`
}

// --- Devices ---

// DeviceInfo represents a device in tool outputs
type DeviceInfo struct {
	ID        string             `json:"id" jsonschema:"description=Device id"`
	Label     string             `json:"label" jsonschema:"description=Label including area and location"`
	Platform  string             `json:"platform" jsonschema:"description=Device platform (light/switch/fan/...)"`
	GatewayID string             `json:"gateway_id" jsonschema:"description=Gateway that owns the device"`
	Enabled   bool               `json:"enabled" jsonschema:"description=Whether the device accepts commands"`
	State     *device.StateEntry `json:"state,omitempty" jsonschema:"description=Current device state"`
}

// ListDevicesOutput is the output for the list_devices tool
type ListDevicesOutput struct {
	Devices []DeviceInfo `json:"devices" jsonschema:"description=Loaded devices"`
	Count   int          `json:"count" jsonschema:"description=Total number of devices"`
}

// GetDeviceOutput is the output for the get_device tool
type GetDeviceOutput struct {
	Device DeviceInfo `json:"device" jsonschema:"description=Device information"`
}

// --- Commands ---

// CommandOutput is the output for send_command, cancel_command and get_command
type CommandOutput struct {
	Command *device.CommandRecord `json:"command" jsonschema:"description=Device command record"`
}

// --- State ---

// StateOutput is the output for get_state and set_state
type StateOutput struct {
	DeviceID string             `json:"device_id" jsonschema:"description=Device id"`
	State    *device.StateEntry `json:"state" jsonschema:"description=Device state"`
	Changed  bool               `json:"changed" jsonschema:"description=Whether a new state was recorded"`
}

// StateHistoryOutput is the output for the state_history tool
type StateHistoryOutput struct {
	DeviceID string               `json:"device_id" jsonschema:"description=Device id"`
	States   []*device.StateEntry `json:"states" jsonschema:"description=Recorded states, newest first"`
	Count    int                  `json:"count" jsonschema:"description=Number of states"`
}

// --- Energy ---

// EnergyOutput is the output for the energy_totals tool
type EnergyOutput struct {
	Totals energy.Totals `json:"totals" jsonschema:"description=Energy usage per location and energy type"`
}

// DeviceToInfo converts a device.Device to DeviceInfo
func DeviceToInfo(d *device.Device) DeviceInfo {
	attrs := d.Attributes()
	return DeviceInfo{
		ID:        attrs.DeviceID,
		Label:     d.FullLabel(),
		Platform:  d.Kind().Platform(),
		GatewayID: attrs.GatewayID,
		Enabled:   attrs.Enabled,
		State:     d.CurrentState(),
	}
}

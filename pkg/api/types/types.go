package types

import (
	"time"

	"github.com/yombo/yombo-gateway-sub004/pkg/device"
	"github.com/yombo/yombo-gateway-sub004/pkg/energy"
)

// --- Request DTOs ---

// UpdateDeviceRequest is the request body for PATCH /devices/:id
type UpdateDeviceRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SendCommandRequest is the request body for POST /devices/:id/commands.
// Give at most one of delay_seconds/not_before and one of
// max_delay_seconds/not_after.
type SendCommandRequest struct {
	Command         string         `json:"command" binding:"required"`
	Inputs          map[string]any `json:"inputs,omitempty"`
	Pin             string         `json:"pin,omitempty"`
	DelaySeconds    *float64       `json:"delay_seconds,omitempty"`
	NotBefore       *time.Time     `json:"not_before,omitempty"`
	MaxDelaySeconds *float64       `json:"max_delay_seconds,omitempty"`
	NotAfter        *time.Time     `json:"not_after,omitempty"`
	RequestedBy     string         `json:"requested_by,omitempty"`
	RequestedByType string         `json:"requested_by_type,omitempty"`
	RequestContext  string         `json:"request_context,omitempty"`
	ControlMethod   string         `json:"control_method,omitempty"`
	IdempotenceKey  string         `json:"idempotence_key,omitempty"`
}

// AcknowledgeRequest is the request body for POST /commands/:id/ack
type AcknowledgeRequest struct {
	Status  string `json:"status" binding:"required"`
	Message string `json:"message,omitempty"`
}

// SetStateRequest is the request body for POST /devices/:id/state.
// A positive delay_ms debounces the update instead of applying it now.
type SetStateRequest struct {
	MachineState      *float64       `json:"machine_state"`
	MachineStateExtra map[string]any `json:"machine_state_extra,omitempty"`
	HumanState        string         `json:"human_state,omitempty"`
	HumanMessage      string         `json:"human_message,omitempty"`
	DeviceCommandID   string         `json:"device_command_id,omitempty"`
	RequestedBy       string         `json:"requested_by,omitempty"`
	RequestedByType   string         `json:"requested_by_type,omitempty"`
	RequestContext    string         `json:"request_context,omitempty"`
	ReportingSource   string         `json:"reporting_source,omitempty"`
	Silent            bool           `json:"silent,omitempty"`
	DelayMS           int            `json:"delay_ms,omitempty"`
}

// --- Response DTOs ---

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned from GET /health
type HealthResponse struct {
	Status    string    `json:"status"`
	Driver    string    `json:"driver"`
	GatewayID string    `json:"gateway_id"`
	Devices   int       `json:"devices"`
	Timestamp time.Time `json:"timestamp"`
}

// DeviceView is the API rendering of a device and its current state
type DeviceView struct {
	ID             string             `json:"id"`
	DeviceTypeID   string             `json:"device_type_id"`
	GatewayID      string             `json:"gateway_id"`
	LocationID     string             `json:"location_id,omitempty"`
	AreaID         string             `json:"area_id,omitempty"`
	Label          string             `json:"label"`
	FullLabel      string             `json:"full_label"`
	Platform       string             `json:"platform"`
	Enabled        bool               `json:"enabled"`
	PinRequired    bool               `json:"pin_required"`
	Features       device.Features    `json:"features"`
	ToggleCommands []string           `json:"toggle_commands,omitempty"`
	EnergyType     device.EnergyType  `json:"energy_type,omitempty"`
	State          *device.StateEntry `json:"state"`
}

// NewDeviceView renders d.
func NewDeviceView(d *device.Device) DeviceView {
	attrs := d.Attributes()
	return DeviceView{
		ID:             attrs.DeviceID,
		DeviceTypeID:   attrs.DeviceTypeID,
		GatewayID:      attrs.GatewayID,
		LocationID:     attrs.LocationID,
		AreaID:         attrs.AreaID,
		Label:          attrs.Label,
		FullLabel:      d.FullLabel(),
		Platform:       d.Kind().Platform(),
		Enabled:        attrs.Enabled,
		PinRequired:    attrs.PinRequired,
		Features:       attrs.Features,
		ToggleCommands: attrs.ToggleCommands,
		EnergyType:     attrs.EnergyType,
		State:          d.CurrentState(),
	}
}

// ListDevicesResponse is returned from GET /devices
type ListDevicesResponse struct {
	Devices []DeviceView `json:"devices"`
	Count   int          `json:"count"`
}

// DeviceResponse is returned from GET/PATCH /devices/:id
type DeviceResponse struct {
	Device DeviceView `json:"device"`
}

// CommandResponse is returned for a single command record
type CommandResponse struct {
	Command *device.CommandRecord `json:"command"`
}

// CommandsResponse is returned from GET /devices/:id/commands
type CommandsResponse struct {
	Commands []*device.CommandRecord `json:"commands"`
	Count    int                     `json:"count"`
}

// StateResponse is returned from GET/POST /devices/:id/state. State is
// null when the update changed nothing or was debounced.
type StateResponse struct {
	Device  string             `json:"device"`
	State   *device.StateEntry `json:"state"`
	Changed bool               `json:"changed"`
	Delayed bool               `json:"delayed,omitempty"`
}

// StatesResponse is returned from GET /devices/:id/states
type StatesResponse struct {
	States []*device.StateEntry `json:"states"`
	Count  int                  `json:"count"`
}

// EnergyResponse is returned from GET /energy
type EnergyResponse struct {
	Totals energy.Totals `json:"totals"`
}

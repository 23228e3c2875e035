package device

import (
	"fmt"
	"time"
)

// EnergyType identifies what a device consumes.
type EnergyType string

// Energy types
const (
	EnergyNone     EnergyType = "none"
	EnergyElectric EnergyType = "electric"
	EnergyGas      EnergyType = "gas"
	EnergyWater    EnergyType = "water"
	EnergyNoise    EnergyType = "noise"
)

// EnergyTypes lists the types tracked by the fleet aggregator.
var EnergyTypes = []EnergyType{EnergyElectric, EnergyGas, EnergyWater, EnergyNoise}

// Tracked reports whether usage of this type is summed fleet-wide.
func (e EnergyType) Tracked() bool {
	for _, t := range EnergyTypes {
		if t == e {
			return true
		}
	}
	return false
}

// EnergySourceCalculated enables the energy map calculation for a device.
const EnergySourceCalculated = "calculated"

// Feature is a device capability flag.
type Feature string

// Device features
const (
	FeatureControllable       Feature = "controllable"
	FeatureAllowDirectControl Feature = "allow_direct_control"
	FeatureSceneControllable  Feature = "scene_controllable"
	FeatureAllowInScenes      Feature = "allow_in_scenes"
	FeaturePollable           Feature = "pollable"
	FeaturePingable           Feature = "pingable"
	FeatureSendUpdates        Feature = "send_updates"
	FeaturePowerControl       Feature = "power_control"
	FeatureAllOn              Feature = "all_on"
	FeatureAllOff             Feature = "all_off"
)

// Features maps capability flags to their enabled state.
type Features map[Feature]bool

// Has reports whether f is enabled.
func (f Features) Has(feature Feature) bool {
	return f[feature]
}

func (f Features) clone() Features {
	out := make(Features, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Extra holds the machine_state_extra values of a state entry.
type Extra map[string]any

// Clone returns a shallow copy of e. Nested maps are copied recursively.
func (e Extra) Clone() Extra {
	if e == nil {
		return Extra{}
	}
	out := make(Extra, len(e))
	for k, v := range e {
		if m, ok := v.(map[string]any); ok {
			v = map[string]any(Extra(m).Clone())
		}
		out[k] = v
	}
	return out
}

// Requester identifies who asked for a command or reported a state.
type Requester struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// SystemRequester is attributed when no principal was supplied.
var SystemRequester = Requester{ID: "system", Type: "system"}

// Status is the lifecycle status of a device command.
type Status string

// Command statuses
const (
	StatusPending   Status = "pending"
	StatusDelayed   Status = "delayed"
	StatusSent      Status = "sent"
	StatusReceived  Status = "received"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// ParseStatus converts a status name into a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusDelayed, StatusSent, StatusReceived,
		StatusDone, StatusFailed, StatusCancelled, StatusExpired:
		return st, nil
	}
	return "", fmt.Errorf("unknown command status %q", s)
}

// CommandHistoryItem records one status change of a command.
type CommandHistoryItem struct {
	At        time.Time `json:"at"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	GatewayID string    `json:"gateway_id,omitempty"`
}

// CommandRecord tracks one request to run a command on a device.
// Values handed out by the scheduler are snapshots.
type CommandRecord struct {
	DeviceCommandID string               `json:"device_command_id"`
	DeviceID        string               `json:"device_id"`
	CommandID       string               `json:"command_id"`
	GatewayID       string               `json:"gateway_id"`
	Inputs          map[string]any       `json:"inputs,omitempty"`
	RequestedBy     Requester            `json:"requested_by"`
	RequestContext  string               `json:"request_context,omitempty"`
	IdempotenceKey  string               `json:"idempotence_key,omitempty"`
	Status          Status               `json:"status"`
	CreatedAt       time.Time            `json:"created_at"`
	NotBeforeAt     *time.Time           `json:"not_before_at,omitempty"`
	NotAfterAt      *time.Time           `json:"not_after_at,omitempty"`
	SentAt          *time.Time           `json:"sent_at,omitempty"`
	ReceivedAt      *time.Time           `json:"received_at,omitempty"`
	PendingAt       *time.Time           `json:"pending_at,omitempty"`
	FinishedAt      *time.Time           `json:"finished_at,omitempty"`
	History         []CommandHistoryItem `json:"history"`
}

// Clone returns a deep copy of the record.
func (r *CommandRecord) Clone() *CommandRecord {
	out := *r
	out.Inputs = Extra(r.Inputs).Clone()
	out.History = append([]CommandHistoryItem(nil), r.History...)
	return &out
}

// StateEntry is one immutable snapshot of a device's state.
type StateEntry struct {
	DeviceID          string     `json:"device_id"`
	MachineState      float64    `json:"machine_state"`
	MachineStateExtra Extra      `json:"machine_state_extra"`
	HumanState        string     `json:"human_state"`
	HumanMessage      string     `json:"human_message"`
	EnergyUsage       float64    `json:"energy_usage"`
	EnergyType        EnergyType `json:"energy_type"`
	CommandID         string     `json:"command_id,omitempty"`
	DeviceCommandID   string     `json:"device_command_id,omitempty"`
	GatewayID         string     `json:"gateway_id"`
	RequestedBy       Requester  `json:"requested_by"`
	RequestContext    string     `json:"request_context,omitempty"`
	ReportingSource   string     `json:"reporting_source"`
	CreatedAt         time.Time  `json:"created_at"`
	Uploaded          bool       `json:"uploaded"`
	Uploadable        bool       `json:"uploadable"`
	Fake              bool       `json:"fake,omitempty"`
}

// StateChangedEvent is delivered to listeners after a state entry is appended.
type StateChangedEvent struct {
	Device   *Device
	Current  *StateEntry
	Previous *StateEntry
}

// Command machine labels with special meaning to the gateway.
const (
	CommandToggle = "toggle"
	CommandOn     = "on"
	CommandOff    = "off"
	CommandOpen   = "open"
	CommandClose  = "close"
	CommandHigh   = "high"
	CommandLow    = "low"
)

// ControlMethodDirect is the default control method of a command request.
const ControlMethodDirect = "direct"

package device

import (
	"context"
	"encoding/json"
)

// Store persists command records and state entries. The core treats every
// call as best-effort: a failed write leaves the in-memory history
// authoritative and is only logged.
type Store interface {
	// LoadRecentStates returns up to limit entries, newest first
	LoadRecentStates(ctx context.Context, deviceID string, limit int) ([]*StateEntry, error)

	// LoadRecentCommands returns up to limit records, newest first
	LoadRecentCommands(ctx context.Context, deviceID string, limit int) ([]*CommandRecord, error)

	UpsertCommand(ctx context.Context, rec *CommandRecord) error
	UpsertState(ctx context.Context, entry *StateEntry) error
}

// Driver hands command records to the module that talks to the hardware.
// Execute returning nil only means the hand-off succeeded; progress is
// reported back through the Scheduler's DeviceCommand* callbacks.
type Driver interface {
	Execute(ctx context.Context, rec *CommandRecord) error
}

// TypeCatalog resolves device-type metadata. Calls are expected to be
// in-memory lookups.
type TypeCatalog interface {
	// ExtraFields returns the machine_state_extra allow-list
	ExtraFields(deviceTypeID string) []string

	// AvailableCommands returns the command ids the type accepts
	AvailableCommands(deviceTypeID string) []string

	// CommandInputSchema returns the JSON Schema for a command's inputs, or nil
	CommandInputSchema(deviceTypeID, commandID string) json.RawMessage

	// Kind returns the device kind for the type
	Kind(deviceTypeID string) Kind
}

// InputValidator checks command inputs against a JSON Schema document.
type InputValidator interface {
	Validate(schemaDoc json.RawMessage, payload map[string]any) error
}

// StateListener receives a fire-and-forget notification after each state
// change. Listener failures never roll back the state change.
type StateListener interface {
	StateChanged(ctx context.Context, ev StateChangedEvent)
}

// EnergyTrigger is poked after every state change, silent or not.
type EnergyTrigger interface {
	Trigger()
}

// MetricsSink receives statistics datapoints. Duplicate delivery must be
// harmless.
type MetricsSink interface {
	Datapoint(name string, value float64)
}

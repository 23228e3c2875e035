package device

import (
	"sync"
	"time"

	"github.com/yombo/yombo-gateway-sub004/pkg/clock"
)

// Attributes is the configuration of a device as loaded from the inventory.
type Attributes struct {
	DeviceID            string     `json:"device_id"`
	DeviceTypeID        string     `json:"device_type_id"`
	GatewayID           string     `json:"gateway_id"`
	LocationID          string     `json:"location_id"`
	AreaID              string     `json:"area_id"`
	Label               string     `json:"label"`
	AreaLabel           string     `json:"area_label"`
	Enabled             bool       `json:"enabled"`
	PinRequired         bool       `json:"pin_required"`
	PinCode             string     `json:"-"`
	Features            Features   `json:"features"`
	ToggleCommands      []string   `json:"toggle_commands,omitempty"`
	EnergyType          EnergyType `json:"energy_type"`
	EnergyTrackerSource string     `json:"energy_tracker_source"`
	EnergyMap           EnergyMap  `json:"energy_map"`
}

func (a Attributes) clone() Attributes {
	a.Features = a.Features.clone()
	a.ToggleCommands = append([]string(nil), a.ToggleCommands...)
	a.EnergyMap = append(EnergyMap(nil), a.EnergyMap...)
	return a
}

// Device is one controllable entity. All mutable state is guarded by mu;
// devices never share a lock.
type Device struct {
	mu       sync.Mutex
	attrs    Attributes
	kind     Kind
	commands commandLog
	states   stateLog
}

type commandLog struct {
	ids *Ring[string]
	// idempotence key -> device command id, for ids still in the ring
	idempotence map[string]string
	// non-terminal device command ids
	live map[string]struct{}
}

type stateLog struct {
	entries *Ring[*StateEntry]
	fake    *StateEntry
	delayed *StateUpdate
	timer   clock.Timer
	gen     uint64
}

// New builds a device. Missing features and toggle commands come from the
// kind, a malformed energy map is replaced with the default one and the
// history capacities are fixed for the device's lifetime.
func New(attrs Attributes, kind Kind, sizes HistorySizes, now time.Time) *Device {
	if kind == nil {
		kind = genericKind{}
	}
	attrs = attrs.clone()
	if len(attrs.Features) == 0 {
		attrs.Features = kind.DefaultFeatures()
	}
	if len(attrs.ToggleCommands) == 0 {
		attrs.ToggleCommands = kind.ToggleCommands()
	}
	if attrs.EnergyType == "" {
		attrs.EnergyType = EnergyNone
	}
	attrs.EnergyMap = NormalizeEnergyMap(attrs.EnergyMap)

	d := &Device{
		attrs: attrs,
		kind:  kind,
		commands: commandLog{
			ids:         NewRing[string](sizes.Commands),
			idempotence: make(map[string]string),
			live:        make(map[string]struct{}),
		},
		states: stateLog{entries: NewRing[*StateEntry](sizes.States)},
	}
	d.states.fake = &StateEntry{
		DeviceID:          attrs.DeviceID,
		MachineState:      0,
		MachineStateExtra: Extra{},
		HumanState:        kind.HumanState(0, nil),
		HumanMessage:      humanMessage(&attrs, kind.HumanState(0, nil)),
		EnergyType:        attrs.EnergyType,
		GatewayID:         attrs.GatewayID,
		RequestedBy:       SystemRequester,
		ReportingSource:   "default",
		CreatedAt:         now,
		Fake:              true,
	}
	return d
}

// ID returns the device id.
func (d *Device) ID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attrs.DeviceID
}

// Attributes returns a copy of the device configuration.
func (d *Device) Attributes() Attributes {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attrs.clone()
}

// Kind returns the device kind.
func (d *Device) Kind() Kind {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.kind
}

// SetEnabled toggles whether the device accepts commands.
func (d *Device) SetEnabled(enabled bool) {
	d.mu.Lock()
	d.attrs.Enabled = enabled
	d.mu.Unlock()
}

// FullLabel returns "<area label> <label>".
func (d *Device) FullLabel() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.attrs.AreaLabel == "" {
		return d.attrs.Label
	}
	return d.attrs.AreaLabel + " " + d.attrs.Label
}

// CurrentState returns the newest state entry, or the synthetic default
// state when nothing was recorded yet. Entries must not be modified.
func (d *Device) CurrentState() *StateEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentLocked()
}

func (d *Device) currentLocked() *StateEntry {
	if head, ok := d.states.entries.Head(); ok {
		return head
	}
	return d.states.fake
}

// StateHistory returns the recorded state entries, newest first. The
// synthetic default state is not part of the history.
func (d *Device) StateHistory() []*StateEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.states.entries.Items()
}

// CommandHistory returns recent device command ids, newest first.
func (d *Device) CommandHistory() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commands.ids.Items()
}

// Capacities reports the fixed history sizes.
func (d *Device) Capacities() HistorySizes {
	d.mu.Lock()
	defer d.mu.Unlock()
	return HistorySizes{Commands: d.commands.ids.Cap(), States: d.states.entries.Cap()}
}

// HasPendingState reports whether a delayed state update is waiting to flush.
func (d *Device) HasPendingState() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.states.delayed != nil
}

// pushCommandLocked records id as the newest command and forgets the
// idempotence key of an evicted id.
func (d *Device) pushCommandLocked(id, idempotenceKey string) {
	evicted, ok := d.commands.ids.Push(id)
	if ok {
		for k, v := range d.commands.idempotence {
			if v == evicted {
				delete(d.commands.idempotence, k)
			}
		}
	}
	if idempotenceKey != "" {
		d.commands.idempotence[idempotenceKey] = id
	}
}

func humanMessage(attrs *Attributes, humanState string) string {
	label := attrs.AreaLabel
	if label == "" {
		label = attrs.Label
	}
	return label + " is now " + humanState
}

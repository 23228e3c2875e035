package device

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yombo/yombo-gateway-sub004/pkg/clock"
)

// DefaultDebounceDelay is used by SetStateDelayed when no delay is configured.
const DefaultDebounceDelay = 100 * time.Millisecond

// StateUpdate is a partial state report. Nil and empty fields are
// "not supplied" and are filled in from earlier updates or the current state.
type StateUpdate struct {
	MachineState *float64
	Extra        Extra
	HumanState   string
	HumanMessage string
	// CommandID names the command that produced the state when no record
	// is attached
	CommandID       string
	DeviceCommandID string
	RequestedBy     Requester
	RequestContext  string
	ReportingSource string
	// Silent suppresses state-changed notifications. Once set in a debounce
	// window it stays set.
	Silent     bool
	Uploadable *bool
}

// Float returns a pointer to v, for StateUpdate.MachineState.
func Float(v float64) *float64 { return &v }

// checkMachineState rejects values that could never compare equal to a
// later report, which would defeat the unchanged-state check.
func checkMachineState(ms *float64) error {
	if ms != nil && (math.IsNaN(*ms) || math.IsInf(*ms, 0)) {
		return fmt.Errorf("%w: got %v", ErrInvalidMachineState, *ms)
	}
	return nil
}

// merge overlays o onto u field by field; extra maps merge recursively.
func (u *StateUpdate) merge(o StateUpdate) {
	if o.MachineState != nil {
		ms := *o.MachineState
		u.MachineState = &ms
	}
	if o.Extra != nil {
		u.Extra = mergeExtra(u.Extra, o.Extra)
	}
	if o.HumanState != "" {
		u.HumanState = o.HumanState
	}
	if o.HumanMessage != "" {
		u.HumanMessage = o.HumanMessage
	}
	if o.CommandID != "" {
		u.CommandID = o.CommandID
	}
	if o.DeviceCommandID != "" {
		u.DeviceCommandID = o.DeviceCommandID
	}
	if o.RequestedBy.ID != "" {
		u.RequestedBy = o.RequestedBy
	}
	if o.RequestContext != "" {
		u.RequestContext = o.RequestContext
	}
	if o.ReportingSource != "" {
		u.ReportingSource = o.ReportingSource
	}
	if o.Uploadable != nil {
		up := *o.Uploadable
		u.Uploadable = &up
	}
	u.Silent = u.Silent || o.Silent
}

func mergeExtra(dst, src Extra) Extra {
	out := dst.Clone()
	for k, v := range src {
		if sm, ok := v.(map[string]any); ok {
			if dm, ok := out[k].(map[string]any); ok {
				out[k] = map[string]any(mergeExtra(dm, sm))
				continue
			}
		}
		if sm, ok := v.(Extra); ok {
			v = map[string]any(sm.Clone())
		}
		out[k] = v
	}
	return out
}

// StateSetterConfig wires a StateSetter to its collaborators.
type StateSetterConfig struct {
	Clock     clock.Clock
	GatewayID string
	Catalog   TypeCatalog
	Store     Store
	Scheduler *Scheduler
	Energy    EnergyTrigger
	// DebounceDelay defaults to DefaultDebounceDelay
	DebounceDelay time.Duration
}

// StateSetter turns state reports into immutable history entries.
type StateSetter struct {
	clock     clock.Clock
	gatewayID string
	catalog   TypeCatalog
	store     Store
	scheduler *Scheduler
	debounce  time.Duration
	listeners []StateListener

	energyMu sync.RWMutex
	energy   EnergyTrigger
}

// NewStateSetter creates a StateSetter.
func NewStateSetter(cfg StateSetterConfig) *StateSetter {
	s := &StateSetter{
		clock:     cfg.Clock,
		gatewayID: cfg.GatewayID,
		catalog:   cfg.Catalog,
		store:     cfg.Store,
		scheduler: cfg.Scheduler,
		energy:    cfg.Energy,
		debounce:  cfg.DebounceDelay,
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	if s.store == nil {
		s.store = NullStore{}
	}
	if s.debounce <= 0 {
		s.debounce = DefaultDebounceDelay
	}
	return s
}

// AddListener registers l for state-changed notifications. Not safe to call
// once state changes are flowing.
func (s *StateSetter) AddListener(l StateListener) {
	s.listeners = append(s.listeners, l)
}

// SetEnergyTrigger sets the hook poked after every state change.
func (s *StateSetter) SetEnergyTrigger(e EnergyTrigger) {
	s.energyMu.Lock()
	s.energy = e
	s.energyMu.Unlock()
}

func (s *StateSetter) energyTrigger() EnergyTrigger {
	s.energyMu.RLock()
	defer s.energyMu.RUnlock()
	return s.energy
}

// SetStateDelayed merges u into the device's pending update and restarts the
// debounce timer. A delay of zero uses the configured default. A
// non-finite machine_state is refused before it reaches the window.
func (s *StateSetter) SetStateDelayed(d *Device, u StateUpdate, delay time.Duration) error {
	if err := checkMachineState(u.MachineState); err != nil {
		return err
	}
	if delay <= 0 {
		delay = s.debounce
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.states.delayed == nil {
		d.states.delayed = &StateUpdate{}
	}
	d.states.delayed.merge(u)
	if d.states.delayed.ReportingSource == "" {
		d.states.delayed.ReportingSource = "gateway:" + s.gatewayID
	}
	stopTimer(&d.states.timer)
	d.states.gen++
	gen := d.states.gen
	d.states.timer = s.clock.AfterFunc(delay, func() { s.flushDelayed(d, gen) })
	return nil
}

func (s *StateSetter) flushDelayed(d *Device, gen uint64) {
	d.mu.Lock()
	if gen != d.states.gen || d.states.delayed == nil {
		d.mu.Unlock()
		return
	}
	u := *d.states.delayed
	d.states.delayed = nil
	d.states.timer = nil
	if u.MachineState == nil {
		u.MachineState = Float(d.currentLocked().MachineState)
	}
	d.mu.Unlock()

	_, err := s.apply(context.Background(), d, u)
	switch {
	case errors.Is(err, ErrNoStateChange):
		log.Info().Str("device_id", d.ID()).Msg("State unchanged, nothing recorded")
	case err != nil:
		log.Error().Err(err).Str("device_id", d.ID()).Msg("Failed to apply delayed state")
	}
}

// SetState records a new state immediately, folding in any update still
// waiting in the debounce window. It returns the new entry, or nil when the
// update did not change anything.
func (s *StateSetter) SetState(ctx context.Context, d *Device, u StateUpdate) (*StateEntry, error) {
	if err := checkMachineState(u.MachineState); err != nil {
		return nil, err
	}
	d.mu.Lock()
	if d.states.delayed != nil {
		merged := *d.states.delayed
		merged.merge(u)
		u = merged
	}
	if u.MachineState == nil {
		d.mu.Unlock()
		return nil, ErrMissingMachineState
	}
	if d.states.delayed != nil {
		d.states.delayed = nil
		stopTimer(&d.states.timer)
		d.states.gen++
	}
	d.mu.Unlock()

	entry, err := s.apply(ctx, d, u)
	if errors.Is(err, ErrNoStateChange) {
		log.Info().Str("device_id", d.ID()).Msg("State unchanged, nothing recorded")
		return nil, nil
	}
	return entry, err
}

func (s *StateSetter) allowedExtra(d *Device) map[string]bool {
	allowed := make(map[string]bool)
	if s.catalog != nil {
		for _, f := range s.catalog.ExtraFields(d.attrs.DeviceTypeID) {
			allowed[f] = true
		}
	}
	for _, f := range d.kind.ExtraFields() {
		allowed[f] = true
	}
	return allowed
}

func (s *StateSetter) apply(ctx context.Context, d *Device, u StateUpdate) (*StateEntry, error) {
	now := s.clock.Now()
	ms := *u.MachineState

	d.mu.Lock()
	attrs := &d.attrs
	allowed := s.allowedExtra(d)
	prev, hasPrev := d.states.entries.Head()

	extra := Extra{}
	if hasPrev {
		for k, v := range prev.MachineStateExtra {
			if allowed[k] {
				extra[k] = v
			}
		}
	}
	var dropped []string
	for k, v := range u.Extra {
		if !allowed[k] {
			dropped = append(dropped, k)
			continue
		}
		extra[k] = v
	}
	extra = extra.Clone()

	if hasPrev && prev.MachineState == ms && len(extraDiff(filterExtra(prev.MachineStateExtra, allowed), extra)) == 0 {
		d.mu.Unlock()
		logDropped(attrs.DeviceID, dropped)
		return nil, ErrNoStateChange
	}

	rec := s.resolveRecordLocked(d, u.DeviceCommandID)
	command := u.CommandID
	requester := u.RequestedBy
	requestContext := u.RequestContext
	if rec != nil {
		command = rec.CommandID
		if requester.ID == "" {
			requester = rec.RequestedBy
		}
		if requestContext == "" {
			requestContext = rec.RequestContext
		}
	}
	if command == "" {
		command = s.commandFromStateLocked(d, ms)
	}
	if requester.ID == "" {
		requester = SystemRequester
	}

	usage, energyType, err := energyFor(attrs, d.kind, ms, extra)
	if err != nil {
		d.mu.Unlock()
		log.Error().Err(err).Str("device_id", attrs.DeviceID).Msg("Energy map defect")
		return nil, err
	}

	humanState := u.HumanState
	if humanState == "" {
		humanState = d.kind.HumanState(ms, extra)
	}
	message := u.HumanMessage
	if message == "" {
		message = humanMessage(attrs, humanState)
	}
	source := u.ReportingSource
	if source == "" {
		source = "gateway:" + s.gatewayID
	}
	uploadable := true
	if u.Uploadable != nil {
		uploadable = *u.Uploadable
	}

	entry := &StateEntry{
		DeviceID:          attrs.DeviceID,
		MachineState:      ms,
		MachineStateExtra: extra,
		HumanState:        humanState,
		HumanMessage:      message,
		EnergyUsage:       usage,
		EnergyType:        energyType,
		CommandID:         command,
		GatewayID:         s.gatewayID,
		RequestedBy:       requester,
		RequestContext:    requestContext,
		ReportingSource:   source,
		CreatedAt:         now,
		Uploadable:        uploadable,
	}
	if rec != nil {
		entry.DeviceCommandID = rec.DeviceCommandID
	}
	previous := d.currentLocked()
	d.states.entries.Push(entry)
	d.mu.Unlock()

	logDropped(entry.DeviceID, dropped)
	log.Debug().
		Str("device_id", entry.DeviceID).
		Float64("machine_state", ms).
		Str("human_state", humanState).
		Msg("State changed")

	if err := s.store.UpsertState(ctx, entry); err != nil {
		log.Warn().Err(err).Str("device_id", entry.DeviceID).Msg("Failed to persist state")
	}
	if !u.Silent {
		ev := StateChangedEvent{Device: d, Current: entry, Previous: previous}
		for _, l := range s.listeners {
			l.StateChanged(ctx, ev)
		}
	}
	if e := s.energyTrigger(); e != nil {
		e.Trigger()
	}
	return entry, nil
}

// resolveRecordLocked finds the command record a state report refers to.
// Records of other devices are ignored. Caller holds d.mu.
func (s *StateSetter) resolveRecordLocked(d *Device, id string) *CommandRecord {
	if id == "" || s.scheduler == nil {
		return nil
	}
	t := s.scheduler.lookup(id)
	if t == nil || t.device != d {
		log.Warn().Str("device_id", d.attrs.DeviceID).Str("device_command_id", id).Msg("State references unknown command")
		return nil
	}
	return t.rec
}

// commandFromStateLocked guesses the command behind an externally reported
// state. Caller holds d.mu.
func (s *StateSetter) commandFromStateLocked(d *Device, ms float64) string {
	candidates := d.kind.StateCommands(ms)
	if len(candidates) == 0 || s.catalog == nil {
		return ""
	}
	available := s.catalog.AvailableCommands(d.attrs.DeviceTypeID)
	for _, c := range candidates {
		if slices.Contains(available, c) {
			return c
		}
	}
	return ""
}

// Restore reloads d's recent state history from the store.
func (s *StateSetter) Restore(ctx context.Context, d *Device) error {
	entries, err := s.store.LoadRecentStates(ctx, d.ID(), d.Capacities().States)
	if err != nil {
		return fmt.Errorf("load states for %s: %w", d.ID(), err)
	}
	d.mu.Lock()
	for i := len(entries) - 1; i >= 0; i-- {
		d.states.entries.Push(entries[i])
	}
	d.mu.Unlock()
	return nil
}

// Flush applies pending debounced updates of every device right away. Used
// at shutdown.
func (s *StateSetter) Flush(ctx context.Context, devices []*Device) {
	for _, d := range devices {
		d.mu.Lock()
		pending := d.states.delayed != nil
		gen := d.states.gen
		d.mu.Unlock()
		if pending {
			s.flushDelayed(d, gen)
		}
	}
}

func filterExtra(e Extra, allowed map[string]bool) Extra {
	out := Extra{}
	for k, v := range e {
		if allowed[k] {
			out[k] = v
		}
	}
	return out
}

// extraDiff returns the keys added, removed or modified between a and b.
func extraDiff(a, b Extra) []string {
	var keys []string
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !sameValue(av, bv) {
			keys = append(keys, k)
		}
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func sameValue(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

func logDropped(deviceID string, keys []string) {
	if len(keys) == 0 {
		return
	}
	sort.Strings(keys)
	log.Warn().Str("device_id", deviceID).Strs("keys", keys).Msg("Dropped machine_state_extra keys not allowed for device type")
}

package device

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/yombo/yombo-gateway-sub004/pkg/clock"
)

// DefaultMaxDelay bounds a delayed command when the caller gave no end.
const DefaultMaxDelay = 60 * time.Second

// CommandRequest asks for a command to run on a device. At most one of
// Delay/NotBefore and one of MaxDelay/NotAfter may be set.
type CommandRequest struct {
	Command        string
	Inputs         map[string]any
	Pin            string
	Delay          *time.Duration
	NotBefore      *time.Time
	MaxDelay       *time.Duration
	NotAfter       *time.Time
	RequestedBy    Requester
	RequestContext string
	// ControlMethod defaults to "direct"
	ControlMethod  string
	IdempotenceKey string
}

// tracked is a command record plus its timers. All fields are guarded by
// the owning device's mutex.
type tracked struct {
	device *Device
	rec    *CommandRecord
	start  clock.Timer
	expiry clock.Timer
}

// SchedulerConfig wires a Scheduler to its collaborators. Nil fields get
// inert defaults.
type SchedulerConfig struct {
	Clock     clock.Clock
	GatewayID string
	Catalog   TypeCatalog
	Driver    Driver
	Store     Store
	Validator InputValidator
}

// Scheduler validates command requests, arms window timers and drives the
// command record state machine.
type Scheduler struct {
	clock     clock.Clock
	gatewayID string
	catalog   TypeCatalog
	store     Store
	validator InputValidator

	driverMu sync.RWMutex
	driver   Driver

	// device command id -> *tracked
	records sync.Map
}

// NewScheduler creates a Scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	s := &Scheduler{
		clock:     cfg.Clock,
		gatewayID: cfg.GatewayID,
		catalog:   cfg.Catalog,
		driver:    cfg.Driver,
		store:     cfg.Store,
		validator: cfg.Validator,
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	if s.driver == nil {
		s.driver = NullDriver{}
	}
	if s.store == nil {
		s.store = NullStore{}
	}
	return s
}

// SetDriver replaces the driver used for future hand-offs. Delayed
// commands already waiting on a timer fire through the new driver.
func (s *Scheduler) SetDriver(drv Driver) {
	if drv == nil {
		drv = NullDriver{}
	}
	s.driverMu.Lock()
	s.driver = drv
	s.driverMu.Unlock()
}

func (s *Scheduler) currentDriver() Driver {
	s.driverMu.RLock()
	defer s.driverMu.RUnlock()
	return s.driver
}

type window struct {
	start, end         time.Time
	hasStart, windowed bool
	warning            string
}

func (s *Scheduler) resolveWindow(req CommandRequest, now time.Time) (window, error) {
	var w window
	if req.Delay != nil && req.NotBefore != nil {
		return w, fmt.Errorf("delay and not_before are mutually exclusive: %w", ErrInvalidSchedule)
	}
	if req.MaxDelay != nil && req.NotAfter != nil {
		return w, fmt.Errorf("max_delay and not_after are mutually exclusive: %w", ErrInvalidSchedule)
	}

	w.start = now
	switch {
	case req.Delay != nil:
		if *req.Delay < 0 {
			return w, fmt.Errorf("negative delay %s: %w", *req.Delay, ErrInvalidSchedule)
		}
		w.start = now.Add(*req.Delay)
		w.hasStart = true
	case req.NotBefore != nil:
		if req.NotBefore.Before(now) {
			return w, fmt.Errorf("not_before %s is in the past: %w", req.NotBefore.Format(time.RFC3339), ErrInvalidSchedule)
		}
		w.start = *req.NotBefore
		w.hasStart = true
	}

	switch {
	case req.MaxDelay != nil:
		if *req.MaxDelay < 0 {
			return w, fmt.Errorf("negative max_delay %s: %w", *req.MaxDelay, ErrInvalidSchedule)
		}
		w.end = w.start.Add(*req.MaxDelay)
	case req.NotAfter != nil:
		w.end = *req.NotAfter
	case w.hasStart:
		w.end = w.start.Add(DefaultMaxDelay)
		w.warning = fmt.Sprintf("no max_delay or not_after given, defaulting max_delay to %s", DefaultMaxDelay)
	default:
		return w, nil
	}

	w.windowed = true
	if !w.end.After(w.start) {
		return w, fmt.Errorf("not_after must be later than not_before: %w", ErrInvalidSchedule)
	}
	return w, nil
}

// checkControl verifies that attrs accept a request. Caller holds d.mu.
func checkControl(attrs *Attributes, req CommandRequest) error {
	if !attrs.Enabled {
		return fmt.Errorf("device %s: %w", attrs.DeviceID, ErrDeviceDisabled)
	}
	method := req.ControlMethod
	if method == "" {
		method = ControlMethodDirect
	}
	if !attrs.Features.Has(FeatureControllable) && !attrs.Features.Has(FeatureSceneControllable) {
		return fmt.Errorf("device %s: %w", attrs.DeviceID, ErrNotControllable)
	}
	if method == ControlMethodDirect && !attrs.Features.Has(FeatureAllowDirectControl) {
		return fmt.Errorf("device %s does not allow direct control: %w", attrs.DeviceID, ErrNotControllable)
	}
	if attrs.PinRequired {
		if req.Pin == "" {
			return ErrPinRequired
		}
		if req.Pin != attrs.PinCode {
			return ErrPinMismatch
		}
	}
	return nil
}

// resolveToggle picks the toggle command that was not issued last.
// Caller holds d.mu.
func (s *Scheduler) resolveToggle(d *Device) (string, error) {
	toggles := d.attrs.ToggleCommands
	if len(toggles) != 2 {
		return "", fmt.Errorf("device %s has no toggle commands: %w", d.attrs.DeviceID, ErrNotToggleable)
	}
	lastID, ok := d.commands.ids.Head()
	if !ok {
		return "", fmt.Errorf("device %s is in an unknown state: %w", d.attrs.DeviceID, ErrNotToggleable)
	}
	last := ""
	if t := s.lookup(lastID); t != nil {
		last = t.rec.CommandID
	}
	for _, c := range toggles {
		if c != last {
			return c, nil
		}
	}
	return toggles[0], nil
}

// Schedule validates req and creates a command record for d. Without a start
// the record is handed to the driver before Schedule returns; otherwise it is
// delayed until its window opens. Driver failures do not surface here, they
// move the record to failed.
func (s *Scheduler) Schedule(ctx context.Context, d *Device, req CommandRequest) (*CommandRecord, error) {
	now := s.clock.Now()
	w, err := s.resolveWindow(req, now)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	attrs := &d.attrs
	if err := checkControl(attrs, req); err != nil {
		d.mu.Unlock()
		return nil, err
	}

	if req.IdempotenceKey != "" {
		if id, ok := d.commands.idempotence[req.IdempotenceKey]; ok {
			if t := s.lookup(id); t != nil {
				snap := t.rec.Clone()
				d.mu.Unlock()
				return snap, nil
			}
		}
	}

	command := req.Command
	if command == CommandToggle {
		if command, err = s.resolveToggle(d); err != nil {
			d.mu.Unlock()
			return nil, err
		}
	}
	if err := s.checkCommand(attrs.DeviceTypeID, command, req.Inputs); err != nil {
		d.mu.Unlock()
		return nil, err
	}

	requester := req.RequestedBy
	if requester.ID == "" {
		requester = SystemRequester
	}
	rec := &CommandRecord{
		DeviceCommandID: uuid.NewString(),
		DeviceID:        attrs.DeviceID,
		CommandID:       command,
		GatewayID:       s.gatewayID,
		Inputs:          Extra(req.Inputs).Clone(),
		RequestedBy:     requester,
		RequestContext:  req.RequestContext,
		IdempotenceKey:  req.IdempotenceKey,
		Status:          StatusPending,
		CreatedAt:       now,
	}
	rec.History = append(rec.History, CommandHistoryItem{At: now, Status: StatusPending, Message: "created", GatewayID: s.gatewayID})
	if w.windowed {
		start, end := w.start, w.end
		rec.NotBeforeAt, rec.NotAfterAt = &start, &end
	}

	t := &tracked{device: d, rec: rec}
	s.records.Store(rec.DeviceCommandID, t)
	d.pushCommandLocked(rec.DeviceCommandID, req.IdempotenceKey)
	d.commands.live[rec.DeviceCommandID] = struct{}{}

	id := rec.DeviceCommandID
	if w.hasStart {
		msg := "waiting for not_before"
		if w.warning != "" {
			msg = w.warning
		}
		s.setStatusLocked(t, StatusDelayed, msg, now)
		t.start = s.clock.AfterFunc(w.start.Sub(now), func() { s.fire(id) })
	}
	if w.windowed {
		t.expiry = s.clock.AfterFunc(w.end.Sub(now), func() { s.expire(id) })
	}
	snap := rec.Clone()
	d.mu.Unlock()

	if w.warning != "" {
		log.Warn().Str("device_id", snap.DeviceID).Str("device_command_id", id).Msg(w.warning)
	}
	log.Info().
		Str("device_id", snap.DeviceID).
		Str("device_command_id", id).
		Str("command", command).
		Str("status", string(snap.Status)).
		Msg("Command scheduled")
	s.persist(ctx, snap)

	if !w.hasStart {
		return s.dispatch(ctx, t), nil
	}
	return snap, nil
}

// checkCommand verifies the command is available for the device type and
// its inputs satisfy the command's schema.
func (s *Scheduler) checkCommand(deviceTypeID, command string, inputs map[string]any) error {
	if command == "" {
		return fmt.Errorf("empty command: %w", ErrInvalidCommand)
	}
	if s.catalog == nil {
		return nil
	}
	if !slices.Contains(s.catalog.AvailableCommands(deviceTypeID), command) {
		return fmt.Errorf("command %q not available for device type %s: %w", command, deviceTypeID, ErrInvalidCommand)
	}
	if s.validator == nil {
		return nil
	}
	if doc := s.catalog.CommandInputSchema(deviceTypeID, command); len(doc) > 0 {
		if inputs == nil {
			inputs = map[string]any{}
		}
		if err := s.validator.Validate(doc, inputs); err != nil {
			return fmt.Errorf("%w: inputs for %q: %v", ErrInvalidCommand, command, err)
		}
	}
	return nil
}

// dispatch hands the record to the driver. It returns the record snapshot
// after the hand-off.
func (s *Scheduler) dispatch(ctx context.Context, t *tracked) *CommandRecord {
	d := t.device
	d.mu.Lock()
	if err := s.transitionLocked(t, StatusSent, "handed to driver"); err != nil {
		// cancelled or expired while the start timer was firing
		snap := t.rec.Clone()
		d.mu.Unlock()
		return snap
	}
	t.start = nil
	snap := t.rec.Clone()
	d.mu.Unlock()

	s.persist(ctx, snap)
	if err := s.currentDriver().Execute(ctx, snap); err != nil {
		log.Error().Err(err).
			Str("device_id", snap.DeviceID).
			Str("device_command_id", snap.DeviceCommandID).
			Msg("Driver rejected command")
		if failed, ferr := s.DeviceCommandFailed(ctx, snap.DeviceCommandID, err.Error()); ferr == nil {
			return failed
		}
	}
	if cur, err := s.Command(snap.DeviceCommandID); err == nil {
		return cur
	}
	return snap
}

func (s *Scheduler) fire(id string) {
	t := s.lookup(id)
	if t == nil {
		return
	}
	s.dispatch(context.Background(), t)
}

// expire closes a command whose window ended before it finished. Records
// that never left the gateway expire; records already at the driver fail.
func (s *Scheduler) expire(id string) {
	t := s.lookup(id)
	if t == nil {
		return
	}
	d := t.device
	d.mu.Lock()
	var err error
	switch t.rec.Status {
	case StatusPending, StatusDelayed:
		err = s.transitionLocked(t, StatusExpired, "window closed before the command was sent")
	case StatusSent, StatusReceived:
		err = s.transitionLocked(t, StatusFailed, "not completed before not_after")
	default:
		d.mu.Unlock()
		return
	}
	snap := t.rec.Clone()
	d.mu.Unlock()
	if err != nil {
		return
	}
	log.Warn().
		Str("device_id", snap.DeviceID).
		Str("device_command_id", id).
		Str("status", string(snap.Status)).
		Msg("Command window closed")
	s.persist(context.Background(), snap)
}

// Cancel stops a pending or delayed command. Cancelling twice, or
// cancelling a command whose window already expired, is a no-op that
// returns the record unchanged.
func (s *Scheduler) Cancel(ctx context.Context, id string) (*CommandRecord, error) {
	t := s.lookup(id)
	if t == nil {
		return nil, fmt.Errorf("device command %s: %w", id, ErrNotFound)
	}
	d := t.device
	d.mu.Lock()
	switch t.rec.Status {
	case StatusCancelled, StatusExpired:
		snap := t.rec.Clone()
		d.mu.Unlock()
		return snap, nil
	case StatusSent, StatusReceived:
		d.mu.Unlock()
		return nil, fmt.Errorf("device command %s: %w", id, ErrAlreadyInFlight)
	}
	if err := s.transitionLocked(t, StatusCancelled, "cancelled"); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	snap := t.rec.Clone()
	d.mu.Unlock()

	log.Info().Str("device_id", snap.DeviceID).Str("device_command_id", id).Msg("Command cancelled")
	s.persist(ctx, snap)
	return snap, nil
}

// DeviceCommandReceived records that the driver accepted the command.
func (s *Scheduler) DeviceCommandReceived(ctx context.Context, id, message string) (*CommandRecord, error) {
	return s.callback(ctx, id, StatusReceived, message)
}

// DeviceCommandPending records that the driver needs more time. The record
// stays received; the history shows the pending report.
func (s *Scheduler) DeviceCommandPending(ctx context.Context, id, message string) (*CommandRecord, error) {
	t := s.lookup(id)
	if t == nil {
		return nil, fmt.Errorf("device command %s: %w", id, ErrNotFound)
	}
	d := t.device
	d.mu.Lock()
	if t.rec.Status != StatusSent && t.rec.Status != StatusReceived {
		status := t.rec.Status
		d.mu.Unlock()
		return nil, fmt.Errorf("%s -> pending: %w", status, ErrInvalidTransition)
	}
	now := s.clock.Now()
	if t.rec.Status == StatusSent {
		s.setStatusLocked(t, StatusReceived, "", now)
	}
	t.rec.PendingAt = &now
	t.rec.History = append(t.rec.History, CommandHistoryItem{At: now, Status: StatusPending, Message: message, GatewayID: s.gatewayID})
	snap := t.rec.Clone()
	d.mu.Unlock()

	s.persist(ctx, snap)
	return snap, nil
}

// DeviceCommandFailed records a driver failure.
func (s *Scheduler) DeviceCommandFailed(ctx context.Context, id, message string) (*CommandRecord, error) {
	return s.callback(ctx, id, StatusFailed, message)
}

// DeviceCommandDone records successful completion.
func (s *Scheduler) DeviceCommandDone(ctx context.Context, id, message string) (*CommandRecord, error) {
	return s.callback(ctx, id, StatusDone, message)
}

func (s *Scheduler) callback(ctx context.Context, id string, to Status, message string) (*CommandRecord, error) {
	t := s.lookup(id)
	if t == nil {
		return nil, fmt.Errorf("device command %s: %w", id, ErrNotFound)
	}
	d := t.device
	d.mu.Lock()
	if err := s.transitionLocked(t, to, message); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	snap := t.rec.Clone()
	d.mu.Unlock()

	log.Debug().Str("device_command_id", id).Str("status", string(to)).Msg("Command status changed")
	s.persist(ctx, snap)
	return snap, nil
}

var transitions = map[Status][]Status{
	StatusPending:  {StatusDelayed, StatusSent, StatusFailed, StatusCancelled},
	StatusDelayed:  {StatusSent, StatusCancelled, StatusExpired, StatusFailed},
	StatusSent:     {StatusReceived, StatusDone, StatusFailed},
	StatusReceived: {StatusReceived, StatusDone, StatusFailed},
}

// CanTransition reports whether a record may move from one status to another.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// transitionLocked validates and applies a status change. Caller holds the
// device lock.
func (s *Scheduler) transitionLocked(t *tracked, to Status, message string) error {
	from := t.rec.Status
	if !CanTransition(from, to) {
		return fmt.Errorf("device command %s %s -> %s: %w", t.rec.DeviceCommandID, from, to, ErrInvalidTransition)
	}
	s.setStatusLocked(t, to, message, s.clock.Now())
	return nil
}

func (s *Scheduler) setStatusLocked(t *tracked, to Status, message string, now time.Time) {
	rec := t.rec
	rec.Status = to
	rec.History = append(rec.History, CommandHistoryItem{At: now, Status: to, Message: message, GatewayID: s.gatewayID})
	switch to {
	case StatusSent:
		rec.SentAt = &now
	case StatusReceived:
		if rec.ReceivedAt == nil {
			rec.ReceivedAt = &now
		}
	}
	if to.Terminal() {
		rec.FinishedAt = &now
		stopTimer(&t.start)
		stopTimer(&t.expiry)
		delete(t.device.commands.live, rec.DeviceCommandID)
	}
}

func stopTimer(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (s *Scheduler) lookup(id string) *tracked {
	v, ok := s.records.Load(id)
	if !ok {
		return nil
	}
	return v.(*tracked)
}

func (s *Scheduler) persist(ctx context.Context, rec *CommandRecord) {
	if err := s.store.UpsertCommand(ctx, rec); err != nil {
		log.Warn().Err(err).
			Str("device_command_id", rec.DeviceCommandID).
			Msg("Failed to persist command record")
	}
}

// Command returns a snapshot of a command record.
func (s *Scheduler) Command(id string) (*CommandRecord, error) {
	t := s.lookup(id)
	if t == nil {
		return nil, fmt.Errorf("device command %s: %w", id, ErrNotFound)
	}
	t.device.mu.Lock()
	defer t.device.mu.Unlock()
	return t.rec.Clone(), nil
}

// Commands returns the records in d's command history, newest first.
func (s *Scheduler) Commands(d *Device) []*CommandRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := d.commands.ids.Items()
	out := make([]*CommandRecord, 0, len(ids))
	for _, id := range ids {
		if t := s.lookup(id); t != nil {
			out = append(out, t.rec.Clone())
		}
	}
	return out
}

// DelayedCommands returns d's commands waiting for their window, oldest
// first.
func (s *Scheduler) DelayedCommands(d *Device) []*CommandRecord {
	return s.liveCommands(d, func(st Status) bool { return st == StatusDelayed })
}

// PendingCommands returns d's commands that have not finished yet, oldest
// first.
func (s *Scheduler) PendingCommands(d *Device) []*CommandRecord {
	return s.liveCommands(d, func(Status) bool { return true })
}

func (s *Scheduler) liveCommands(d *Device, keep func(Status) bool) []*CommandRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*CommandRecord
	for id := range d.commands.live {
		if t := s.lookup(id); t != nil && keep(t.rec.Status) {
			out = append(out, t.rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// RemoveDelayed cancels every delayed command of d and returns how many
// were cancelled.
func (s *Scheduler) RemoveDelayed(ctx context.Context, d *Device) int {
	n := 0
	for _, rec := range s.DelayedCommands(d) {
		if _, err := s.Cancel(ctx, rec.DeviceCommandID); err == nil {
			n++
		}
	}
	return n
}

// Forget drops every record of d from the command registry. Used when the
// device is unloaded.
func (s *Scheduler) Forget(d *Device) {
	s.records.Range(func(key, value any) bool {
		if t := value.(*tracked); t.device == d {
			d.mu.Lock()
			stopTimer(&t.start)
			stopTimer(&t.expiry)
			d.mu.Unlock()
			s.records.Delete(key)
		}
		return true
	})
}

// Restore reloads d's recent commands from the store. Windowed records that
// are still open are re-armed, closed ones expire, records already sent keep
// waiting for the driver and anything else that was never windowed fails.
func (s *Scheduler) Restore(ctx context.Context, d *Device) error {
	recs, err := s.store.LoadRecentCommands(ctx, d.ID(), d.Capacities().Commands)
	if err != nil {
		return fmt.Errorf("load commands for %s: %w", d.ID(), err)
	}
	now := s.clock.Now()
	var changed []*CommandRecord

	d.mu.Lock()
	for i := len(recs) - 1; i >= 0; i-- {
		rec := recs[i].Clone()
		id := rec.DeviceCommandID
		t := &tracked{device: d, rec: rec}
		s.records.Store(id, t)
		d.pushCommandLocked(id, rec.IdempotenceKey)
		if rec.Status.Terminal() {
			continue
		}
		d.commands.live[id] = struct{}{}

		windowed := rec.NotBeforeAt != nil && rec.NotAfterAt != nil
		switch {
		case windowed && !now.Before(*rec.NotAfterAt):
			if rec.Status == StatusPending || rec.Status == StatusDelayed {
				s.setStatusLocked(t, StatusExpired, "window closed while the gateway was down", now)
			} else {
				s.setStatusLocked(t, StatusFailed, "not completed before not_after", now)
			}
			changed = append(changed, rec.Clone())
		case windowed:
			if rec.Status == StatusPending || rec.Status == StatusDelayed {
				if rec.Status == StatusPending {
					s.setStatusLocked(t, StatusDelayed, "restored", now)
					changed = append(changed, rec.Clone())
				}
				t.start = s.clock.AfterFunc(max(rec.NotBeforeAt.Sub(now), 0), func() { s.fire(id) })
			}
			t.expiry = s.clock.AfterFunc(rec.NotAfterAt.Sub(now), func() { s.expire(id) })
		case rec.Status == StatusSent || rec.Status == StatusReceived:
		default:
			s.setStatusLocked(t, StatusFailed, "loaded from database, not meant to be called later", now)
			changed = append(changed, rec.Clone())
		}
	}
	d.mu.Unlock()

	for _, rec := range changed {
		s.persist(ctx, rec)
	}
	log.Info().Str("device_id", d.ID()).Int("commands", len(recs)).Msg("Restored command history")
	return nil
}

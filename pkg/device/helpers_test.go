package device

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yombo/yombo-gateway-sub004/pkg/clock"
	"github.com/yombo/yombo-gateway-sub004/pkg/device/schema"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const testGateway = "gw-local"

type fakeCatalog struct {
	mu       sync.Mutex
	extra    map[string][]string
	commands map[string][]string
	schemas  map[string]json.RawMessage
	platform map[string]string
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		extra: map[string][]string{
			"switch-type": {"color"},
			"light-type":  {"color", "transition"},
		},
		commands: map[string][]string{
			"switch-type": {CommandOn, CommandOff},
			"light-type":  {CommandOn, CommandOff, "set_brightness"},
			"fan-type":    {CommandOn, CommandOff, "set_speed"},
		},
		schemas: map[string]json.RawMessage{
			"set_speed": json.RawMessage(`{
				"type": "object",
				"properties": {"speed": {"type": "integer", "minimum": 0, "maximum": 3}},
				"required": ["speed"]
			}`),
		},
		platform: map[string]string{
			"switch-type":  PlatformSwitch,
			"light-type":   PlatformLight,
			"fan-type":     PlatformFan,
			"generic-type": PlatformDevice,
		},
	}
}

func (c *fakeCatalog) ExtraFields(typeID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.extra[typeID]
}

func (c *fakeCatalog) setExtraFields(typeID string, fields ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extra[typeID] = fields
}

func (c *fakeCatalog) AvailableCommands(typeID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commands[typeID]
}

func (c *fakeCatalog) CommandInputSchema(typeID, commandID string) json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.schemas[commandID]
}

func (c *fakeCatalog) Kind(typeID string) Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return KindFor(c.platform[typeID])
}

type fakeDriver struct {
	mu       sync.Mutex
	executed []*CommandRecord
	err      error
}

func (d *fakeDriver) Execute(ctx context.Context, rec *CommandRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.executed = append(d.executed, rec)
	return d.err
}

func (d *fakeDriver) calls() []*CommandRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*CommandRecord(nil), d.executed...)
}

type memStore struct {
	mu       sync.Mutex
	commands map[string]*CommandRecord
	order    []string
	states   []*StateEntry
	fail     bool
}

func newMemStore() *memStore {
	return &memStore{commands: make(map[string]*CommandRecord)}
}

func (s *memStore) LoadRecentStates(ctx context.Context, deviceID string, limit int) ([]*StateEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*StateEntry
	for i := len(s.states) - 1; i >= 0 && len(out) < limit; i-- {
		if s.states[i].DeviceID == deviceID {
			out = append(out, s.states[i])
		}
	}
	return out, nil
}

func (s *memStore) LoadRecentCommands(ctx context.Context, deviceID string, limit int) ([]*CommandRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*CommandRecord
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		if rec := s.commands[s.order[i]]; rec.DeviceID == deviceID {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (s *memStore) UpsertCommand(ctx context.Context, rec *CommandRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("disk full")
	}
	if _, ok := s.commands[rec.DeviceCommandID]; !ok {
		s.order = append(s.order, rec.DeviceCommandID)
	}
	s.commands[rec.DeviceCommandID] = rec.Clone()
	return nil
}

func (s *memStore) UpsertState(ctx context.Context, entry *StateEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("disk full")
	}
	s.states = append(s.states, entry)
	return nil
}

func (s *memStore) command(id string) *CommandRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commands[id]
}

type recordingListener struct {
	mu     sync.Mutex
	events []StateChangedEvent
}

func (l *recordingListener) StateChanged(ctx context.Context, ev StateChangedEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *recordingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

type countingTrigger struct {
	mu sync.Mutex
	n  int
}

func (c *countingTrigger) Trigger() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

type testEnv struct {
	clock    *clock.Fake
	catalog  *fakeCatalog
	driver   *fakeDriver
	store    *memStore
	sched    *Scheduler
	setter   *StateSetter
	listener *recordingListener
	trigger  *countingTrigger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		clock:    clock.NewFake(epoch),
		catalog:  newFakeCatalog(),
		driver:   &fakeDriver{},
		store:    newMemStore(),
		listener: &recordingListener{},
		trigger:  &countingTrigger{},
	}
	env.sched = NewScheduler(SchedulerConfig{
		Clock:     env.clock,
		GatewayID: testGateway,
		Catalog:   env.catalog,
		Driver:    env.driver,
		Store:     env.store,
		Validator: schema.NewValidator(),
	})
	env.setter = NewStateSetter(StateSetterConfig{
		Clock:     env.clock,
		GatewayID: testGateway,
		Catalog:   env.catalog,
		Store:     env.store,
		Scheduler: env.sched,
		Energy:    env.trigger,
	})
	env.setter.AddListener(env.listener)
	return env
}

func switchAttrs(id string) Attributes {
	return Attributes{
		DeviceID:     id,
		DeviceTypeID: "switch-type",
		GatewayID:    testGateway,
		LocationID:   "loc-home",
		AreaID:       "area-kitchen",
		Label:        "Ceiling Light",
		AreaLabel:    "Kitchen",
		Enabled:      true,
	}
}

func (env *testEnv) newDevice(t *testing.T, attrs Attributes, sizes HistorySizes) *Device {
	t.Helper()
	d := New(attrs, env.catalog.Kind(attrs.DeviceTypeID), sizes, env.clock.Now())
	require.NotNil(t, d)
	return d
}

func (env *testEnv) switchDevice(t *testing.T) *Device {
	return env.newDevice(t, switchAttrs("switch-1"), HistorySizes{Commands: 10, States: 10})
}

func dur(d time.Duration) *time.Duration { return &d }

func at(t time.Time) *time.Time { return &t }

package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yombo/yombo-gateway-sub004/pkg/catalog"
	"github.com/yombo/yombo-gateway-sub004/pkg/clock"
	"github.com/yombo/yombo-gateway-sub004/pkg/db"
	"github.com/yombo/yombo-gateway-sub004/pkg/device"
)

const testCatalog = `
locations:
  - id: loc-home
    label: Home
device_types:
  - id: switch-type
    platform: switch
    commands: [on, off]
  - id: light-type
    platform: light
    commands: [on, off]
    extra_fields: [brightness]
devices:
  - id: lamp
    device_type: light-type
    location: loc-home
    area_label: Den
    label: Lamp
    energy_type: electric
    energy_tracker_source: calculated
    energy_map:
      "0": 0
      "1": 100
  - id: porch
    device_type: switch-type
    label: Porch
  - id: neighbour
    device_type: switch-type
    gateway_id: gw-other
    label: Remote switch
`

type fakeDriver struct {
	mu   sync.Mutex
	sent []*device.CommandRecord
}

func (d *fakeDriver) Execute(_ context.Context, rec *device.CommandRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, rec.Clone())
	return nil
}

func (d *fakeDriver) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

type fixture struct {
	clock  *clock.Fake
	db     *db.DB
	cat    *catalog.Catalog
	driver *fakeDriver
	gw     *Gateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database, err := db.Open(db.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, database.Migrate(context.Background()))

	cat, err := catalog.Parse([]byte(testCatalog), "gw-local")
	require.NoError(t, err)

	f := &fixture{
		clock: clock.NewFake(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
		db:    database,
		cat:   cat,
	}
	f.gw = f.start(t)
	return f
}

// start builds a gateway over the fixture's clock, catalog and database
// and loads the catalog devices.
func (f *fixture) start(t *testing.T) *Gateway {
	t.Helper()
	f.driver = &fakeDriver{}
	gw := New(Config{
		GatewayID:  "gw-local",
		MemoryTier: device.TierXSmall,
		Clock:      f.clock,
		Catalog:    f.cat,
		Store:      f.db.History(),
		Driver:     f.driver,
	})
	require.NoError(t, gw.LoadDevices(context.Background(), f.cat.Devices()))
	return gw
}

func dur(d time.Duration) *time.Duration { return &d }

func TestLoadDevices_Capacities(t *testing.T) {
	f := newFixture(t)

	assert.Len(t, f.gw.Devices(), 3)
	lamp, err := f.gw.Device("lamp")
	require.NoError(t, err)
	assert.Equal(t, device.HistorySizes{Commands: 10, States: 10}, lamp.Capacities())
	assert.Equal(t, device.PlatformLight, lamp.Kind().Platform())

	remote, err := f.gw.Device("neighbour")
	require.NoError(t, err)
	assert.Equal(t, device.HistorySizes{Commands: 5, States: 5}, remote.Capacities())

	_, err = f.gw.LoadDevice(context.Background(), device.Attributes{DeviceID: "lamp", DeviceTypeID: "light-type"})
	assert.Error(t, err, "duplicate ids are rejected")
}

func TestSendCommand_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.gw.SendCommand(ctx, "porch", device.CommandRequest{Command: device.CommandOn})
	require.NoError(t, err)
	assert.Equal(t, device.StatusSent, rec.Status)
	assert.Equal(t, 1, f.driver.count())

	rec, err = f.gw.AcknowledgeCommand(ctx, rec.DeviceCommandID, device.StatusReceived, "")
	require.NoError(t, err)
	assert.Equal(t, device.StatusReceived, rec.Status)

	rec, err = f.gw.AcknowledgeCommand(ctx, rec.DeviceCommandID, device.StatusPending, "warming up")
	require.NoError(t, err)
	assert.Equal(t, device.StatusReceived, rec.Status)
	assert.NotNil(t, rec.PendingAt)

	rec, err = f.gw.AcknowledgeCommand(ctx, rec.DeviceCommandID, device.StatusDone, "")
	require.NoError(t, err)
	assert.Equal(t, device.StatusDone, rec.Status)

	_, err = f.gw.AcknowledgeCommand(ctx, rec.DeviceCommandID, device.StatusCancelled, "")
	assert.ErrorIs(t, err, device.ErrInvalidTransition)

	cmds, err := f.gw.Commands("porch")
	require.NoError(t, err)
	require.Len(t, cmds, 1)

	stored, err := f.db.History().LoadRecentCommands(ctx, "porch", 5)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, device.StatusDone, stored[0].Status)
}

func TestSendCommand_UnknownDevice(t *testing.T) {
	f := newFixture(t)
	_, err := f.gw.SendCommand(context.Background(), "ghost", device.CommandRequest{Command: device.CommandOn})
	assert.ErrorIs(t, err, device.ErrNotFound)

	_, err = f.gw.State("ghost")
	assert.ErrorIs(t, err, device.ErrNotFound)
	assert.ErrorIs(t, f.gw.RemoveDevice(context.Background(), "ghost"), device.ErrNotFound)
}

func TestRemoveDevice_CancelsDelayed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.gw.SendCommand(ctx, "porch", device.CommandRequest{Command: device.CommandOn, Delay: dur(5 * time.Second), MaxDelay: dur(10 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, device.StatusDelayed, rec.Status)

	require.NoError(t, f.gw.RemoveDevice(ctx, "porch"))
	f.clock.Advance(time.Minute)
	assert.Equal(t, 0, f.driver.count())

	stored, err := f.db.History().LoadRecentCommands(ctx, "porch", 5)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, device.StatusCancelled, stored[0].Status)

	_, err = f.gw.Command(rec.DeviceCommandID)
	assert.ErrorIs(t, err, device.ErrNotFound)
}

func TestSetEnabled_DisableCancelsDelayed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.gw.SendCommand(ctx, "porch", device.CommandRequest{Command: device.CommandOn, Delay: dur(5 * time.Second)})
	require.NoError(t, err)

	require.NoError(t, f.gw.SetEnabled(ctx, "porch", false))
	got, err := f.gw.Command(rec.DeviceCommandID)
	require.NoError(t, err)
	assert.Equal(t, device.StatusCancelled, got.Status)

	_, err = f.gw.SendCommand(ctx, "porch", device.CommandRequest{Command: device.CommandOn})
	assert.ErrorIs(t, err, device.ErrDeviceDisabled)
}

func TestRestart_RearmsDelayedCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.gw.SendCommand(ctx, "porch", device.CommandRequest{Command: device.CommandOn, Delay: dur(5 * time.Second), MaxDelay: dur(10 * time.Second)})
	require.NoError(t, err)
	f.gw.Shutdown(ctx)
	assert.Empty(t, f.gw.Devices())
	assert.Equal(t, 0, f.clock.Pending())

	f.clock.Advance(2 * time.Second)
	gw := f.start(t)

	delayed, err := gw.DelayedCommands("porch")
	require.NoError(t, err)
	require.Len(t, delayed, 1)
	assert.Equal(t, rec.DeviceCommandID, delayed[0].DeviceCommandID)

	f.clock.Advance(3 * time.Second)
	assert.Equal(t, 1, f.driver.count())
	got, err := gw.Command(rec.DeviceCommandID)
	require.NoError(t, err)
	assert.Equal(t, device.StatusSent, got.Status)

	pending, err := gw.PendingCommands("porch")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestSetState_EnergyTotals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.gw.SetState(ctx, "lamp", device.StateUpdate{MachineState: device.Float(1), Extra: device.Extra{"brightness": 40}})
	require.NoError(t, err)
	assert.Equal(t, 40.0, entry.EnergyUsage)
	assert.Equal(t, "Den is now On (40%)", entry.HumanMessage)
	assert.Equal(t, device.CommandOn, entry.CommandID)

	f.clock.Advance(time.Second)
	totals := f.gw.EnergyTotals()
	assert.Equal(t, 40.0, totals["Home"][device.EnergyElectric])
	assert.Equal(t, 40.0, totals["total"][device.EnergyElectric])

	history, err := f.gw.StateHistory("lamp")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestReportState_Debounced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.gw.ReportState(ctx, "lamp", device.StateUpdate{MachineState: device.Float(1)}))
	require.NoError(t, f.gw.ReportState(ctx, "lamp", device.StateUpdate{Extra: device.Extra{"brightness": 80}}))

	state, err := f.gw.State("lamp")
	require.NoError(t, err)
	assert.True(t, state.Fake)

	f.clock.Advance(device.DefaultDebounceDelay)
	state, err = f.gw.State("lamp")
	require.NoError(t, err)
	assert.False(t, state.Fake)
	assert.Equal(t, 1.0, state.MachineState)
	assert.Equal(t, 80, state.MachineStateExtra["brightness"])

	assert.ErrorIs(t, f.gw.ReportState(ctx, "ghost", device.StateUpdate{}), device.ErrNotFound)
}

func TestShutdown_FlushesPendingState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.gw.SetStateDelayed("porch", device.StateUpdate{MachineState: device.Float(1)}, time.Minute))
	f.gw.Shutdown(ctx)

	stored, err := f.db.History().LoadRecentStates(ctx, "porch", 5)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 1.0, stored[0].MachineState)
}

func TestDriverConnected(t *testing.T) {
	gw := New(Config{GatewayID: "gw"})
	assert.False(t, gw.DriverConnected())

	gw.SetDriver(&fakeDriver{})
	assert.True(t, gw.DriverConnected())
}

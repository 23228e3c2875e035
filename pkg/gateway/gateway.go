// Package gateway assembles the device registry, the command scheduler, the
// state setter and the energy aggregator into one runtime that the REST and
// MCP surfaces and the drivers talk to.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yombo/yombo-gateway-sub004/pkg/clock"
	"github.com/yombo/yombo-gateway-sub004/pkg/device"
	"github.com/yombo/yombo-gateway-sub004/pkg/device/schema"
	"github.com/yombo/yombo-gateway-sub004/pkg/energy"
)

// Catalog resolves device types and location labels.
type Catalog interface {
	device.TypeCatalog
	energy.LocationResolver
}

// Config wires a Gateway. Nil collaborators get inert defaults.
type Config struct {
	GatewayID     string
	MemoryTier    device.MemoryTier
	DebounceDelay time.Duration
	Clock         clock.Clock
	Catalog       Catalog
	Store         device.Store
	Driver        device.Driver
	Metrics       device.MetricsSink
	Listeners     []device.StateListener
	// EnergyDelay defaults to energy.DefaultDelay
	EnergyDelay time.Duration
}

// Gateway owns every loaded device.
type Gateway struct {
	gatewayID string
	tier      device.MemoryTier
	clock     clock.Clock
	catalog   Catalog
	driver    device.Driver

	registry  *device.Registry
	scheduler *device.Scheduler
	setter    *device.StateSetter
	energy    *energy.Aggregator
}

// New creates a Gateway with no devices loaded.
func New(cfg Config) *Gateway {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Store == nil {
		cfg.Store = device.NullStore{}
	}
	if cfg.Driver == nil {
		cfg.Driver = device.NewNullDriver()
	}
	if cfg.MemoryTier == "" {
		cfg.MemoryTier = device.TierMedium
	}

	g := &Gateway{
		gatewayID: cfg.GatewayID,
		tier:      cfg.MemoryTier,
		clock:     cfg.Clock,
		catalog:   cfg.Catalog,
		driver:    cfg.Driver,
		registry:  device.NewRegistry(),
	}

	var typeCatalog device.TypeCatalog
	var locations energy.LocationResolver
	if cfg.Catalog != nil {
		typeCatalog = cfg.Catalog
		locations = cfg.Catalog
	}

	g.scheduler = device.NewScheduler(device.SchedulerConfig{
		Clock:     cfg.Clock,
		GatewayID: cfg.GatewayID,
		Catalog:   typeCatalog,
		Driver:    cfg.Driver,
		Store:     cfg.Store,
		Validator: schema.NewValidator(),
	})
	g.energy = energy.NewAggregator(energy.Config{
		Clock:     cfg.Clock,
		Delay:     cfg.EnergyDelay,
		Devices:   g.registry,
		Locations: locations,
		Sink:      cfg.Metrics,
	})
	g.setter = device.NewStateSetter(device.StateSetterConfig{
		Clock:         cfg.Clock,
		GatewayID:     cfg.GatewayID,
		Catalog:       typeCatalog,
		Store:         cfg.Store,
		Scheduler:     g.scheduler,
		Energy:        g.energy,
		DebounceDelay: cfg.DebounceDelay,
	})
	for _, l := range cfg.Listeners {
		g.setter.AddListener(l)
	}
	return g
}

// GatewayID returns the id of this gateway.
func (g *Gateway) GatewayID() string {
	return g.gatewayID
}

// SetDriver replaces the driver used for new dispatches.
func (g *Gateway) SetDriver(drv device.Driver) {
	g.driver = drv
	g.scheduler.SetDriver(drv)
}

// DriverConnected reports whether the driver can take commands. Drivers
// that cannot tell are assumed connected.
func (g *Gateway) DriverConnected() bool {
	type connector interface{ IsConnected() bool }
	if c, ok := g.driver.(connector); ok {
		return c.IsConnected()
	}
	_, isNull := g.driver.(*device.NullDriver)
	return !isNull
}

// LoadDevices loads every device and keeps going past failures.
func (g *Gateway) LoadDevices(ctx context.Context, devices []device.Attributes) error {
	var errs []error
	for _, attrs := range devices {
		if _, err := g.LoadDevice(ctx, attrs); err != nil {
			errs = append(errs, err)
		}
	}
	log.Info().Int("devices", g.registry.Len()).Msg("Devices loaded")
	return errors.Join(errs...)
}

// LoadDevice creates a device, sizes its history by memory tier and restores
// its recent history from the store.
func (g *Gateway) LoadDevice(ctx context.Context, attrs device.Attributes) (*device.Device, error) {
	var kind device.Kind
	if g.catalog != nil {
		kind = g.catalog.Kind(attrs.DeviceTypeID)
	} else {
		kind = device.KindFor("")
	}
	local := attrs.GatewayID == "" || attrs.GatewayID == g.gatewayID
	if attrs.GatewayID == "" {
		attrs.GatewayID = g.gatewayID
	}

	sizes, err := g.tier.Sizes(local)
	if err != nil {
		return nil, err
	}
	d := device.New(attrs, kind, sizes, g.clock.Now())
	if err := g.registry.Add(d); err != nil {
		return nil, err
	}
	if err := g.setter.Restore(ctx, d); err != nil {
		log.Warn().Err(err).Str("device_id", attrs.DeviceID).Msg("Failed to restore state history")
	}
	if err := g.scheduler.Restore(ctx, d); err != nil {
		log.Warn().Err(err).Str("device_id", attrs.DeviceID).Msg("Failed to restore command history")
	}
	log.Debug().
		Str("device_id", attrs.DeviceID).
		Str("platform", kind.Platform()).
		Bool("local", local).
		Msg("Device loaded")
	return d, nil
}

// RemoveDevice cancels the device's delayed commands and unloads it.
func (g *Gateway) RemoveDevice(ctx context.Context, id string) error {
	d, err := g.registry.Remove(id)
	if err != nil {
		return err
	}
	n := g.scheduler.RemoveDelayed(ctx, d)
	g.scheduler.Forget(d)
	g.energy.Trigger()
	log.Info().Str("device_id", id).Int("cancelled", n).Msg("Device removed")
	return nil
}

// SetEnabled enables or disables a device. Disabling cancels its delayed
// commands.
func (g *Gateway) SetEnabled(ctx context.Context, id string, enabled bool) error {
	d, err := g.registry.Get(id)
	if err != nil {
		return err
	}
	d.SetEnabled(enabled)
	if !enabled {
		g.scheduler.RemoveDelayed(ctx, d)
	}
	return nil
}

// Device returns a loaded device.
func (g *Gateway) Device(id string) (*device.Device, error) {
	return g.registry.Get(id)
}

// Devices returns every loaded device sorted by id.
func (g *Gateway) Devices() []*device.Device {
	return g.registry.List()
}

// SendCommand schedules a command on a device.
func (g *Gateway) SendCommand(ctx context.Context, deviceID string, req device.CommandRequest) (*device.CommandRecord, error) {
	d, err := g.registry.Get(deviceID)
	if err != nil {
		return nil, err
	}
	return g.scheduler.Schedule(ctx, d, req)
}

// CancelCommand cancels a pending or delayed command.
func (g *Gateway) CancelCommand(ctx context.Context, id string) (*device.CommandRecord, error) {
	return g.scheduler.Cancel(ctx, id)
}

// Command returns a command record by device command id.
func (g *Gateway) Command(id string) (*device.CommandRecord, error) {
	return g.scheduler.Command(id)
}

// Commands returns a device's command history, newest first.
func (g *Gateway) Commands(deviceID string) ([]*device.CommandRecord, error) {
	d, err := g.registry.Get(deviceID)
	if err != nil {
		return nil, err
	}
	return g.scheduler.Commands(d), nil
}

// DelayedCommands returns a device's commands waiting for their window.
func (g *Gateway) DelayedCommands(deviceID string) ([]*device.CommandRecord, error) {
	d, err := g.registry.Get(deviceID)
	if err != nil {
		return nil, err
	}
	return g.scheduler.DelayedCommands(d), nil
}

// PendingCommands returns a device's unfinished commands.
func (g *Gateway) PendingCommands(deviceID string) ([]*device.CommandRecord, error) {
	d, err := g.registry.Get(deviceID)
	if err != nil {
		return nil, err
	}
	return g.scheduler.PendingCommands(d), nil
}

// AcknowledgeCommand routes a driver report to the matching record callback.
func (g *Gateway) AcknowledgeCommand(ctx context.Context, id string, status device.Status, message string) (*device.CommandRecord, error) {
	switch status {
	case device.StatusReceived:
		return g.scheduler.DeviceCommandReceived(ctx, id, message)
	case device.StatusPending:
		return g.scheduler.DeviceCommandPending(ctx, id, message)
	case device.StatusDone:
		return g.scheduler.DeviceCommandDone(ctx, id, message)
	case device.StatusFailed:
		return g.scheduler.DeviceCommandFailed(ctx, id, message)
	}
	return nil, fmt.Errorf("acknowledge %s with %s: %w", id, status, device.ErrInvalidTransition)
}

// SetState records a state right away.
func (g *Gateway) SetState(ctx context.Context, deviceID string, u device.StateUpdate) (*device.StateEntry, error) {
	d, err := g.registry.Get(deviceID)
	if err != nil {
		return nil, err
	}
	return g.setter.SetState(ctx, d, u)
}

// SetStateDelayed folds u into the device's debounce window. A zero delay
// uses the configured default.
func (g *Gateway) SetStateDelayed(deviceID string, u device.StateUpdate, delay time.Duration) error {
	d, err := g.registry.Get(deviceID)
	if err != nil {
		return err
	}
	return g.setter.SetStateDelayed(d, u, delay)
}

// ReportState takes a state report from a driver. Reports are debounced.
func (g *Gateway) ReportState(_ context.Context, deviceID string, u device.StateUpdate) error {
	return g.SetStateDelayed(deviceID, u, 0)
}

// State returns the current state of a device.
func (g *Gateway) State(deviceID string) (*device.StateEntry, error) {
	d, err := g.registry.Get(deviceID)
	if err != nil {
		return nil, err
	}
	return d.CurrentState(), nil
}

// StateHistory returns a device's recorded states, newest first.
func (g *Gateway) StateHistory(deviceID string) ([]*device.StateEntry, error) {
	d, err := g.registry.Get(deviceID)
	if err != nil {
		return nil, err
	}
	return d.StateHistory(), nil
}

// EnergyTotals returns the last reported fleet energy totals.
func (g *Gateway) EnergyTotals() energy.Totals {
	return g.energy.Totals()
}

// RecomputeEnergy runs an aggregation pass right away.
func (g *Gateway) RecomputeEnergy() energy.Totals {
	return g.energy.Recompute()
}

// Shutdown flushes debounced states and unloads every device. Delayed
// commands stay delayed in the store and are re-armed on the next start.
func (g *Gateway) Shutdown(ctx context.Context) {
	g.setter.Flush(ctx, g.registry.List())
	g.energy.Stop()
	for _, d := range g.registry.Drain() {
		g.scheduler.Forget(d)
	}
	log.Info().Msg("Gateway stopped")
}

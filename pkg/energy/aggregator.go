// Package energy sums the current energy usage of all devices per location
// and energy type and reports changed buckets to a metrics sink.
package energy

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yombo/yombo-gateway-sub004/pkg/clock"
	"github.com/yombo/yombo-gateway-sub004/pkg/device"
)

// TotalBucket is the synthetic location that sums every device.
const TotalBucket = "total"

// DefaultDelay is how long the aggregator waits after a trigger before it
// recomputes.
const DefaultDelay = time.Second

// DeviceSource lists the devices to aggregate. *device.Registry satisfies it.
type DeviceSource interface {
	List() []*device.Device
}

// LocationResolver maps a location id to its label.
type LocationResolver interface {
	LocationLabel(id string) (string, bool)
}

// Totals maps a location label to usage per energy type.
type Totals map[string]map[device.EnergyType]float64

// Config wires an Aggregator.
type Config struct {
	Clock     clock.Clock
	Delay     time.Duration
	Devices   DeviceSource
	Locations LocationResolver
	Sink      device.MetricsSink
}

// Aggregator implements device.EnergyTrigger. Triggers arriving while a
// recomputation is scheduled are absorbed by it.
type Aggregator struct {
	clock     clock.Clock
	delay     time.Duration
	devices   DeviceSource
	locations LocationResolver
	sink      device.MetricsSink

	// passMu serializes whole recompute passes so a slow pass cannot
	// report its older snapshot after a newer one.
	passMu sync.Mutex

	mu       sync.Mutex
	pending  bool
	timer    clock.Timer
	reported Totals
}

var _ device.EnergyTrigger = (*Aggregator)(nil)

// NewAggregator creates an Aggregator.
func NewAggregator(cfg Config) *Aggregator {
	a := &Aggregator{
		clock:     cfg.Clock,
		delay:     cfg.Delay,
		devices:   cfg.Devices,
		locations: cfg.Locations,
		sink:      cfg.Sink,
		reported:  Totals{},
	}
	if a.clock == nil {
		a.clock = clock.Real{}
	}
	if a.delay <= 0 {
		a.delay = DefaultDelay
	}
	return a
}

// Trigger schedules a recomputation unless one is already pending.
func (a *Aggregator) Trigger() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending {
		return
	}
	a.pending = true
	a.timer = a.clock.AfterFunc(a.delay, a.run)
}

// Stop cancels a pending recomputation.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.pending = false
}

func (a *Aggregator) run() {
	a.mu.Lock()
	a.pending = false
	a.timer = nil
	a.mu.Unlock()
	a.Recompute()
}

// Recompute sums device heads now and reports every bucket that changed
// since the last report. The first time a location is seen all of its
// energy types are reported.
func (a *Aggregator) Recompute() Totals {
	a.passMu.Lock()
	defer a.passMu.Unlock()

	current := a.collect()

	type point struct {
		name  string
		value float64
	}
	var out []point

	a.mu.Lock()
	locations := make([]string, 0, len(current)+len(a.reported))
	for loc := range current {
		locations = append(locations, loc)
	}
	for loc := range a.reported {
		if _, ok := current[loc]; !ok {
			locations = append(locations, loc)
		}
	}
	sort.Strings(locations)

	for _, loc := range locations {
		prev, seen := a.reported[loc]
		if !seen {
			prev = map[device.EnergyType]float64{}
			a.reported[loc] = prev
		}
		for _, et := range device.EnergyTypes {
			v := current[loc][et]
			if seen && prev[et] == v {
				continue
			}
			prev[et] = v
			out = append(out, point{name: "energy." + loc + "." + string(et), value: v})
		}
	}
	a.mu.Unlock()

	if a.sink != nil {
		for _, p := range out {
			a.sink.Datapoint(p.name, p.value)
		}
	}
	log.Debug().Int("datapoints", len(out)).Msg("energy totals recomputed")
	return current
}

// collect snapshots each device head, one device lock at a time.
func (a *Aggregator) collect() Totals {
	totals := Totals{TotalBucket: {}}
	if a.devices == nil {
		return totals
	}
	for _, d := range a.devices.List() {
		head := d.CurrentState()
		if head == nil || head.Fake || !head.EnergyType.Tracked() {
			continue
		}
		attrs := d.Attributes()
		totals[TotalBucket][head.EnergyType] += head.EnergyUsage
		if label := a.locationLabel(attrs.LocationID); label != "" {
			if totals[label] == nil {
				totals[label] = map[device.EnergyType]float64{}
			}
			totals[label][head.EnergyType] += head.EnergyUsage
		}
	}
	for _, bucket := range totals {
		for et, v := range bucket {
			bucket[et] = Round(et, v)
		}
	}
	return totals
}

func (a *Aggregator) locationLabel(id string) string {
	if id == "" {
		return ""
	}
	if a.locations != nil {
		if label, ok := a.locations.LocationLabel(id); ok {
			return label
		}
	}
	return id
}

// Totals returns the last reported totals.
func (a *Aggregator) Totals() Totals {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(Totals, len(a.reported))
	for loc, bucket := range a.reported {
		cp := make(map[device.EnergyType]float64, len(bucket))
		for et, v := range bucket {
			cp[et] = v
		}
		out[loc] = cp
	}
	return out
}

// Round applies the reporting precision of an energy type: electric to
// whole units, gas and water to 3 decimals, noise to 1.
func Round(et device.EnergyType, v float64) float64 {
	switch et {
	case device.EnergyElectric:
		return math.Round(v)
	case device.EnergyGas, device.EnergyWater:
		return math.Round(v*1000) / 1000
	case device.EnergyNoise:
		return math.Round(v*10) / 10
	}
	return v
}

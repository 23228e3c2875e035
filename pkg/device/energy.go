package device

import (
	"fmt"
	"sort"
)

// Breakpoint maps a device percentage in [0,1] to a usage rate.
type Breakpoint struct {
	Percent float64 `json:"percent" yaml:"percent"`
	Rate    float64 `json:"rate" yaml:"rate"`
}

// EnergyMap is a breakpoint table sorted by percent, spanning [0,1].
type EnergyMap []Breakpoint

// DefaultEnergyMap reports zero usage across the whole range.
func DefaultEnergyMap() EnergyMap {
	return EnergyMap{{Percent: 0, Rate: 0}, {Percent: 1, Rate: 0}}
}

// NormalizeEnergyMap sorts m and checks that it starts at 0 and ends at 1
// with strictly increasing percentages. Anything else yields the default map.
func NormalizeEnergyMap(m EnergyMap) EnergyMap {
	if len(m) < 2 {
		return DefaultEnergyMap()
	}
	out := append(EnergyMap(nil), m...)
	sort.Slice(out, func(i, j int) bool { return out[i].Percent < out[j].Percent })
	if out[0].Percent != 0 || out[len(out)-1].Percent != 1 {
		return DefaultEnergyMap()
	}
	for i := 1; i < len(out); i++ {
		if out[i].Percent <= out[i-1].Percent {
			return DefaultEnergyMap()
		}
	}
	return out
}

// Usage interpolates the usage rate at percent between the two bracketing
// breakpoints.
func (m EnergyMap) Usage(percent float64) (float64, error) {
	for i := 0; i+1 < len(m); i++ {
		p0, p1 := m[i], m[i+1]
		if p0.Percent <= percent && percent <= p1.Percent {
			if p1.Percent == p0.Percent {
				return p0.Rate, nil
			}
			return p0.Rate + (percent-p0.Percent)/(p1.Percent-p0.Percent)*(p1.Rate-p0.Rate), nil
		}
	}
	return 0, fmt.Errorf("percent %v outside energy map: %w", percent, ErrEnergyMapExhausted)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Energy computes the usage for a prospective state of d. Devices not tracked
// by calculation report zero of their energy type.
func Energy(d *Device, machineState float64, extra Extra) (float64, EnergyType, error) {
	d.mu.Lock()
	attrs, kind := d.attrs, d.kind
	d.mu.Unlock()
	return energyFor(&attrs, kind, machineState, extra)
}

func energyFor(attrs *Attributes, kind Kind, machineState float64, extra Extra) (float64, EnergyType, error) {
	if attrs.EnergyTrackerSource != EnergySourceCalculated || len(attrs.EnergyMap) == 0 {
		return 0, attrs.EnergyType, nil
	}
	percent := clamp01(kind.Percent(machineState, extra))
	usage, err := attrs.EnergyMap.Usage(percent)
	if err != nil {
		return 0, attrs.EnergyType, fmt.Errorf("device %s: %w", attrs.DeviceID, err)
	}
	return usage, attrs.EnergyType, nil
}

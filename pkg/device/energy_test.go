package device

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnergyMap_Interpolation(t *testing.T) {
	m := NormalizeEnergyMap(EnergyMap{{0, 0}, {0.5, 100}, {1, 400}})

	tests := []struct {
		percent float64
		expect  float64
	}{
		{0, 0},
		{0.25, 50},
		{0.5, 100},
		{0.75, 250},
		{1, 400},
	}
	for _, tt := range tests {
		got, err := m.Usage(tt.percent)
		require.NoError(t, err)
		assert.InDelta(t, tt.expect, got, 1e-9, "percent %v", tt.percent)
	}
}

func TestEnergyMap_Exhausted(t *testing.T) {
	m := EnergyMap{{0, 0}, {0.5, 100}}
	_, err := m.Usage(0.75)
	assert.ErrorIs(t, err, ErrEnergyMapExhausted)

	_, err = DefaultEnergyMap().Usage(math.NaN())
	assert.ErrorIs(t, err, ErrEnergyMapExhausted)
}

func TestNormalizeEnergyMap(t *testing.T) {
	tests := []struct {
		name   string
		in     EnergyMap
		expect EnergyMap
	}{
		{"nil", nil, DefaultEnergyMap()},
		{"single point", EnergyMap{{0, 5}}, DefaultEnergyMap()},
		{"unsorted", EnergyMap{{1, 60}, {0, 1}}, EnergyMap{{0, 1}, {1, 60}}},
		{"does not start at zero", EnergyMap{{0.1, 1}, {1, 60}}, DefaultEnergyMap()},
		{"does not reach one", EnergyMap{{0, 1}, {0.9, 60}}, DefaultEnergyMap()},
		{"duplicate key", EnergyMap{{0, 1}, {0.5, 2}, {0.5, 3}, {1, 4}}, DefaultEnergyMap()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, NormalizeEnergyMap(tt.in))
		})
	}
}

func TestEnergy_NotCalculated(t *testing.T) {
	env := newTestEnv(t)
	attrs := switchAttrs("sw")
	attrs.EnergyType = EnergyElectric
	attrs.EnergyMap = EnergyMap{{0, 0}, {1, 60}}
	d := env.newDevice(t, attrs, HistorySizes{Commands: 2, States: 2})

	usage, et, err := Energy(d, 1, nil)
	require.NoError(t, err)
	assert.Zero(t, usage)
	assert.Equal(t, EnergyElectric, et)
}

func TestEnergy_ClampsPercent(t *testing.T) {
	env := newTestEnv(t)
	attrs := switchAttrs("sw")
	attrs.EnergyType = EnergyElectric
	attrs.EnergyTrackerSource = EnergySourceCalculated
	attrs.EnergyMap = EnergyMap{{0, 0}, {0.5, 100}, {1, 400}}
	d := env.newDevice(t, attrs, HistorySizes{Commands: 2, States: 2})

	usage, _, err := Energy(d, 0.25, nil)
	require.NoError(t, err)
	assert.InDelta(t, 50, usage, 1e-9)

	usage, _, err = Energy(d, 7, nil)
	require.NoError(t, err)
	assert.InDelta(t, 400, usage, 1e-9)

	usage, _, err = Energy(d, -2, nil)
	require.NoError(t, err)
	assert.Zero(t, usage)
}

func TestKinds(t *testing.T) {
	assert.Equal(t, PlatformDevice, KindFor("unknown").Platform())

	fan := KindFor(PlatformFan)
	assert.InDelta(t, 2.0/3, fan.Percent(1, Extra{"speed": 2}), 1e-9)
	assert.Equal(t, "Medium", fan.HumanState(1, Extra{"speed": 2}))
	assert.Equal(t, "Off", fan.HumanState(0, Extra{"speed": 2}))

	light := KindFor(PlatformLight)
	assert.InDelta(t, 0.4, light.Percent(1, Extra{"brightness": 40}), 1e-9)
	assert.Equal(t, "On (40%)", light.HumanState(1, Extra{"brightness": 40}))

	cover := KindFor(PlatformGarageDoor)
	assert.Equal(t, PlatformGarageDoor, cover.Platform())
	assert.Equal(t, "Opened", cover.HumanState(1, nil))
	assert.Equal(t, []string{CommandOpen, CommandClose}, cover.ToggleCommands())

	sensor := KindFor(PlatformSensor)
	assert.Equal(t, "High", sensor.HumanState(1, nil))
	assert.False(t, sensor.DefaultFeatures().Has(FeatureControllable))
	assert.Equal(t, []string{CommandLow}, sensor.StateCommands(0))

	climate := KindFor(PlatformClimate)
	assert.Equal(t, 1.0, climate.Percent(21.5, nil))

	assert.Equal(t, []string{CommandOn, CommandOff}, KindFor(PlatformSwitch).ToggleCommands())
	assert.Nil(t, KindFor(PlatformDevice).ToggleCommands())
	assert.InDelta(t, 0.33, KindFor(PlatformDevice).Percent(0.333, nil), 1e-9)
}

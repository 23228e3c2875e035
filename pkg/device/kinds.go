package device

import (
	"fmt"
	"math"
)

// Kind carries the behaviour that differs between device categories.
// Implementations are stateless and shared by every device of a platform.
type Kind interface {
	Platform() string
	// Percent maps a state to how "on" the device is, normally in [0,1].
	Percent(machineState float64, extra Extra) float64
	HumanState(machineState float64, extra Extra) string
	// StateCommands lists commands that could have produced machineState,
	// most likely first.
	StateCommands(machineState float64) []string
	DefaultFeatures() Features
	ToggleCommands() []string
	ExtraFields() []string
}

// Platforms
const (
	PlatformDevice     = "device"
	PlatformSwitch     = "switch"
	PlatformRelay      = "relay"
	PlatformLight      = "light"
	PlatformFan        = "fan"
	PlatformCover      = "cover"
	PlatformDoor       = "door"
	PlatformGarageDoor = "garage_door"
	PlatformWindow     = "window"
	PlatformSensor     = "sensor"
	PlatformClimate    = "climate"
)

var kinds = map[string]Kind{
	PlatformDevice:     genericKind{},
	PlatformSwitch:     switchKind{},
	PlatformRelay:      relayKind{},
	PlatformLight:      lightKind{},
	PlatformFan:        fanKind{},
	PlatformCover:      coverKind{platform: PlatformCover},
	PlatformDoor:       coverKind{platform: PlatformDoor},
	PlatformGarageDoor: coverKind{platform: PlatformGarageDoor},
	PlatformWindow:     coverKind{platform: PlatformWindow},
	PlatformSensor:     sensorKind{},
	PlatformClimate:    climateKind{},
}

// KindFor returns the Kind registered for platform, falling back to the
// generic device kind.
func KindFor(platform string) Kind {
	if k, ok := kinds[platform]; ok {
		return k
	}
	return genericKind{}
}

// genericKind is the plain on/off device every other kind builds on.
type genericKind struct{}

func (genericKind) Platform() string { return PlatformDevice }

func (genericKind) Percent(machineState float64, _ Extra) float64 {
	switch {
	case machineState <= 0:
		return 0
	case machineState <= 1:
		return math.Round(machineState*100) / 100
	}
	return 1
}

func (genericKind) HumanState(machineState float64, _ Extra) string {
	if machineState == 1 {
		return "On"
	}
	return "Off"
}

func (genericKind) StateCommands(machineState float64) []string {
	switch machineState {
	case 1:
		return []string{CommandOn, CommandOpen, CommandHigh}
	case 0:
		return []string{CommandOff, CommandClose, CommandLow}
	}
	return nil
}

func (genericKind) DefaultFeatures() Features {
	return Features{
		FeatureControllable:       true,
		FeatureAllowDirectControl: true,
		FeatureSceneControllable:  true,
		FeatureAllowInScenes:      true,
		FeatureSendUpdates:        true,
	}
}

func (genericKind) ToggleCommands() []string { return nil }

func (genericKind) ExtraFields() []string { return nil }

type switchKind struct{ genericKind }

func (switchKind) Platform() string { return PlatformSwitch }

func (switchKind) ToggleCommands() []string { return []string{CommandOn, CommandOff} }

func (switchKind) DefaultFeatures() Features {
	f := genericKind{}.DefaultFeatures()
	f[FeaturePingable] = true
	f[FeaturePollable] = true
	f[FeatureSendUpdates] = false
	return f
}

type relayKind struct{ switchKind }

func (relayKind) Platform() string { return PlatformRelay }

func (relayKind) ToggleCommands() []string { return []string{CommandOpen, CommandClose} }

func (relayKind) HumanState(machineState float64, _ Extra) string {
	if machineState > 0 {
		return "Opened"
	}
	return "Closed"
}

type lightKind struct{ switchKind }

func (lightKind) Platform() string { return PlatformLight }

// Percent prefers the brightness extra (0-100) when the driver reports one.
func (lightKind) Percent(machineState float64, extra Extra) float64 {
	if machineState <= 0 {
		return 0
	}
	if b, ok := toFloat(extra["brightness"]); ok {
		return b / 100
	}
	return genericKind{}.Percent(machineState, extra)
}

func (k lightKind) HumanState(machineState float64, extra Extra) string {
	switch p := k.Percent(machineState, extra); {
	case p <= 0:
		return "Off"
	case p >= 1:
		return "On"
	default:
		return fmt.Sprintf("On (%d%%)", int(math.Round(p*100)))
	}
}

func (lightKind) ExtraFields() []string { return []string{"brightness"} }

type fanKind struct{ switchKind }

var fanSpeedNames = []string{"Off", "Low", "Medium", "High"}

func (fanKind) Platform() string { return PlatformFan }

// Percent maps the speed extra (0 off, 3 high) onto [0,1].
func (fanKind) Percent(machineState float64, extra Extra) float64 {
	if machineState <= 0 {
		return 0
	}
	if s, ok := toFloat(extra["speed"]); ok {
		return s / 3
	}
	return genericKind{}.Percent(machineState, extra)
}

func (fanKind) HumanState(machineState float64, extra Extra) string {
	if machineState <= 0 {
		return "Off"
	}
	if s, ok := toFloat(extra["speed"]); ok {
		i := int(math.Round(s))
		if i >= 0 && i < len(fanSpeedNames) {
			return fanSpeedNames[i]
		}
	}
	return "On"
}

func (fanKind) ExtraFields() []string { return []string{"direction", "speed"} }

type coverKind struct {
	genericKind
	platform string
}

func (k coverKind) Platform() string { return k.platform }

func (coverKind) HumanState(machineState float64, _ Extra) string {
	if machineState == 1 {
		return "Opened"
	}
	return "Closed"
}

func (coverKind) ToggleCommands() []string { return []string{CommandOpen, CommandClose} }

func (coverKind) ExtraFields() []string { return []string{"percent"} }

type sensorKind struct{ genericKind }

func (sensorKind) Platform() string { return PlatformSensor }

func (sensorKind) HumanState(machineState float64, _ Extra) string {
	if machineState > 0 {
		return "High"
	}
	return "Low"
}

func (sensorKind) StateCommands(machineState float64) []string {
	switch machineState {
	case 1:
		return []string{CommandHigh}
	case 0:
		return []string{CommandLow}
	}
	return nil
}

func (sensorKind) DefaultFeatures() Features {
	return Features{FeaturePollable: true}
}

type climateKind struct{ genericKind }

func (climateKind) Platform() string { return PlatformClimate }

// Percent treats any running mode as full load.
func (climateKind) Percent(machineState float64, _ Extra) float64 {
	if machineState > 0 {
		return 1
	}
	return 0
}

func (climateKind) DefaultFeatures() Features {
	f := genericKind{}.DefaultFeatures()
	f[FeatureAllOn] = true
	f[FeatureAllOff] = true
	f[FeaturePingable] = true
	f[FeaturePollable] = true
	return f
}

func (climateKind) ExtraFields() []string { return []string{"temperature", "mode"} }

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// Package catalog loads device types, locations and the device inventory
// from a YAML file and serves them as in-memory lookups.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/yombo/yombo-gateway-sub004/pkg/device"
)

// RawCatalog is the YAML document.
type RawCatalog struct {
	Locations   []RawLocation   `yaml:"locations"`
	DeviceTypes []RawDeviceType `yaml:"device_types"`
	Devices     []RawDevice     `yaml:"devices"`
}

// RawLocation is a location or area that devices can be placed in.
type RawLocation struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
}

// RawDeviceType describes what a family of devices can do.
type RawDeviceType struct {
	ID          string   `yaml:"id"`
	Label       string   `yaml:"label"`
	Platform    string   `yaml:"platform"`
	Commands    []string `yaml:"commands"`
	ExtraFields []string `yaml:"extra_fields"`
	// Inputs maps a command id to the JSON Schema of its inputs
	Inputs map[string]map[string]any `yaml:"inputs"`
}

// RawDevice is one inventory entry.
type RawDevice struct {
	ID                  string             `yaml:"id"`
	DeviceType          string             `yaml:"device_type"`
	GatewayID           string             `yaml:"gateway_id"`
	Location            string             `yaml:"location"`
	Area                string             `yaml:"area"`
	AreaLabel           string             `yaml:"area_label"`
	Label               string             `yaml:"label"`
	Enabled             *bool              `yaml:"enabled"`
	PinRequired         bool               `yaml:"pin_required"`
	PinCode             string             `yaml:"pin_code"`
	Features            map[string]bool    `yaml:"features"`
	ToggleCommands      []string           `yaml:"toggle_commands"`
	EnergyType          string             `yaml:"energy_type"`
	EnergyTrackerSource string             `yaml:"energy_tracker_source"`
	EnergyMap           map[string]float64 `yaml:"energy_map"`
}

type deviceType struct {
	platform string
	commands []string
	extra    []string
	inputs   map[string]json.RawMessage
}

// Catalog implements device.TypeCatalog over a parsed YAML document.
type Catalog struct {
	types     map[string]*deviceType
	locations map[string]string
	devices   []device.Attributes
}

var _ device.TypeCatalog = (*Catalog)(nil)

// Parse builds a Catalog from YAML bytes. localGateway is assigned to
// devices that do not name their gateway.
func Parse(data []byte, localGateway string) (*Catalog, error) {
	var raw RawCatalog
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}

	c := &Catalog{
		types:     make(map[string]*deviceType),
		locations: make(map[string]string),
	}
	for _, l := range raw.Locations {
		if l.ID == "" {
			return nil, fmt.Errorf("location without id")
		}
		c.locations[l.ID] = l.Label
	}
	for _, rt := range raw.DeviceTypes {
		dt, err := buildType(rt)
		if err != nil {
			return nil, err
		}
		c.types[rt.ID] = dt
	}
	seen := make(map[string]bool)
	for _, rd := range raw.Devices {
		if seen[rd.ID] {
			return nil, fmt.Errorf("device %s listed twice", rd.ID)
		}
		seen[rd.ID] = true
		attrs, err := c.buildDevice(rd, localGateway)
		if err != nil {
			return nil, err
		}
		c.devices = append(c.devices, attrs)
	}
	return c, nil
}

// Load reads and parses a catalog file.
func Load(path, localGateway string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return Parse(data, localGateway)
}

func buildType(rt RawDeviceType) (*deviceType, error) {
	if rt.ID == "" {
		return nil, fmt.Errorf("device type without id")
	}
	dt := &deviceType{
		platform: rt.Platform,
		commands: rt.Commands,
		extra:    rt.ExtraFields,
		inputs:   make(map[string]json.RawMessage),
	}
	if dt.platform == "" {
		dt.platform = device.PlatformDevice
	}
	for command, schemaDoc := range rt.Inputs {
		raw, err := json.Marshal(schemaDoc)
		if err != nil {
			return nil, fmt.Errorf("device type %s: input schema for %s: %w", rt.ID, command, err)
		}
		dt.inputs[command] = raw
	}
	return dt, nil
}

func (c *Catalog) buildDevice(rd RawDevice, localGateway string) (device.Attributes, error) {
	if rd.ID == "" {
		return device.Attributes{}, fmt.Errorf("device without id")
	}
	if _, ok := c.types[rd.DeviceType]; !ok {
		return device.Attributes{}, fmt.Errorf("device %s: unknown device type %q", rd.ID, rd.DeviceType)
	}
	energyMap, err := parseEnergyMap(rd.EnergyMap)
	if err != nil {
		return device.Attributes{}, fmt.Errorf("device %s: %w", rd.ID, err)
	}

	attrs := device.Attributes{
		DeviceID:            rd.ID,
		DeviceTypeID:        rd.DeviceType,
		GatewayID:           rd.GatewayID,
		LocationID:          rd.Location,
		AreaID:              rd.Area,
		Label:               rd.Label,
		AreaLabel:           rd.AreaLabel,
		Enabled:             rd.Enabled == nil || *rd.Enabled,
		PinRequired:         rd.PinRequired,
		PinCode:             rd.PinCode,
		ToggleCommands:      rd.ToggleCommands,
		EnergyType:          device.EnergyType(rd.EnergyType),
		EnergyTrackerSource: rd.EnergyTrackerSource,
		EnergyMap:           energyMap,
	}
	if attrs.GatewayID == "" {
		attrs.GatewayID = localGateway
	}
	if attrs.AreaLabel == "" {
		attrs.AreaLabel = c.locations[rd.Area]
	}
	if len(rd.Features) > 0 {
		attrs.Features = make(device.Features, len(rd.Features))
		for k, v := range rd.Features {
			attrs.Features[device.Feature(k)] = v
		}
	}
	switch attrs.EnergyType {
	case "", device.EnergyNone, device.EnergyElectric, device.EnergyGas, device.EnergyWater, device.EnergyNoise:
	default:
		return device.Attributes{}, fmt.Errorf("device %s: unknown energy type %q", rd.ID, rd.EnergyType)
	}
	return attrs, nil
}

// parseEnergyMap converts "percent: rate" pairs. Shape problems are left to
// device.NormalizeEnergyMap.
func parseEnergyMap(m map[string]float64) (device.EnergyMap, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out := make(device.EnergyMap, 0, len(m))
	for k, rate := range m {
		p, err := strconv.ParseFloat(k, 64)
		if err != nil {
			return nil, fmt.Errorf("energy map key %q: %w", k, err)
		}
		out = append(out, device.Breakpoint{Percent: p, Rate: rate})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Percent < out[j].Percent })
	return out, nil
}

// Devices returns the inventory in file order.
func (c *Catalog) Devices() []device.Attributes {
	return append([]device.Attributes(nil), c.devices...)
}

// LocationLabel returns the label of a location id.
func (c *Catalog) LocationLabel(id string) (string, bool) {
	label, ok := c.locations[id]
	return label, ok && label != ""
}

// HasType reports whether the device type exists.
func (c *Catalog) HasType(deviceTypeID string) bool {
	_, ok := c.types[deviceTypeID]
	return ok
}

func (c *Catalog) ExtraFields(deviceTypeID string) []string {
	if dt, ok := c.types[deviceTypeID]; ok {
		return dt.extra
	}
	return nil
}

func (c *Catalog) AvailableCommands(deviceTypeID string) []string {
	if dt, ok := c.types[deviceTypeID]; ok {
		return dt.commands
	}
	return nil
}

func (c *Catalog) CommandInputSchema(deviceTypeID, commandID string) json.RawMessage {
	if dt, ok := c.types[deviceTypeID]; ok {
		return dt.inputs[commandID]
	}
	return nil
}

func (c *Catalog) Kind(deviceTypeID string) device.Kind {
	if dt, ok := c.types[deviceTypeID]; ok {
		return device.KindFor(dt.platform)
	}
	return device.KindFor("")
}

package device

import "fmt"

// MemoryTier is a deployment size category selecting history capacities.
type MemoryTier string

// Memory tiers, smallest first.
const (
	TierXSmall  MemoryTier = "x_small"
	TierSmall   MemoryTier = "small"
	TierMedium  MemoryTier = "medium"
	TierLarge   MemoryTier = "large"
	TierXLarge  MemoryTier = "x_large"
	TierXXLarge MemoryTier = "xx_large"
)

// HistorySizes holds per-device ring capacities.
type HistorySizes struct {
	Commands int
	States   int
}

type tierSizes struct {
	remote HistorySizes
	local  HistorySizes
}

// Devices owned by another gateway keep a shorter history.
var memorySizing = map[MemoryTier]tierSizes{
	TierXSmall:  {remote: HistorySizes{5, 5}, local: HistorySizes{10, 10}},
	TierSmall:   {remote: HistorySizes{15, 15}, local: HistorySizes{40, 40}},
	TierMedium:  {remote: HistorySizes{40, 40}, local: HistorySizes{80, 80}},
	TierLarge:   {remote: HistorySizes{75, 75}, local: HistorySizes{150, 150}},
	TierXLarge:  {remote: HistorySizes{150, 150}, local: HistorySizes{300, 300}},
	TierXXLarge: {remote: HistorySizes{300, 300}, local: HistorySizes{600, 600}},
}

// ParseMemoryTier validates a tier name.
func ParseMemoryTier(s string) (MemoryTier, error) {
	t := MemoryTier(s)
	if _, ok := memorySizing[t]; !ok {
		return "", fmt.Errorf("unknown memory tier %q", s)
	}
	return t, nil
}

// Sizes returns the history capacities for a device. local is true when the
// device belongs to this gateway.
func (t MemoryTier) Sizes(local bool) (HistorySizes, error) {
	sizes, ok := memorySizing[t]
	if !ok {
		return HistorySizes{}, fmt.Errorf("unknown memory tier %q", t)
	}
	if local {
		return sizes.local, nil
	}
	return sizes.remote, nil
}

package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_NewestFirst(t *testing.T) {
	r := NewRing[int](4)
	for i := 1; i <= 3; i++ {
		_, evicted := r.Push(i)
		assert.False(t, evicted)
	}

	assert.Equal(t, []int{3, 2, 1}, r.Items())
	head, ok := r.Head()
	require.True(t, ok)
	assert.Equal(t, 3, head)
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 4, r.Cap())
}

func TestRing_EvictsOldest(t *testing.T) {
	r := NewRing[int](3)
	var evicted []int
	for i := 1; i <= 7; i++ {
		if old, ok := r.Push(i); ok {
			evicted = append(evicted, old)
		}
	}

	assert.Equal(t, []int{7, 6, 5}, r.Items())
	assert.Equal(t, []int{1, 2, 3, 4}, evicted)
	assert.Equal(t, 3, r.Len())
}

func TestRing_Empty(t *testing.T) {
	r := NewRing[string](2)
	_, ok := r.Head()
	assert.False(t, ok)
	_, ok = r.At(-1)
	assert.False(t, ok)
	assert.Empty(t, r.Items())
}

func TestRing_MinimumCapacity(t *testing.T) {
	r := NewRing[string](0)
	r.Push("a")
	r.Push("b")
	assert.Equal(t, []string{"b"}, r.Items())
}

func TestMemoryTier_Sizes(t *testing.T) {
	tests := []struct {
		tier   string
		local  bool
		expect int
	}{
		{"x_small", false, 5},
		{"x_small", true, 10},
		{"small", false, 15},
		{"small", true, 40},
		{"medium", false, 40},
		{"medium", true, 80},
		{"large", false, 75},
		{"large", true, 150},
		{"x_large", false, 150},
		{"x_large", true, 300},
		{"xx_large", false, 300},
		{"xx_large", true, 600},
	}
	for _, tt := range tests {
		tier, err := ParseMemoryTier(tt.tier)
		require.NoError(t, err)
		sizes, err := tier.Sizes(tt.local)
		require.NoError(t, err)
		assert.Equal(t, HistorySizes{Commands: tt.expect, States: tt.expect}, sizes, "%s local=%v", tt.tier, tt.local)
	}
}

func TestMemoryTier_Unknown(t *testing.T) {
	_, err := ParseMemoryTier("huge")
	assert.Error(t, err)

	_, err = MemoryTier("huge").Sizes(true)
	assert.Error(t, err)
}

func TestRegistry_Lifecycle(t *testing.T) {
	env := newTestEnv(t)
	reg := NewRegistry()
	a := env.newDevice(t, switchAttrs("a"), HistorySizes{Commands: 2, States: 2})
	b := env.newDevice(t, switchAttrs("b"), HistorySizes{Commands: 2, States: 2})

	require.NoError(t, reg.Add(b))
	require.NoError(t, reg.Add(a))
	assert.Error(t, reg.Add(a))

	got, err := reg.Get("a")
	require.NoError(t, err)
	assert.Same(t, a, got)

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID())

	_, err = reg.Remove("a")
	require.NoError(t, err)
	_, err = reg.Get("a")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = reg.Remove("a")
	assert.ErrorIs(t, err, ErrNotFound)

	drained := reg.Drain()
	assert.Len(t, drained, 1)
	assert.Equal(t, 0, reg.Len())
}

package device

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the devices loaded into this gateway. Its lock only guards
// membership; device state is guarded by each device's own mutex.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Device
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]*Device)}
}

// Add registers d. Adding a second device with the same id fails.
func (r *Registry) Add(d *Device) error {
	id := d.ID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[id]; ok {
		return fmt.Errorf("device %s already loaded", id)
	}
	r.devices[id] = d
	return nil
}

// Get returns the device with the given id.
func (r *Registry) Get(id string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	return d, nil
}

// Remove evicts the device and returns it.
func (r *Registry) Remove(id string) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	delete(r.devices, id)
	return d, nil
}

// List returns every device ordered by id.
func (r *Registry) List() []*Device {
	r.mu.RLock()
	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*Device, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.devices[id])
	}
	r.mu.RUnlock()
	return out
}

// Len returns the number of loaded devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Drain empties the registry and returns what it held, for shutdown.
func (r *Registry) Drain() []*Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].attrs.DeviceID < out[j].attrs.DeviceID })
	r.devices = make(map[string]*Device)
	return out
}

package indi

import (
	"sort"
	"sync"
)

// Registry maps device names to devices. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Device
}

func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]*Device)}
}

func (r *Registry) Get(name string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[name]
	return d, ok
}

// Put stores d, replacing any device with the same name. It reports
// whether the name was new.
func (r *Registry) Put(d *Device) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.devices[d.Name()]
	r.devices[d.Name()] = d
	return !exists
}

// GetOrAdd returns the device registered under name, registering the one
// built by create when there is none. created reports which happened.
func (r *Registry) GetOrAdd(name string, create func() *Device) (d *Device, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[name]; ok {
		return d, false
	}
	d = create()
	r.devices[name] = d
	return d, true
}

// Remove deletes the named device and returns it.
func (r *Registry) Remove(name string) (*Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[name]
	if ok {
		delete(r.devices, name)
	}
	return d, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// All returns the registered devices ordered by name.
func (r *Registry) All() []*Device {
	r.mu.RLock()
	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

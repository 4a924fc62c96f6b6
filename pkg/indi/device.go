package indi

import (
	"sort"
	"sync"
)

// Properties maps property names to their current values. It is safe for
// concurrent use: the read worker applies updates while callers read.
//
// Stored values are never mutated after they are published. Updates are
// merged into a clone that then replaces the old value, so a value obtained
// from Get stays consistent while the caller holds it.
type Properties struct {
	mu    sync.RWMutex
	props map[string]Value
}

// NewProperties creates an empty property container.
func NewProperties() *Properties {
	return &Properties{props: make(map[string]Value)}
}

// Get returns the current value of a property. Callers must not modify it;
// use Clone first.
func (p *Properties) Get(name string) (Value, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.props[name]
	return v, ok
}

// Vector returns the named property when it is a vector.
func (p *Properties) Vector(name string) (*Vector, bool) {
	v, ok := p.Get(name)
	if !ok {
		return nil, false
	}
	vec, ok := v.(*Vector)
	return vec, ok
}

func (p *Properties) Has(name string) bool {
	_, ok := p.Get(name)
	return ok
}

// Set stores v under name, replacing whatever was there.
func (p *Properties) Set(name string, v Value) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.props[name] = v
}

// Merge folds v into the existing value when the kinds are compatible and
// stores v as-is otherwise.
func (p *Properties) Merge(name string, v Value) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cur, ok := p.props[name]; ok {
		next := cur.Clone()
		if next.TryUpdate(v) {
			p.props[name] = next
			return
		}
	}
	p.props[name] = v
}

func (p *Properties) Delete(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.props, name)
}

func (p *Properties) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.props = make(map[string]Value)
}

func (p *Properties) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.props)
}

// Names returns the property names in sorted order.
func (p *Properties) Names() []string {
	p.mu.RLock()
	names := make([]string, 0, len(p.props))
	for name := range p.props {
		names = append(names, name)
	}
	p.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Snapshot returns a copy of the name to value mapping.
func (p *Properties) Snapshot() map[string]Value {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]Value, len(p.props))
	for k, v := range p.props {
		out[k] = v
	}
	return out
}

// Device is a named INDI device and the properties it has declared.
type Device struct {
	name  string
	props *Properties
	conn  *Connection
}

// NewDevice creates a device bound to a connection. It is not registered;
// use Connection.AddDevice or Connection.GetOrCreateDevice.
func NewDevice(name string, conn *Connection) *Device {
	return &Device{name: name, props: NewProperties(), conn: conn}
}

func (d *Device) Name() string { return d.name }

func (d *Device) Properties() *Properties { return d.props }

// Connection returns the connection the device was discovered on.
func (d *Device) Connection() *Connection { return d.conn }

// Session is the session of the owning connection, or zero for a detached
// device.
func (d *Device) Session() uint64 {
	if d.conn == nil {
		return 0
	}
	return d.conn.Session()
}

// Property is a shorthand for Properties().Get.
func (d *Device) Property(name string) (Value, bool) {
	return d.props.Get(name)
}

// RefreshProperty asks the server to resend one property of this device.
func (d *Device) RefreshProperty(name string) error {
	return d.send(&GetProperties{Device: d.name, Property: name})
}

// RefreshProperties asks the server to resend every property of this device.
func (d *Device) RefreshProperties() error {
	return d.send(&GetProperties{Device: d.name})
}

// UpdateProperty proposes a new value for a property. The local copy is
// left alone; the server answers with a set or def element when it accepts.
func (d *Device) UpdateProperty(name string, v Value) error {
	return d.send(&NewProperty{Device: d.name, Property: name, Value: v})
}

func (d *Device) send(m ClientMessage) error {
	if d.conn == nil {
		return ErrNotConnected
	}
	return d.conn.Send(m)
}

package indi

import (
	"fmt"
	"strings"
)

// Permissions.
const (
	PermRO = "ro"
	PermWO = "wo"
	PermRW = "rw"
)

// Switch rules. Advisory only; nothing here enforces them.
const (
	RuleOneOfMany = "OneOfMany"
	RuleAtMostOne = "AtMostOne"
	RuleAnyOfMany = "AnyOfMany"
)

// Vector is a named property holding an ordered list of members of one kind.
type Vector struct {
	Base
	Group     string
	State     string
	Perm      string
	Rule      string
	Timeout   string
	Timestamp string
	Message   string
	Members   []Value

	kind Kind
}

// NewVector creates an empty read-write vector of the given kind.
func NewVector(kind Kind, name string) *Vector {
	return &Vector{Base: Base{Name: name}, Perm: PermRW, kind: kind}
}

func NewTextVector(name string, members ...*Text) *Vector {
	v := NewVector(KindText, name)
	for _, m := range members {
		v.Members = append(v.Members, m)
	}
	return v
}

func NewNumberVector(name string, members ...*Number) *Vector {
	v := NewVector(KindNumber, name)
	for _, m := range members {
		v.Members = append(v.Members, m)
	}
	return v
}

func NewSwitchVector(name string, members ...*Switch) *Vector {
	v := NewVector(KindSwitch, name)
	v.Rule = RuleOneOfMany
	for _, m := range members {
		v.Members = append(v.Members, m)
	}
	return v
}

func NewLightVector(name string, members ...*Light) *Vector {
	v := NewVector(KindLight, name)
	v.Perm = PermRO
	for _, m := range members {
		v.Members = append(v.Members, m)
	}
	return v
}

func NewBLOBVector(name string, members ...*BLOB) *Vector {
	v := NewVector(KindBLOB, name)
	for _, m := range members {
		v.Members = append(v.Members, m)
	}
	return v
}

func (v *Vector) sealed() {}

// Kind is the kind shared by every member.
func (v *Vector) Kind() Kind { return v.kind }

func (v *Vector) Len() int { return len(v.Members) }

// IsWritable reports whether clients may propose new values.
func (v *Vector) IsWritable() bool {
	return strings.Contains(v.Perm, "w")
}

// Add appends a member. Nested vectors and members of another kind are
// rejected.
func (v *Vector) Add(m Value) error {
	if _, nested := m.(*Vector); nested || m.Kind() != v.kind {
		return fmt.Errorf("%w: cannot add %s to %s vector %q", ErrKindMismatch, m.Kind(), v.kind, v.Name)
	}
	v.Members = append(v.Members, m)
	return nil
}

// Member returns the member with the given name.
func (v *Vector) Member(name string) (Value, bool) {
	for _, m := range v.Members {
		if m.ValueName() == name {
			return m, true
		}
	}
	return nil, false
}

func (v *Vector) Switch(name string) (*Switch, bool) {
	m, ok := v.Member(name)
	if !ok {
		return nil, false
	}
	s, ok := m.(*Switch)
	return s, ok
}

func (v *Vector) Number(name string) (*Number, bool) {
	m, ok := v.Member(name)
	if !ok {
		return nil, false
	}
	n, ok := m.(*Number)
	return n, ok
}

func (v *Vector) Text(name string) (*Text, bool) {
	m, ok := v.Member(name)
	if !ok {
		return nil, false
	}
	t, ok := m.(*Text)
	return t, ok
}

// ActiveSwitch returns the first switch that is on.
func (v *Vector) ActiveSwitch() (*Switch, bool) {
	for _, m := range v.Members {
		if s, ok := m.(*Switch); ok && s.On {
			return s, true
		}
	}
	return nil, false
}

// SwitchTo turns on the named switch and every other switch off.
func (v *Vector) SwitchTo(name string) error {
	if _, ok := v.Switch(name); !ok {
		return v.memberError(KindSwitch, name)
	}
	return v.SwitchFunc(func(s *Switch) bool { return s.Name == name })
}

// SwitchIndex turns on the switch at index i and every other switch off.
func (v *Vector) SwitchIndex(i int) error {
	if v.kind != KindSwitch {
		return fmt.Errorf("%w: %q is a %s vector", ErrKindMismatch, v.Name, v.kind)
	}
	if i < 0 || i >= len(v.Members) {
		return fmt.Errorf("%w: index %d of %q", ErrMemberNotFound, i, v.Name)
	}
	for j, m := range v.Members {
		m.(*Switch).On = j == i
	}
	return nil
}

// SwitchFunc sets every switch to the result of fn.
func (v *Vector) SwitchFunc(fn func(*Switch) bool) error {
	if v.kind != KindSwitch {
		return fmt.Errorf("%w: %q is a %s vector", ErrKindMismatch, v.Name, v.kind)
	}
	for _, m := range v.Members {
		s := m.(*Switch)
		s.On = fn(s)
	}
	return nil
}

// SetSwitch sets a single switch without touching the others.
func (v *Vector) SetSwitch(name string, on bool) error {
	s, ok := v.Switch(name)
	if !ok {
		return v.memberError(KindSwitch, name)
	}
	s.On = on
	return nil
}

func (v *Vector) SetNumber(name string, value float64) error {
	n, ok := v.Number(name)
	if !ok {
		return v.memberError(KindNumber, name)
	}
	n.Value = value
	return nil
}

func (v *Vector) SetText(name, value string) error {
	t, ok := v.Text(name)
	if !ok {
		return v.memberError(KindText, name)
	}
	t.Value = value
	return nil
}

func (v *Vector) memberError(want Kind, name string) error {
	if v.kind != want {
		return fmt.Errorf("%w: %q is a %s vector", ErrKindMismatch, v.Name, v.kind)
	}
	return fmt.Errorf("%w: %q in %q", ErrMemberNotFound, name, v.Name)
}

// TryUpdate merges an incoming vector of the same kind by member name. The
// member list becomes exactly the incoming list, except that members already
// present are kept and updated in place. Members missing from the update
// are dropped: servers may resend a subset or superset of the options.
func (v *Vector) TryUpdate(from Value) bool {
	src, ok := from.(*Vector)
	if !ok || src.kind != v.kind {
		return false
	}

	merged := make([]Value, 0, len(src.Members))
	for _, update := range src.Members {
		if existing, found := v.Member(update.ValueName()); found && existing.TryUpdate(update) {
			merged = append(merged, existing)
			continue
		}
		merged = append(merged, update)
	}
	v.Members = merged

	if src.State != "" {
		v.State = src.State
	}
	if src.Timeout != "" {
		v.Timeout = src.Timeout
	}
	if src.Timestamp != "" {
		v.Timestamp = src.Timestamp
	}
	if src.Message != "" {
		v.Message = src.Message
	}
	return true
}

func (v *Vector) Clone() Value {
	c := *v
	c.Members = make([]Value, len(v.Members))
	for i, m := range v.Members {
		c.Members[i] = m.Clone()
	}
	return &c
}

func (v *Vector) String() string {
	parts := make([]string, 0, len(v.Members))
	for _, m := range v.Members {
		parts = append(parts, fmt.Sprintf("%s=%v", m.ValueName(), m))
	}
	return v.Name + "[" + strings.Join(parts, " ") + "]"
}

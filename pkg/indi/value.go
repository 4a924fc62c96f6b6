package indi

import (
	"bytes"
	"strconv"
)

// Kind is the payload type of a value.
type Kind int

const (
	KindText Kind = iota
	KindNumber
	KindSwitch
	KindLight
	KindBLOB
)

// String returns the protocol type name used in element tags.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "Text"
	case KindNumber:
		return "Number"
	case KindSwitch:
		return "Switch"
	case KindLight:
		return "Light"
	case KindBLOB:
		return "BLOB"
	default:
		return "Unknown"
	}
}

// Light states. Lights are parsed but carry no behaviour.
const (
	StateIdle  = "Idle"
	StateOk    = "Ok"
	StateBusy  = "Busy"
	StateAlert = "Alert"
)

// Value is a property value: one of *Text, *Number, *Switch, *Light, *BLOB
// or a *Vector of them. The set is closed.
type Value interface {
	// ValueName is the protocol identifier, unique within the owning
	// vector (for members) or device (for properties).
	ValueName() string
	ValueLabel() string
	Kind() Kind

	// TryUpdate copies the payload of from into the receiver and reports
	// whether the two were compatible.
	TryUpdate(from Value) bool

	// Clone returns a deep copy.
	Clone() Value

	sealed()
}

// Base carries the identity shared by every value.
type Base struct {
	Name  string `json:"name"`
	Label string `json:"label,omitempty"`
}

func (b *Base) ValueName() string  { return b.Name }
func (b *Base) ValueLabel() string { return b.Label }

// Text is a UTF-8 string value.
type Text struct {
	Base
	Value string `json:"value"`
}

func (t *Text) sealed() {}

func (t *Text) Kind() Kind { return KindText }

func (t *Text) TryUpdate(from Value) bool {
	src, ok := from.(*Text)
	if !ok {
		return false
	}
	t.Value = src.Value
	return true
}

func (t *Text) Clone() Value {
	c := *t
	return &c
}

func (t *Text) String() string { return t.Value }

// Number is a floating point value with its advertised range and display
// format.
type Number struct {
	Base
	Value  float64 `json:"value"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Step   float64 `json:"step"`
	Format string  `json:"format,omitempty"`
}

func (n *Number) sealed() {}

func (n *Number) Kind() Kind { return KindNumber }

func (n *Number) TryUpdate(from Value) bool {
	src, ok := from.(*Number)
	if !ok {
		return false
	}
	n.Value = src.Value
	return true
}

func (n *Number) Clone() Value {
	c := *n
	return &c
}

// String renders the value with the number's format, sexagesimal included.
func (n *Number) String() string {
	return FormatNumber(n.Value, n.Format)
}

// Switch is an on/off value.
type Switch struct {
	Base
	On bool `json:"on"`
}

func (s *Switch) sealed() {}

func (s *Switch) Kind() Kind { return KindSwitch }

func (s *Switch) TryUpdate(from Value) bool {
	src, ok := from.(*Switch)
	if !ok {
		return false
	}
	s.On = src.On
	return true
}

func (s *Switch) Clone() Value {
	c := *s
	return &c
}

func (s *Switch) String() string {
	return switchText(s.On)
}

func switchText(on bool) string {
	if on {
		return "On"
	}
	return "Off"
}

// Light is a read-only status indicator.
type Light struct {
	Base
	State string `json:"state"`
}

func (l *Light) sealed() {}

func (l *Light) Kind() Kind { return KindLight }

func (l *Light) TryUpdate(from Value) bool {
	src, ok := from.(*Light)
	if !ok {
		return false
	}
	l.State = src.State
	return true
}

func (l *Light) Clone() Value {
	c := *l
	return &c
}

func (l *Light) String() string { return l.State }

// BLOB is a binary payload, base64 encoded on the wire.
type BLOB struct {
	Base
	Data   []byte `json:"-"`
	Format string `json:"format,omitempty"`
	Size   int    `json:"size"`
}

func (b *BLOB) sealed() {}

func (b *BLOB) Kind() Kind { return KindBLOB }

func (b *BLOB) TryUpdate(from Value) bool {
	src, ok := from.(*BLOB)
	if !ok {
		return false
	}
	b.Data = bytes.Clone(src.Data)
	b.Format = src.Format
	b.Size = src.Size
	return true
}

func (b *BLOB) Clone() Value {
	c := *b
	c.Data = bytes.Clone(b.Data)
	return &c
}

func (b *BLOB) String() string {
	return "[BLOB " + strconv.Itoa(len(b.Data)) + " bytes]"
}

package bridge

import (
	"indi/pkg/indi"
)

// PropertyPayload is the JSON form of a property value.
type PropertyPayload struct {
	Device    string          `json:"device"`
	Name      string          `json:"name"`
	Label     string          `json:"label,omitempty"`
	Group     string          `json:"group,omitempty"`
	Kind      string          `json:"kind"`
	State     string          `json:"state,omitempty"`
	Perm      string          `json:"perm,omitempty"`
	Rule      string          `json:"rule,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Message   string          `json:"message,omitempty"`
	Members   []MemberPayload `json:"members,omitempty"`
}

// MemberPayload is one vector member. Value holds a string for text and
// light members, a number for numbers and a bool for switches. BLOB data
// is left out; only its format and size are reported.
type MemberPayload struct {
	Name   string  `json:"name"`
	Label  string  `json:"label,omitempty"`
	Value  any     `json:"value,omitempty"`
	Text   string  `json:"text,omitempty"` // formatted number
	Min    float64 `json:"min,omitempty"`
	Max    float64 `json:"max,omitempty"`
	Step   float64 `json:"step,omitempty"`
	Format string  `json:"format,omitempty"`
	Size   int     `json:"size,omitempty"`
}

func NewPropertyPayload(device, property string, v indi.Value) PropertyPayload {
	p := PropertyPayload{
		Device: device,
		Name:   property,
		Label:  v.ValueLabel(),
		Kind:   v.Kind().String(),
	}

	vec, ok := v.(*indi.Vector)
	if !ok {
		p.Members = []MemberPayload{memberPayload(v)}
		return p
	}
	p.Group = vec.Group
	p.State = vec.State
	p.Perm = vec.Perm
	p.Rule = vec.Rule
	p.Timestamp = vec.Timestamp
	p.Message = vec.Message
	for _, m := range vec.Members {
		p.Members = append(p.Members, memberPayload(m))
	}
	return p
}

func memberPayload(v indi.Value) MemberPayload {
	m := MemberPayload{Name: v.ValueName(), Label: v.ValueLabel()}
	switch val := v.(type) {
	case *indi.Text:
		m.Value = val.Value
	case *indi.Number:
		m.Value = val.Value
		m.Text = val.String()
		m.Min, m.Max, m.Step, m.Format = val.Min, val.Max, val.Step, val.Format
	case *indi.Switch:
		m.Value = val.On
	case *indi.Light:
		m.Value = val.State
	case *indi.BLOB:
		m.Format = val.Format
		m.Size = len(val.Data)
	}
	return m
}

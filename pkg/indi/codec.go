package indi

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Role selects the element prefix a value is written with.
type Role int

const (
	// RoleNew proposes a change (client to server).
	RoleNew Role = iota
	// RoleSet reports a change (server to client).
	RoleSet
	// RoleDef declares a property (server to client).
	RoleDef
)

func (r Role) String() string {
	switch r {
	case RoleNew:
		return "new"
	case RoleSet:
		return "set"
	case RoleDef:
		return "def"
	default:
		return "unknown"
	}
}

// memberPrefix is the prefix of the elements nested in a vector.
func (r Role) memberPrefix() string {
	if r == RoleDef {
		return "def"
	}
	return "one"
}

var kinds = [...]Kind{KindText, KindNumber, KindSwitch, KindLight, KindBLOB}

// parseTag splits an element name into its value kind and whether it names
// a vector. The role prefix plays no part: "defNumberVector",
// "setNumberVector" and "oneNumber" all decode the same way.
func parseTag(name string) (kind Kind, vector bool, ok bool) {
	base, vector := strings.CutSuffix(name, "Vector")
	for _, k := range kinds {
		if strings.HasSuffix(base, k.String()) {
			return k, vector, true
		}
	}
	return 0, false, false
}

// Tag returns the element name Encode gives v in role, without encoding it.
func Tag(v Value, role Role) string {
	if v == nil {
		return role.String()
	}
	name := role.String() + v.Kind().String()
	if _, ok := v.(*Vector); ok {
		name += "Vector"
	}
	return name
}

// Encode builds the element for v in the given role.
func Encode(v Value, role Role) *Element {
	vec, ok := v.(*Vector)
	if !ok {
		return encodeMember(v, role, role.String())
	}

	el := NewElement(Tag(vec, role))
	el.setAttrIf("name", vec.Name)
	switch role {
	case RoleDef:
		el.setAttrIf("label", vec.Label)
		el.setAttrIf("group", vec.Group)
		el.setAttrIf("state", vec.State)
		el.setAttrIf("perm", vec.Perm)
		el.setAttrIf("rule", vec.Rule)
		el.setAttrIf("timeout", vec.Timeout)
	case RoleSet:
		el.setAttrIf("state", vec.State)
		el.setAttrIf("timeout", vec.Timeout)
	}
	el.setAttrIf("timestamp", vec.Timestamp)
	if role != RoleNew {
		el.setAttrIf("message", vec.Message)
	}

	for _, m := range vec.Members {
		el.AddChild(encodeMember(m, role, role.memberPrefix()))
	}
	return el
}

func encodeMember(m Value, role Role, prefix string) *Element {
	el := NewElement(prefix + m.Kind().String())
	el.setAttrIf("name", m.ValueName())
	if role == RoleDef {
		el.setAttrIf("label", m.ValueLabel())
	}

	switch x := m.(type) {
	case *Text:
		el.Text = x.Value
	case *Number:
		format := x.Format
		if format == "" {
			format = DefaultNumberFormat
		}
		el.SetAttr("format", format)
		el.SetAttr("min", strconv.FormatFloat(x.Min, 'g', -1, 64))
		el.SetAttr("max", strconv.FormatFloat(x.Max, 'g', -1, 64))
		el.SetAttr("step", strconv.FormatFloat(x.Step, 'g', -1, 64))
		el.Text = strconv.FormatFloat(x.Value, 'f', -1, 64)
	case *Switch:
		el.Text = switchText(x.On)
	case *Light:
		el.Text = x.State
	case *BLOB:
		size := x.Size
		if size == 0 {
			size = len(x.Data)
		}
		el.SetAttr("size", strconv.Itoa(size))
		el.setAttrIf("format", x.Format)
		el.Text = base64.StdEncoding.EncodeToString(x.Data)
	}
	return el
}

// DecodeValue decodes a value or vector element of any role.
func DecodeValue(el *Element) (Value, error) {
	kind, vector, ok := parseTag(el.Name)
	if !ok {
		return nil, decodeError(el, ErrUnknownElement)
	}
	if vector {
		vec, err := decodeVector(el, kind)
		if err != nil {
			return nil, err
		}
		return vec, nil
	}
	return decodeMember(el, kind)
}

func decodeVector(el *Element, kind Kind) (*Vector, error) {
	vec := &Vector{
		Base:      Base{Name: el.Attr("name"), Label: labelOf(el)},
		Group:     el.Attr("group"),
		State:     el.Attr("state"),
		Perm:      el.Attr("perm"),
		Rule:      el.Attr("rule"),
		Timeout:   el.Attr("timeout"),
		Timestamp: el.Attr("timestamp"),
		Message:   el.Attr("message"),
		kind:      kind,
	}

	for _, child := range el.Children {
		childKind, nested, ok := parseTag(child.Name)
		if !ok || nested || childKind != kind {
			continue
		}
		m, err := decodeMember(child, childKind)
		if err != nil {
			return nil, err
		}
		vec.Members = append(vec.Members, m)
	}
	return vec, nil
}

func decodeMember(el *Element, kind Kind) (Value, error) {
	base := Base{Name: el.Attr("name"), Label: labelOf(el)}
	text := strings.TrimSpace(el.Text)

	switch kind {
	case KindText:
		return &Text{Base: base, Value: text}, nil

	case KindNumber:
		n := &Number{Base: base, Format: el.Attr("format")}
		v, err := ParseNumber(text, n.Format)
		if err != nil {
			return nil, decodeError(el, err)
		}
		n.Value = v

		// Only definitions carry the range; updates and proposals do not.
		required := strings.HasPrefix(el.Name, "def")
		for _, attr := range []struct {
			name string
			dst  *float64
		}{{"min", &n.Min}, {"max", &n.Max}, {"step", &n.Step}} {
			s, present := el.LookupAttr(attr.name)
			if !present {
				if required {
					return nil, decodeError(el, fmt.Errorf("%w: %s", ErrMissingAttribute, attr.name))
				}
				continue
			}
			f, err := ParseNumber(s, "")
			if err != nil {
				return nil, decodeError(el, fmt.Errorf("%s: %w", attr.name, err))
			}
			*attr.dst = f
		}
		return n, nil

	case KindSwitch:
		s := &Switch{Base: base}
		switch text {
		case "On":
			s.On = true
		case "Off":
		default:
			return nil, decodeError(el, fmt.Errorf("%w: %q", ErrInvalidSwitch, text))
		}
		return s, nil

	case KindLight:
		return &Light{Base: base, State: text}, nil

	case KindBLOB:
		data, err := base64.StdEncoding.DecodeString(stripSpace(text))
		if err != nil {
			return nil, decodeError(el, fmt.Errorf("%w: %v", ErrInvalidBLOB, err))
		}
		b := &BLOB{Base: base, Data: data, Format: el.Attr("format"), Size: len(data)}
		if size, err := strconv.Atoi(el.Attr("size")); err == nil {
			b.Size = size
		}
		return b, nil
	}
	return nil, decodeError(el, ErrUnknownElement)
}

// labelOf falls back to the name when no label is given.
func labelOf(el *Element) string {
	if label := el.Attr("label"); label != "" {
		return label
	}
	return el.Attr("name")
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

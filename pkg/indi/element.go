package indi

import (
	"bytes"
	"encoding/xml"
)

// Element is one parsed protocol element. The INDI stream is a sequence of
// sibling elements rather than a single document, so each element is kept
// as a small self-contained tree.
type Element struct {
	Name     string
	Attrs    []xml.Attr
	Children []*Element
	Text     string
}

// NewElement creates an element with the given local name.
func NewElement(name string) *Element {
	return &Element{Name: name}
}

// Attr returns the value of the named attribute, or "" when absent.
func (e *Element) Attr(name string) string {
	v, _ := e.LookupAttr(name)
	return v
}

// LookupAttr returns the value of the named attribute and whether it exists.
func (e *Element) LookupAttr(name string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// SetAttr adds the attribute or overwrites its value when already present.
func (e *Element) SetAttr(name, value string) {
	for i := range e.Attrs {
		if e.Attrs[i].Name.Local == name {
			e.Attrs[i].Value = value
			return
		}
	}
	e.Attrs = append(e.Attrs, xml.Attr{Name: xml.Name{Local: name}, Value: value})
}

// setAttrIf sets the attribute only for non-empty values.
func (e *Element) setAttrIf(name, value string) {
	if value != "" {
		e.SetAttr(name, value)
	}
}

// AddChild appends a child element.
func (e *Element) AddChild(child *Element) {
	e.Children = append(e.Children, child)
}

// Marshal serializes the element and its children.
func (e *Element) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	if err := e.encode(enc); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *Element) encode(enc *xml.Encoder) error {
	start := xml.StartElement{Name: xml.Name{Local: e.Name}, Attr: e.Attrs}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if e.Text != "" {
		if err := enc.EncodeToken(xml.CharData(e.Text)); err != nil {
			return err
		}
	}
	for _, child := range e.Children {
		if err := child.encode(enc); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

// String returns the XML text of the element, or an empty string when it
// cannot be serialized.
func (e *Element) String() string {
	b, err := e.Marshal()
	if err != nil {
		return ""
	}
	return string(b)
}

package indi

import (
	"strings"
)

// ProtocolVersion is announced in getProperties.
const ProtocolVersion = "1.7"

// Message is anything that travels over the wire.
type Message interface {
	Element() *Element
}

// ClientMessage is sent from the client to the server.
type ClientMessage interface {
	Message
	clientMessage()
}

// ServerMessage is received from the server and applied to the connection
// state.
type ServerMessage interface {
	Message
	Process(c *Connection)
}

// MarshalMessage serializes a message to XML.
func MarshalMessage(m Message) ([]byte, error) {
	return m.Element().Marshal()
}

// MessageName returns the element name m is written as. Unlike
// m.Element().Name it does not encode the value, which matters for BLOBs.
func MessageName(m Message) string {
	switch x := m.(type) {
	case *GetProperties:
		return "getProperties"
	case *NewProperty:
		return Tag(x.Value, RoleNew)
	case *SetProperty:
		return Tag(x.Value, RoleSet)
	case *DefineProperty:
		return Tag(x.Value, RoleDef)
	case *DeleteProperty:
		return "delProperty"
	case *Notification:
		return "message"
	}
	return m.Element().Name
}

// MessageDevice returns the device m concerns, empty when it concerns the
// whole server.
func MessageDevice(m Message) string {
	switch x := m.(type) {
	case *GetProperties:
		return x.Device
	case *NewProperty:
		return x.Device
	case *SetProperty:
		return x.Device
	case *DefineProperty:
		return x.Device
	case *DeleteProperty:
		return x.Device
	case *Notification:
		return x.Device
	}
	return m.Element().Attr("device")
}

// GetProperties asks the server to (re)define properties. An empty Device
// means every device; an empty Property means every property of Device.
type GetProperties struct {
	Device   string
	Property string
}

func (m *GetProperties) clientMessage() {}

func (m *GetProperties) Element() *Element {
	el := NewElement("getProperties")
	el.SetAttr("version", ProtocolVersion)
	el.setAttrIf("device", m.Device)
	el.setAttrIf("name", m.Property)
	return el
}

// NewProperty proposes a new value for a device property.
type NewProperty struct {
	Device   string
	Property string
	Value    Value
}

func (m *NewProperty) clientMessage() {}

func (m *NewProperty) Element() *Element {
	el := Encode(m.Value, RoleNew)
	el.SetAttr("device", m.Device)
	el.SetAttr("name", m.Property)
	return el
}

// SetProperty reports a new value for an existing property.
type SetProperty struct {
	Device   string
	Property string
	Value    Value
}

// Process merges the value into the named device. It never creates
// devices. An empty device name applies the value to every registered
// device; unusual for a per-device protocol, but servers are allowed to
// send it.
func (m *SetProperty) Process(c *Connection) {
	if m.Value == nil || m.Property == "" {
		return
	}
	if m.Device == "" {
		for _, d := range c.Devices() {
			d.Properties().Merge(m.Property, m.Value.Clone())
		}
		return
	}
	if d, ok := c.Device(m.Device); ok {
		d.Properties().Merge(m.Property, m.Value)
	}
}

func (m *SetProperty) Element() *Element {
	el := Encode(m.Value, RoleSet)
	el.setAttrIf("device", m.Device)
	el.SetAttr("name", m.Property)
	return el
}

// DefineProperty declares a property, creating the device on first sight.
type DefineProperty struct {
	Device   string
	Property string
	Value    Value
}

// Process is the only place a device is created implicitly.
func (m *DefineProperty) Process(c *Connection) {
	if m.Device == "" || m.Property == "" || m.Value == nil {
		return
	}
	c.GetOrCreateDevice(m.Device).Properties().Set(m.Property, m.Value)
}

func (m *DefineProperty) Element() *Element {
	el := Encode(m.Value, RoleDef)
	el.SetAttr("device", m.Device)
	el.SetAttr("name", m.Property)
	return el
}

// DeleteProperty removes properties. Device and Property narrow the scope;
// leaving both empty clears every device.
type DeleteProperty struct {
	Device    string
	Property  string
	Timestamp string
	Message   string
}

func (m *DeleteProperty) Process(c *Connection) {
	var devices []*Device
	if m.Device == "" {
		devices = c.Devices()
	} else if d, ok := c.Device(m.Device); ok {
		devices = []*Device{d}
	}

	for _, d := range devices {
		if m.Property == "" {
			d.Properties().Clear()
		} else {
			d.Properties().Delete(m.Property)
		}
	}
}

func (m *DeleteProperty) Element() *Element {
	el := NewElement("delProperty")
	el.setAttrIf("device", m.Device)
	el.setAttrIf("name", m.Property)
	el.setAttrIf("timestamp", m.Timestamp)
	el.setAttrIf("message", m.Message)
	return el
}

// Notification is a free-form message from a device or the server. It
// changes no state and exists to be observed by listeners.
type Notification struct {
	Device    string
	Timestamp string
	Message   string
}

func (m *Notification) Process(*Connection) {}

func (m *Notification) Element() *Element {
	el := NewElement("message")
	el.setAttrIf("device", m.Device)
	el.setAttrIf("timestamp", m.Timestamp)
	el.setAttrIf("message", m.Message)
	return el
}

// DecodeMessage turns a top-level element received from a server into a
// message. Unrecognized elements yield ErrUnknownElement.
func DecodeMessage(el *Element) (ServerMessage, error) {
	switch {
	case strings.HasPrefix(el.Name, "set"):
		v, err := DecodeValue(el)
		if err != nil {
			return nil, err
		}
		return &SetProperty{Device: el.Attr("device"), Property: el.Attr("name"), Value: v}, nil

	case strings.HasPrefix(el.Name, "def"):
		v, err := DecodeValue(el)
		if err != nil {
			return nil, err
		}
		return &DefineProperty{Device: el.Attr("device"), Property: el.Attr("name"), Value: v}, nil

	case el.Name == "delProperty":
		return &DeleteProperty{
			Device:    el.Attr("device"),
			Property:  el.Attr("name"),
			Timestamp: el.Attr("timestamp"),
			Message:   el.Attr("message"),
		}, nil

	case el.Name == "message":
		return &Notification{
			Device:    el.Attr("device"),
			Timestamp: el.Attr("timestamp"),
			Message:   el.Attr("message"),
		}, nil
	}
	return nil, decodeError(el, ErrUnknownElement)
}

// DecodeClientMessage is the inverse of the client encoders. Useful for
// tools and test servers that read what a client wrote.
func DecodeClientMessage(el *Element) (ClientMessage, error) {
	switch {
	case el.Name == "getProperties":
		return &GetProperties{Device: el.Attr("device"), Property: el.Attr("name")}, nil
	case strings.HasPrefix(el.Name, "new"):
		v, err := DecodeValue(el)
		if err != nil {
			return nil, err
		}
		return &NewProperty{Device: el.Attr("device"), Property: el.Attr("name"), Value: v}, nil
	}
	return nil, decodeError(el, ErrUnknownElement)
}

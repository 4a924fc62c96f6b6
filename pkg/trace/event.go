package trace

import (
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Kind classifies a trace event.
type Kind uint8

const (
	KindConnected Kind = iota
	KindDisconnected
	KindSent
	KindReceived
	KindDeviceCreated
	KindDeviceDeleted
)

func (k Kind) String() string {
	switch k {
	case KindConnected:
		return "CONNECTED"
	case KindDisconnected:
		return "DISCONNECTED"
	case KindSent:
		return "SENT"
	case KindReceived:
		return "RECEIVED"
	case KindDeviceCreated:
		return "DEVICE CREATED"
	case KindDeviceDeleted:
		return "DEVICE DELETED"
	default:
		return "UNKNOWN"
	}
}

// Event is one recorded protocol event. Integer keys keep traces small.
type Event struct {
	Timestamp    time.Time `cbor:"1,keyasint"`
	ConnectionID string    `cbor:"2,keyasint"`
	Kind         Kind      `cbor:"3,keyasint"`

	// Server is host:port, set on connect and disconnect.
	Server string `cbor:"4,keyasint,omitempty"`
	// Device is set for device events and device scoped messages.
	Device string `cbor:"5,keyasint,omitempty"`
	// Element is the tag name of a sent or received message.
	Element string `cbor:"6,keyasint,omitempty"`
	// XML is the serialized message.
	XML []byte `cbor:"7,keyasint,omitempty"`
}

// String renders the event as a single log line.
func (e Event) String() string {
	switch e.Kind {
	case KindConnected, KindDisconnected:
		return fmt.Sprintf("%s %s", e.Kind, e.Server)
	case KindSent, KindReceived:
		return fmt.Sprintf("%s %s %s", e.Kind, e.Element, e.XML)
	default:
		return fmt.Sprintf("%s %s", e.Kind, e.Device)
	}
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create trace encoder mode: %v", err))
	}

	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create trace decoder mode: %v", err))
	}
}

func EncodeEvent(e Event) ([]byte, error) {
	return encMode.Marshal(e)
}

func DecodeEvent(data []byte) (Event, error) {
	var e Event
	if err := decMode.Unmarshal(data, &e); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Reader streams events back from a trace.
type Reader struct {
	dec *cbor.Decoder
}

func NewReader(r io.Reader) *Reader {
	return &Reader{dec: decMode.NewDecoder(r)}
}

// Next returns the next event, or io.EOF at the end of the trace.
func (r *Reader) Next() (Event, error) {
	var e Event
	if err := r.dec.Decode(&e); err != nil {
		return Event{}, err
	}
	return e, nil
}

// ReadAll reads every remaining event.
func (r *Reader) ReadAll() ([]Event, error) {
	var events []Event
	for {
		e, err := r.Next()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, e)
	}
}

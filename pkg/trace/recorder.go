package trace

import (
	"io"
	"os"
	"sync"
	"time"

	"indi/pkg/indi"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Recorder is a connection listener that writes every protocol event to a
// CBOR stream. Each connect starts a new connection ID so sessions can be
// told apart on replay.
type Recorder struct {
	indi.BaseListener

	logger log.FieldLogger

	mu     sync.Mutex
	closer io.Closer
	enc    *cbor.Encoder
	connID string
	closed bool
	now    func() time.Time
}

func NewRecorder(w io.Writer, logger log.FieldLogger) *Recorder {
	if logger == nil {
		logger = log.WithField("component", "trace")
	}
	r := &Recorder{
		logger: logger,
		enc:    encMode.NewEncoder(w),
		connID: uuid.NewString(),
		now:    time.Now,
	}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	return r
}

// OpenFile appends to the trace at path, creating it if needed.
func OpenFile(path string, logger log.FieldLogger) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return NewRecorder(f, logger), nil
}

// ConnectionID returns the ID of the current session.
func (r *Recorder) ConnectionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connID
}

func (r *Recorder) OnConnect(c *indi.Connection) {
	r.mu.Lock()
	r.connID = uuid.NewString()
	r.mu.Unlock()
	r.record(Event{Kind: KindConnected, Server: c.Addr()})
}

func (r *Recorder) OnDisconnect(c *indi.Connection) {
	r.record(Event{Kind: KindDisconnected, Server: c.Addr()})
}

func (r *Recorder) OnMessageSent(m indi.ClientMessage) {
	r.recordMessage(KindSent, m)
}

func (r *Recorder) OnMessageReceived(m indi.ServerMessage) {
	r.recordMessage(KindReceived, m)
}

func (r *Recorder) OnAddDevice(d *indi.Device) {
	r.record(Event{Kind: KindDeviceCreated, Device: d.Name()})
}

func (r *Recorder) OnRemoveDevice(d *indi.Device) {
	r.record(Event{Kind: KindDeviceDeleted, Device: d.Name()})
}

func (r *Recorder) recordMessage(kind Kind, m indi.Message) {
	name := indi.MessageName(m)
	data, err := indi.MarshalMessage(m)
	if err != nil {
		r.logger.Warnf("Failed to serialize %s: %v", name, err)
	}
	r.record(Event{Kind: kind, Device: indi.MessageDevice(m), Element: name, XML: data})
}

func (r *Recorder) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	e.Timestamp = r.now()
	e.ConnectionID = r.connID
	if err := r.enc.Encode(e); err != nil {
		r.logger.Warnf("Failed to write trace event: %v", err)
	}
}

// Close stops recording and closes the underlying writer if it is a
// Closer. It is safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

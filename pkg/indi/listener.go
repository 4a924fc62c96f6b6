package indi

import "sync"

// Listener observes a connection.
//
// Callbacks run synchronously on the goroutine that detected the event: the
// read worker for received messages and device discovery, the caller for
// Connect, Disconnect and Send. A slow listener therefore delays the read
// worker or the caller. This keeps event order identical to wire order
// without any queueing; listeners that do heavy work should hand it off.
type Listener interface {
	OnConnect(c *Connection)
	OnDisconnect(c *Connection)
	OnMessageSent(m ClientMessage)
	OnMessageReceived(m ServerMessage)
	OnAddDevice(d *Device)
	OnRemoveDevice(d *Device)
}

// BaseListener implements Listener with no-ops. Embed it to override only
// the callbacks of interest. Listeners are compared by identity when
// unsubscribing, so subscribe pointers.
type BaseListener struct{}

func (BaseListener) OnConnect(*Connection)           {}
func (BaseListener) OnDisconnect(*Connection)        {}
func (BaseListener) OnMessageSent(ClientMessage)     {}
func (BaseListener) OnMessageReceived(ServerMessage) {}
func (BaseListener) OnAddDevice(*Device)             {}
func (BaseListener) OnRemoveDevice(*Device)          {}

// ListenerFuncs adapts plain functions to a Listener. Received messages are
// routed to the callback for their type; nil callbacks are skipped.
type ListenerFuncs struct {
	Connect        func(*Connection)
	Disconnect     func(*Connection)
	MessageSent    func(ClientMessage)
	SetProperty    func(*SetProperty)
	DefineProperty func(*DefineProperty)
	DeleteProperty func(*DeleteProperty)
	Notification   func(*Notification)
	AddDevice      func(*Device)
	RemoveDevice   func(*Device)
}

func (l *ListenerFuncs) OnConnect(c *Connection) {
	if l.Connect != nil {
		l.Connect(c)
	}
}

func (l *ListenerFuncs) OnDisconnect(c *Connection) {
	if l.Disconnect != nil {
		l.Disconnect(c)
	}
}

func (l *ListenerFuncs) OnMessageSent(m ClientMessage) {
	if l.MessageSent != nil {
		l.MessageSent(m)
	}
}

func (l *ListenerFuncs) OnMessageReceived(m ServerMessage) {
	switch msg := m.(type) {
	case *SetProperty:
		if l.SetProperty != nil {
			l.SetProperty(msg)
		}
	case *DefineProperty:
		if l.DefineProperty != nil {
			l.DefineProperty(msg)
		}
	case *DeleteProperty:
		if l.DeleteProperty != nil {
			l.DeleteProperty(msg)
		}
	case *Notification:
		if l.Notification != nil {
			l.Notification(msg)
		}
	}
}

func (l *ListenerFuncs) OnAddDevice(d *Device) {
	if l.AddDevice != nil {
		l.AddDevice(d)
	}
}

func (l *ListenerFuncs) OnRemoveDevice(d *Device) {
	if l.RemoveDevice != nil {
		l.RemoveDevice(d)
	}
}

// subscribers is a copy-on-write listener list. Notification iterates a
// snapshot, so listeners may subscribe or unsubscribe from inside a
// callback.
type subscribers struct {
	mu   sync.Mutex
	list []Listener
}

func (s *subscribers) add(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]Listener, len(s.list), len(s.list)+1)
	copy(next, s.list)
	s.list = append(next, l)
}

func (s *subscribers) remove(l Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.list {
		if cur == l {
			next := make([]Listener, 0, len(s.list)-1)
			next = append(next, s.list[:i]...)
			s.list = append(next, s.list[i+1:]...)
			return true
		}
	}
	return false
}

func (s *subscribers) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.list = nil
}

func (s *subscribers) snapshot() []Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list
}

func (s *subscribers) each(fn func(Listener)) {
	for _, l := range s.snapshot() {
		fn(l)
	}
}

package indi

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultPort is the standard INDI server port.
const DefaultPort = 7624

// State is the lifecycle state of a connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Config tunes a connection. Zero fields take the defaults.
type Config struct {
	// DialTimeout bounds Connect. Zero means no timeout.
	DialTimeout time.Duration

	// ReadBufferSize is the size of each socket read (default 32 KiB).
	ReadBufferSize int

	// MaxBufferSize bounds an incomplete element (default 64 MiB).
	MaxBufferSize int

	// RetryDelay is the pause after a transient read error (default 100ms).
	// It doubles with every consecutive error up to MaxRetryDelay. Transient
	// errors never end the connection; only a closed socket or Disconnect
	// does.
	RetryDelay time.Duration

	// MaxRetryDelay caps the pause between read retries (default 5s).
	MaxRetryDelay time.Duration

	Logger log.FieldLogger
}

// DefaultConfig returns the default connection configuration.
func DefaultConfig() Config {
	return Config{
		ReadBufferSize: 32 << 10,
		MaxBufferSize:  DefaultMaxBufferSize,
		RetryDelay:     100 * time.Millisecond,
		MaxRetryDelay:  5 * time.Second,
	}
}

// Connection is a client connection to an INDI server. It owns the socket,
// a single read worker, the device registry and the listeners.
//
// A connection never reconnects by itself; see the manager package for
// that.
type Connection struct {
	host   string
	port   int
	config Config
	logger log.FieldLogger

	mu      sync.Mutex // guards conn, state and session
	conn    net.Conn
	state   State
	session uint64

	writeMu sync.Mutex

	devices *Registry
	subs    subscribers
}

// NewConnection creates a disconnected connection to host:port.
func NewConnection(host string, port int, config Config) *Connection {
	def := DefaultConfig()
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = def.ReadBufferSize
	}
	if config.MaxBufferSize <= 0 {
		config.MaxBufferSize = def.MaxBufferSize
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = def.RetryDelay
	}
	if config.MaxRetryDelay <= 0 {
		config.MaxRetryDelay = def.MaxRetryDelay
	}
	if config.MaxRetryDelay < config.RetryDelay {
		config.MaxRetryDelay = config.RetryDelay
	}
	if port == 0 {
		port = DefaultPort
	}

	logger := config.Logger
	if logger == nil {
		logger = log.WithField("component", "indi")
	}

	return &Connection{
		host:    host,
		port:    port,
		config:  config,
		logger:  logger.WithField("server", net.JoinHostPort(host, strconv.Itoa(port))),
		devices: NewRegistry(),
	}
}

// Dial creates a connection with the default configuration, subscribes the
// listeners and connects.
func Dial(host string, port int, listeners ...Listener) (*Connection, error) {
	c := NewConnection(host, port, DefaultConfig())
	for _, l := range listeners {
		c.Subscribe(l)
	}
	if err := c.Connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Connection) Host() string { return c.host }
func (c *Connection) Port() int    { return c.port }

// Addr returns the server address as host:port.
func (c *Connection) Addr() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) IsConnected() bool {
	return c.State() == StateConnected
}

// Session counts successful connects. State cached on behalf of the server
// (such as the last mode sent to a mount) is only valid within one session.
func (c *Connection) Session() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Connect opens the socket and starts the read worker. On failure nothing
// is left open and no listener is notified. Connecting an already
// connected connection does nothing.
func (c *Connection) Connect() error {
	c.mu.Lock()
	switch c.state {
	case StateConnected:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.mu.Unlock()

	dialer := net.Dialer{Timeout: c.config.DialTimeout}
	conn, err := dialer.Dial("tcp", c.Addr())
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.logger.Debugf("Connect failed: %v", err)
		return fmt.Errorf("%w: %s: %v", ErrConnect, c.Addr(), err)
	}

	c.start(conn)
	return nil
}

// start takes over an open socket: it becomes the live connection of a new
// session and gets its own read worker.
func (c *Connection) start(conn net.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.session++
	c.mu.Unlock()

	// The worker holds back until OnConnect has been delivered so listeners
	// always see the connect before the first received message.
	ready := make(chan struct{})
	go c.readLoop(conn, ready)

	c.logger.Info("Connected to INDI server")
	c.subs.each(func(l Listener) { l.OnConnect(c) })
	close(ready)
}

// Disconnect closes the socket. The read worker sees the closed socket and
// exits. Listeners get OnDisconnect only when a live connection was
// actually closed; calling Disconnect again is a no-op.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	err := conn.Close()
	c.logger.Info("Disconnected from INDI server")
	c.subs.each(func(l Listener) { l.OnDisconnect(c) })
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Send writes the message synchronously and then notifies listeners.
// Writes are not queued: a slow peer blocks the caller.
func (c *Connection) Send(m ClientMessage) error {
	data, err := MarshalMessage(m)
	if err != nil {
		return fmt.Errorf("failed to encode %T: %w", m, err)
	}
	data = append(data, '\n')

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	_, err = conn.Write(data)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	c.logger.Debugf("Sent %s", data)
	c.subs.each(func(l Listener) { l.OnMessageSent(m) })
	return nil
}

// QueryProperties asks the server to define every property of every device.
func (c *Connection) QueryProperties() error {
	return c.Send(&GetProperties{})
}

// Receive applies a server message to the registry and notifies listeners.
// The read worker calls it for every decoded element.
func (c *Connection) Receive(m ServerMessage) {
	if m == nil {
		return
	}
	m.Process(c)
	c.subs.each(func(l Listener) { l.OnMessageReceived(m) })
}

func (c *Connection) Subscribe(l Listener) {
	c.subs.add(l)
}

// Unsubscribe removes l and reports whether it was subscribed.
func (c *Connection) Unsubscribe(l Listener) bool {
	return c.subs.remove(l)
}

func (c *Connection) UnsubscribeAll() {
	c.subs.clear()
}

// Devices returns the known devices ordered by name.
func (c *Connection) Devices() []*Device {
	return c.devices.All()
}

// Device returns the named device.
func (c *Connection) Device(name string) (*Device, bool) {
	return c.devices.Get(name)
}

// AddDevice registers d, replacing a device with the same name. Listeners
// hear about it only when the name is new.
func (c *Connection) AddDevice(d *Device) {
	if c.devices.Put(d) {
		c.subs.each(func(l Listener) { l.OnAddDevice(d) })
	}
}

// GetOrCreateDevice returns the named device, creating and announcing it
// when it does not exist yet.
func (c *Connection) GetOrCreateDevice(name string) *Device {
	d, created := c.devices.GetOrAdd(name, func() *Device { return NewDevice(name, c) })
	if created {
		c.logger.Debugf("Discovered device %q", name)
		c.subs.each(func(l Listener) { l.OnAddDevice(d) })
	}
	return d
}

// RemoveDevice unregisters the named device and reports whether it existed.
func (c *Connection) RemoveDevice(name string) bool {
	d, ok := c.devices.Remove(name)
	if ok {
		c.subs.each(func(l Listener) { l.OnRemoveDevice(d) })
	}
	return ok
}

func (c *Connection) readLoop(conn net.Conn, ready <-chan struct{}) {
	<-ready

	framer := NewFramer(c.config.MaxBufferSize, c.logger)
	buf := make([]byte, c.config.ReadBufferSize)
	delay := c.config.RetryDelay
	failures := 0

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			failures = 0
			delay = c.config.RetryDelay
			for _, el := range framer.Feed(buf[:n]) {
				c.dispatch(el)
			}
		}
		if err == nil {
			continue
		}
		if isClosed(err) || !c.owns(conn) {
			break
		}
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			continue
		}

		failures++
		if failures == 1 {
			c.logger.Debugf("Read error, retrying: %v", err)
		} else {
			c.logger.Warnf("Read failed %d times in a row, retrying in %v: %v", failures, delay, err)
		}
		time.Sleep(delay)
		delay = min(2*delay, c.config.MaxRetryDelay)
	}

	c.dropConnection(conn)
}

// owns reports whether conn is still the live socket.
func (c *Connection) owns(conn net.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn == conn
}

func (c *Connection) dispatch(el *Element) {
	msg, err := DecodeMessage(el)
	if err != nil {
		if errors.Is(err, ErrUnknownElement) {
			c.logger.Debugf("Ignoring element <%s>", el.Name)
		} else {
			c.logger.Warnf("Dropping element: %v", err)
		}
		return
	}
	c.Receive(msg)
}

// dropConnection tears down after the read worker stopped on its own. It
// does nothing when Disconnect already closed conn.
func (c *Connection) dropConnection(conn net.Conn) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	conn.Close()
	c.logger.Warn("Connection to INDI server lost")
	c.subs.each(func(l Listener) { l.OnDisconnect(c) })
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"indi/pkg/indi"

	log "github.com/sirupsen/logrus"
)

var ErrClosed = errors.New("manager closed")

// Config configures a Manager.
type Config struct {
	// Connection is used for every connection the manager opens.
	Connection indi.Config

	// Reconnect makes the manager reopen a connection the server dropped.
	// Connections closed with Disconnect stay closed.
	Reconnect bool
	Backoff   BackoffConfig
}

// Manager owns the current server connection of an application. It swaps
// connections on Connect, reattaches long-lived listeners to each new one
// and optionally reconnects when the server goes away.
type Manager struct {
	cfg     Config
	logger  log.FieldLogger
	backoff *Backoff

	mu        sync.Mutex
	conn      *indi.Connection
	watch     *watcher
	listeners []indi.Listener
	closed    bool

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	reconnectCh chan *indi.Connection
}

func New(cfg Config, logger log.FieldLogger) *Manager {
	if logger == nil {
		logger = log.WithField("component", "manager")
	}
	if cfg.Connection.Logger == nil {
		cfg.Connection.Logger = logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:         cfg,
		logger:      logger,
		backoff:     NewBackoff(cfg.Backoff),
		ctx:         ctx,
		cancel:      cancel,
		reconnectCh: make(chan *indi.Connection, 1),
	}

	m.wg.Add(1)
	go m.reconnectLoop()
	return m
}

// Subscribe attaches l to the current connection and to every connection
// opened later.
func (m *Manager) Subscribe(l indi.Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
	if m.conn != nil {
		m.conn.Subscribe(l)
	}
}

// Connect replaces the current connection with a new one to host:port and
// asks the server for all properties. The old connection is closed first
// even when the new one fails.
func (m *Manager) Connect(host string, port int) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.mu.Unlock()

	m.Disconnect()

	conn := indi.NewConnection(host, port, m.cfg.Connection)
	w := &watcher{m: m}

	m.mu.Lock()
	for _, l := range m.listeners {
		conn.Subscribe(l)
	}
	m.mu.Unlock()
	conn.Subscribe(w)

	if err := conn.Connect(); err != nil {
		conn.UnsubscribeAll()
		return err
	}

	m.mu.Lock()
	m.conn = conn
	m.watch = w
	m.mu.Unlock()
	m.backoff.Reset()

	if err := conn.QueryProperties(); err != nil {
		return fmt.Errorf("failed to query properties: %w", err)
	}
	return nil
}

// Disconnect closes the current connection, if any. Listeners see the
// disconnect and are then detached.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conn, w := m.conn, m.watch
	m.conn, m.watch = nil, nil
	m.mu.Unlock()

	if conn == nil {
		return
	}
	conn.Unsubscribe(w)
	if err := conn.Disconnect(); err != nil {
		m.logger.Warnf("Error closing connection: %v", err)
	}
	conn.UnsubscribeAll()
}

// Close disconnects and stops reconnecting.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.Disconnect()
	m.cancel()
	m.wg.Wait()
}

// Connection returns the current connection, or nil.
func (m *Manager) Connection() *indi.Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

func (m *Manager) IsConnected() bool {
	conn := m.Connection()
	return conn != nil && conn.IsConnected()
}

// Devices returns the devices of the current connection. It is empty
// while disconnected.
func (m *Manager) Devices() []*indi.Device {
	conn := m.Connection()
	if conn == nil || !conn.IsConnected() {
		return nil
	}
	return conn.Devices()
}

// Device returns a device of the current connection.
func (m *Manager) Device(name string) (*indi.Device, bool) {
	conn := m.Connection()
	if conn == nil {
		return nil, false
	}
	return conn.Device(name)
}

// RefreshAll asks the server to resend every property.
func (m *Manager) RefreshAll() error {
	conn := m.Connection()
	if conn == nil {
		return indi.ErrNotConnected
	}
	return conn.QueryProperties()
}

// connectionLost runs on the read worker of a dropped connection.
func (m *Manager) connectionLost(conn *indi.Connection) {
	if !m.cfg.Reconnect {
		return
	}
	select {
	case m.reconnectCh <- conn:
	default:
	}
}

func (m *Manager) reconnectLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case conn := <-m.reconnectCh:
			m.reconnect(conn)
		}
	}
}

// reconnect reopens conn with backoff until it succeeds, the manager moves
// on to another connection or is closed. The connection keeps its devices.
func (m *Manager) reconnect(conn *indi.Connection) {
	for {
		delay := m.backoff.Next()
		m.logger.Infof("Reconnecting to %s in %v (attempt %d)", conn.Addr(), delay.Round(time.Millisecond), m.backoff.Attempts())

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(delay):
		}

		if m.Connection() != conn {
			return
		}
		if err := conn.Connect(); err != nil {
			m.logger.Debugf("Reconnect failed: %v", err)
			continue
		}

		m.backoff.Reset()
		m.logger.Infof("Reconnected to %s", conn.Addr())
		if err := conn.QueryProperties(); err != nil {
			m.logger.Warnf("Failed to query properties: %v", err)
		}
		return
	}
}

// watcher tells the manager when its connection drops.
type watcher struct {
	indi.BaseListener
	m *Manager
}

func (w *watcher) OnDisconnect(c *indi.Connection) {
	w.m.connectionLost(c)
}

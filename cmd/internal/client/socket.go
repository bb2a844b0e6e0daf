// Package client is the Connexa client-side realtime layer: a
// reconnecting socket manager, a per-conversation state store that
// reconciles REST-fetched history with live-pushed events, a
// supersede-aware history fetcher, and a debounced typing emitter.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	v1 "connexa/contracts/realtime/v1"

	"github.com/coder/websocket"
)

// Status is the client-observed connection state.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// ErrNotConnected is returned by Send when no connection is up.
var ErrNotConnected = errors.New("socket not connected")

const (
	defaultMaxRetries    = 5
	defaultRetryInterval = 3 * time.Second
	defaultWriteTimeout  = 5 * time.Second
)

// Conn abstracts one live socket so tests can substitute the transport.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(reason string) error
}

// DialFunc opens a connection to url.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// WebsocketDialer returns a DialFunc over coder/websocket. opts may be
// nil; pass an *http.Client carrying the accessToken cookie jar for
// authenticated dials.
func WebsocketDialer(opts *websocket.DialOptions) DialFunc {
	return func(ctx context.Context, url string) (Conn, error) {
		c, _, err := websocket.Dial(ctx, url, opts)
		if err != nil {
			return nil, err
		}
		return &wsConn{c: c}, nil
	}
}

type wsConn struct{ c *websocket.Conn }

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close(reason string) error {
	return w.c.Close(websocket.StatusNormalClosure, reason)
}

// Listener receives the content of one frame.
type Listener func(content json.RawMessage)

// Manager maintains one socket to the server with automatic
// reconnection: on unexpected close it moves to Reconnecting and
// retries on a fixed interval for a bounded number of attempts, then
// gives up as Disconnected. A manual Connect is always available and
// resets the retry budget.
//
// Any number of independent listeners can subscribe per event name;
// unsubscribing one never affects the others.
type Manager struct {
	log  *slog.Logger
	url  string
	dial DialFunc

	maxRetries    int
	retryInterval time.Duration
	writeTimeout  time.Duration

	mu          sync.Mutex
	conn        Conn
	status      Status
	gen         uint64
	retriesLeft int
	manual      bool
	retryTimer  *time.Timer
	readCancel  context.CancelFunc

	subs   map[string]map[int]Listener
	nextID int
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMaxRetries bounds automatic reconnect attempts per outage.
func WithMaxRetries(n int) ManagerOption {
	return func(m *Manager) {
		if n >= 0 {
			m.maxRetries = n
		}
	}
}

// WithRetryInterval sets the fixed backoff between reconnect attempts.
func WithRetryInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.retryInterval = d
		}
	}
}

// NewManager constructs a Manager. dial must not be nil.
func NewManager(log *slog.Logger, url string, dial DialFunc, opts ...ManagerOption) *Manager {
	if log == nil {
		log = slog.Default()
	}

	m := &Manager{
		log:           log,
		url:           url,
		dial:          dial,
		maxRetries:    defaultMaxRetries,
		retryInterval: defaultRetryInterval,
		writeTimeout:  defaultWriteTimeout,
		subs:          make(map[string]map[int]Listener),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Status returns the current connection state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe registers a listener for an event name and returns its
// deterministic unsubscribe function.
func (m *Manager) Subscribe(event string, fn Listener) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.subs[event] == nil {
		m.subs[event] = make(map[int]Listener)
	}
	id := m.nextID
	m.nextID++
	m.subs[event][id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs[event], id)
	}
}

// Connect establishes the socket. As a manual action it is always
// allowed, even after the automatic retry budget ran out; it clears
// any pending retry timer to avoid duplicate reconnect attempts.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusConnected || m.status == StatusConnecting {
		m.mu.Unlock()
		return nil
	}
	m.manual = false
	m.status = StatusConnecting
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.mu.Unlock()

	conn, err := m.dial(ctx, m.url)

	m.mu.Lock()
	if m.manual {
		// Disconnect raced the dial; drop the fresh connection.
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close("cancelled")
		}
		return errors.New("socket closed during connect")
	}
	if err != nil {
		m.status = StatusDisconnected
		m.mu.Unlock()
		m.emit(v1.EventDisconnected, nil)
		return err
	}
	m.attach(conn)
	m.mu.Unlock()

	m.emit(v1.EventConnected, nil)
	return nil
}

// attach wires a fresh connection; caller holds m.mu.
func (m *Manager) attach(conn Conn) {
	m.conn = conn
	m.status = StatusConnected
	m.retriesLeft = m.maxRetries
	m.gen++

	readCtx, cancel := context.WithCancel(context.Background())
	m.readCancel = cancel

	go m.readLoop(readCtx, conn, m.gen)
}

// Disconnect closes the socket and suppresses automatic reconnection.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.manual = true
	m.status = StatusDisconnected
	conn := m.conn
	m.conn = nil
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if m.readCancel != nil {
		m.readCancel()
		m.readCancel = nil
	}
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close("client disconnect")
	}
	m.emit(v1.EventDisconnected, nil)
}

// Send encodes and writes one frame. Sends while not connected fail
// fast with ErrNotConnected; the caller keeps the user's draft.
func (m *Manager) Send(typ string, content any) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.status == StatusConnected
	m.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	f, err := v1.NewFrame(typ, content)
	if err != nil {
		return err
	}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.writeTimeout)
	defer cancel()
	return conn.Write(ctx, data)
}

func (m *Manager) readLoop(ctx context.Context, conn Conn, gen uint64) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			m.onReadFailure(gen)
			return
		}

		var f v1.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			m.log.Debug("socket.frame.bad_json", "err", err)
			continue
		}
		if f.Type == "" {
			continue
		}
		m.emit(f.Type, f.Content)
	}
}

// onReadFailure drives Connected -> Reconnecting -> (Connected |
// Disconnected). Stale generations (an old connection's read loop
// failing after a new connection attached) are ignored.
func (m *Manager) onReadFailure(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.manual {
		m.mu.Unlock()
		return
	}
	m.conn = nil

	if m.retriesLeft <= 0 {
		m.status = StatusDisconnected
		m.mu.Unlock()
		m.emit(v1.EventDisconnected, nil)
		return
	}

	m.retriesLeft--
	m.status = StatusReconnecting
	m.retryTimer = time.AfterFunc(m.retryInterval, m.retryConnect)
	m.mu.Unlock()

	m.emit(v1.EventReconnecting, nil)
}

func (m *Manager) retryConnect() {
	m.mu.Lock()
	if m.manual || m.status != StatusReconnecting {
		m.mu.Unlock()
		return
	}
	m.retryTimer = nil
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.retryInterval)
	conn, err := m.dial(ctx, m.url)
	cancel()

	m.mu.Lock()
	if m.manual || m.status != StatusReconnecting {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close("stale reconnect")
		}
		return
	}
	if err != nil {
		m.log.Info("socket.reconnect.fail", "retries_left", m.retriesLeft, "err", err)

		if m.retriesLeft <= 0 {
			m.status = StatusDisconnected
			m.mu.Unlock()
			m.emit(v1.EventDisconnected, nil)
			return
		}
		m.retriesLeft--
		m.retryTimer = time.AfterFunc(m.retryInterval, m.retryConnect)
		m.mu.Unlock()
		return
	}

	m.attach(conn)
	m.mu.Unlock()

	m.emit(v1.EventConnected, nil)
}

// emit calls every listener registered for event, outside the lock.
func (m *Manager) emit(event string, content json.RawMessage) {
	m.mu.Lock()
	listeners := make([]Listener, 0, len(m.subs[event]))
	for _, fn := range m.subs[event] {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(content)
	}
}

package wsconn

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// State is the lifecycle of a single connection. There is no reconnect:
// once Disconnected, Closed or Failed the Conn is spent.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateClosed       State = "closed"
	StateFailed       State = "failed"
)

// ErrNotConnected is returned by Send when no live connection exists.
var ErrNotConnected = errors.New("ws not connected")

type MessageCallback func(raw []byte)

type StateCallback func(state State)

// HeaderProvider injects headers into the handshake request.
type HeaderProvider func() map[string]string

type callbackEntry struct {
	id       int
	callback MessageCallback
}

type stateCallbackEntry struct {
	id       int
	callback StateCallback
}

// Conn is a websocket client that delivers text frames to registered
// callbacks from a single reader goroutine, in arrival order.
type Conn struct {
	url string

	conn   *websocket.Conn
	state  State
	stateM sync.RWMutex

	msgCbs   []callbackEntry
	stateCbs []stateCallbackEntry
	nextID   int
	cbM      sync.RWMutex

	dialTimeout  time.Duration
	writeTimeout time.Duration
	pingInterval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc

	headerProvider HeaderProvider
}

type Option func(*Conn)

func WithDialTimeout(d time.Duration) Option {
	return func(c *Conn) { c.dialTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(c *Conn) { c.writeTimeout = d }
}

// WithPingInterval sets the liveness probe period; zero disables pings.
func WithPingInterval(d time.Duration) Option {
	return func(c *Conn) { c.pingInterval = d }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Conn) { c.headerProvider = h }
}

func New(url string, opts ...Option) *Conn {
	c := &Conn{
		url:          url,
		state:        StateIdle,
		dialTimeout:  10 * time.Second,
		writeTimeout: 5 * time.Second,
		pingInterval: 30 * time.Second,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL returns the dial target.
func (c *Conn) URL() string { return c.url }

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.stateM.RLock()
	defer c.stateM.RUnlock()
	return c.state
}

// Connect dials once. Callbacks should be registered before calling it so
// that the first frame is not missed.
func (c *Conn) Connect(ctx context.Context) error {
	c.stateM.Lock()
	if c.state != StateIdle {
		st := c.state
		c.stateM.Unlock()
		return errors.New("ws connect: connection already used (" + string(st) + ")")
	}
	c.stateM.Unlock()

	c.rootCtx, c.rootCancel = context.WithCancel(context.Background())
	c.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      c.buildHeaders(),
	})
	if err != nil {
		c.rootCancel()
		c.setState(StateFailed)
		return err
	}

	c.stateM.Lock()
	c.conn = conn
	c.stateM.Unlock()
	c.setState(StateConnected)

	c.wg.Add(1)
	go c.listen(conn)
	if c.pingInterval > 0 {
		c.wg.Add(1)
		go c.pingLoop(conn)
	}
	return nil
}

func (c *Conn) listen(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		typ, data, err := conn.Read(c.rootCtx)
		if err != nil {
			if c.isStopping() {
				return
			}
			_ = c.closeConn(websocket.StatusGoingAway, "read failure")
			c.rootCancel()
			c.setState(StateDisconnected)
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		c.cbM.RLock()
		callbacks := make([]callbackEntry, len(c.msgCbs))
		copy(callbacks, c.msgCbs)
		c.cbM.RUnlock()
		for _, entry := range callbacks {
			if entry.callback != nil {
				entry.callback(data)
			}
		}
	}
}

func (c *Conn) pingLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-c.stopCh:
			return
		case <-c.rootCtx.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(c.rootCtx, 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				// The reader observes the close and reports the disconnect.
				_ = conn.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

// Send writes v as one JSON text frame. Without a caller deadline the write
// is bounded by the configured write timeout.
func (c *Conn) Send(ctx context.Context, v any) error {
	c.stateM.RLock()
	conn, state := c.conn, c.state
	c.stateM.RUnlock()
	if conn == nil || state != StateConnected {
		return ErrNotConnected
	}
	if _, ok := ctx.Deadline(); !ok && c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	return wsjson.Write(ctx, conn, v)
}

func (c *Conn) OnMessage(cb MessageCallback) int {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	c.nextID++
	c.msgCbs = append(c.msgCbs, callbackEntry{id: c.nextID, callback: cb})
	return c.nextID
}

func (c *Conn) RemoveMessageCallback(id int) {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	for i, cb := range c.msgCbs {
		if cb.id == id {
			c.msgCbs = append(c.msgCbs[:i], c.msgCbs[i+1:]...)
			break
		}
	}
}

func (c *Conn) OnStateChange(cb StateCallback) int {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	c.nextID++
	c.stateCbs = append(c.stateCbs, stateCallbackEntry{id: c.nextID, callback: cb})
	return c.nextID
}

func (c *Conn) RemoveStateCallback(id int) {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	for i, cb := range c.stateCbs {
		if cb.id == id {
			c.stateCbs = append(c.stateCbs[:i], c.stateCbs[i+1:]...)
			break
		}
	}
}

func (c *Conn) setState(state State) {
	c.stateM.Lock()
	if c.state == state || c.state == StateClosed {
		c.stateM.Unlock()
		return
	}
	c.state = state
	c.stateM.Unlock()

	c.cbM.RLock()
	callbacks := make([]stateCallbackEntry, len(c.stateCbs))
	copy(callbacks, c.stateCbs)
	c.cbM.RUnlock()
	for _, entry := range callbacks {
		if entry.callback != nil {
			entry.callback(state)
		}
	}
}

// Close sends a normal closure and waits for the reader and pinger to exit.
func (c *Conn) Close(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	_ = c.closeConn(websocket.StatusNormalClosure, "close")
	if c.rootCancel != nil {
		c.rootCancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		c.setState(StateClosed)
		return nil
	}
}

func (c *Conn) closeConn(code websocket.StatusCode, reason string) error {
	c.stateM.Lock()
	conn := c.conn
	c.conn = nil
	c.stateM.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(code, reason)
}

func (c *Conn) isStopping() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *Conn) buildHeaders() http.Header {
	hdr := http.Header{}
	if c.headerProvider == nil {
		return hdr
	}
	for k, v := range c.headerProvider() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}

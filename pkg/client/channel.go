// Package client implements the connecting side of the signaling protocol: a
// reconnecting websocket channel with event-name request correlation, and a
// session controller that drives room join, transport setup and media
// production on top of it.
package client

import (
	"fmt"
	"sync"
	"time"

	"roomcast/pkg/wire"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// State is the channel connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

const (
	defaultRequestTimeout    = 3 * time.Second
	defaultReconnectAttempts = 5
	defaultReconnectDelay    = 3 * time.Second
)

// Options configures a Channel. Zero values fall back to the defaults above.
type Options struct {
	URL               string
	RequestTimeout    time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	Logger            *zap.SugaredLogger
}

type result struct {
	resp wire.Response
	err  error
}

// pendingRequest correlates one in-flight request with its continuation.
// Correlation is by event name, oldest first: two concurrent requests under
// the same name resolve in send order, which matches server handling order
// on one connection.
type pendingRequest struct {
	ch chan result
}

// Channel multiplexes correlated requests and push events over one websocket.
type Channel struct {
	opts    Options
	emitter *emitter

	mu      sync.Mutex
	state   State
	closed  bool
	conn    *websocket.Conn
	pending map[string][]*pendingRequest
	queue   [][]byte

	writeMu sync.Mutex

	logger *zap.SugaredLogger
}

func NewChannel(opts Options) *Channel {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = defaultReconnectAttempts
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Channel{
		opts:    opts,
		emitter: newEmitter(),
		state:   StateDisconnected,
		pending: make(map[string][]*pendingRequest),
		logger:  logger,
	}
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// On registers a handler for a push event.
func (c *Channel) On(event string, h PushHandler) {
	c.emitter.on(event, h)
}

// Connect dials the server. Emits queued while disconnected are replayed in
// original submission order once the socket is open.
func (c *Channel) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial(c.opts.URL, nil)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}

	c.attach(conn)
	return nil
}

// attach installs the socket, flushes the queue and starts the read loop.
// The write lock is held across the whole replay: an Emit that observes the
// connected state serializes behind the queued frames instead of interleaving
// with them.
func (c *Channel) attach(conn *websocket.Conn) {
	c.writeMu.Lock()
	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	replay := c.queue
	c.queue = nil
	c.mu.Unlock()

	for _, payload := range replay {
		if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
			c.logger.Warnw("queued emit replay failed", "error", err)
			break
		}
	}
	c.writeMu.Unlock()

	go c.readLoop(conn)
}

func (c *Channel) write(conn *websocket.Conn, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.BinaryMessage, payload)
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(err)
			return
		}

		env, err := wire.Decode(payload)
		if err != nil {
			c.logger.Warnw("undecodable frame from server", "error", err)
			continue
		}

		if pr := c.takePending(env.Event); pr != nil {
			resp, err := env.DecodeResponse()
			pr.ch <- result{resp: resp, err: err}
			continue
		}
		c.emitter.emit(env)
	}
}

func (c *Channel) takePending(event string) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.pending[event]
	if len(list) == 0 {
		return nil
	}
	pr := list[0]
	if len(list) == 1 {
		delete(c.pending, event)
	} else {
		c.pending[event] = list[1:]
	}
	return pr
}

func (c *Channel) removePending(event string, pr *pendingRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.pending[event]
	for i, candidate := range list {
		if candidate == pr {
			c.pending[event] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(c.pending[event]) == 0 {
		delete(c.pending, event)
	}
}

// handleDisconnect runs bounded reconnection with a fixed delay. Exhausting
// every attempt leaves the channel permanently disconnected.
func (c *Channel) handleDisconnect(cause error) {
	c.mu.Lock()
	if c.closed || c.state == StateClosing {
		c.state = StateDisconnected
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.conn = nil
	c.mu.Unlock()

	c.logger.Warnw("connection lost, reconnecting",
		"error", cause,
		"max_attempts", c.opts.ReconnectAttempts,
	)

	for attempt := 1; attempt <= c.opts.ReconnectAttempts; attempt++ {
		time.Sleep(c.opts.ReconnectDelay)

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		conn, _, err := websocket.DefaultDialer.Dial(c.opts.URL, nil)
		if err != nil {
			c.logger.Warnw("reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}

		c.logger.Infow("reconnected", "attempt", attempt)
		c.attach(conn)
		return
	}

	c.logger.Errorw("reconnect attempts exhausted, channel stays disconnected")
	c.mu.Lock()
	c.state = StateDisconnected
	c.closed = true
	c.mu.Unlock()
	c.failAllPending(ErrChannelClosed)
}

func (c *Channel) failAllPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string][]*pendingRequest)
	c.mu.Unlock()

	for _, list := range pending {
		for _, pr := range list {
			pr.ch <- result{err: err}
		}
	}
}

// Emit sends a fire-and-forget request. While disconnected it is queued for
// replay on the next successful (re)connect.
func (c *Channel) Emit(event string, data interface{}) error {
	payload, err := wire.EncodeRequest(event, data)
	if err != nil {
		return err
	}
	return c.send(payload)
}

func (c *Channel) send(payload []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	if c.state != StateConnected {
		c.queue = append(c.queue, payload)
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	c.mu.Unlock()

	return c.write(conn, payload)
}

// EmitPromised sends a request and waits for the response echoed under the
// same event name. The optional timeout overrides the channel default; on
// expiry the pending entry is abandoned and a late response goes unobserved.
func (c *Channel) EmitPromised(event string, data interface{}, timeout ...time.Duration) (wire.Response, error) {
	to := c.opts.RequestTimeout
	if len(timeout) > 0 && timeout[0] > 0 {
		to = timeout[0]
	}

	payload, err := wire.EncodeRequest(event, data)
	if err != nil {
		return wire.Response{}, err
	}

	pr := &pendingRequest{ch: make(chan result, 1)}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return wire.Response{}, ErrChannelClosed
	}
	c.pending[event] = append(c.pending[event], pr)
	connected := c.state == StateConnected
	conn := c.conn
	if !connected {
		c.queue = append(c.queue, payload)
	}
	c.mu.Unlock()

	if connected {
		if err := c.write(conn, payload); err != nil {
			c.removePending(event, pr)
			return wire.Response{}, err
		}
	}

	select {
	case res := <-pr.ch:
		return res.resp, res.err
	case <-time.After(to):
		c.removePending(event, pr)
		return wire.Response{}, fmt.Errorf("%s: %w", event, ErrRequestTimeout)
	}
}

// Close tears the channel down permanently. Pending requests fail with
// ErrChannelClosed.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = StateClosing
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = conn.Close()
	}
	c.failAllPending(ErrChannelClosed)

	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
	return err
}

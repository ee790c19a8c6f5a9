// Package enginetest provides a deterministic in-memory media engine used by
// the session and signaling tests. It honors the full engine contract
// (lifecycle channels, cascading closes) without touching the network.
package enginetest

import (
	"context"
	"fmt"
	"sync"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"
)

// Engine is a fake ports.MediaEngine. Ids are sequential and deterministic,
// so tests can assert on them.
type Engine struct {
	mu      sync.Mutex
	workers int

	// CanConsumeFunc, when set, overrides the default allow-all answer of
	// every router created by this engine.
	CanConsumeFunc func(producerID domain.ProducerID, caps domain.RtpCapabilities) bool

	// CreateWorkerErr makes CreateWorker fail, for pool startup tests.
	CreateWorkerErr error

	// ProduceGate, when set, makes every transport Produce suspend until the
	// gate is closed or the context ends, imitating an engine waiting for
	// media that never arrives.
	ProduceGate chan struct{}
}

func New() *Engine {
	return &Engine{}
}

func (e *Engine) CreateWorker(ctx context.Context, cfg ports.WorkerConfig) (ports.Worker, error) {
	if e.CreateWorkerErr != nil {
		return nil, e.CreateWorkerErr
	}

	e.mu.Lock()
	n := e.workers
	e.workers++
	e.mu.Unlock()

	return &Worker{
		id:     fmt.Sprintf("worker-%d", n),
		cfg:    cfg,
		engine: e,
		died:   make(chan error, 1),
	}, nil
}

// Worker is a fake engine worker. Kill simulates a terminal failure.
type Worker struct {
	id     string
	cfg    ports.WorkerConfig
	engine *Engine

	mu      sync.Mutex
	routers int
	died    chan error
	killed  bool
}

func (w *Worker) ID() string { return w.id }

// Config exposes the creation settings for assertions on port slicing.
func (w *Worker) Config() ports.WorkerConfig { return w.cfg }

func (w *Worker) CreateRouter(ctx context.Context, codecs []ports.MediaCodec) (ports.Router, error) {
	w.mu.Lock()
	n := w.routers
	w.routers++
	w.mu.Unlock()

	return &Router{
		id:     fmt.Sprintf("%s/router-%d", w.id, n),
		engine: w.engine,
		codecs: codecs,
	}, nil
}

func (w *Worker) Died() <-chan error { return w.died }

// Kill delivers a terminal failure on the Died channel. At most one failure
// is ever delivered, matching the real engine.
func (w *Worker) Kill(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.killed {
		return
	}
	w.killed = true
	w.died <- err
}

func (w *Worker) Close() error { return nil }

// Router is a fake per-room router.
type Router struct {
	id     string
	engine *Engine
	codecs []ports.MediaCodec

	mu         sync.Mutex
	transports int
	closed     bool
}

func (r *Router) RtpCapabilities() domain.RtpCapabilities {
	codecs := make([]interface{}, 0, len(r.codecs))
	for _, c := range r.codecs {
		codecs = append(codecs, map[string]interface{}{
			"mimeType":  c.MimeType,
			"kind":      string(c.Kind),
			"clockRate": c.ClockRate,
		})
	}
	return domain.RtpCapabilities{"codecs": codecs}
}

func (r *Router) CanConsume(producerID domain.ProducerID, caps domain.RtpCapabilities) bool {
	if r.engine.CanConsumeFunc != nil {
		return r.engine.CanConsumeFunc(producerID, caps)
	}
	return true
}

func (r *Router) CreateTransport(ctx context.Context, opts ports.TransportOptions) (ports.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("router %s closed", r.id)
	}
	n := r.transports
	r.transports++

	return &Transport{
		id:     domain.TransportID(fmt.Sprintf("%s/transport-%d", r.id, n)),
		engine: r.engine,
		opts:   opts,
		closed: make(chan struct{}),
	}, nil
}

func (r *Router) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Transport is a fake transport. Closing it closes every producer and
// consumer created on it, mirroring the engine cascade.
type Transport struct {
	id     domain.TransportID
	engine *Engine
	opts   ports.TransportOptions

	mu        sync.Mutex
	connected bool
	producers []*Producer
	consumers []*Consumer
	children  int
	closed    chan struct{}
	isClosed  bool
}

func (t *Transport) ID() domain.TransportID { return t.id }

func (t *Transport) Params() domain.TransportParams {
	return domain.TransportParams{
		ID:            t.id,
		IceParameters: map[string]interface{}{"usernameFragment": string(t.id)},
		IceCandidates: []interface{}{},
		DtlsParams:    map[string]interface{}{"role": "auto"},
	}
}

// Connected reports whether Connect was called, for handshake assertions.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Transport) Connect(ctx context.Context, dtls domain.DtlsParameters) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isClosed {
		return fmt.Errorf("transport %s closed", t.id)
	}
	t.connected = true
	return nil
}

func (t *Transport) Produce(ctx context.Context, kind domain.MediaKind, rtp domain.RtpParameters) (ports.Producer, error) {
	if gate := t.engine.ProduceGate; gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isClosed {
		return nil, fmt.Errorf("transport %s closed", t.id)
	}
	n := t.children
	t.children++

	p := &Producer{
		id:     domain.ProducerID(fmt.Sprintf("%s/producer-%d", t.id, n)),
		kind:   kind,
		closed: make(chan struct{}),
	}
	t.producers = append(t.producers, p)
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, producerID domain.ProducerID, caps domain.RtpCapabilities) (ports.Consumer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isClosed {
		return nil, fmt.Errorf("transport %s closed", t.id)
	}
	n := t.children
	t.children++

	c := &Consumer{
		id:       domain.ConsumerID(fmt.Sprintf("%s/consumer-%d", t.id, n)),
		kind:     domain.KindVideo,
		producer: producerID,
	}
	t.consumers = append(t.consumers, c)
	return c, nil
}

func (t *Transport) Closed() <-chan struct{} { return t.closed }

func (t *Transport) Close() {
	t.mu.Lock()
	if t.isClosed {
		t.mu.Unlock()
		return
	}
	t.isClosed = true
	producers := t.producers
	t.mu.Unlock()

	for _, p := range producers {
		p.Close()
	}
	close(t.closed)
}

// Producer is a fake outbound stream.
type Producer struct {
	id   domain.ProducerID
	kind domain.MediaKind

	once   sync.Once
	closed chan struct{}
}

func (p *Producer) ID() domain.ProducerID   { return p.id }
func (p *Producer) Kind() domain.MediaKind  { return p.kind }
func (p *Producer) Paused() bool            { return false }
func (p *Producer) Closed() <-chan struct{} { return p.closed }
func (p *Producer) Close()                  { p.once.Do(func() { close(p.closed) }) }

// Consumer is a fake inbound stream.
type Consumer struct {
	id       domain.ConsumerID
	kind     domain.MediaKind
	producer domain.ProducerID

	mu     sync.Mutex
	closed bool
}

func (c *Consumer) ID() domain.ConsumerID { return c.id }
func (c *Consumer) Kind() domain.MediaKind {
	return c.kind
}

func (c *Consumer) RtpParameters() domain.RtpParameters {
	return domain.RtpParameters{"producerId": string(c.producer)}
}

func (c *Consumer) Type() string         { return "simple" }
func (c *Consumer) ProducerPaused() bool { return false }

func (c *Consumer) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// IsClosed reports whether Close was called, for teardown assertions.
func (c *Consumer) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

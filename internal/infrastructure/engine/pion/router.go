package pion

import (
	"context"
	"fmt"
	"sync"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"
	"roomcast/pkg/utils"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Router is the per-room routing context: the codec set every transport is
// negotiated against, plus the registry of live producers that consume calls
// resolve against.
type Router struct {
	id     string
	api    *webrtc.API
	codecs []ports.MediaCodec

	mu        sync.RWMutex
	producers map[domain.ProducerID]*Producer
	closed    bool

	logger *zap.SugaredLogger
}

func newRouter(api *webrtc.API, codecs []ports.MediaCodec, logger *zap.SugaredLogger) *Router {
	return &Router{
		id:        utils.GenerateID("router"),
		api:       api,
		codecs:    codecs,
		producers: make(map[domain.ProducerID]*Producer),
		logger:    logger,
	}
}

func (r *Router) RtpCapabilities() domain.RtpCapabilities {
	codecs := make([]interface{}, 0, len(r.codecs))
	for _, c := range r.codecs {
		entry := map[string]interface{}{
			"kind":      string(c.Kind),
			"mimeType":  c.MimeType,
			"clockRate": c.ClockRate,
		}
		if c.Channels > 0 {
			entry["channels"] = c.Channels
		}
		codecs = append(codecs, entry)
	}
	return domain.RtpCapabilities{"codecs": codecs, "headerExtensions": []interface{}{}}
}

// CanConsume reports whether the producer exists and the receiver declared
// any capabilities at all. Codec-level matching happens during SDP
// negotiation on the consuming transport.
func (r *Router) CanConsume(producerID domain.ProducerID, caps domain.RtpCapabilities) bool {
	if len(caps) == 0 {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.producers[producerID]
	return ok
}

func (r *Router) CreateTransport(ctx context.Context, opts ports.TransportOptions) (ports.Transport, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("router %s is closed", r.id)
	}

	config := webrtc.Configuration{SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback}
	if opts.ForceTCP {
		config.ICETransportPolicy = webrtc.ICETransportPolicyRelay
	}

	pc, err := r.api.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	return newTransport(pc, r, opts, r.logger)
}

func (r *Router) registerProducer(p *Producer) {
	r.mu.Lock()
	r.producers[p.id] = p
	r.mu.Unlock()
}

func (r *Router) unregisterProducer(id domain.ProducerID) {
	r.mu.Lock()
	delete(r.producers, id)
	r.mu.Unlock()
}

func (r *Router) findProducer(id domain.ProducerID) (*Producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[id]
	return p, ok
}

func (r *Router) Close() {
	r.mu.Lock()
	r.closed = true
	producers := make([]*Producer, 0, len(r.producers))
	for _, p := range r.producers {
		producers = append(producers, p)
	}
	r.mu.Unlock()

	for _, p := range producers {
		p.Close()
	}
}

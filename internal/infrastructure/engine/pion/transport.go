package pion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"
	"roomcast/pkg/utils"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	// keyframeInterval is how often a PLI is sent upstream on a live
	// producer so late joiners decode without waiting for a natural
	// keyframe.
	keyframeInterval = 3 * time.Second

	// trackWaitTimeout bounds how long Produce waits for the first RTP
	// packet of the announced track. Media that never starts flowing must
	// fail the produce call, not hold the signaling dispatch hostage.
	trackWaitTimeout = 10 * time.Second

	rtpReadBufferSize = 1500
)

type incomingTrack struct {
	track    *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver
}

// Transport wraps one peer connection. The offer/answer exchange rides
// inside the opaque parameter blobs: Params carries the server offer under
// dtlsParameters.sdp, Connect expects the client answer in the same spot.
type Transport struct {
	id     domain.TransportID
	pc     *webrtc.PeerConnection
	router *Router
	opts   ports.TransportOptions

	offer webrtc.SessionDescription

	trackWait time.Duration

	mu       sync.Mutex
	incoming map[domain.MediaKind]chan incomingTrack
	closed   chan struct{}
	isClosed bool

	logger *zap.SugaredLogger
}

func newTransport(pc *webrtc.PeerConnection, router *Router, opts ports.TransportOptions, logger *zap.SugaredLogger) (*Transport, error) {
	t := &Transport{
		id:     domain.TransportID(utils.GenerateID("transport")),
		pc:     pc,
		router: router,
		opts:   opts,
		incoming: map[domain.MediaKind]chan incomingTrack{
			domain.KindAudio: make(chan incomingTrack, 1),
			domain.KindVideo: make(chan incomingTrack, 4),
		},
		trackWait: trackWaitTimeout,
		closed:    make(chan struct{}),
		logger:    logger,
	}

	// Receive-direction media lines for both kinds, so a producing client
	// can attach its tracks without renegotiating first.
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
			pc.Close()
			return nil, fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}

	pc.OnTrack(t.handleTrack)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debugw("transport connection state changed", "transport_id", t.id, "state", state.String())
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			t.Close()
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("set local description: %w", err)
	}
	t.offer = offer

	return t, nil
}

func (t *Transport) ID() domain.TransportID { return t.id }

func (t *Transport) Params() domain.TransportParams {
	return domain.TransportParams{
		ID:            t.id,
		IceParameters: map[string]interface{}{},
		IceCandidates: []interface{}{},
		DtlsParams: map[string]interface{}{
			"role": "server",
			"sdp":  t.offer.SDP,
		},
	}
}

func (t *Transport) Connect(ctx context.Context, dtls domain.DtlsParameters) error {
	sdp, ok := dtls["sdp"].(string)
	if !ok || sdp == "" {
		return fmt.Errorf("transport %s: dtls parameters carry no session description", t.id)
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := t.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (t *Transport) handleTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	kind := domain.KindVideo
	if track.Kind() == webrtc.RTPCodecTypeAudio {
		kind = domain.KindAudio
	}

	t.logger.Infow("remote track arrived",
		"transport_id", t.id,
		"track_id", track.ID(),
		"kind", kind,
		"codec", track.Codec().MimeType,
	)

	select {
	case t.incoming[kind] <- incomingTrack{track: track, receiver: receiver}:
	default:
		t.logger.Warnw("dropping unclaimed remote track", "transport_id", t.id, "track_id", track.ID())
	}
}

// Produce binds the next remote track of the requested kind to a producer.
// Screen share is carried as a video track.
func (t *Transport) Produce(ctx context.Context, kind domain.MediaKind, rtpParams domain.RtpParameters) (ports.Producer, error) {
	trackKind := kind
	if kind == domain.KindScreen {
		trackKind = domain.KindVideo
	}

	ch, ok := t.incoming[trackKind]
	if !ok {
		return nil, fmt.Errorf("unsupported media kind %q", kind)
	}

	wait := time.NewTimer(t.trackWait)
	defer wait.Stop()

	var in incomingTrack
	select {
	case in = <-ch:
	case <-t.closed:
		return nil, fmt.Errorf("transport %s closed", t.id)
	case <-wait.C:
		return nil, fmt.Errorf("no %s track arrived on transport %s within %s", kind, t.id, t.trackWait)
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s track: %w", kind, ctx.Err())
	}

	local, err := webrtc.NewTrackLocalStaticRTP(in.track.Codec().RTPCodecCapability, in.track.ID(), in.track.StreamID())
	if err != nil {
		return nil, fmt.Errorf("create forward track: %w", err)
	}

	p := &Producer{
		id:     domain.ProducerID(utils.GenerateID("producer")),
		kind:   kind,
		local:  local,
		router: t.router,
		closed: make(chan struct{}),
		logger: t.logger,
	}
	t.router.registerProducer(p)

	go p.forward(in.track)
	if trackKind == domain.KindVideo {
		go p.requestKeyframes(t.pc, uint32(in.track.SSRC()))
	}

	return p, nil
}

// Consume attaches a producer's forwarded track to this peer connection.
func (t *Transport) Consume(ctx context.Context, producerID domain.ProducerID, caps domain.RtpCapabilities) (ports.Consumer, error) {
	producer, ok := t.router.findProducer(producerID)
	if !ok {
		return nil, domain.ErrProducerNotFound
	}

	sender, err := t.pc.AddTrack(producer.local)
	if err != nil {
		return nil, fmt.Errorf("add track for producer %s: %w", producerID, err)
	}

	// Drain sender RTCP so interceptors keep running.
	go func() {
		buf := make([]byte, rtpReadBufferSize)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	codec := producer.local.Codec()
	return &Consumer{
		id:   domain.ConsumerID(utils.GenerateID("consumer")),
		kind: producer.kind,
		rtpParameters: domain.RtpParameters{
			"codecs": []interface{}{map[string]interface{}{
				"mimeType":  codec.MimeType,
				"clockRate": codec.ClockRate,
				"channels":  codec.Channels,
			}},
		},
		pc:     t.pc,
		sender: sender,
		logger: t.logger,
	}, nil
}

func (t *Transport) Closed() <-chan struct{} { return t.closed }

func (t *Transport) Close() {
	t.mu.Lock()
	if t.isClosed {
		t.mu.Unlock()
		return
	}
	t.isClosed = true
	t.mu.Unlock()

	if err := t.pc.Close(); err != nil {
		t.logger.Debugw("peer connection close failed", "transport_id", t.id, "error", err)
	}
	close(t.closed)
}

// Producer reads RTP from the remote track and writes it to the shared local
// track every consumer is attached to.
type Producer struct {
	id     domain.ProducerID
	kind   domain.MediaKind
	local  *webrtc.TrackLocalStaticRTP
	router *Router

	once   sync.Once
	closed chan struct{}

	logger *zap.SugaredLogger
}

func (p *Producer) ID() domain.ProducerID   { return p.id }
func (p *Producer) Kind() domain.MediaKind  { return p.kind }
func (p *Producer) Paused() bool            { return false }
func (p *Producer) Closed() <-chan struct{} { return p.closed }

func (p *Producer) Close() {
	p.once.Do(func() {
		p.router.unregisterProducer(p.id)
		close(p.closed)
	})
}

func (p *Producer) forward(remote *webrtc.TrackRemote) {
	defer p.Close()

	buf := make([]byte, rtpReadBufferSize)
	packet := &rtp.Packet{}

	for {
		n, _, err := remote.Read(buf)
		if err != nil {
			p.logger.Debugw("producer track read ended", "producer_id", p.id, "error", err)
			return
		}
		if err := packet.Unmarshal(buf[:n]); err != nil {
			p.logger.Warnw("malformed RTP packet", "producer_id", p.id, "error", err)
			continue
		}
		if err := p.local.WriteRTP(packet); err != nil {
			p.logger.Debugw("forward write failed", "producer_id", p.id, "error", err)
		}
	}
}

func (p *Producer) requestKeyframes(pc *webrtc.PeerConnection, ssrc uint32) {
	ticker := time.NewTicker(keyframeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}})
			if err != nil {
				return
			}
		case <-p.closed:
			return
		}
	}
}

// Consumer is one subscription leg. Closing it removes the track from the
// peer connection without touching the producer.
type Consumer struct {
	id            domain.ConsumerID
	kind          domain.MediaKind
	rtpParameters domain.RtpParameters
	pc            *webrtc.PeerConnection
	sender        *webrtc.RTPSender

	logger *zap.SugaredLogger
}

func (c *Consumer) ID() domain.ConsumerID                 { return c.id }
func (c *Consumer) Kind() domain.MediaKind                { return c.kind }
func (c *Consumer) RtpParameters() domain.RtpParameters   { return c.rtpParameters }
func (c *Consumer) Type() string                          { return "simple" }
func (c *Consumer) ProducerPaused() bool                  { return false }

func (c *Consumer) Close() {
	if err := c.pc.RemoveTrack(c.sender); err != nil {
		c.logger.Debugw("remove track failed", "consumer_id", c.id, "error", err)
	}
}

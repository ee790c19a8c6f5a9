package ports

import (
	"context"

	"roomcast/internal/core/domain"
)

// MediaEngine abstracts the external media processing engine. The session
// model only ever talks to these interfaces; the pion-backed implementation
// lives in internal/infrastructure/engine.
type MediaEngine interface {
	CreateWorker(ctx context.Context, cfg WorkerConfig) (Worker, error)
}

// WorkerConfig carries per-worker settings. Port ranges must not overlap
// between workers of one process.
type WorkerConfig struct {
	Index       int
	RtcMinPort  uint16
	RtcMaxPort  uint16
	ListenIP    string
	AnnouncedIP string
}

// MediaCodec describes one codec a router is created with.
type MediaCodec struct {
	Kind      domain.MediaKind
	MimeType  string
	ClockRate uint32
	Channels  uint16
}

// Worker is one engine processing unit. Died delivers at most one terminal
// failure; after it fires the worker must not be handed new routers.
type Worker interface {
	ID() string
	CreateRouter(ctx context.Context, codecs []MediaCodec) (Router, error)
	Died() <-chan error
	Close() error
}

// Router is the per-room media capability and routing context.
type Router interface {
	RtpCapabilities() domain.RtpCapabilities
	CanConsume(producerID domain.ProducerID, caps domain.RtpCapabilities) bool
	CreateTransport(ctx context.Context, opts TransportOptions) (Transport, error)
	Close()
}

// TransportOptions mirrors the client's create-rtc-transport request plus
// server-side bitrate knobs.
type TransportOptions struct {
	ForceTCP                        bool
	MaxIncomingBitrate              int
	InitialAvailableOutgoingBitrate int
}

// Transport is a negotiated network path owned by exactly one peer. Closed is
// signalled once, whether the close came from this side or from the engine.
type Transport interface {
	ID() domain.TransportID
	Params() domain.TransportParams
	Connect(ctx context.Context, dtls domain.DtlsParameters) error
	Produce(ctx context.Context, kind domain.MediaKind, rtp domain.RtpParameters) (Producer, error)
	Consume(ctx context.Context, producerID domain.ProducerID, caps domain.RtpCapabilities) (Consumer, error)
	Closed() <-chan struct{}
	Close()
}

// Producer is an outbound media stream registered on a send transport.
type Producer interface {
	ID() domain.ProducerID
	Kind() domain.MediaKind
	Paused() bool
	Closed() <-chan struct{}
	Close()
}

// Consumer is an inbound media stream bound to one remote producer.
type Consumer interface {
	ID() domain.ConsumerID
	Kind() domain.MediaKind
	RtpParameters() domain.RtpParameters
	Type() string
	ProducerPaused() bool
	Close()
}

package client

import "roomcast/internal/core/domain"

// Device is the local media engine the session controller drives: it loads
// the router's capabilities and materializes transports from signaled
// parameters. Implementations wrap whatever media stack the host application
// uses.
type Device interface {
	// Load ingests the router capabilities. Must complete before any
	// transport is created.
	Load(routerCapabilities domain.RtpCapabilities) error
	Loaded() bool
	RtpCapabilities() domain.RtpCapabilities

	CreateSendTransport(params domain.TransportParams, hooks SendHooks) (SendTransport, error)
	CreateRecvTransport(params domain.TransportParams, hooks RecvHooks) (RecvTransport, error)
}

// SendHooks forward a send transport's intents into signaling. Each hook
// must block until the corresponding response arrives; its return feeds the
// engine-side completion.
type SendHooks struct {
	Connect func(dtls domain.DtlsParameters) error
	Produce func(kind domain.MediaKind, rtp domain.RtpParameters) (domain.ProducerID, error)
}

// RecvHooks forward a receive transport's connect intent into signaling.
type RecvHooks struct {
	Connect func(dtls domain.DtlsParameters) error
}

// SendTransport is the outbound leg. Produce triggers the Produce hook and
// returns the confirmed producer.
type SendTransport interface {
	Produce(kind domain.MediaKind) (Producer, error)
	Close()
}

// RecvTransport is the inbound leg. Consume instantiates a local consumer
// from server-signaled parameters.
type RecvTransport interface {
	Consume(params domain.ConsumerParams) (Consumer, error)
	Close()
}

// Producer is a local outbound stream handle.
type Producer interface {
	ID() domain.ProducerID
	Kind() domain.MediaKind
	Close()
}

// Consumer is a local inbound stream handle.
type Consumer interface {
	ID() domain.ConsumerID
	Kind() domain.MediaKind
	Close()
}

package ports

import (
	"context"

	"roomcast/internal/core/domain"
)

// WorkerPool hands out engine workers to new rooms in strict round-robin
// order. A worker that reported a fatal failure stays in rotation; the whole
// process is expected to terminate shortly after (see services.WorkerPool).
type WorkerPool interface {
	Acquire() (Worker, error)
	Size() int
	Close()
}

// ClientConn is the minimal outbound side of one client socket. The
// connection registry is the only component allowed to hold these.
type ClientConn interface {
	Send(payload []byte) error
}

// ConnectionRegistry tracks live sockets per room and routes outbound bytes.
// SendTo and Broadcast are best-effort: a missing id or a failed write is not
// an error the caller sees.
type ConnectionRegistry interface {
	Register(roomID domain.RoomID, conn ClientConn) domain.ConnectionID
	Unregister(roomID domain.RoomID, connID domain.ConnectionID)
	SendTo(roomID domain.RoomID, connID domain.ConnectionID, payload []byte)
	Broadcast(roomID domain.RoomID, payload []byte, except domain.ConnectionID)
	Count(roomID domain.RoomID) int
}

// RoomNotifier delivers side-effect pushes to room members. Peer ids double
// as connection ids, so the signaling layer implements this directly on top
// of the registry.
type RoomNotifier interface {
	NewProducers(roomID domain.RoomID, except domain.PeerID, producers []domain.ProducerInfo)
	ConsumerClosed(roomID domain.RoomID, peerID domain.PeerID, consumerID domain.ConsumerID)
}

// TransportRequest is the session-level view of a create-rtc-transport call.
type TransportRequest struct {
	ForceTCP        bool
	RtpCapabilities domain.RtpCapabilities
}

// SessionService owns the room/peer graph and all calls into the media
// engine.
type SessionService interface {
	CreateRoom(ctx context.Context) (domain.RoomID, error)
	Join(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID, name string) (domain.RoomSnapshot, error)
	GetRoom(ctx context.Context, roomID domain.RoomID) (domain.RoomSnapshot, error)
	RtpCapabilities(ctx context.Context, roomID domain.RoomID) (domain.RtpCapabilities, error)
	CreateTransport(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID, req TransportRequest) (domain.TransportParams, error)
	ConnectTransport(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID, transportID domain.TransportID, dtls domain.DtlsParameters) error
	Produce(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID, transportID domain.TransportID, kind domain.MediaKind, rtp domain.RtpParameters) (domain.ProducerID, error)
	Consume(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID, transportID domain.TransportID, producerID domain.ProducerID, caps domain.RtpCapabilities) (domain.ConsumerParams, error)
	CloseProducer(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID, producerID domain.ProducerID) error
	Producers(ctx context.Context, roomID domain.RoomID) ([]domain.ProducerInfo, error)
	RemovePeer(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID) error
	Stats(ctx context.Context) []domain.RoomStats
}

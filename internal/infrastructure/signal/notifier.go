package signal

import (
	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"
	"roomcast/pkg/wire"

	"go.uber.org/zap"
)

// Notifier pushes room events to clients through the connection registry.
// Peer ids are registry connection ids, so routing is a direct lookup.
type Notifier struct {
	registry ports.ConnectionRegistry
	logger   *zap.SugaredLogger
}

func NewNotifier(registry ports.ConnectionRegistry, logger *zap.SugaredLogger) *Notifier {
	return &Notifier{registry: registry, logger: logger}
}

func (n *Notifier) NewProducers(roomID domain.RoomID, except domain.PeerID, producers []domain.ProducerInfo) {
	payload, err := wire.EncodeRequest(wire.EventNewProducers, wire.ProducerList{Items: producers})
	if err != nil {
		n.logger.Errorw("new-producers encoding failed", "room_id", roomID, "error", err)
		return
	}
	n.registry.Broadcast(roomID, payload, domain.ConnectionID(except))
}

func (n *Notifier) ConsumerClosed(roomID domain.RoomID, peerID domain.PeerID, consumerID domain.ConsumerID) {
	payload, err := wire.EncodeRequest(wire.EventConsumerClosed, wire.ConsumerClosed{ConsumerID: consumerID})
	if err != nil {
		n.logger.Errorw("consumer-closed encoding failed", "room_id", roomID, "error", err)
		return
	}
	n.registry.SendTo(roomID, domain.ConnectionID(peerID), payload)
}

package services

import (
	"context"
	"fmt"
	"sync"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"
	"roomcast/pkg/utils"

	"go.uber.org/zap"
)

// roomIDAttempts bounds id regeneration on collision. With 21-char random
// ids a collision is practically unreachable, but the check must exist.
const roomIDAttempts = 3

// Metrics is the slice of the monitoring collector the session model feeds.
type Metrics interface {
	RoomCreated()
	RoomClosed()
	PeerJoined()
	PeerLeft()
	ProducerCreated(kind domain.MediaKind)
	ProducerClosed(kind domain.MediaKind)
	ConsumerCreated()
	ConsumerClosed()
}

type nopMetrics struct{}

func (nopMetrics) RoomCreated()                        {}
func (nopMetrics) RoomClosed()                         {}
func (nopMetrics) PeerJoined()                         {}
func (nopMetrics) PeerLeft()                           {}
func (nopMetrics) ProducerCreated(domain.MediaKind)    {}
func (nopMetrics) ProducerClosed(domain.MediaKind)     {}
func (nopMetrics) ConsumerCreated()                    {}
func (nopMetrics) ConsumerClosed()                     {}

// SessionConfig carries the media knobs every room shares.
type SessionConfig struct {
	Codecs                          []ports.MediaCodec
	MaxIncomingBitrate              int
	InitialAvailableOutgoingBitrate int
}

// DefaultCodecs is the fixed codec set routers are created with.
func DefaultCodecs() []ports.MediaCodec {
	return []ports.MediaCodec{
		{Kind: domain.KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		{Kind: domain.KindVideo, MimeType: "video/VP8", ClockRate: 90000},
	}
}

type sessionService struct {
	pool     ports.WorkerPool
	notifier ports.RoomNotifier
	presence ports.PresenceRepository
	metrics  Metrics
	cfg      SessionConfig

	mu    sync.RWMutex
	rooms map[domain.RoomID]*room

	logger *zap.SugaredLogger
}

// NewSessionService builds the room registry. presence may be nil when no
// directory is configured; metrics may be nil when monitoring is off.
func NewSessionService(
	pool ports.WorkerPool,
	notifier ports.RoomNotifier,
	presence ports.PresenceRepository,
	metrics Metrics,
	cfg SessionConfig,
	logger *zap.SugaredLogger,
) ports.SessionService {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if len(cfg.Codecs) == 0 {
		cfg.Codecs = DefaultCodecs()
	}
	return &sessionService{
		pool:     pool,
		notifier: notifier,
		presence: presence,
		metrics:  metrics,
		cfg:      cfg,
		rooms:    make(map[domain.RoomID]*room),
		logger:   logger,
	}
}

func (s *sessionService) getRoom(roomID domain.RoomID) (*room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rm, ok := s.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return rm, nil
}

func (s *sessionService) CreateRoom(ctx context.Context) (domain.RoomID, error) {
	s.mu.Lock()
	var id domain.RoomID
	for attempt := 0; ; attempt++ {
		id = domain.RoomID(utils.GenerateRoomID())
		if _, exists := s.rooms[id]; !exists {
			break
		}
		if attempt == roomIDAttempts-1 {
			s.mu.Unlock()
			return "", domain.ErrRoomAlreadyExists
		}
	}

	// The worker is acquired only once the id is settled, so a failed create
	// never advances the round-robin cursor.
	worker, err := s.pool.Acquire()
	if err != nil {
		s.mu.Unlock()
		return "", fmt.Errorf("acquire worker: %w", err)
	}

	rm := newRoom(id, worker, s.cfg.Codecs, s.logger)
	s.rooms[id] = rm
	s.mu.Unlock()

	s.metrics.RoomCreated()
	s.savePresence(ctx, rm)
	s.logger.Infow("room created", "room_id", id, "worker_id", worker.ID())

	return id, nil
}

func (s *sessionService) Join(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID, name string) (domain.RoomSnapshot, error) {
	rm, err := s.getRoom(roomID)
	if err != nil {
		return domain.RoomSnapshot{}, err
	}

	rm.addPeer(peerID, name)
	s.metrics.PeerJoined()
	s.savePresence(ctx, rm)
	s.logger.Infow("peer joined", "room_id", roomID, "peer_id", peerID, "name", name)

	return rm.snapshot(), nil
}

func (s *sessionService) GetRoom(ctx context.Context, roomID domain.RoomID) (domain.RoomSnapshot, error) {
	rm, err := s.getRoom(roomID)
	if err != nil {
		return domain.RoomSnapshot{}, err
	}
	return rm.snapshot(), nil
}

func (s *sessionService) RtpCapabilities(ctx context.Context, roomID domain.RoomID) (domain.RtpCapabilities, error) {
	rm, err := s.getRoom(roomID)
	if err != nil {
		return nil, err
	}
	router, err := rm.getRouter()
	if err != nil {
		return nil, err
	}
	return router.RtpCapabilities(), nil
}

func (s *sessionService) CreateTransport(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID, req ports.TransportRequest) (domain.TransportParams, error) {
	rm, err := s.getRoom(roomID)
	if err != nil {
		return domain.TransportParams{}, err
	}
	if _, ok := rm.getPeer(peerID); !ok {
		return domain.TransportParams{}, domain.ErrPeerNotFound
	}
	router, err := rm.getRouter()
	if err != nil {
		return domain.TransportParams{}, err
	}

	transport, err := router.CreateTransport(ctx, ports.TransportOptions{
		ForceTCP:                        req.ForceTCP,
		MaxIncomingBitrate:              s.cfg.MaxIncomingBitrate,
		InitialAvailableOutgoingBitrate: s.cfg.InitialAvailableOutgoingBitrate,
	})
	if err != nil {
		return domain.TransportParams{}, fmt.Errorf("create transport: %w", err)
	}

	if !rm.addTransport(peerID, transport) {
		// Peer vanished while the engine call was in flight.
		transport.Close()
		return domain.TransportParams{}, domain.ErrPeerNotFound
	}

	go func() {
		<-transport.Closed()
		rm.removeTransport(peerID, transport.ID())
	}()

	s.logger.Debugw("transport created", "room_id", roomID, "peer_id", peerID, "transport_id", transport.ID())
	return transport.Params(), nil
}

// ConnectTransport finalizes the DTLS handshake. An unknown peer or
// transport is tolerated and logged, matching the observed behavior of
// clients reconnecting mid-handshake.
func (s *sessionService) ConnectTransport(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID, transportID domain.TransportID, dtls domain.DtlsParameters) error {
	rm, err := s.getRoom(roomID)
	if err != nil {
		return err
	}

	transport, ok := rm.getTransport(peerID, transportID)
	if !ok {
		s.logger.Warnw("connect-transport for unknown peer or transport",
			"room_id", roomID, "peer_id", peerID, "transport_id", transportID)
		return nil
	}

	if err := transport.Connect(ctx, dtls); err != nil {
		return fmt.Errorf("connect transport %s: %w", transportID, err)
	}
	return nil
}

func (s *sessionService) Produce(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID, transportID domain.TransportID, kind domain.MediaKind, rtp domain.RtpParameters) (domain.ProducerID, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("unsupported media kind %q", kind)
	}

	rm, err := s.getRoom(roomID)
	if err != nil {
		return "", err
	}
	transport, ok := rm.getTransport(peerID, transportID)
	if !ok {
		return "", domain.ErrTransportNotFound
	}

	producer, err := transport.Produce(ctx, kind, rtp)
	if err != nil {
		return "", fmt.Errorf("produce on transport %s: %w", transportID, err)
	}

	if !rm.addProducer(peerID, producer) {
		producer.Close()
		return "", domain.ErrPeerNotFound
	}

	go func() {
		<-producer.Closed()
		rm.removeProducer(peerID, producer.ID())
		s.metrics.ProducerClosed(producer.Kind())
	}()

	// Other peers learn about the producer before the producing client gets
	// its response, so their consume requests can never race ahead of the
	// room state.
	s.notifier.NewProducers(roomID, peerID, []domain.ProducerInfo{{ProducerID: producer.ID()}})

	s.metrics.ProducerCreated(kind)
	s.logger.Infow("producer created", "room_id", roomID, "peer_id", peerID, "producer_id", producer.ID(), "kind", kind)

	return producer.ID(), nil
}

func (s *sessionService) Consume(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID, transportID domain.TransportID, producerID domain.ProducerID, caps domain.RtpCapabilities) (domain.ConsumerParams, error) {
	rm, err := s.getRoom(roomID)
	if err != nil {
		return domain.ConsumerParams{}, err
	}
	router, err := rm.getRouter()
	if err != nil {
		return domain.ConsumerParams{}, err
	}

	if !router.CanConsume(producerID, caps) {
		return domain.ConsumerParams{}, domain.ErrConsumeNotAllowed
	}

	// The source handle is captured before the engine call so the close
	// watcher below never misses a producer that goes away mid-consume: its
	// Closed channel fires even when already closed.
	source, ok := rm.findProducer(producerID)
	if !ok {
		return domain.ConsumerParams{}, domain.ErrProducerNotFound
	}

	transport, ok := rm.getTransport(peerID, transportID)
	if !ok {
		return domain.ConsumerParams{}, domain.ErrTransportNotFound
	}

	consumer, err := transport.Consume(ctx, producerID, caps)
	if err != nil {
		return domain.ConsumerParams{}, fmt.Errorf("consume producer %s: %w", producerID, err)
	}

	if !rm.addConsumer(peerID, consumer) {
		consumer.Close()
		return domain.ConsumerParams{}, domain.ErrPeerNotFound
	}

	// When the source producer goes away the consumer is torn down and the
	// owning client is told, so it can drop its local track.
	go func() {
		<-source.Closed()
		if rm.removeConsumer(peerID, consumer.ID()) {
			consumer.Close()
			s.notifier.ConsumerClosed(roomID, peerID, consumer.ID())
			s.metrics.ConsumerClosed()
			s.logger.Infow("consumer closed after producer close",
				"room_id", roomID, "peer_id", peerID, "consumer_id", consumer.ID())
		}
	}()

	s.metrics.ConsumerCreated()

	return domain.ConsumerParams{
		ProducerID:     producerID,
		ID:             consumer.ID(),
		Kind:           consumer.Kind(),
		RtpParameters:  consumer.RtpParameters(),
		Type:           consumer.Type(),
		ProducerPaused: consumer.ProducerPaused(),
	}, nil
}

func (s *sessionService) CloseProducer(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID, producerID domain.ProducerID) error {
	rm, err := s.getRoom(roomID)
	if err != nil {
		return err
	}
	p, ok := rm.getPeer(peerID)
	if !ok {
		return domain.ErrPeerNotFound
	}

	rm.mu.Lock()
	producer, ok := p.producers[producerID]
	if ok {
		delete(p.producers, producerID)
	}
	rm.mu.Unlock()

	if !ok {
		s.logger.Warnw("close of unknown producer", "room_id", roomID, "peer_id", peerID, "producer_id", producerID)
		return nil
	}

	producer.Close()
	return nil
}

func (s *sessionService) Producers(ctx context.Context, roomID domain.RoomID) ([]domain.ProducerInfo, error) {
	rm, err := s.getRoom(roomID)
	if err != nil {
		return nil, err
	}
	return rm.producerList(), nil
}

func (s *sessionService) RemovePeer(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID) error {
	rm, err := s.getRoom(roomID)
	if err != nil {
		return err
	}

	transports, removed, empty := rm.removePeer(peerID)
	if !removed {
		return domain.ErrPeerNotFound
	}

	// Closing the transports cascades to their producers and consumers
	// inside the engine.
	for _, t := range transports {
		t.Close()
	}
	s.metrics.PeerLeft()
	s.logger.Infow("peer removed", "room_id", roomID, "peer_id", peerID)

	if empty {
		s.closeRoom(ctx, rm)
		return nil
	}

	s.savePresence(ctx, rm)
	return nil
}

func (s *sessionService) Stats(ctx context.Context) []domain.RoomStats {
	s.mu.RLock()
	rooms := make([]*room, 0, len(s.rooms))
	for _, rm := range s.rooms {
		rooms = append(rooms, rm)
	}
	s.mu.RUnlock()

	stats := make([]domain.RoomStats, 0, len(rooms))
	for _, rm := range rooms {
		stats = append(stats, rm.stats())
	}
	return stats
}

func (s *sessionService) closeRoom(ctx context.Context, rm *room) {
	s.mu.Lock()
	delete(s.rooms, rm.id)
	s.mu.Unlock()

	if router, err := rm.getRouter(); err == nil {
		router.Close()
	}

	if s.presence != nil {
		if err := s.presence.DeleteRoom(ctx, rm.id); err != nil {
			s.logger.Warnw("presence delete failed", "room_id", rm.id, "error", err)
		}
	}

	s.metrics.RoomClosed()
	s.logger.Infow("room closed", "room_id", rm.id)
}

func (s *sessionService) savePresence(ctx context.Context, rm *room) {
	if s.presence == nil {
		return
	}
	if err := s.presence.SaveRoom(ctx, rm.snapshot()); err != nil {
		s.logger.Warnw("presence save failed", "room_id", rm.id, "error", err)
	}
}

package services

import (
	"context"
	"sync"
	"time"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"

	"go.uber.org/zap"
)

// room is the in-memory graph of one live session: a router on one worker
// plus the peers and their media resources. All map access goes through
// methods holding mu; calls into the media engine happen outside the lock
// because they suspend.
type room struct {
	id        domain.RoomID
	worker    ports.Worker
	createdAt time.Time

	// routerErr is written once before routerReady is closed.
	routerReady chan struct{}
	router      ports.Router
	routerErr   error

	mu    sync.Mutex
	peers map[domain.PeerID]*peer

	logger *zap.SugaredLogger
}

type peer struct {
	id   domain.PeerID
	name string

	transports map[domain.TransportID]ports.Transport
	producers  map[domain.ProducerID]ports.Producer
	consumers  map[domain.ConsumerID]ports.Consumer
}

// newRoom starts router creation asynchronously, matching the engine's
// startup cost. Callers that need the router before it is ready get
// ErrRouterNotReady and are expected to retry.
func newRoom(id domain.RoomID, worker ports.Worker, codecs []ports.MediaCodec, logger *zap.SugaredLogger) *room {
	r := &room{
		id:          id,
		worker:      worker,
		createdAt:   time.Now(),
		routerReady: make(chan struct{}),
		peers:       make(map[domain.PeerID]*peer),
		logger:      logger,
	}

	go func() {
		router, err := worker.CreateRouter(context.Background(), codecs)
		if err != nil {
			r.routerErr = err
			logger.Errorw("router creation failed", "room_id", id, "worker_id", worker.ID(), "error", err)
		} else {
			r.router = router
		}
		close(r.routerReady)
	}()

	return r
}

// getRouter returns the room router, ErrRouterNotReady while creation is
// still in flight, or the creation error.
func (r *room) getRouter() (ports.Router, error) {
	select {
	case <-r.routerReady:
		if r.routerErr != nil {
			return nil, r.routerErr
		}
		return r.router, nil
	default:
		return nil, domain.ErrRouterNotReady
	}
}

func (r *room) addPeer(id domain.PeerID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[id] = &peer{
		id:         id,
		name:       name,
		transports: make(map[domain.TransportID]ports.Transport),
		producers:  make(map[domain.ProducerID]ports.Producer),
		consumers:  make(map[domain.ConsumerID]ports.Consumer),
	}
}

func (r *room) getPeer(id domain.PeerID) (*peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	return p, ok
}

func (r *room) addTransport(peerID domain.PeerID, t ports.Transport) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[peerID]
	if !ok {
		return false
	}
	p.transports[t.ID()] = t
	return true
}

func (r *room) getTransport(peerID domain.PeerID, transportID domain.TransportID) (ports.Transport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[peerID]
	if !ok {
		return nil, false
	}
	t, ok := p.transports[transportID]
	return t, ok
}

func (r *room) removeTransport(peerID domain.PeerID, transportID domain.TransportID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[peerID]; ok {
		delete(p.transports, transportID)
	}
}

func (r *room) addProducer(peerID domain.PeerID, producer ports.Producer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[peerID]
	if !ok {
		return false
	}
	p.producers[producer.ID()] = producer
	return true
}

func (r *room) removeProducer(peerID domain.PeerID, producerID domain.ProducerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[peerID]; ok {
		delete(p.producers, producerID)
	}
}

// findProducer locates a producer by id across every peer in the room.
func (r *room) findProducer(producerID domain.ProducerID) (ports.Producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.peers {
		if producer, ok := p.producers[producerID]; ok {
			return producer, true
		}
	}
	return nil, false
}

func (r *room) addConsumer(peerID domain.PeerID, consumer ports.Consumer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[peerID]
	if !ok {
		return false
	}
	p.consumers[consumer.ID()] = consumer
	return true
}

func (r *room) removeConsumer(peerID domain.PeerID, consumerID domain.ConsumerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[peerID]
	if !ok {
		return false
	}
	if _, ok := p.consumers[consumerID]; !ok {
		return false
	}
	delete(p.consumers, consumerID)
	return true
}

// removePeer detaches the peer and returns its transports for the caller to
// close outside the lock, plus whether the room is now empty.
func (r *room) removePeer(peerID domain.PeerID) (transports []ports.Transport, removed, empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[peerID]
	if !ok {
		return nil, false, len(r.peers) == 0
	}

	for _, t := range p.transports {
		transports = append(transports, t)
	}
	delete(r.peers, peerID)
	return transports, true, len(r.peers) == 0
}

func (r *room) snapshot() domain.RoomSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := domain.RoomSnapshot{ID: r.id, Peers: make([]domain.PeerInfo, 0, len(r.peers))}
	for _, p := range r.peers {
		snap.Peers = append(snap.Peers, domain.PeerInfo{ID: p.id, Name: p.name})
	}
	return snap
}

// producerList enumerates every producer in the room, the payload both
// get-producers and the join bootstrap build on.
func (r *room) producerList() []domain.ProducerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	items := make([]domain.ProducerInfo, 0)
	for _, p := range r.peers {
		for id := range p.producers {
			items = append(items, domain.ProducerInfo{ProducerID: id})
		}
	}
	return items
}

func (r *room) stats() domain.RoomStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := domain.RoomStats{ID: r.id, CreatedAt: r.createdAt, PeerCount: len(r.peers)}
	for _, p := range r.peers {
		st.Producers += len(p.producers)
		st.Consumers += len(p.consumers)
	}
	return st
}

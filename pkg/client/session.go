package client

import (
	"fmt"
	"sync"

	"roomcast/internal/core/domain"
	"roomcast/pkg/wire"

	"go.uber.org/zap"
)

// SessionHooks are optional application callbacks for remote media events.
type SessionHooks struct {
	OnConsumer       func(consumer Consumer, producerID domain.ProducerID)
	OnConsumerClosed func(consumerID domain.ConsumerID)
	OnPeerLeft       func()
}

// Session drives one room membership end to end: capability negotiation,
// one send and one receive transport, producer lifecycle and automatic
// consumption of remote producers.
type Session struct {
	channel *Channel
	device  Device
	hooks   SessionHooks
	logger  *zap.SugaredLogger

	mu        sync.Mutex
	joined    bool
	roomID    domain.RoomID
	send      SendTransport
	recv      RecvTransport
	recvID    domain.TransportID
	producers map[domain.MediaKind]Producer
	consumers map[domain.ConsumerID]Consumer
	owned     map[domain.ProducerID]bool
	consumed  map[domain.ProducerID]bool
}

func NewSession(channel *Channel, device Device, hooks SessionHooks, logger *zap.SugaredLogger) *Session {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Session{
		channel:   channel,
		device:    device,
		hooks:     hooks,
		logger:    logger,
		producers: make(map[domain.MediaKind]Producer),
		consumers: make(map[domain.ConsumerID]Consumer),
		owned:     make(map[domain.ProducerID]bool),
		consumed:  make(map[domain.ProducerID]bool),
	}

	// Push handlers run on the channel read loop; anything that waits for a
	// response must hop to another goroutine or the loop deadlocks.
	channel.On(wire.EventNewProducers, func(env wire.Envelope) {
		var list wire.ProducerList
		if err := env.DecodeData(&list); err != nil {
			s.logger.Warnw("malformed new-producers push", "error", err)
			return
		}
		go s.consumeAll(list.Items)
	})

	channel.On(wire.EventConsumerClosed, func(env wire.Envelope) {
		var msg wire.ConsumerClosed
		if err := env.DecodeData(&msg); err != nil {
			s.logger.Warnw("malformed consumer-closed push", "error", err)
			return
		}
		s.closeConsumer(msg.ConsumerID)
	})

	channel.On(wire.EventDisconnect, func(env wire.Envelope) {
		if s.hooks.OnPeerLeft != nil {
			s.hooks.OnPeerLeft()
		}
	})

	return s
}

func statusErr(event string, resp wire.Response) error {
	if resp.Status {
		return nil
	}
	msg := resp.ErrorMessage()
	if msg == "" {
		msg = "request failed"
	}
	return fmt.Errorf("%s: %s", event, msg)
}

// CreateRoom asks the server for a fresh room and returns its id.
func (s *Session) CreateRoom() (domain.RoomID, error) {
	resp, err := s.channel.EmitPromised(wire.EventCreateRoom, nil)
	if err != nil {
		return "", err
	}
	if err := statusErr(wire.EventCreateRoom, resp); err != nil {
		return "", err
	}

	var created wire.RoomCreated
	if err := resp.DecodeData(&created); err != nil {
		return "", err
	}
	return created.RoomID, nil
}

// Join enters the room and brings up the full media path: device load, then
// the send and receive transports, then consumption of already-present
// producers.
func (s *Session) Join(roomID domain.RoomID, name string) (domain.RoomSnapshot, error) {
	resp, err := s.channel.EmitPromised(wire.EventJoin, wire.JoinRequest{RoomID: roomID, Name: name})
	if err != nil {
		return domain.RoomSnapshot{}, err
	}
	if err := statusErr(wire.EventJoin, resp); err != nil {
		return domain.RoomSnapshot{}, err
	}
	var snapshot domain.RoomSnapshot
	if err := resp.DecodeData(&snapshot); err != nil {
		return domain.RoomSnapshot{}, err
	}

	if err := s.loadDevice(); err != nil {
		return domain.RoomSnapshot{}, err
	}

	send, _, err := s.createTransport(true)
	if err != nil {
		return domain.RoomSnapshot{}, err
	}
	recv, recvID, err := s.createTransport(false)
	if err != nil {
		send.(SendTransport).Close()
		return domain.RoomSnapshot{}, err
	}

	s.mu.Lock()
	s.joined = true
	s.roomID = roomID
	s.send = send.(SendTransport)
	s.recv = recv.(RecvTransport)
	s.recvID = recvID
	s.mu.Unlock()

	// Existing producers arrive as a new-producers push.
	if err := s.channel.Emit(wire.EventGetProducers, nil); err != nil {
		s.logger.Warnw("producer bootstrap request failed", "error", err)
	}

	return snapshot, nil
}

func (s *Session) loadDevice() error {
	resp, err := s.channel.EmitPromised(wire.EventGetRtpCapabilities, nil)
	if err != nil {
		return err
	}
	if err := statusErr(wire.EventGetRtpCapabilities, resp); err != nil {
		return err
	}

	var caps domain.RtpCapabilities
	if err := resp.DecodeData(&caps); err != nil {
		return err
	}
	return s.device.Load(caps)
}

// createTransport signals one transport and materializes it on the device.
// The returned interface is a SendTransport or RecvTransport per sendSide.
func (s *Session) createTransport(sendSide bool) (interface{}, domain.TransportID, error) {
	resp, err := s.channel.EmitPromised(wire.EventCreateRtcTransport, wire.CreateTransportRequest{
		ForceTCP:        false,
		RtpCapabilities: s.device.RtpCapabilities(),
	})
	if err != nil {
		return nil, "", err
	}
	if err := statusErr(wire.EventCreateRtcTransport, resp); err != nil {
		return nil, "", err
	}

	var params domain.TransportParams
	if err := resp.DecodeData(&params); err != nil {
		return nil, "", err
	}

	connect := func(dtls domain.DtlsParameters) error {
		r, err := s.channel.EmitPromised(wire.EventConnectTransport, wire.ConnectTransportRequest{
			TransportID:    params.ID,
			DtlsParameters: dtls,
		})
		if err != nil {
			return err
		}
		return statusErr(wire.EventConnectTransport, r)
	}

	if sendSide {
		transport, err := s.device.CreateSendTransport(params, SendHooks{
			Connect: connect,
			Produce: func(kind domain.MediaKind, rtp domain.RtpParameters) (domain.ProducerID, error) {
				r, err := s.channel.EmitPromised(wire.EventProduce, wire.ProduceRequest{
					ProducerTransportID: params.ID,
					Kind:                kind,
					RtpParameters:       rtp,
				})
				if err != nil {
					return "", err
				}
				if err := statusErr(wire.EventProduce, r); err != nil {
					return "", err
				}
				var created wire.ProducerCreated
				if err := r.DecodeData(&created); err != nil {
					return "", err
				}
				s.mu.Lock()
				s.owned[created.ProducerID] = true
				s.mu.Unlock()
				return created.ProducerID, nil
			},
		})
		return transport, params.ID, err
	}

	transport, err := s.device.CreateRecvTransport(params, RecvHooks{Connect: connect})
	return transport, params.ID, err
}

// Produce starts one local producer of the given kind. At most one producer
// per kind is allowed; the check is local and costs no round trip.
func (s *Session) Produce(kind domain.MediaKind) (Producer, error) {
	s.mu.Lock()
	if !s.joined {
		s.mu.Unlock()
		return nil, ErrNotJoined
	}
	if _, exists := s.producers[kind]; exists {
		s.mu.Unlock()
		return nil, ErrProducerExists
	}
	send := s.send
	s.mu.Unlock()

	producer, err := send.Produce(kind)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if _, exists := s.producers[kind]; exists {
		s.mu.Unlock()
		producer.Close()
		return nil, ErrProducerExists
	}
	s.producers[kind] = producer
	s.mu.Unlock()

	return producer, nil
}

// CloseProducer closes the local producer of the given kind and tells the
// server, fire-and-forget.
func (s *Session) CloseProducer(kind domain.MediaKind) error {
	s.mu.Lock()
	producer := s.producers[kind]
	delete(s.producers, kind)
	s.mu.Unlock()

	if producer == nil {
		return nil
	}

	producer.Close()
	return s.channel.Emit(wire.EventProducerClosed, wire.ProducerClosedRequest{ProducerID: producer.ID()})
}

func (s *Session) consumeAll(items []domain.ProducerInfo) {
	for _, item := range items {
		s.consume(item.ProducerID)
	}
}

func (s *Session) consume(producerID domain.ProducerID) {
	s.mu.Lock()
	if !s.joined || s.owned[producerID] || s.consumed[producerID] {
		s.mu.Unlock()
		return
	}
	s.consumed[producerID] = true
	recv := s.recv
	recvID := s.recvID
	s.mu.Unlock()

	resp, err := s.channel.EmitPromised(wire.EventConsume, wire.ConsumeRequest{
		ConsumerTransportID: recvID,
		ProducerID:          producerID,
		RtpCapabilities:     s.device.RtpCapabilities(),
	})
	if err == nil {
		err = statusErr(wire.EventConsume, resp)
	}
	if err != nil {
		s.logger.Warnw("consume failed", "producer_id", producerID, "error", err)
		s.mu.Lock()
		delete(s.consumed, producerID)
		s.mu.Unlock()
		return
	}

	var params domain.ConsumerParams
	if err := resp.DecodeData(&params); err != nil {
		s.logger.Warnw("malformed consume response", "producer_id", producerID, "error", err)
		return
	}

	consumer, err := recv.Consume(params)
	if err != nil {
		s.logger.Warnw("local consumer setup failed", "producer_id", producerID, "error", err)
		return
	}

	s.mu.Lock()
	s.consumers[consumer.ID()] = consumer
	s.mu.Unlock()

	if s.hooks.OnConsumer != nil {
		s.hooks.OnConsumer(consumer, producerID)
	}
}

func (s *Session) closeConsumer(consumerID domain.ConsumerID) {
	s.mu.Lock()
	consumer := s.consumers[consumerID]
	delete(s.consumers, consumerID)
	s.mu.Unlock()

	if consumer == nil {
		return
	}
	consumer.Close()

	if s.hooks.OnConsumerClosed != nil {
		s.hooks.OnConsumerClosed(consumerID)
	}
}

// Consumers returns the live consumer ids, for inspection.
func (s *Session) Consumers() []domain.ConsumerID {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]domain.ConsumerID, 0, len(s.consumers))
	for id := range s.consumers {
		ids = append(ids, id)
	}
	return ids
}

// Exit leaves the room. Unless offline is set (abrupt network loss already
// detected), the server is notified first so its state is cleaned
// synchronously instead of waiting for disconnect detection. The channel
// itself stays open and is owned by the caller.
func (s *Session) Exit(offline bool) error {
	s.mu.Lock()
	if !s.joined {
		s.mu.Unlock()
		return nil
	}
	s.joined = false
	send, recv := s.send, s.recv
	producers := s.producers
	consumers := s.consumers
	s.send, s.recv = nil, nil
	s.producers = make(map[domain.MediaKind]Producer)
	s.consumers = make(map[domain.ConsumerID]Consumer)
	s.owned = make(map[domain.ProducerID]bool)
	s.consumed = make(map[domain.ProducerID]bool)
	s.mu.Unlock()

	if !offline {
		if _, err := s.channel.EmitPromised(wire.EventDisconnect, nil); err != nil {
			s.logger.Warnw("leave notification failed", "error", err)
		}
	}

	for _, p := range producers {
		p.Close()
	}
	for _, c := range consumers {
		c.Close()
	}
	if send != nil {
		send.Close()
	}
	if recv != nil {
		recv.Close()
	}
	return nil
}

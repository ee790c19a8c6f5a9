// Package signal is the websocket gateway: it owns the sockets, decodes the
// binary envelope protocol and dispatches each event to the session service.
// Handler failures become {status:false} response envelopes; the connection
// itself only dies on transport errors.
package signal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"
	"roomcast/pkg/utils"
	"roomcast/pkg/validation"
	"roomcast/pkg/wire"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxPeerNameLength = 64

// Options carries the per-connection tunables, normally sourced from the
// signal and auth sections of the config file.
type Options struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64

	AuthEnabled    bool
	JWTSecret      string
	AllowedOrigins []string

	RateLimitEnabled  bool
	MessagesPerSecond float64
	MessageBurst      int
}

// MessageObserver receives per-message and per-connection facts for the
// monitoring layer. A nil observer disables collection.
type MessageObserver interface {
	ConnectionOpened()
	ConnectionClosed()
	MessageHandled(event string, ok bool, duration time.Duration)
}

// Gateway upgrades HTTP requests to websocket connections and runs the
// envelope protocol on them.
type Gateway struct {
	sessions ports.SessionService
	registry ports.ConnectionRegistry
	opts     Options
	observer MessageObserver
	upgrader websocket.Upgrader

	logger *zap.SugaredLogger
}

func NewGateway(
	sessions ports.SessionService,
	registry ports.ConnectionRegistry,
	opts Options,
	observer MessageObserver,
	logger *zap.SugaredLogger,
) *Gateway {
	g := &Gateway{
		sessions: sessions,
		registry: registry,
		opts:     opts,
		observer: observer,
		logger:   logger,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range g.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// connState is one live socket. It is the registry's ClientConn; writes are
// serialized through writeMu because pings, responses and pushes come from
// different goroutines.
type connState struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex

	// Set once on successful join, cleared on teardown.
	roomID domain.RoomID
	peerID domain.PeerID
}

func (c *connState) Send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.BinaryMessage, payload)
}

func (c *connState) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// HandleWebSocket is the single websocket endpoint.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if g.opts.AuthEnabled {
		if err := g.authorize(r); err != nil {
			g.logger.Warnw("websocket auth rejected", "remote_addr", r.RemoteAddr, "error", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Errorw("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	state := &connState{conn: conn, writeTimeout: g.opts.WriteTimeout}

	if g.observer != nil {
		g.observer.ConnectionOpened()
		defer g.observer.ConnectionClosed()
	}
	g.logger.Infow("client connected", "remote_addr", r.RemoteAddr)

	conn.SetReadLimit(g.opts.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(g.opts.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(g.opts.PongTimeout))
		return nil
	})

	var limiter *rate.Limiter
	if g.opts.RateLimitEnabled {
		limiter = rate.NewLimiter(rate.Limit(g.opts.MessagesPerSecond), g.opts.MessageBurst)
	}

	frames := make(chan []byte, 16)
	readErr := make(chan error, 1)

	go func() {
		defer close(frames)
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(g.opts.PongTimeout))
			frames <- payload
		}
	}()

	// Frames are dispatched off the keepalive loop so a handler suspended in
	// the media engine cannot stall pings and time the connection out. They
	// still run one at a time: event-name correlation relies on handling
	// order per connection. The dispatch goroutine is the sole writer of
	// state.roomID/peerID until it drains; teardown runs after that.
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		for payload := range frames {
			g.handleFrame(r.Context(), state, payload, limiter)
		}
	}()

	pingTicker := time.NewTicker(g.opts.PingInterval)
	defer pingTicker.Stop()
	defer g.teardown(context.Background(), state)

	for {
		select {
		case <-pingTicker.C:
			if err := state.ping(); err != nil {
				g.logger.Debugw("ping failed", "remote_addr", r.RemoteAddr, "error", err)
				conn.Close()
				<-dispatchDone
				return
			}

		case err := <-readErr:
			<-dispatchDone
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				g.logger.Infow("read failed", "peer_id", state.peerID, "error", err)
			}
			return
		}
	}
}

func (g *Gateway) authorize(r *http.Request) error {
	token := r.URL.Query().Get("token")
	if token == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
	}
	if token == "" {
		return fmt.Errorf("missing token")
	}

	_, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(g.opts.JWTSecret), nil
	})
	if err != nil {
		return fmt.Errorf("parse token: %w", err)
	}
	return nil
}

func (g *Gateway) handleFrame(ctx context.Context, state *connState, payload []byte, limiter *rate.Limiter) {
	env, err := wire.Decode(payload)
	if err != nil {
		g.logger.Warnw("undecodable frame", "peer_id", state.peerID, "error", err)
		return
	}

	if limiter != nil && !limiter.Allow() {
		g.reply(state, env.Event, nil, errors.New("rate limit exceeded"))
		return
	}

	ctx, span := otel.Tracer("roomcast/signal").Start(ctx, "signal."+env.Event)
	span.SetAttributes(
		attribute.String("room.id", string(state.roomID)),
		attribute.String("peer.id", string(state.peerID)),
	)
	defer span.End()

	start := time.Now()
	handleErr := g.dispatch(ctx, state, env)
	if g.observer != nil {
		g.observer.MessageHandled(env.Event, handleErr == nil, time.Since(start))
	}
	if handleErr != nil {
		g.logger.Debugw("event handling failed", "event", env.Event, "peer_id", state.peerID, "error", handleErr)
	}
}

// dispatch runs one event end to end. The returned error is only for
// observability: the client already got its {status:false} envelope.
func (g *Gateway) dispatch(ctx context.Context, state *connState, env wire.Envelope) error {
	switch env.Event {
	case wire.EventCreateRoom:
		return g.handleCreateRoom(ctx, state)
	case wire.EventJoin:
		return g.handleJoin(ctx, state, env)
	case wire.EventGetRoom:
		return g.handleGetRoom(ctx, state, env)
	case wire.EventGetRtpCapabilities:
		return g.handleRtpCapabilities(ctx, state)
	case wire.EventCreateRtcTransport:
		return g.handleCreateTransport(ctx, state, env)
	case wire.EventConnectTransport:
		return g.handleConnectTransport(ctx, state, env)
	case wire.EventProduce:
		return g.handleProduce(ctx, state, env)
	case wire.EventConsume:
		return g.handleConsume(ctx, state, env)
	case wire.EventGetProducers:
		return g.handleGetProducers(ctx, state)
	case wire.EventProducerClosed:
		return g.handleProducerClosed(ctx, state, env)
	case wire.EventDisconnect:
		return g.handleDisconnect(ctx, state)
	default:
		err := fmt.Errorf("unknown event %q", env.Event)
		g.reply(state, env.Event, nil, err)
		return err
	}
}

func (g *Gateway) handleCreateRoom(ctx context.Context, state *connState) error {
	roomID, err := g.sessions.CreateRoom(ctx)
	if err != nil {
		g.reply(state, wire.EventCreateRoom, nil, err)
		return err
	}
	g.reply(state, wire.EventCreateRoom, wire.RoomCreated{RoomID: roomID}, nil)
	return nil
}

func (g *Gateway) handleJoin(ctx context.Context, state *connState, env wire.Envelope) error {
	var req wire.JoinRequest
	if err := env.DecodeData(&req); err != nil {
		g.reply(state, wire.EventJoin, nil, err)
		return err
	}
	if err := validation.ValidateRoomID(string(req.RoomID)); err != nil {
		g.replyFieldErrors(state, wire.EventJoin, []wire.FieldError{{Key: "roomId", Values: []string{err.Error()}}})
		return err
	}
	if err := validation.ValidatePeerName(req.Name, maxPeerNameLength); err != nil {
		g.replyFieldErrors(state, wire.EventJoin, []wire.FieldError{{Key: "name", Values: []string{err.Error()}}})
		return err
	}
	if state.peerID != "" {
		err := errors.New("connection already joined a room")
		g.reply(state, wire.EventJoin, nil, err)
		return err
	}

	name := utils.TruncateString(utils.SanitizeString(req.Name), maxPeerNameLength)

	connID := g.registry.Register(req.RoomID, state)
	snapshot, err := g.sessions.Join(ctx, req.RoomID, domain.PeerID(connID), name)
	if err != nil {
		g.registry.Unregister(req.RoomID, connID)
		g.reply(state, wire.EventJoin, nil, err)
		return err
	}

	state.roomID = req.RoomID
	state.peerID = domain.PeerID(connID)

	g.reply(state, wire.EventJoin, snapshot, nil)
	return nil
}

func (g *Gateway) handleGetRoom(ctx context.Context, state *connState, env wire.Envelope) error {
	var req wire.GetRoomRequest
	if err := env.DecodeData(&req); err != nil {
		g.reply(state, wire.EventGetRoom, nil, err)
		return err
	}
	roomID := req.RoomID
	if roomID == "" {
		roomID = state.roomID
	}

	snapshot, err := g.sessions.GetRoom(ctx, roomID)
	if err != nil {
		g.reply(state, wire.EventGetRoom, nil, err)
		return err
	}
	g.reply(state, wire.EventGetRoom, snapshot, nil)
	return nil
}

func (g *Gateway) handleRtpCapabilities(ctx context.Context, state *connState) error {
	if err := g.requireJoined(state, wire.EventGetRtpCapabilities); err != nil {
		return err
	}
	caps, err := g.sessions.RtpCapabilities(ctx, state.roomID)
	if err != nil {
		g.reply(state, wire.EventGetRtpCapabilities, nil, err)
		return err
	}
	g.reply(state, wire.EventGetRtpCapabilities, caps, nil)
	return nil
}

func (g *Gateway) handleCreateTransport(ctx context.Context, state *connState, env wire.Envelope) error {
	if err := g.requireJoined(state, wire.EventCreateRtcTransport); err != nil {
		return err
	}
	var req wire.CreateTransportRequest
	if err := env.DecodeData(&req); err != nil {
		g.reply(state, wire.EventCreateRtcTransport, nil, err)
		return err
	}

	params, err := g.sessions.CreateTransport(ctx, state.roomID, state.peerID, ports.TransportRequest{
		ForceTCP:        req.ForceTCP,
		RtpCapabilities: req.RtpCapabilities,
	})
	if err != nil {
		g.reply(state, wire.EventCreateRtcTransport, nil, err)
		return err
	}
	g.reply(state, wire.EventCreateRtcTransport, params, nil)
	return nil
}

func (g *Gateway) handleConnectTransport(ctx context.Context, state *connState, env wire.Envelope) error {
	if err := g.requireJoined(state, wire.EventConnectTransport); err != nil {
		return err
	}
	var req wire.ConnectTransportRequest
	if err := env.DecodeData(&req); err != nil {
		g.reply(state, wire.EventConnectTransport, nil, err)
		return err
	}

	if err := g.sessions.ConnectTransport(ctx, state.roomID, state.peerID, req.TransportID, req.DtlsParameters); err != nil {
		g.reply(state, wire.EventConnectTransport, nil, err)
		return err
	}
	g.reply(state, wire.EventConnectTransport, nil, nil)
	return nil
}

func (g *Gateway) handleProduce(ctx context.Context, state *connState, env wire.Envelope) error {
	if err := g.requireJoined(state, wire.EventProduce); err != nil {
		return err
	}
	var req wire.ProduceRequest
	if err := env.DecodeData(&req); err != nil {
		g.reply(state, wire.EventProduce, nil, err)
		return err
	}
	if !req.Kind.Valid() {
		err := fmt.Errorf("unsupported media kind %q", req.Kind)
		g.replyFieldErrors(state, wire.EventProduce, []wire.FieldError{{Key: "kind", Values: []string{"must be audio, video or screen"}}})
		return err
	}

	producerID, err := g.sessions.Produce(ctx, state.roomID, state.peerID, req.ProducerTransportID, req.Kind, req.RtpParameters)
	if err != nil {
		g.reply(state, wire.EventProduce, nil, err)
		return err
	}
	g.reply(state, wire.EventProduce, wire.ProducerCreated{ProducerID: producerID}, nil)
	return nil
}

func (g *Gateway) handleConsume(ctx context.Context, state *connState, env wire.Envelope) error {
	if err := g.requireJoined(state, wire.EventConsume); err != nil {
		return err
	}
	var req wire.ConsumeRequest
	if err := env.DecodeData(&req); err != nil {
		g.reply(state, wire.EventConsume, nil, err)
		return err
	}

	params, err := g.sessions.Consume(ctx, state.roomID, state.peerID, req.ConsumerTransportID, req.ProducerID, req.RtpCapabilities)
	if err != nil {
		g.reply(state, wire.EventConsume, nil, err)
		return err
	}
	g.reply(state, wire.EventConsume, params, nil)
	return nil
}

// handleGetProducers answers under the new-producers push event, the same
// shape the broadcast uses, so one client handler covers both paths.
func (g *Gateway) handleGetProducers(ctx context.Context, state *connState) error {
	if err := g.requireJoined(state, wire.EventGetProducers); err != nil {
		return err
	}
	items, err := g.sessions.Producers(ctx, state.roomID)
	if err != nil {
		g.reply(state, wire.EventGetProducers, nil, err)
		return err
	}

	payload, err := wire.EncodeRequest(wire.EventNewProducers, wire.ProducerList{Items: items})
	if err != nil {
		return err
	}
	if err := state.Send(payload); err != nil {
		g.logger.Debugw("producer list send failed", "peer_id", state.peerID, "error", err)
	}
	return nil
}

// handleProducerClosed is fire-and-forget: clients do not await a response.
func (g *Gateway) handleProducerClosed(ctx context.Context, state *connState, env wire.Envelope) error {
	if state.peerID == "" {
		return errors.New("producer close before join")
	}
	var req wire.ProducerClosedRequest
	if err := env.DecodeData(&req); err != nil {
		return err
	}
	return g.sessions.CloseProducer(ctx, state.roomID, state.peerID, req.ProducerID)
}

// handleDisconnect is the explicit leave: the client tears down before
// closing the socket so server state is cleaned synchronously.
func (g *Gateway) handleDisconnect(ctx context.Context, state *connState) error {
	g.teardown(ctx, state)
	g.reply(state, wire.EventDisconnect, nil, nil)
	return nil
}

// teardown detaches the connection from its room, if it ever joined one.
// Safe to call more than once.
func (g *Gateway) teardown(ctx context.Context, state *connState) {
	if state.peerID == "" {
		return
	}
	roomID, peerID := state.roomID, state.peerID
	state.roomID, state.peerID = "", ""

	if err := g.sessions.RemovePeer(ctx, roomID, peerID); err != nil && !errors.Is(err, domain.ErrRoomNotFound) {
		g.logger.Warnw("peer removal failed", "room_id", roomID, "peer_id", peerID, "error", err)
	}
	g.registry.Unregister(roomID, domain.ConnectionID(peerID))

	if payload, err := wire.EncodeRequest(wire.EventDisconnect, nil); err == nil {
		g.registry.Broadcast(roomID, payload, domain.ConnectionID(peerID))
	}

	g.logger.Infow("client left room", "room_id", roomID, "peer_id", peerID)
}

func (g *Gateway) requireJoined(state *connState, event string) error {
	if state.peerID != "" {
		return nil
	}
	err := errors.New("join a room first")
	g.reply(state, event, nil, err)
	return err
}

func (g *Gateway) reply(state *connState, event string, data interface{}, handlerErr error) {
	var payload []byte
	var err error
	if handlerErr != nil {
		payload, err = wire.EncodeError(event, handlerErr.Error())
	} else {
		payload, err = wire.EncodeResult(event, data)
	}
	if err != nil {
		g.logger.Errorw("response encoding failed", "event", event, "error", err)
		return
	}
	if err := state.Send(payload); err != nil {
		g.logger.Debugw("response send failed", "event", event, "peer_id", state.peerID, "error", err)
	}
}

func (g *Gateway) replyFieldErrors(state *connState, event string, fields []wire.FieldError) {
	payload, err := wire.EncodeError(event, fields)
	if err != nil {
		g.logger.Errorw("response encoding failed", "event", event, "error", err)
		return
	}
	if err := state.Send(payload); err != nil {
		g.logger.Debugw("response send failed", "event", event, "peer_id", state.peerID, "error", err)
	}
}

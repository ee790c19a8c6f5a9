package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/services"
	"roomcast/internal/infrastructure/engine/enginetest"
	"roomcast/internal/infrastructure/registry"
	"roomcast/internal/infrastructure/repositories/memory"
	"roomcast/pkg/wire"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) *httptest.Server {
	return newTestServerWithOptions(t, enginetest.New(), Options{
		PingInterval:   10 * time.Second,
		PongTimeout:    20 * time.Second,
		WriteTimeout:   5 * time.Second,
		MaxMessageSize: 64 * 1024,
	})
}

func newTestServerWithOptions(t *testing.T, engine *enginetest.Engine, opts Options) *httptest.Server {
	t.Helper()

	log := zap.NewNop().Sugar()
	pool, err := services.NewWorkerPool(context.Background(), engine, services.PoolConfig{
		Size:       1,
		RtcMinPort: 40000,
		RtcMaxPort: 40099,
		ListenIP:   "127.0.0.1",
		FatalGrace: time.Second,
	}, log)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	reg := registry.New(log)
	notifier := NewNotifier(reg, log)
	sessions := services.NewSessionService(pool, notifier, memory.NewRoomRepository(), nil, services.SessionConfig{}, log)

	gateway := NewGateway(sessions, reg, opts, nil, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gateway.HandleWebSocket)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// testClient is a minimal protocol client for the tests: responses resolve
// pending requests by event name, everything else lands on the push channel.
type testClient struct {
	conn   *websocket.Conn
	pushes chan wire.Envelope

	mu      sync.Mutex
	pending map[string]chan wire.Response
}

func dialTestClient(t *testing.T, srv *httptest.Server) *testClient {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c := &testClient{
		conn:    conn,
		pushes:  make(chan wire.Envelope, 16),
		pending: make(map[string]chan wire.Response),
	}
	go c.readLoop()
	return c
}

func (c *testClient) readLoop() {
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := wire.Decode(payload)
		if err != nil {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[env.Event]
		if ok {
			delete(c.pending, env.Event)
		}
		c.mu.Unlock()

		if ok {
			resp, _ := env.DecodeResponse()
			ch <- resp
			continue
		}
		c.pushes <- env
	}
}

func (c *testClient) request(t *testing.T, event string, data interface{}) wire.Response {
	t.Helper()

	ch := make(chan wire.Response, 1)
	c.mu.Lock()
	c.pending[event] = ch
	c.mu.Unlock()

	payload, err := wire.EncodeRequest(event, data)
	require.NoError(t, err)
	require.NoError(t, c.conn.WriteMessage(websocket.BinaryMessage, payload))

	select {
	case resp := <-ch:
		return resp
	case <-time.After(2 * time.Second):
		t.Fatalf("no response for %s", event)
		return wire.Response{}
	}
}

func (c *testClient) emit(t *testing.T, event string, data interface{}) {
	t.Helper()
	payload, err := wire.EncodeRequest(event, data)
	require.NoError(t, err)
	require.NoError(t, c.conn.WriteMessage(websocket.BinaryMessage, payload))
}

func (c *testClient) waitPush(t *testing.T, event string) wire.Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case env := <-c.pushes:
			if env.Event == event {
				return env
			}
		case <-deadline:
			t.Fatalf("no %s push", event)
			return wire.Envelope{}
		}
	}
}

// createRoom also waits out the asynchronous router bring-up so the rest of
// the flow never sees ErrRouterNotReady.
func (c *testClient) createRoom(t *testing.T) domain.RoomID {
	t.Helper()

	resp := c.request(t, wire.EventCreateRoom, nil)
	require.True(t, resp.Status)
	var created wire.RoomCreated
	require.NoError(t, resp.DecodeData(&created))
	return created.RoomID
}

func (c *testClient) join(t *testing.T, roomID domain.RoomID, name string) domain.RoomSnapshot {
	t.Helper()

	resp := c.request(t, wire.EventJoin, wire.JoinRequest{RoomID: roomID, Name: name})
	require.True(t, resp.Status, "join failed: %s", resp.ErrorMessage())
	var snapshot domain.RoomSnapshot
	require.NoError(t, resp.DecodeData(&snapshot))

	ready := false
	for i := 0; i < 100 && !ready; i++ {
		ready = c.request(t, wire.EventGetRtpCapabilities, nil).Status
		if !ready {
			time.Sleep(10 * time.Millisecond)
		}
	}
	require.True(t, ready, "router never became ready")

	return snapshot
}

func (c *testClient) createTransport(t *testing.T) domain.TransportParams {
	t.Helper()

	resp := c.request(t, wire.EventCreateRtcTransport, wire.CreateTransportRequest{})
	require.True(t, resp.Status, "create transport failed: %s", resp.ErrorMessage())
	var params domain.TransportParams
	require.NoError(t, resp.DecodeData(&params))
	require.NotEmpty(t, params.ID)
	return params
}

func TestJoinRejectsMalformedRoomID(t *testing.T) {
	srv := newTestServer(t)
	alice := dialTestClient(t, srv)

	resp := alice.request(t, wire.EventJoin, wire.JoinRequest{RoomID: "not-a-room-id", Name: "alice"})
	assert.False(t, resp.Status)
	assert.Contains(t, resp.ErrorMessage(), "roomId")
}

func TestOperationsRequireJoin(t *testing.T) {
	srv := newTestServer(t)
	alice := dialTestClient(t, srv)

	resp := alice.request(t, wire.EventCreateRtcTransport, wire.CreateTransportRequest{})
	assert.False(t, resp.Status)
	assert.Contains(t, resp.ErrorMessage(), "join")
}

func TestUnknownEventGetsErrorResponse(t *testing.T) {
	srv := newTestServer(t)
	alice := dialTestClient(t, srv)

	resp := alice.request(t, "teleport", nil)
	assert.False(t, resp.Status)
	assert.Contains(t, resp.ErrorMessage(), "unknown event")
}

func TestFullSessionFlow(t *testing.T) {
	srv := newTestServer(t)

	alice := dialTestClient(t, srv)
	roomID := alice.createRoom(t)
	snapshot := alice.join(t, roomID, "alice")
	assert.Len(t, snapshot.Peers, 1)

	sendTransport := alice.createTransport(t)
	connectResp := alice.request(t, wire.EventConnectTransport, wire.ConnectTransportRequest{
		TransportID:    sendTransport.ID,
		DtlsParameters: domain.DtlsParameters{"role": "client"},
	})
	require.True(t, connectResp.Status)

	bob := dialTestClient(t, srv)
	bobSnapshot := bob.join(t, roomID, "bob")
	assert.Len(t, bobSnapshot.Peers, 2)
	bobRecv := bob.createTransport(t)

	// Alice produces after Bob joined: Bob gets the push, Alice does not.
	produceResp := alice.request(t, wire.EventProduce, wire.ProduceRequest{
		ProducerTransportID: sendTransport.ID,
		Kind:                domain.KindVideo,
		RtpParameters:       domain.RtpParameters{},
	})
	require.True(t, produceResp.Status, "produce failed: %s", produceResp.ErrorMessage())
	var created wire.ProducerCreated
	require.NoError(t, produceResp.DecodeData(&created))

	push := bob.waitPush(t, wire.EventNewProducers)
	var list wire.ProducerList
	require.NoError(t, push.DecodeData(&list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, created.ProducerID, list.Items[0].ProducerID)

	// get-producers answers with the same push shape.
	bob.emit(t, wire.EventGetProducers, nil)
	again := bob.waitPush(t, wire.EventNewProducers)
	require.NoError(t, again.DecodeData(&list))
	require.Len(t, list.Items, 1)

	consumeResp := bob.request(t, wire.EventConsume, wire.ConsumeRequest{
		ConsumerTransportID: bobRecv.ID,
		ProducerID:          created.ProducerID,
		RtpCapabilities:     domain.RtpCapabilities{"codecs": []string{"VP8"}},
	})
	require.True(t, consumeResp.Status, "consume failed: %s", consumeResp.ErrorMessage())
	var consumerParams domain.ConsumerParams
	require.NoError(t, consumeResp.DecodeData(&consumerParams))
	assert.Equal(t, created.ProducerID, consumerParams.ProducerID)

	// Alice closes her producer: Bob is told his consumer is gone.
	alice.emit(t, wire.EventProducerClosed, wire.ProducerClosedRequest{ProducerID: created.ProducerID})
	closedPush := bob.waitPush(t, wire.EventConsumerClosed)
	var closed wire.ConsumerClosed
	require.NoError(t, closedPush.DecodeData(&closed))
	assert.Equal(t, consumerParams.ID, closed.ConsumerID)

	// Alice leaves explicitly: Bob gets the departure push.
	leaveResp := alice.request(t, wire.EventDisconnect, nil)
	require.True(t, leaveResp.Status)
	bob.waitPush(t, wire.EventDisconnect)
}

// A produce whose media never starts flowing suspends its handler in the
// engine. The keepalive must keep running through that, and the connection
// must come out fully usable.
func TestBlockedProduceDoesNotKillConnection(t *testing.T) {
	engine := enginetest.New()
	engine.ProduceGate = make(chan struct{})
	srv := newTestServerWithOptions(t, engine, Options{
		PingInterval:   25 * time.Millisecond,
		PongTimeout:    100 * time.Millisecond,
		WriteTimeout:   time.Second,
		MaxMessageSize: 64 * 1024,
	})

	alice := dialTestClient(t, srv)
	roomID := alice.createRoom(t)
	alice.join(t, roomID, "alice")
	params := alice.createTransport(t)

	alice.emit(t, wire.EventProduce, wire.ProduceRequest{
		ProducerTransportID: params.ID,
		Kind:                domain.KindVideo,
		RtpParameters:       domain.RtpParameters{},
	})

	// Hold the handler in the engine well past the pong timeout.
	time.Sleep(300 * time.Millisecond)
	close(engine.ProduceGate)

	env := alice.waitPush(t, wire.EventProduce)
	resp, err := env.DecodeResponse()
	require.NoError(t, err)
	assert.True(t, resp.Status, "produce failed after the engine released it: %s", resp.ErrorMessage())

	getResp := alice.request(t, wire.EventGetRoom, wire.GetRoomRequest{RoomID: roomID})
	assert.True(t, getResp.Status, "connection unusable after blocked produce")
}

func TestAbruptCloseNotifiesRemainingPeers(t *testing.T) {
	srv := newTestServer(t)

	alice := dialTestClient(t, srv)
	roomID := alice.createRoom(t)
	alice.join(t, roomID, "alice")

	bob := dialTestClient(t, srv)
	bob.join(t, roomID, "bob")

	// Drop Alice's socket without a disconnect event.
	alice.conn.Close()

	bob.waitPush(t, wire.EventDisconnect)
}

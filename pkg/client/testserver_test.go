package client

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"roomcast/pkg/wire"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// serverConn is one accepted socket on the fake signaling server.
type serverConn struct {
	t    *testing.T
	conn *websocket.Conn

	writeMu sync.Mutex
}

func (c *serverConn) send(payload []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.WriteMessage(websocket.BinaryMessage, payload)
}

// result answers a request with {status:true, data}.
func (c *serverConn) result(event string, data interface{}) {
	payload, err := wire.EncodeResult(event, data)
	require.NoError(c.t, err)
	c.send(payload)
}

// fail answers a request with {status:false, errors}.
func (c *serverConn) fail(event, msg string) {
	payload, err := wire.EncodeError(event, msg)
	require.NoError(c.t, err)
	c.send(payload)
}

// push sends a bare {event, data} frame, the shape server pushes use.
func (c *serverConn) push(event string, data interface{}) {
	payload, err := wire.EncodeRequest(event, data)
	require.NoError(c.t, err)
	c.send(payload)
}

// fakeServer accepts websocket connections and feeds every decoded frame to
// the test's handler. It accepts any number of connections, which is what the
// reconnect tests rely on.
type fakeServer struct {
	t       *testing.T
	srv     *httptest.Server
	handler func(c *serverConn, env wire.Envelope)

	mu    sync.Mutex
	conns []*serverConn
}

func newFakeServer(t *testing.T, handler func(c *serverConn, env wire.Envelope)) *fakeServer {
	t.Helper()

	s := &fakeServer{t: t, handler: handler}
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sc := &serverConn{t: t, conn: conn}

		s.mu.Lock()
		s.conns = append(s.conns, sc)
		s.mu.Unlock()

		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := wire.Decode(payload)
			if err != nil {
				continue
			}
			s.handler(sc, env)
		}
	})

	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
}

func (s *fakeServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// pushToAll sends an unsolicited frame on every accepted socket.
func (s *fakeServer) pushToAll(event string, data interface{}) {
	s.mu.Lock()
	conns := append([]*serverConn(nil), s.conns...)
	s.mu.Unlock()

	for _, c := range conns {
		c.push(event, data)
	}
}

// dropConnections closes every accepted socket, simulating a network cut.
func (s *fakeServer) dropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	for _, c := range conns {
		c.conn.Close()
	}
}

package client

import (
	"sync"
	"testing"
	"time"

	"roomcast/pkg/wire"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoPayload struct {
	N int `msgpack:"n"`
}

func TestEmitPromisedRoundTrip(t *testing.T) {
	srv := newFakeServer(t, func(c *serverConn, env wire.Envelope) {
		var req echoPayload
		require.NoError(t, env.DecodeData(&req))
		c.result(env.Event, echoPayload{N: req.N})
	})

	ch := NewChannel(Options{URL: srv.url()})
	require.NoError(t, ch.Connect())
	defer ch.Close()

	resp, err := ch.EmitPromised("echo", echoPayload{N: 7})
	require.NoError(t, err)
	require.True(t, resp.Status)

	var out echoPayload
	require.NoError(t, resp.DecodeData(&out))
	assert.Equal(t, 7, out.N)
}

func TestEmitPromisedSurfacesServerError(t *testing.T) {
	srv := newFakeServer(t, func(c *serverConn, env wire.Envelope) {
		c.fail(env.Event, "room not found")
	})

	ch := NewChannel(Options{URL: srv.url()})
	require.NoError(t, ch.Connect())
	defer ch.Close()

	resp, err := ch.EmitPromised("join", nil)
	require.NoError(t, err)
	assert.False(t, resp.Status)
	assert.Equal(t, "room not found", resp.ErrorMessage())
}

func TestEmitPromisedTimesOut(t *testing.T) {
	srv := newFakeServer(t, func(c *serverConn, env wire.Envelope) {
		// Never answer.
	})

	ch := NewChannel(Options{URL: srv.url()})
	require.NoError(t, ch.Connect())
	defer ch.Close()

	_, err := ch.EmitPromised("void", nil, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrRequestTimeout)
}

// Two concurrent requests under the same event name must resolve in send
// order, matching how the server answers them on one connection.
func TestCorrelationIsFIFOPerEvent(t *testing.T) {
	var pending struct {
		sync.Mutex
		frames []echoPayload
	}

	srv := newFakeServer(t, func(c *serverConn, env wire.Envelope) {
		var req echoPayload
		require.NoError(t, env.DecodeData(&req))

		pending.Lock()
		pending.frames = append(pending.frames, req)
		both := len(pending.frames) == 2
		frames := pending.frames
		pending.Unlock()

		// Hold the first response back until both requests arrived, then
		// answer in arrival order.
		if both {
			for _, f := range frames {
				c.result("echo", f)
			}
		}
	})

	ch := NewChannel(Options{URL: srv.url()})
	require.NoError(t, ch.Connect())
	defer ch.Close()

	results := make([]chan int, 2)
	for i := range results {
		results[i] = make(chan int, 1)
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		n := i + 1
		go func() {
			defer wg.Done()
			resp, err := ch.EmitPromised("echo", echoPayload{N: n})
			require.NoError(t, err)
			var out echoPayload
			require.NoError(t, resp.DecodeData(&out))
			results[n-1] <- out.N
		}()
		// Give each goroutine time to register and send before the next, so
		// send order is deterministic.
		time.Sleep(50 * time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, 1, <-results[0])
	assert.Equal(t, 2, <-results[1])
}

func TestPushHandlersReceiveUnsolicitedFrames(t *testing.T) {
	srv := newFakeServer(t, func(c *serverConn, env wire.Envelope) {
		if env.Event == "poke" {
			c.push(wire.EventNewProducers, wire.ProducerList{Items: nil})
		}
	})

	ch := NewChannel(Options{URL: srv.url()})

	got := make(chan wire.Envelope, 1)
	ch.On(wire.EventNewProducers, func(env wire.Envelope) {
		got <- env
	})

	require.NoError(t, ch.Connect())
	defer ch.Close()

	require.NoError(t, ch.Emit("poke", nil))

	select {
	case env := <-got:
		assert.Equal(t, wire.EventNewProducers, env.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("push never delivered")
	}
}

func TestEmitQueuedWhileDisconnected(t *testing.T) {
	received := make(chan string, 4)
	srv := newFakeServer(t, func(c *serverConn, env wire.Envelope) {
		received <- env.Event
	})

	ch := NewChannel(Options{URL: srv.url()})
	defer ch.Close()

	// Emit before Connect: must be queued, not dropped.
	require.NoError(t, ch.Emit("first", nil))
	require.NoError(t, ch.Emit("second", nil))

	require.NoError(t, ch.Connect())

	assert.Equal(t, "first", <-received)
	assert.Equal(t, "second", <-received)
}

// An Emit issued the instant the channel reports connected must land after
// every frame queued while disconnected, never interleaved with the replay.
func TestEmitRacingReplayKeepsQueueOrder(t *testing.T) {
	received := make(chan string, 8)
	srv := newFakeServer(t, func(c *serverConn, env wire.Envelope) {
		received <- env.Event
	})

	ch := NewChannel(Options{URL: srv.url()})
	defer ch.Close()

	require.NoError(t, ch.Emit("first", nil))
	require.NoError(t, ch.Emit("second", nil))

	raced := make(chan error, 1)
	go func() {
		for ch.State() != StateConnected {
			time.Sleep(time.Millisecond)
		}
		raced <- ch.Emit("third", nil)
	}()

	require.NoError(t, ch.Connect())
	require.NoError(t, <-raced)

	assert.Equal(t, "first", <-received)
	assert.Equal(t, "second", <-received)
	assert.Equal(t, "third", <-received)
}

func TestReconnectAfterServerDrop(t *testing.T) {
	srv := newFakeServer(t, func(c *serverConn, env wire.Envelope) {
		c.result(env.Event, nil)
	})

	ch := NewChannel(Options{
		URL:               srv.url(),
		ReconnectAttempts: 5,
		ReconnectDelay:    20 * time.Millisecond,
	})
	require.NoError(t, ch.Connect())
	defer ch.Close()

	require.Equal(t, 1, srv.connCount())
	srv.dropConnections()

	require.Eventually(t, func() bool {
		return ch.State() == StateConnected && srv.connCount() == 1
	}, 2*time.Second, 10*time.Millisecond, "channel never reconnected")

	resp, err := ch.EmitPromised("ping", nil)
	require.NoError(t, err)
	assert.True(t, resp.Status)
}

func TestCloseFailsPendingRequests(t *testing.T) {
	srv := newFakeServer(t, func(c *serverConn, env wire.Envelope) {
		// Never answer.
	})

	ch := NewChannel(Options{URL: srv.url(), RequestTimeout: 5 * time.Second})
	require.NoError(t, ch.Connect())

	errCh := make(chan error, 1)
	go func() {
		_, err := ch.EmitPromised("void", nil)
		errCh <- err
	}()

	// Let the request register before closing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, ch.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrChannelClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending request never failed")
	}
}

func TestEmitAfterCloseFails(t *testing.T) {
	srv := newFakeServer(t, func(c *serverConn, env wire.Envelope) {})

	ch := NewChannel(Options{URL: srv.url()})
	require.NoError(t, ch.Connect())
	require.NoError(t, ch.Close())

	assert.ErrorIs(t, ch.Emit("anything", nil), ErrChannelClosed)
	_, err := ch.EmitPromised("anything", nil)
	assert.ErrorIs(t, err, ErrChannelClosed)
}

package client

import (
	"sync"

	"roomcast/pkg/wire"
)

// PushHandler receives a server push envelope.
type PushHandler func(env wire.Envelope)

// emitter fans push envelopes out to registered handlers by event name.
type emitter struct {
	mu       sync.RWMutex
	handlers map[string][]PushHandler
}

func newEmitter() *emitter {
	return &emitter{handlers: make(map[string][]PushHandler)}
}

func (e *emitter) on(event string, h PushHandler) {
	e.mu.Lock()
	e.handlers[event] = append(e.handlers[event], h)
	e.mu.Unlock()
}

func (e *emitter) emit(env wire.Envelope) {
	e.mu.RLock()
	handlers := e.handlers[env.Event]
	e.mu.RUnlock()

	for _, h := range handlers {
		h(env)
	}
}

// Package registry tracks the live sockets of every room and is the only
// component that routes outbound bytes to clients.
package registry

import (
	"sync"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type entry struct {
	id   domain.ConnectionID
	conn ports.ClientConn
}

// Registry is an in-memory ports.ConnectionRegistry. Delivery is best-effort
// per open socket; a failed write is logged and skipped, never surfaced.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID][]entry

	logger *zap.SugaredLogger
}

func New(logger *zap.SugaredLogger) *Registry {
	return &Registry{
		rooms:  make(map[domain.RoomID][]entry),
		logger: logger,
	}
}

// Register assigns a fresh connection id and appends the socket to the room.
func (r *Registry) Register(roomID domain.RoomID, conn ports.ClientConn) domain.ConnectionID {
	id := domain.ConnectionID(uuid.NewString())

	r.mu.Lock()
	r.rooms[roomID] = append(r.rooms[roomID], entry{id: id, conn: conn})
	r.mu.Unlock()

	return id
}

// Unregister removes the connection from the room, dropping the room slot
// once it holds no entries.
func (r *Registry) Unregister(roomID domain.RoomID, connID domain.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.rooms[roomID]
	for i, e := range entries {
		if e.id == connID {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}

	if len(entries) == 0 {
		delete(r.rooms, roomID)
		return
	}
	r.rooms[roomID] = entries
}

// SendTo writes the payload to one connection. Unknown ids are a no-op.
func (r *Registry) SendTo(roomID domain.RoomID, connID domain.ConnectionID, payload []byte) {
	r.mu.RLock()
	entries := r.rooms[roomID]
	var target ports.ClientConn
	for _, e := range entries {
		if e.id == connID {
			target = e.conn
			break
		}
	}
	r.mu.RUnlock()

	if target == nil {
		return
	}
	if err := target.Send(payload); err != nil {
		r.logger.Debugw("send to connection failed", "room_id", roomID, "connection_id", connID, "error", err)
	}
}

// Broadcast writes the payload to every connection in the room except the
// excluded one. Pass an empty id to reach everyone.
func (r *Registry) Broadcast(roomID domain.RoomID, payload []byte, except domain.ConnectionID) {
	r.mu.RLock()
	entries := make([]entry, len(r.rooms[roomID]))
	copy(entries, r.rooms[roomID])
	r.mu.RUnlock()

	for _, e := range entries {
		if except != "" && e.id == except {
			continue
		}
		if err := e.conn.Send(payload); err != nil {
			r.logger.Debugw("broadcast to connection failed", "room_id", roomID, "connection_id", e.id, "error", err)
		}
	}
}

// Count returns the number of live connections in the room.
func (r *Registry) Count(roomID domain.RoomID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

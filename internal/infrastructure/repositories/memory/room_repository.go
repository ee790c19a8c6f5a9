package memory

import (
	"context"
	"sync"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"
)

// RoomRepository is the in-memory room directory. It only mirrors what the
// session service already holds, so single-node deployments lose nothing by
// using it.
type RoomRepository struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]domain.RoomSnapshot
}

func NewRoomRepository() ports.PresenceRepository {
	return &RoomRepository{rooms: make(map[domain.RoomID]domain.RoomSnapshot)}
}

func (r *RoomRepository) SaveRoom(ctx context.Context, snapshot domain.RoomSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[snapshot.ID] = snapshot
	return nil
}

func (r *RoomRepository) DeleteRoom(ctx context.Context, roomID domain.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, roomID)
	return nil
}

func (r *RoomRepository) GetRoom(ctx context.Context, roomID domain.RoomID) (domain.RoomSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot, ok := r.rooms[roomID]
	if !ok {
		return domain.RoomSnapshot{}, domain.ErrRoomNotFound
	}
	return snapshot, nil
}

func (r *RoomRepository) ListRooms(ctx context.Context) ([]domain.RoomSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshots := make([]domain.RoomSnapshot, 0, len(r.rooms))
	for _, s := range r.rooms {
		snapshots = append(snapshots, s)
	}
	return snapshots, nil
}

package ports

import (
	"context"

	"roomcast/internal/core/domain"
)

// PresenceRepository mirrors live room membership into a directory other
// processes (or operators) can query. Writes are best-effort from the session
// model's point of view: a directory failure never fails a signaling call.
type PresenceRepository interface {
	SaveRoom(ctx context.Context, snapshot domain.RoomSnapshot) error
	DeleteRoom(ctx context.Context, roomID domain.RoomID) error
	GetRoom(ctx context.Context, roomID domain.RoomID) (domain.RoomSnapshot, error)
	ListRooms(ctx context.Context) ([]domain.RoomSnapshot, error)
}

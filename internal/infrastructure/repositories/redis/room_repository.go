package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const (
	roomIndexKey  = "roomcast:rooms"
	eventsChannel = "roomcast:events"
)

type roomEvent struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
	Peers  int           `json:"peers,omitempty"`
}

// RoomRepository publishes room membership to redis so operational tooling
// and sibling nodes can see which rooms are live where. It is a directory,
// not the source of truth: the session service never reads it back on the
// hot path.
type RoomRepository struct {
	client *redis.Client
	prefix string
}

func NewRoomRepository(client *redis.Client) ports.PresenceRepository {
	return &RoomRepository{client: client, prefix: "roomcast:room:"}
}

func (r *RoomRepository) roomKey(id domain.RoomID) string {
	return r.prefix + string(id)
}

func (r *RoomRepository) SaveRoom(ctx context.Context, snapshot domain.RoomSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal room snapshot: %w", err)
	}

	event, _ := json.Marshal(roomEvent{Type: "room-updated", RoomID: snapshot.ID, Peers: len(snapshot.Peers)})

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.roomKey(snapshot.ID), data, 0)
	pipe.SAdd(ctx, roomIndexKey, string(snapshot.ID))
	pipe.Publish(ctx, eventsChannel, event)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save room %s: %w", snapshot.ID, err)
	}
	return nil
}

func (r *RoomRepository) DeleteRoom(ctx context.Context, roomID domain.RoomID) error {
	event, _ := json.Marshal(roomEvent{Type: "room-deleted", RoomID: roomID})

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.roomKey(roomID))
	pipe.SRem(ctx, roomIndexKey, string(roomID))
	pipe.Publish(ctx, eventsChannel, event)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete room %s: %w", roomID, err)
	}
	return nil
}

func (r *RoomRepository) GetRoom(ctx context.Context, roomID domain.RoomID) (domain.RoomSnapshot, error) {
	data, err := r.client.Get(ctx, r.roomKey(roomID)).Result()
	if err == redis.Nil {
		return domain.RoomSnapshot{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.RoomSnapshot{}, fmt.Errorf("get room %s: %w", roomID, err)
	}

	var snapshot domain.RoomSnapshot
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		return domain.RoomSnapshot{}, fmt.Errorf("unmarshal room %s: %w", roomID, err)
	}
	return snapshot, nil
}

func (r *RoomRepository) ListRooms(ctx context.Context) ([]domain.RoomSnapshot, error) {
	ids, err := r.client.SMembers(ctx, roomIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	snapshots := make([]domain.RoomSnapshot, 0, len(ids))
	for _, id := range ids {
		snapshot, err := r.GetRoom(ctx, domain.RoomID(id))
		if err == domain.ErrRoomNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}

package memory

import (
	"context"
	"testing"

	"roomcast/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndGetRoom(t *testing.T) {
	repo := NewRoomRepository()
	ctx := context.Background()

	snapshot := domain.RoomSnapshot{
		ID:    "room-1",
		Peers: []domain.PeerInfo{{ID: "peer-1", Name: "alice"}},
	}
	require.NoError(t, repo.SaveRoom(ctx, snapshot))

	got, err := repo.GetRoom(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, snapshot, got)
}

func TestGetUnknownRoom(t *testing.T) {
	repo := NewRoomRepository()
	_, err := repo.GetRoom(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestSaveOverwritesSnapshot(t *testing.T) {
	repo := NewRoomRepository()
	ctx := context.Background()

	require.NoError(t, repo.SaveRoom(ctx, domain.RoomSnapshot{ID: "room-1"}))
	require.NoError(t, repo.SaveRoom(ctx, domain.RoomSnapshot{
		ID:    "room-1",
		Peers: []domain.PeerInfo{{ID: "peer-1", Name: "alice"}},
	}))

	got, err := repo.GetRoom(ctx, "room-1")
	require.NoError(t, err)
	assert.Len(t, got.Peers, 1)
}

func TestDeleteRoom(t *testing.T) {
	repo := NewRoomRepository()
	ctx := context.Background()

	require.NoError(t, repo.SaveRoom(ctx, domain.RoomSnapshot{ID: "room-1"}))
	require.NoError(t, repo.DeleteRoom(ctx, "room-1"))

	_, err := repo.GetRoom(ctx, "room-1")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	// Deleting twice is fine.
	assert.NoError(t, repo.DeleteRoom(ctx, "room-1"))
}

func TestListRooms(t *testing.T) {
	repo := NewRoomRepository()
	ctx := context.Background()

	rooms, err := repo.ListRooms(ctx)
	require.NoError(t, err)
	assert.Empty(t, rooms)

	require.NoError(t, repo.SaveRoom(ctx, domain.RoomSnapshot{ID: "room-1"}))
	require.NoError(t, repo.SaveRoom(ctx, domain.RoomSnapshot{ID: "room-2"}))

	rooms, err = repo.ListRooms(ctx)
	require.NoError(t, err)
	assert.Len(t, rooms, 2)
}

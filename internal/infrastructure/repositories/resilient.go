package repositories

import (
	"context"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"
	"roomcast/pkg/circuitbreaker"
	"roomcast/pkg/retry"

	"go.uber.org/zap"
)

// resilientPresence wraps a presence backend with retries for transient
// faults and a circuit breaker so a dead redis stops costing round trips.
// Presence is best-effort, so callers already tolerate the breaker's fast
// failures.
type resilientPresence struct {
	inner   ports.PresenceRepository
	breaker *circuitbreaker.CircuitBreaker
	retry   retry.Config
	logger  *zap.SugaredLogger
}

func newResilientPresence(inner ports.PresenceRepository, logger *zap.SugaredLogger) ports.PresenceRepository {
	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig())
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("presence breaker state changed", "from", from.String(), "to", to.String())
	})

	return &resilientPresence{
		inner:   inner,
		breaker: breaker,
		retry:   retry.DefaultConfig(),
		logger:  logger,
	}
}

func (r *resilientPresence) execute(ctx context.Context, fn func() error) error {
	return r.breaker.Execute(ctx, func() error {
		return retry.Do(ctx, r.retry, fn)
	})
}

func (r *resilientPresence) SaveRoom(ctx context.Context, snapshot domain.RoomSnapshot) error {
	return r.execute(ctx, func() error {
		return r.inner.SaveRoom(ctx, snapshot)
	})
}

func (r *resilientPresence) DeleteRoom(ctx context.Context, roomID domain.RoomID) error {
	return r.execute(ctx, func() error {
		return r.inner.DeleteRoom(ctx, roomID)
	})
}

func (r *resilientPresence) GetRoom(ctx context.Context, roomID domain.RoomID) (domain.RoomSnapshot, error) {
	var snapshot domain.RoomSnapshot
	err := r.execute(ctx, func() error {
		var err error
		snapshot, err = r.inner.GetRoom(ctx, roomID)
		if err == domain.ErrRoomNotFound {
			// Absence is an answer, not a fault.
			return nil
		}
		return err
	})
	if err != nil {
		return domain.RoomSnapshot{}, err
	}
	if snapshot.ID == "" {
		return domain.RoomSnapshot{}, domain.ErrRoomNotFound
	}
	return snapshot, nil
}

func (r *resilientPresence) ListRooms(ctx context.Context) ([]domain.RoomSnapshot, error) {
	var rooms []domain.RoomSnapshot
	err := r.execute(ctx, func() error {
		var err error
		rooms, err = r.inner.ListRooms(ctx)
		return err
	})
	return rooms, err
}

// Package repositories selects the presence backend from configuration, with
// a memory fallback when redis is unreachable.
package repositories

import (
	"context"

	"roomcast/internal/core/ports"
	"roomcast/internal/infrastructure/repositories/memory"
	redisrepo "roomcast/internal/infrastructure/repositories/redis"
	"roomcast/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Factory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

func NewFactory(cfg *config.Config, logger *zap.SugaredLogger) (*Factory, error) {
	f := &Factory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("redis unreachable, falling back to memory presence", "error", err)
			f.useRedis = false
		} else {
			f.redisClient = client
		}
	}

	if f.useRedis {
		logger.Info("using redis presence repository")
	} else {
		logger.Info("using memory presence repository")
	}
	return f, nil
}

func (f *Factory) CreatePresenceRepository() ports.PresenceRepository {
	if f.useRedis && f.redisClient != nil {
		return newResilientPresence(redisrepo.NewRoomRepository(f.redisClient), f.logger)
	}
	return memory.NewRoomRepository()
}

func (f *Factory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}

func (f *Factory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseClient(f.redisClient)
	}
	return nil
}

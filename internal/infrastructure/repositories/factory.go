package repositories

import (
	"context"

	"connectrtc/internal/core/ports"
	"connectrtc/internal/infrastructure/repositories/memory"
	redisrepo "connectrtc/internal/infrastructure/repositories/redis"
	"connectrtc/internal/infrastructure/reliability"
	"connectrtc/pkg/circuitbreaker"
	"connectrtc/pkg/config"
	"connectrtc/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	cfg         *config.Config
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory connects to Redis when it is enabled. An unreachable
// server is not an error; reports are then kept in memory.
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		cfg:      cfg,
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}

	return factory
}

// CreateReportRepository creates a report repository. Redis-backed
// repositories keep reports in memory while Redis is failing.
func (f *RepositoryFactory) CreateReportRepository() ports.ReportRepository {
	if f.useRedis && f.redisClient != nil {
		return reliability.NewReportRepositoryWrapper(
			redisrepo.NewRedisReportRepository(f.redisClient, f.cfg.Redis.ReportTTL),
			memory.NewMemoryReportRepository(),
			retry.DefaultConfig(),
			circuitbreaker.DefaultConfig(),
			f.logger,
		)
	}
	return memory.NewMemoryReportRepository()
}

// RedisClient returns the shared client, or nil when reports live in memory.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

// Close closes Redis connection if used
func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

// HealthCheck checks Redis connection health
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}

package repositories

import (
	"context"
	"testing"

	"connectrtc/internal/infrastructure/repositories/memory"
	"connectrtc/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRepositoryFactory_MemoryByDefault(t *testing.T) {
	cfg := config.DefaultConfig()

	f := NewRepositoryFactory(cfg, zap.NewNop().Sugar())
	defer f.Close()

	assert.Nil(t, f.RedisClient())
	assert.IsType(t, &memory.MemoryReportRepository{}, f.CreateReportRepository())
	assert.NoError(t, f.HealthCheck(context.Background()))
}

func TestRepositoryFactory_FallsBackWhenRedisUnreachable(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = "127.0.0.1:1"

	core, logs := observer.New(zap.WarnLevel)
	f := NewRepositoryFactory(cfg, zap.New(core).Sugar())
	defer f.Close()

	require.Nil(t, f.RedisClient())
	assert.IsType(t, &memory.MemoryReportRepository{}, f.CreateReportRepository())
	assert.Equal(t, 1, logs.FilterMessage("failed to connect to Redis, falling back to memory repositories").Len())
}

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"connectrtc/internal/core/domain"
	"connectrtc/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// RedisReportRepository stores reports as JSON under per-call keys with a
// TTL, indexed by a sorted set scored by session start time.
type RedisReportRepository struct {
	client *redis.Client
	prefix string
	index  string
	ttl    time.Duration
}

func NewRedisReportRepository(client *redis.Client, ttl time.Duration) ports.ReportRepository {
	return &RedisReportRepository{
		client: client,
		prefix: "connectrtc:report:",
		index:  "connectrtc:reports",
		ttl:    ttl,
	}
}

func (r *RedisReportRepository) reportKey(id domain.CallID) string {
	return r.prefix + string(id)
}

func (r *RedisReportRepository) Save(ctx context.Context, report *domain.SessionReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.reportKey(report.CallID), data, r.ttl)
	pipe.ZAdd(ctx, r.index, redis.Z{
		Score:  float64(report.SessionStartTime.UnixMilli()),
		Member: string(report.CallID),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save report in Redis: %w", err)
	}

	return nil
}

func (r *RedisReportRepository) GetByCallID(ctx context.Context, callID domain.CallID) (*domain.SessionReport, error) {
	data, err := r.client.Get(ctx, r.reportKey(callID)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report from Redis: %w", err)
	}

	var report domain.SessionReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}

	return &report, nil
}

// List returns the stored reports oldest first. Index entries whose report
// has expired are pruned.
func (r *RedisReportRepository) List(ctx context.Context) ([]*domain.SessionReport, error) {
	ids, err := r.client.ZRange(ctx, r.index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list reports from Redis: %w", err)
	}

	reports := make([]*domain.SessionReport, 0, len(ids))
	var expired []interface{}
	for _, id := range ids {
		report, err := r.GetByCallID(ctx, domain.CallID(id))
		if err == domain.ErrReportNotFound {
			expired = append(expired, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}

	if len(expired) > 0 {
		if err := r.client.ZRem(ctx, r.index, expired...).Err(); err != nil {
			return nil, fmt.Errorf("failed to prune report index: %w", err)
		}
	}

	return reports, nil
}

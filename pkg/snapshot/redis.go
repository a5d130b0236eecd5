package snapshot

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/docpipe/batch-engine/pkg/batch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

// Prometheus metrics for snapshot operations.
var (
	snapshotSavesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batch_snapshot_saves_total",
		Help: "Total batch snapshot writes",
	})

	snapshotErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_snapshot_errors_total",
		Help: "Total snapshot operation errors",
	}, []string{"operation"})
)

// keyPrefix namespaces batch records in Redis.
const keyPrefix = "docpipe:batch:"

// RedisStore persists batch records as JSON values in Redis.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a Redis-backed snapshot store.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{redis: redisClient}
}

func key(id string) string { return keyPrefix + id }

// Save writes the full batch record. Records have no TTL; terminal batches
// stay queryable until explicitly deleted.
func (s *RedisStore) Save(ctx context.Context, b *batch.Batch) error {
	data, err := json.Marshal(b)
	if err != nil {
		snapshotErrorsTotal.WithLabelValues("save").Inc()
		return fmt.Errorf("marshal batch record: %w", err)
	}
	if err := s.redis.Set(ctx, key(b.ID), data, 0).Err(); err != nil {
		snapshotErrorsTotal.WithLabelValues("save").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	snapshotSavesTotal.Inc()
	return nil
}

// Load retrieves one batch record. Returns ErrNotFound for unknown ids.
func (s *RedisStore) Load(ctx context.Context, id string) (*batch.Batch, error) {
	data, err := s.redis.Get(ctx, key(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		snapshotErrorsTotal.WithLabelValues("load").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var b batch.Batch
	if err := json.Unmarshal(data, &b); err != nil {
		snapshotErrorsTotal.WithLabelValues("load").Inc()
		return nil, fmt.Errorf("unmarshal batch record: %w", err)
	}
	return &b, nil
}

// LoadAll scans the key space and returns every stored batch record.
// Records that no longer unmarshal are skipped rather than failing the
// whole recovery.
func (s *RedisStore) LoadAll(ctx context.Context) ([]*batch.Batch, error) {
	var batches []*batch.Batch
	iter := s.redis.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.redis.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			snapshotErrorsTotal.WithLabelValues("load_all").Inc()
			return nil, fmt.Errorf("redis get %s: %w", iter.Val(), err)
		}
		var b batch.Batch
		if err := json.Unmarshal(data, &b); err != nil {
			snapshotErrorsTotal.WithLabelValues("load_all").Inc()
			continue
		}
		batches = append(batches, &b)
	}
	if err := iter.Err(); err != nil {
		snapshotErrorsTotal.WithLabelValues("load_all").Inc()
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return batches, nil
}

// Delete removes a batch record.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, key(id)).Err(); err != nil {
		snapshotErrorsTotal.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

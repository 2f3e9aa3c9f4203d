package coordination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// casAttempts bounds WATCH retries in CompareAndSet.
const casAttempts = 5

// RedisStore - Store поверх Redis. Значения хранятся как JSON Entry.
type RedisStore struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// Compile-time check
var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed coordination store.
func NewRedisStore(client redis.UniversalClient, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger.Named("RedisCoordinationStore"),
	}
}

// Get returns the entry stored under key.
func (r *RedisStore) Get(ctx context.Context, key string) (Entry, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, ErrNotFound
		}
		r.logger.Error("Failed to get key from redis", zap.String("key", key), zap.Error(err))
		return Entry{}, fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// Поврежденные данные считаем отсутствующими: TTL все равно их уберет
		r.logger.Error("Corrupted coordination entry", zap.String("key", key), zap.Error(err))
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

// Set writes the entry with the given TTL.
func (r *RedisStore) Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal coordination entry: %w", err)
	}
	if err := r.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		r.logger.Error("Failed to set key in redis", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("%w: set %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// SetIfAbsent maps to SET NX EX.
func (r *RedisStore) SetIfAbsent(ctx context.Context, key string, entry Entry, ttl time.Duration) (bool, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("failed to marshal coordination entry: %w", err)
	}
	ok, err := r.client.SetNX(ctx, key, raw, ttl).Result()
	if err != nil {
		r.logger.Error("Failed to setnx key in redis", zap.String("key", key), zap.Error(err))
		return false, fmt.Errorf("%w: setnx %s: %v", ErrUnavailable, key, err)
	}
	return ok, nil
}

// CompareAndSet runs GET + SET under WATCH. A concurrent write to key aborts the
// transaction and the comparison is repeated.
func (r *RedisStore) CompareAndSet(ctx context.Context, key string, entry Entry, ttl time.Duration) (bool, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("failed to marshal coordination entry: %w", err)
	}

	var swapped bool
	txf := func(tx *redis.Tx) error {
		swapped = false
		current, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		var existing Entry
		if err := json.Unmarshal(current, &existing); err != nil || existing.RunID != entry.RunID {
			return nil
		}
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, ttl)
			return nil
		}); err != nil {
			return err
		}
		swapped = true
		return nil
	}

	for attempt := 1; attempt <= casAttempts; attempt++ {
		err = r.client.Watch(ctx, txf, key)
		if err == nil {
			return swapped, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			r.logger.Error("Failed to compare-and-set key in redis", zap.String("key", key), zap.Error(err))
			return false, fmt.Errorf("%w: cas %s: %v", ErrUnavailable, key, err)
		}
	}
	// Ключ все время переписывается другим запуском.
	r.logger.Warn("Compare-and-set gave up under contention", zap.String("key", key))
	return false, nil
}

// Delete removes keys.
func (r *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		r.logger.Error("Failed to delete keys from redis", zap.Strings("keys", keys), zap.Error(err))
		return fmt.Errorf("%w: del: %v", ErrUnavailable, err)
	}
	return nil
}

// Ping checks connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}
	return nil
}

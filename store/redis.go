package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisBucket stores each key as a JSON string next to a version counter.
// Writers WATCH the version key so a concurrent commit aborts the
// transaction instead of being overwritten.
type RedisBucket struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisBucket(ctx context.Context, redisURL, prefix string) (*RedisBucket, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis bucket: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis bucket: ping: %w", err)
	}
	return &RedisBucket{rdb: rdb, prefix: prefix}, nil
}

func (b *RedisBucket) key(k string) string {
	return b.prefix + k
}

func (b *RedisBucket) Get(ctx context.Context, keys ...Key) (Snapshot, error) {
	if err := checkKeys(keys); err != nil {
		return Snapshot{}, err
	}

	redisKeys := []string{b.key("version")}
	for _, k := range keys {
		redisKeys = append(redisKeys, b.key(string(k)))
	}

	vals, err := b.rdb.MGet(ctx, redisKeys...).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("redis bucket: mget: %w", err)
	}

	var snap Snapshot
	if s, ok := vals[0].(string); ok {
		snap.Version, err = strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Snapshot{}, fmt.Errorf("redis bucket: parse version: %w", err)
		}
	}
	for i, k := range keys {
		s, ok := vals[i+1].(string)
		if !ok {
			continue
		}
		if err := decodeValue(&snap, k, []byte(s)); err != nil {
			return Snapshot{}, err
		}
	}
	return snap, nil
}

func (b *RedisBucket) Set(ctx context.Context, patch Patch, ifVersion int64) (int64, error) {
	entries, err := encodePatch(patch)
	if err != nil {
		return 0, err
	}

	versionKey := b.key("version")
	var next int64

	err = b.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, versionKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if ifVersion != AnyVersion && ifVersion != current {
			next = current
			return &ConflictError{Expected: ifVersion, Current: current}
		}
		if len(entries) == 0 {
			next = current
			return nil
		}

		next = current + 1
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for k, raw := range entries {
				pipe.Set(ctx, b.key(string(k)), raw, 0)
			}
			pipe.Set(ctx, versionKey, next, 0)
			return nil
		})
		return err
	}, versionKey)

	if errors.Is(err, redis.TxFailedErr) {
		return 0, &ConflictError{Expected: ifVersion, Current: -1}
	}
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			return next, err
		}
		return 0, fmt.Errorf("redis bucket: %w", err)
	}
	return next, nil
}

func (b *RedisBucket) Close() error {
	return b.rdb.Close()
}

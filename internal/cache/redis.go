package cache

import (
	"context"
	"encoding/json"
	"fmt"

	redis "github.com/redis/go-redis/v9"

	"github.com/local/extractor/internal/extract"
)

const redisKeyPrefix = "cache:result:"

// Redis backs the cache onto shared storage so identical content uploaded to
// different nodes dedups across the fleet. Entries have no TTL; they are
// removed only by explicit Invalidate when a failed job poisons the key.
type Redis struct {
	client *redis.Client
}

func NewRedis(redisURL string) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opt)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{client: c}, nil
}

// NewRedisWithClient reuses an existing connection.
func NewRedisWithClient(c *redis.Client) *Redis { return &Redis{client: c} }

func (r *Redis) Get(ctx context.Context, fp string) (extract.Result, bool, error) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+fp).Bytes()
	if err == redis.Nil {
		return extract.Result{}, false, nil
	}
	if err != nil {
		return extract.Result{}, false, err
	}
	var res extract.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return extract.Result{}, false, fmt.Errorf("decode cached result: %w", err)
	}
	return res, true, nil
}

func (r *Redis) Put(ctx context.Context, fp string, res extract.Result) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, redisKeyPrefix+fp, raw, 0).Err()
}

func (r *Redis) Invalidate(ctx context.Context, fp string) error {
	return r.client.Del(ctx, redisKeyPrefix+fp).Err()
}

func (r *Redis) Len(ctx context.Context) (int64, error) {
	var count int64
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	return count, iter.Err()
}

func (r *Redis) Close() error { return r.client.Close() }

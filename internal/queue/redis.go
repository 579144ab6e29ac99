package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisQueue is a durable at-least-once work queue on Redis Streams with a
// consumer group, a ZSET of delayed (backoff) jobs moved into the stream by a
// background goroutine, and a DLQ stream where exhausted jobs are parked.
// Jobs are never deleted on completion or failure; the streams double as an
// audit trail.
type RedisQueue struct {
	client *redis.Client

	Stream     string
	Group      string
	DelayedKey string
	DLQStream  string

	pollInterval time.Duration
	stop         chan struct{}
}

// NewRedisQueue connects, ensures the stream and group exist, and starts the
// delayed mover.
func NewRedisQueue(redisURL, stream, group string, poll time.Duration) (*RedisQueue, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	q := &RedisQueue{
		client:       c,
		Stream:       stream,
		Group:        group,
		DelayedKey:   stream + ":delayed",
		DLQStream:    stream + ":dlq",
		pollInterval: poll,
		stop:         make(chan struct{}),
	}
	if err := c.XGroupCreateMkStream(ctx, stream, group, "$").Err(); err != nil && !isBusyGroupErr(err) {
		return nil, fmt.Errorf("xgroup create: %w", err)
	}
	go q.mover()
	return q, nil
}

func isBusyGroupErr(err error) bool {
	if err == nil {
		return false
	}
	// go-redis surfaces BUSYGROUP as a generic error string.
	return strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP")
}

func (q *RedisQueue) Close() error {
	close(q.stop)
	return q.client.Close()
}

func (q *RedisQueue) Ping(ctx context.Context) error { return q.client.Ping(ctx).Err() }

// Enqueue adds a job to the stream as a single-field entry {data: <json>}.
func (q *RedisQueue) Enqueue(ctx context.Context, p Payload) error {
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.Stream,
		Values: map[string]any{"data": string(p.Marshal())},
	}).Err()
}

// EnqueueDelayed schedules a retry attempt via the ZSET; the mover promotes
// it into the stream once due.
func (q *RedisQueue) EnqueueDelayed(ctx context.Context, p Payload, executeAt time.Time) error {
	return q.client.ZAdd(ctx, q.DelayedKey, redis.Z{
		Score:  float64(executeAt.Unix()),
		Member: string(p.Marshal()),
	}).Err()
}

// Dequeue reads one message for the consumer. A nil error with an empty msgID
// means the block timeout elapsed with nothing to do.
func (q *RedisQueue) Dequeue(ctx context.Context, consumer string, block time.Duration) (string, Payload, error) {
	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.Group,
		Consumer: consumer,
		Streams:  []string{q.Stream, ">"},
		Count:    1,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return "", Payload{}, nil
		}
		return "", Payload{}, err
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return "", Payload{}, nil
	}
	msg := res[0].Messages[0]
	raw, _ := msg.Values["data"].(string)
	p, err := Unmarshal([]byte(raw))
	if err != nil {
		return msg.ID, Payload{}, fmt.Errorf("decode payload %s (raw %q): %w", msg.ID, raw, err)
	}
	return msg.ID, p, nil
}

// Ack marks a message as processed.
func (q *RedisQueue) Ack(ctx context.Context, msgID string) error {
	if msgID == "" {
		return nil
	}
	return q.client.XAck(ctx, q.Stream, q.Group, msgID).Err()
}

// AddDLQ parks an exhausted job with its failure reason.
func (q *RedisQueue) AddDLQ(ctx context.Context, p Payload, reason string) error {
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.DLQStream,
		Values: map[string]any{"data": string(p.Marshal()), "reason": reason},
	}).Err()
}

// mover periodically promotes due delayed jobs from the ZSET into the stream.
func (q *RedisQueue) mover() {
	if q.pollInterval <= 0 {
		q.pollInterval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			q.moveOnce()
		}
	}
}

func (q *RedisQueue) moveOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	now := time.Now().Unix()
	vals, err := q.client.ZRangeByScore(ctx, q.DelayedKey, &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now), Offset: 0, Count: 100,
	}).Result()
	if err != nil || len(vals) == 0 {
		return
	}
	pipe := q.client.TxPipeline()
	for _, member := range vals {
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: q.Stream, Values: map[string]any{"data": member}})
		pipe.ZRem(ctx, q.DelayedKey, member)
	}
	_, _ = pipe.Exec(ctx)
}

// Depths returns approximate stream/delayed/dlq lengths for metrics.
func (q *RedisQueue) Depths(ctx context.Context) (int64, int64, int64, error) {
	pipe := q.client.Pipeline()
	xlen := pipe.XLen(ctx, q.Stream)
	zcard := pipe.ZCard(ctx, q.DelayedKey)
	dxlen := pipe.XLen(ctx, q.DLQStream)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, 0, err
	}
	return xlen.Val(), zcard.Val(), dxlen.Val(), nil
}

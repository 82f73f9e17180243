package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNoTask is returned by Claim when nothing arrived before the timeout.
var ErrNoTask = errors.New("no task")

var ErrQueueFull = errors.New("queue is full")

// Task is what a worker needs to execute a job. The token only lives here,
// never in the Job Store.
type Task struct {
	JobID    uuid.UUID `json:"job_id"`
	APIToken string    `json:"api_token"`
}

// Delivery is a claimed Task plus whatever the queue needs to ack it.
type Delivery struct {
	Task    Task
	Receipt string
}

type Queue interface {
	Enqueue(ctx context.Context, t Task) error
	Claim(ctx context.Context, timeout time.Duration) (Delivery, error)
	Ack(ctx context.Context, d Delivery) error
	// RequeueStale returns claimed-but-unacked deliveries older than
	// olderThan to the queue (at-least-once delivery).
	RequeueStale(ctx context.Context, olderThan time.Duration, max int64) (int64, error)
	Ping(ctx context.Context) error
}

// RedisQueue is a reliable queue on Redis lists.
//
//	Enqueue: LPUSH queue payload
//	Claim:   BRPOPLPUSH queue -> processing, claim time in claimedKey hash
//	Ack:     LREM processing payload, HDEL claimedKey
//	Reap:    processing entries claimed too long ago go back to queue
type RedisQueue struct {
	rdb           *redis.Client
	key           string
	processingKey string
	claimedKey    string
	now           func() time.Time
}

func NewRedisQueue(rdb *redis.Client, key, processingKey string) *RedisQueue {
	return &RedisQueue{
		rdb:           rdb,
		key:           key,
		processingKey: processingKey,
		claimedKey:    processingKey + ":claimed_at",
		now:           time.Now,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	return q.rdb.LPush(ctx, q.key, payload).Err()
}

// Claim blocks up to timeout. timeout <= 0 blocks until ctx is done.
func (q *RedisQueue) Claim(ctx context.Context, timeout time.Duration) (Delivery, error) {
	if timeout < 0 {
		timeout = 0
	}
	raw, err := q.rdb.BRPopLPush(ctx, q.key, q.processingKey, timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Delivery{}, ErrNoTask
		}
		return Delivery{}, err
	}

	// remember when it was claimed so the reaper leaves fresh work alone
	if err := q.rdb.HSet(ctx, q.claimedKey, raw, q.now().UnixMilli()).Err(); err != nil {
		return Delivery{}, err
	}

	var t Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		// poison message: drop it so it doesn't loop forever
		_ = q.ack(ctx, raw)
		return Delivery{}, fmt.Errorf("decode task %q: %w", raw, err)
	}
	return Delivery{Task: t, Receipt: raw}, nil
}

func (q *RedisQueue) Ack(ctx context.Context, d Delivery) error {
	return q.ack(ctx, d.Receipt)
}

func (q *RedisQueue) ack(ctx context.Context, raw string) error {
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.processingKey, 1, raw)
	pipe.HDel(ctx, q.claimedKey, raw)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) RequeueStale(ctx context.Context, olderThan time.Duration, max int64) (int64, error) {
	items, err := q.rdb.LRange(ctx, q.processingKey, 0, -1).Result()
	if err != nil {
		return 0, err
	}

	cutoff := q.now().Add(-olderThan).UnixMilli()
	var moved int64
	for _, raw := range items {
		if moved >= max {
			break
		}
		claimed, err := q.rdb.HGet(ctx, q.claimedKey, raw).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return moved, err
		}
		// a missing claim time means the claimer died before recording it
		if err == nil {
			if ts, perr := strconv.ParseInt(claimed, 10, 64); perr == nil && ts > cutoff {
				continue
			}
		}

		pipe := q.rdb.TxPipeline()
		rem := pipe.LRem(ctx, q.processingKey, 1, raw)
		pipe.HDel(ctx, q.claimedKey, raw)
		if _, err := pipe.Exec(ctx); err != nil {
			return moved, err
		}
		// acked meanwhile
		if rem.Val() == 0 {
			continue
		}
		if err := q.rdb.RPush(ctx, q.key, raw).Err(); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

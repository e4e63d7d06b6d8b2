// Package queue is a durable redis-backed job queue with at-least-once
// delivery: a pending list, an in-flight list jobs are moved through while a
// worker holds them, and a delayed zset for retries with exponential
// backoff.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Job carries one raw webhook delivery: the id of the stored
// RawWebhookRecord plus the original provider body.
type Job struct {
	RecordID int64           `json:"internalId"`
	Payload  json.RawMessage `json:"payload"`
	Attempt  int             `json:"attempt"`
}

// Handler processes one job. A returned error sends the job back through
// the retry policy; nil acknowledges it.
type Handler func(ctx context.Context, job Job) error

type Options struct {
	Concurrency int
	MaxAttempts int
	Backoff     time.Duration
}

type Queue struct {
	rdb  *redis.Client
	key  string
	opts Options
}

func New(rdb *redis.Client, key string, opts Options) *Queue {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 10
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 5 * time.Second
	}
	return &Queue{rdb: rdb, key: key, opts: opts}
}

func (q *Queue) pendingKey() string { return q.key }
func (q *Queue) activeKey() string  { return q.key + ":active" }
func (q *Queue) delayedKey() string { return q.key + ":delayed" }

func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.rdb.LPush(ctx, q.pendingKey(), raw).Err()
}

// Run consumes jobs with a bounded worker pool until ctx is canceled. It
// blocks; callers start it in its own goroutine.
func (q *Queue) Run(ctx context.Context, h Handler) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		q.promoteLoop(ctx)
	}()

	for i := 0; i < q.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.workerLoop(ctx, h)
		}()
	}

	wg.Wait()
}

func (q *Queue) workerLoop(ctx context.Context, h Handler) {
	for {
		raw, err := q.rdb.BRPopLPush(ctx, q.pendingKey(), q.activeKey(), time.Second).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("queue: dequeue failed", "queue", q.key, "err", err)
			time.Sleep(time.Second)
			continue
		}

		q.handle(ctx, h, raw)
	}
}

func (q *Queue) handle(ctx context.Context, h Handler, raw string) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		slog.Error("queue: dropping undecodable job", "queue", q.key, "err", err)
		q.ack(raw)
		return
	}

	err := q.safeHandle(ctx, h, job)
	q.ack(raw)
	if err == nil {
		return
	}

	job.Attempt++
	if job.Attempt >= q.opts.MaxAttempts {
		slog.Error("queue: job exhausted retries",
			"queue", q.key, "record_id", job.RecordID, "attempts", job.Attempt, "err", err)
		return
	}

	delay := q.opts.Backoff << (job.Attempt - 1)
	slog.Warn("queue: job failed, scheduling retry",
		"queue", q.key, "record_id", job.RecordID, "attempt", job.Attempt, "delay", delay, "err", err)
	if err := q.retryLater(job, delay); err != nil {
		slog.Error("queue: scheduling retry failed", "queue", q.key, "record_id", job.RecordID, "err", err)
	}
}

func (q *Queue) safeHandle(ctx context.Context, h Handler, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}

// ack removes the job from the in-flight list. Acking with a background
// context keeps a shutdown from stranding an already-handled job.
func (q *Queue) ack(raw string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.rdb.LRem(ctx, q.activeKey(), 1, raw).Err(); err != nil {
		slog.Error("queue: ack failed", "queue", q.key, "err", err)
	}
}

func (q *Queue) retryLater(job Job, delay time.Duration) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	readyAt := float64(time.Now().Add(delay).UnixMilli())
	return q.rdb.ZAdd(ctx, q.delayedKey(), redis.Z{Score: readyAt, Member: string(raw)}).Err()
}

// promoteLoop moves due delayed jobs back onto the pending list.
func (q *Queue) promoteLoop(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.promoteDue(ctx)
		}
	}
}

func (q *Queue) promoteDue(ctx context.Context) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := q.rdb.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("queue: reading delayed jobs failed", "queue", q.key, "err", err)
		}
		return
	}

	for _, raw := range due {
		// ZRem guards against a second promoter pushing the same job.
		removed, err := q.rdb.ZRem(ctx, q.delayedKey(), raw).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := q.rdb.LPush(ctx, q.pendingKey(), raw).Err(); err != nil {
			slog.Error("queue: promoting delayed job failed", "queue", q.key, "err", err)
		}
	}
}

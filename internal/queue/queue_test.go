package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T, opts Options) (*Queue, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(rdb, "test:jobs", opts), mr
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestQueue_EnqueueConsume(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t, Options{Concurrency: 2})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []int64
	done := make(chan struct{})

	go q.Run(ctx, func(ctx context.Context, job Job) error {
		mu.Lock()
		got = append(got, job.RecordID)
		if len(got) == 3 {
			close(done)
		}
		mu.Unlock()
		return nil
	})

	for i := int64(1); i <= 3; i++ {
		if err := q.Enqueue(ctx, Job{RecordID: i, Payload: json.RawMessage(`{}`)}); err != nil {
			t.Fatalf("Enqueue() error: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("jobs not consumed in time")
	}

	mu.Lock()
	defer mu.Unlock()
	seen := make(map[int64]bool, len(got))
	for _, id := range got {
		seen[id] = true
	}
	for i := int64(1); i <= 3; i++ {
		if !seen[i] {
			t.Fatalf("job %d never handled, got %v", i, got)
		}
	}
}

func TestQueue_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t, Options{Concurrency: 1, MaxAttempts: 5, Backoff: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	go q.Run(ctx, func(ctx context.Context, job Job) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err := q.Enqueue(ctx, Job{RecordID: 1}); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool { return calls.Load() >= 3 })
}

func TestQueue_DropsAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	q, mr := newTestQueue(t, Options{Concurrency: 1, MaxAttempts: 2, Backoff: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	go q.Run(ctx, func(ctx context.Context, job Job) error {
		calls.Add(1)
		return errors.New("permanent")
	})

	if err := q.Enqueue(ctx, Job{RecordID: 1}); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool { return calls.Load() == 2 })

	// Give the queue a moment to prove no further attempt is scheduled.
	time.Sleep(200 * time.Millisecond)
	if n := calls.Load(); n != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", n)
	}
	if members, _ := mr.ZMembers("test:jobs:delayed"); len(members) != 0 {
		t.Fatalf("expected empty delayed set, got %v", members)
	}
}

func TestQueue_HandlerPanicIsRetried(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t, Options{Concurrency: 1, MaxAttempts: 3, Backoff: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	go q.Run(ctx, func(ctx context.Context, job Job) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return nil
	})

	if err := q.Enqueue(ctx, Job{RecordID: 1}); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool { return calls.Load() >= 2 })
}

func TestQueue_AcksHandledJobs(t *testing.T) {
	t.Parallel()

	q, mr := newTestQueue(t, Options{Concurrency: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handled := make(chan struct{})
	go q.Run(ctx, func(ctx context.Context, job Job) error {
		close(handled)
		return nil
	})

	if err := q.Enqueue(ctx, Job{RecordID: 1}); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	select {
	case <-handled:
	case <-time.After(5 * time.Second):
		t.Fatalf("job not handled in time")
	}

	waitFor(t, 2*time.Second, func() bool {
		active, err := mr.List("test:jobs:active")
		return err != nil || len(active) == 0
	})
}

func TestQueue_UndecodableJobIsDropped(t *testing.T) {
	t.Parallel()

	q, mr := newTestQueue(t, Options{Concurrency: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	go q.Run(ctx, func(ctx context.Context, job Job) error {
		calls.Add(1)
		return nil
	})

	mr.Lpush("test:jobs", "not-json")
	if err := q.Enqueue(ctx, Job{RecordID: 7}); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool { return calls.Load() == 1 })

	time.Sleep(100 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Fatalf("expected garbage dropped and one real job handled, got %d calls", n)
	}
}

package service

import (
	"context"
	"errors"
	"gradeglide_backend/internal/config"
	"sort"
	"sync"
	"testing"
	"time"
)

func TestMemoryJobQueueRunsJobs(t *testing.T) {
	q := NewMemoryJobQueue(2, 8)

	var (
		mu   sync.Mutex
		seen []string
	)
	q.Start(context.Background(), func(ctx context.Context, job Job) error {
		if job.SessionID == "boom" {
			panic("handler blew up")
		}
		if job.EnqueuedAt.IsZero() {
			t.Errorf("enqueue time not stamped for %s", job.SessionID)
		}
		mu.Lock()
		seen = append(seen, job.SessionID)
		mu.Unlock()
		return nil
	})

	for _, id := range []string{"a", "boom", "b", "c"} {
		if err := q.Enqueue(context.Background(), Job{SessionID: id}); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	q.Stop()

	sort.Strings(seen)
	if len(seen) != 3 || seen[0] != "a" || seen[2] != "c" {
		t.Fatalf("handled jobs: want [a b c] got %v", seen)
	}
}

func TestMemoryJobQueueClosed(t *testing.T) {
	q := NewMemoryJobQueue(1, 1)
	q.Start(context.Background(), func(ctx context.Context, job Job) error { return nil })
	q.Stop()
	q.Stop()

	if err := q.Enqueue(context.Background(), Job{SessionID: "late"}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("want ErrQueueClosed got %v", err)
	}
}

func TestMemoryJobQueueRespectsContext(t *testing.T) {
	q := NewMemoryJobQueue(1, 1)
	if err := q.Enqueue(context.Background(), Job{SessionID: "fills-buffer"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.Enqueue(ctx, Job{SessionID: "blocked"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled got %v", err)
	}
}

func TestMemoryJobQueueStopUnblocksFullEnqueue(t *testing.T) {
	q := NewMemoryJobQueue(1, 1)
	if err := q.Enqueue(context.Background(), Job{SessionID: "fills-buffer"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	blocked := make(chan error, 1)
	go func() {
		blocked <- q.Enqueue(context.Background(), Job{SessionID: "waits"})
	}()
	// 等待第二个 Enqueue 阻塞在满通道上
	time.Sleep(50 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		q.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop stalled behind a blocked Enqueue")
	}
	select {
	case err := <-blocked:
		if !errors.Is(err, ErrQueueClosed) {
			t.Fatalf("blocked enqueue: want ErrQueueClosed got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("blocked Enqueue never returned")
	}
}

func TestNewJobQueue(t *testing.T) {
	q, err := NewJobQueue(config.QueueConfig{Type: "memory", Workers: 0}, nil)
	if err != nil {
		t.Fatalf("memory queue: %v", err)
	}
	if q.Durable() {
		t.Fatalf("memory queue must not be durable")
	}

	if _, err := NewJobQueue(config.QueueConfig{Type: "redis"}, nil); err == nil {
		t.Fatalf("redis queue without client should fail")
	}
	if _, err := NewJobQueue(config.QueueConfig{Type: "kafka"}, nil); err == nil {
		t.Fatalf("unknown queue type should fail")
	}
}

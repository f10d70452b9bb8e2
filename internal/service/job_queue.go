package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"gradeglide_backend/internal/config"
	"gradeglide_backend/pkg/logger"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

var ErrQueueClosed = errors.New("job queue closed")

// Job 一次答卷处理任务
type Job struct {
	SessionID  string    `json:"session_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type JobHandler func(ctx context.Context, job Job) error

// JobQueue 上传接口入队，worker 异步执行流水线
type JobQueue interface {
	Enqueue(ctx context.Context, job Job) error
	Start(ctx context.Context, handler JobHandler)
	Stop()
	// Durable 为 true 时进程重启不会丢任务
	Durable() bool
}

func NewJobQueue(cfg config.QueueConfig, rdb *redis.Client) (JobQueue, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	switch cfg.Type {
	case "redis":
		if rdb == nil {
			return nil, errors.New("redis queue requires a redis client")
		}
		return NewRedisJobQueue(rdb, cfg.RedisKey, workers), nil
	case "memory", "":
		return NewMemoryJobQueue(workers, cfg.Buffer), nil
	default:
		return nil, fmt.Errorf("unsupported queue type %q", cfg.Type)
	}
}

// runSafely worker 内 panic 不能拖垮进程
func runSafely(ctx context.Context, handler JobHandler, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("Job panicked",
				zap.String("session_id", job.SessionID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

// MemoryJobQueue 进程内有缓冲通道 + 固定数量 worker；jobs 通道不关闭，停止信号走 done
type MemoryJobQueue struct {
	jobs    chan Job
	done    chan struct{}
	workers int

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewMemoryJobQueue(workers, buffer int) *MemoryJobQueue {
	if buffer <= 0 {
		buffer = 64
	}
	return &MemoryJobQueue{
		jobs:    make(chan Job, buffer),
		done:    make(chan struct{}),
		workers: workers,
	}
}

func (q *MemoryJobQueue) Durable() bool { return false }

// Enqueue 通道满时阻塞，直到有空位、队列停止或 ctx 结束；阻塞期间不持锁
func (q *MemoryJobQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrQueueClosed
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	select {
	case q.jobs <- job:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryJobQueue) Start(ctx context.Context, handler JobHandler) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func(id int) {
			defer q.wg.Done()
			for {
				select {
				case job := <-q.jobs:
					q.run(ctx, handler, id, job)
				case <-q.done:
					q.drain(ctx, handler, id)
					return
				}
			}
		}(i)
	}
	logger.Log.Info("Memory job queue started", zap.Int("workers", q.workers))
}

// drain 停止后处理完缓冲区里剩余的任务
func (q *MemoryJobQueue) drain(ctx context.Context, handler JobHandler, id int) {
	for {
		select {
		case job := <-q.jobs:
			q.run(ctx, handler, id, job)
		default:
			return
		}
	}
}

func (q *MemoryJobQueue) run(ctx context.Context, handler JobHandler, id int, job Job) {
	if err := runSafely(ctx, handler, job); err != nil {
		logger.Log.Warn("Job failed",
			zap.Int("worker", id),
			zap.String("session_id", job.SessionID),
			zap.Error(err),
		)
	}
}

// Stop 不再接收新任务，等待已入队任务处理完
func (q *MemoryJobQueue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()
	q.wg.Wait()
}

// RedisJobQueue LPUSH 入队、BRPOP 出队，多实例共享
type RedisJobQueue struct {
	rdb     *redis.Client
	key     string
	workers int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRedisJobQueue(rdb *redis.Client, key string, workers int) *RedisJobQueue {
	if key == "" {
		key = "gradeglide:pipeline:jobs"
	}
	return &RedisJobQueue{rdb: rdb, key: key, workers: workers}
}

func (q *RedisJobQueue) Durable() bool { return true }

func (q *RedisJobQueue) Enqueue(ctx context.Context, job Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, q.key, payload).Err()
}

func (q *RedisJobQueue) Start(ctx context.Context, handler JobHandler) {
	ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func(id int) {
			defer q.wg.Done()
			q.loop(ctx, id, handler)
		}(i)
	}
	logger.Log.Info("Redis job queue started", zap.Int("workers", q.workers), zap.String("key", q.key))
}

func (q *RedisJobQueue) loop(ctx context.Context, id int, handler JobHandler) {
	for {
		if ctx.Err() != nil {
			return
		}
		res, err := q.rdb.BRPop(ctx, 2*time.Second, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Log.Error("BRPOP failed", zap.Int("worker", id), zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		// res[0] 为 key，res[1] 为数据
		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			logger.Log.Error("Job unmarshal error", zap.String("payload", res[1]), zap.Error(err))
			continue
		}
		// 已取出的任务在取消后仍执行完，避免会话卡在 processing
		if err := runSafely(context.WithoutCancel(ctx), handler, job); err != nil {
			logger.Log.Warn("Job failed",
				zap.Int("worker", id),
				zap.String("session_id", job.SessionID),
				zap.Error(err),
			)
		}
	}
}

func (q *RedisJobQueue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/qs3c/docgen_server/internal/pkg/lock"
	"github.com/qs3c/docgen_server/internal/pkg/queue"
)

// JobProcessor 处理一条任务消息
type JobProcessor interface {
	Process(ctx context.Context, msg *queue.JobMessage) error
}

type DispatcherOptions struct {
	Workers      int
	PopTimeout   time.Duration
	LockTTL      time.Duration
	RequeueDelay time.Duration
}

// Dispatcher Task Dispatcher：从队列取任务，同一仓库同时只交给一个 worker
type Dispatcher struct {
	queue     *queue.Queue
	locker    *lock.Locker
	processor JobProcessor
	opts      DispatcherOptions
}

func NewDispatcher(q *queue.Queue, locker *lock.Locker, processor JobProcessor, opts DispatcherOptions) *Dispatcher {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = 5 * time.Second
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = time.Hour
	}
	if opts.RequeueDelay <= 0 {
		opts.RequeueDelay = 2 * time.Second
	}
	return &Dispatcher{queue: q, locker: locker, processor: processor, opts: opts}
}

// Run 启动 worker 循环，ctx 取消后等待所有在处理的任务返回
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.opts.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			d.loop(ctx, workerID)
		}(i)
	}
	wg.Wait()
}

func (d *Dispatcher) loop(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			log.Printf("Worker %d shutting down", workerID)
			return
		default:
		}

		msg, err := d.queue.Pop(ctx, d.opts.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Worker %d: failed to pop job: %v", workerID, err)
			// 避免 Redis 不可用时空转
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if msg == nil {
			continue
		}

		d.dispatch(ctx, workerID, msg)
	}
}

// dispatch 持有仓库租约期间处理任务；租约被占用时延迟放回队列
func (d *Dispatcher) dispatch(ctx context.Context, workerID int, msg *queue.JobMessage) {
	lease, err := d.locker.Acquire(ctx, lock.RepositoryKey(msg.RepositoryID), d.opts.LockTTL)
	if err != nil {
		log.Printf("Worker %d: job %d: %v, requeueing", workerID, msg.JobID, err)
		d.requeue(ctx, msg)
		return
	}
	if lease == nil {
		log.Printf("Worker %d: repository %d busy, requeueing job %d", workerID, msg.RepositoryID, msg.JobID)
		d.requeue(ctx, msg)
		return
	}

	stop := d.keepAlive(ctx, lease)
	defer func() {
		stop()
		// ctx 可能已取消，释放使用独立的 context
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := d.locker.Release(releaseCtx, lease); err != nil {
			log.Printf("Worker %d: failed to release lease for job %d: %v", workerID, msg.JobID, err)
		}
	}()

	log.Printf("Worker %d: processing job %d", workerID, msg.JobID)
	if err := d.processor.Process(ctx, msg); err != nil {
		log.Printf("Worker %d: job %d failed: %v", workerID, msg.JobID, err)
	}
}

// keepAlive 每 1/3 TTL 续约一次
func (d *Dispatcher) keepAlive(ctx context.Context, lease *lock.Lease) func() {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(d.opts.LockTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := d.locker.Refresh(ctx, lease, d.opts.LockTTL)
				if err != nil {
					log.Printf("Failed to refresh lease %s: %v", lease.Key, err)
				} else if !ok {
					log.Printf("Lease %s lost", lease.Key)
					return
				}
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}

func (d *Dispatcher) requeue(ctx context.Context, msg *queue.JobMessage) {
	if err := d.queue.Requeue(ctx, msg, d.opts.RequeueDelay); err != nil && ctx.Err() == nil {
		log.Printf("Failed to requeue job %d: %v", msg.JobID, err)
	}
}

package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/batch-crawler/internal/metrics"
	"github.com/JakeFAU/batch-crawler/internal/queue/memory"
)

// ErrPoolClosed is returned when submitting to a pool that has been closed.
var ErrPoolClosed = errors.New("worker pool closed")

// Config controls Pool sizing.
type Config struct {
	// Workers is the number of tasks that may run at once across all batches.
	Workers int
	// QueueDepth bounds how many tasks may wait for a worker.
	QueueDepth int
	// SubmitTimeout bounds how long Submit waits for queue space. Zero waits
	// until the caller's context ends.
	SubmitTimeout time.Duration
}

type task struct {
	ctx context.Context
	run func(context.Context)
}

// Pool is a fixed set of workers fed from one bounded queue. It lives for the
// whole process and is shared by every batch.
type Pool struct {
	cfg       Config
	queue     *memory.Queue[task]
	logger    *zap.Logger
	startOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewPool validates cfg and allocates the queue. Workers begin on Start.
func NewPool(cfg Config, logger *zap.Logger) (*Pool, error) {
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("pool workers must be >= 1, got %d", cfg.Workers)
	}
	if cfg.QueueDepth < 0 {
		return nil, fmt.Errorf("pool queue depth must be >= 0, got %d", cfg.QueueDepth)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cfg:    cfg,
		queue:  memory.NewQueue[task](cfg.QueueDepth),
		logger: logger,
	}, nil
}

// Start launches the workers. Later calls are no-ops. When ctx ends the pool
// stops accepting work and finishes whatever is queued.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		for i := 0; i < p.cfg.Workers; i++ {
			p.wg.Add(1)
			go p.work(i)
		}
		go func() {
			<-ctx.Done()
			p.Close()
		}()
		p.logger.Info("worker pool started",
			zap.Int("workers", p.cfg.Workers), zap.Int("queue_depth", p.cfg.QueueDepth))
	})
}

// Submit queues fn to run on a worker with ctx. It blocks while the queue is
// full, up to SubmitTimeout.
func (p *Pool) Submit(ctx context.Context, fn func(context.Context)) error {
	enqueueCtx := ctx
	if p.cfg.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		enqueueCtx, cancel = context.WithTimeout(ctx, p.cfg.SubmitTimeout)
		defer cancel()
	}
	if err := p.queue.Enqueue(enqueueCtx, task{ctx: ctx, run: fn}); err != nil {
		if errors.Is(err, memory.ErrQueueClosed) {
			return ErrPoolClosed
		}
		return fmt.Errorf("submit task: %w", err)
	}
	metrics.SetQueueDepth(p.queue.Len())
	return nil
}

// Close stops accepting tasks and waits for queued and running tasks to finish.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.queue.Close()
	})
	p.wg.Wait()
}

func (p *Pool) work(id int) {
	defer p.wg.Done()
	logger := p.logger.With(zap.Int("worker", id))
	for {
		t, err := p.queue.Dequeue(context.Background())
		if err != nil {
			logger.Debug("worker exiting", zap.Error(err))
			return
		}
		metrics.SetQueueDepth(p.queue.Len())
		p.execute(logger, t)
	}
}

func (p *Pool) execute(logger *zap.Logger, t task) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("task panicked", zap.Any("panic", r))
		}
	}()
	t.run(t.ctx)
}

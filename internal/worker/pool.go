package worker

import (
	"context"
	"fmt"
	"sync"

	"whatif-server/internal/models"

	"go.uber.org/zap"
)

// Config - размеры пула.
type Config struct {
	Workers   int
	QueueSize int
}

// Pool - N воркеров над ограниченной очередью. Реализует Dispatcher.
type Pool struct {
	handler JobHandler
	queue   chan models.GenerationJob
	workers int
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started sync.Once
}

// Compile-time check
var _ Dispatcher = (*Pool)(nil)

// NewPool создает пул. Воркеры запускаются вызовом Start.
func NewPool(cfg Config, handler JobHandler, logger *zap.Logger) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	queueSize := cfg.QueueSize
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		handler: handler,
		queue:   make(chan models.GenerationJob, queueSize),
		workers: workers,
		logger:  logger.Named("WorkerPool"),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Start запускает воркеры. Повторные вызовы ничего не делают.
func (p *Pool) Start() {
	p.started.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.run(i)
		}
		p.logger.Info("Worker pool started", zap.Int("workers", p.workers), zap.Int("queueSize", cap(p.queue)))
	})
}

// Dispatch ставит задачу в очередь без ожидания. Если очередь заполнена,
// возвращает ErrQueueFull.
func (p *Pool) Dispatch(ctx context.Context, job models.GenerationJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		jobsDispatched.WithLabelValues("closed").Inc()
		return ErrPoolClosed
	}
	select {
	case p.queue <- job:
		jobsDispatched.WithLabelValues("accepted").Inc()
		queueDepth.Set(float64(len(p.queue)))
		return nil
	default:
		jobsDispatched.WithLabelValues("queue_full").Inc()
		p.logger.Warn("Worker queue is full, job rejected",
			zap.String("conversationID", job.ConversationID), zap.String("runID", job.RunID))
		return ErrQueueFull
	}
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	for job := range p.queue {
		queueDepth.Set(float64(len(p.queue)))
		p.process(id, job)
	}
}

func (p *Pool) process(id int, job models.GenerationJob) {
	jobsInFlight.Inc()
	defer jobsInFlight.Dec()
	defer func() {
		if r := recover(); r != nil {
			jobsPanicked.Inc()
			p.logger.Error("Job panicked",
				zap.Int("worker", id),
				zap.String("conversationID", job.ConversationID),
				zap.String("runID", job.RunID),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()
	p.handler.Process(p.baseCtx, job)
}

// Shutdown перестает принимать задачи и ждет, пока очередь будет обработана.
// Если ctx истек раньше, контекст выполняющихся задач отменяется.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("Worker pool stopped")
		return nil
	case <-ctx.Done():
		p.cancel()
		return fmt.Errorf("таймаут при ожидании завершения задач: %w", ctx.Err())
	}
}

package prediction

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher hands a payment notification to the lifecycle.
type Dispatcher interface {
	Dispatch(ctx context.Context, paymentID string)
}

// InlineDispatcher confirms on the caller's goroutine.
type InlineDispatcher struct {
	service ServiceAPI
	logger  *slog.Logger
}

func NewInlineDispatcher(service ServiceAPI, logger *slog.Logger) *InlineDispatcher {
	return &InlineDispatcher{service: service, logger: logger}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, paymentID string) {
	confirm(ctx, d.service, d.logger, paymentID)
}

func confirm(ctx context.Context, service ServiceAPI, logger *slog.Logger, paymentID string) {
	outcome, err := service.ConfirmFromWebhook(ctx, paymentID)
	if err != nil {
		logger.Error("payment notification processing failed", "payment_id", paymentID, "outcome", outcome, "error", err)
		return
	}
	logger.Debug("payment notification processed", "payment_id", paymentID, "outcome", outcome)
}

type NotificationJob struct {
	PaymentID  string
	ReceivedAt time.Time
}

type Worker struct {
	ID         int
	WorkerPool chan chan NotificationJob
	JobChannel chan NotificationJob
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan NotificationJob, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan NotificationJob),
		Logger:     logger,
	}
}

func (w *Worker) Start(stop <-chan struct{}, wg *sync.WaitGroup, processFunc func(NotificationJob)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			w.WorkerPool <- w.JobChannel

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("worker processing notification", "worker_id", w.ID, "payment_id", job.PaymentID)
				processFunc(job)
			case <-stop:
				w.Logger.Debug("worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

type PoolConfig struct {
	MaxWorkers     int
	JobQueueSize   int
	WorkerPoolSize int
}

// NotificationPool confirms payment notifications on a bounded set of
// workers. A full queue degrades to inline processing, so an acknowledged
// notification is never dropped.
type NotificationPool struct {
	service ServiceAPI
	logger  *slog.Logger

	jobQueue   chan NotificationJob
	workerPool chan chan NotificationJob
	maxWorkers int
	stop       chan struct{}
	wg         sync.WaitGroup
	once       sync.Once

	mu     sync.RWMutex
	closed bool
}

func NewNotificationPool(service ServiceAPI, config PoolConfig, logger *slog.Logger) *NotificationPool {
	maxWorkers := config.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	jobQueueSize := config.JobQueueSize
	if jobQueueSize <= 0 {
		jobQueueSize = 100
	}

	workerPoolSize := config.WorkerPoolSize
	if workerPoolSize < maxWorkers {
		workerPoolSize = maxWorkers
	}

	pool := &NotificationPool{
		service:    service,
		logger:     logger,
		maxWorkers: maxWorkers,
		jobQueue:   make(chan NotificationJob, jobQueueSize),
		workerPool: make(chan chan NotificationJob, workerPoolSize),
		stop:       make(chan struct{}),
	}

	pool.start()

	return pool
}

func (p *NotificationPool) start() {
	p.once.Do(func() {
		for i := 0; i < p.maxWorkers; i++ {
			worker := NewWorker(i, p.workerPool, p.logger)
			worker.Start(p.stop, &p.wg, p.process)
		}

		p.wg.Add(1)
		go p.dispatch()

		p.logger.Info("notification worker pool started",
			"max_workers", p.maxWorkers,
			"queue_size", cap(p.jobQueue))
	})
}

// dispatch hands queued jobs to idle workers until the queue is closed and
// drained, then releases the workers.
func (p *NotificationPool) dispatch() {
	defer p.wg.Done()

	for job := range p.jobQueue {
		jobChannel := <-p.workerPool
		jobChannel <- job
	}

	close(p.stop)
	p.logger.Info("notification dispatcher drained")
}

func (p *NotificationPool) Dispatch(ctx context.Context, paymentID string) {
	job := NotificationJob{PaymentID: paymentID, ReceivedAt: time.Now()}

	p.mu.RLock()
	if !p.closed {
		select {
		case p.jobQueue <- job:
			p.mu.RUnlock()
			p.logger.Debug("payment notification queued", "payment_id", paymentID, "queue_length", len(p.jobQueue))
			return
		default:
		}
	}
	p.mu.RUnlock()

	p.logger.Warn("notification queue unavailable, processing inline", "payment_id", paymentID, "queue_capacity", cap(p.jobQueue))
	confirm(context.WithoutCancel(ctx), p.service, p.logger, paymentID)
}

func (p *NotificationPool) process(job NotificationJob) {
	p.logger.Debug("processing payment notification",
		"payment_id", job.PaymentID,
		"queued_for_ms", time.Since(job.ReceivedAt).Milliseconds())
	confirm(context.Background(), p.service, p.logger, job.PaymentID)
}

// Shutdown stops intake and waits until every queued notification is processed.
func (p *NotificationPool) Shutdown() {
	p.logger.Info("shutting down notification worker pool")

	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobQueue)
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("notification worker pool shutdown complete")
}

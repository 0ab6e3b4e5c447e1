package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/auth-session-service/internal/metrics"
)

// handleTimeout bounds a single delivery attempt.
const handleTimeout = 30 * time.Second

// Pool is a bounded in-process queue drained by a fixed set of workers.
// Enqueue never blocks: when the buffer is full the task is dropped.
type Pool struct {
	tasks   chan EmailTask
	handler Handler
	log     *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool starts workers goroutines reading from a buffer of the given size.
func NewPool(workers, buffer int, handler Handler, log *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if buffer < 1 {
		buffer = 1
	}
	p := &Pool{
		tasks:   make(chan EmailTask, buffer),
		handler: handler,
		log:     log.With(zap.String("component", "email_pool")),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p
}

// Enqueue hands task to the workers.
func (p *Pool) Enqueue(ctx context.Context, task EmailTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := task.Validate(); err != nil {
		return err
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.tasks <- task:
		metrics.EmailTasksTotal.WithLabelValues(string(task.Type), "enqueued").Inc()
		return nil
	default:
		metrics.EmailTasksTotal.WithLabelValues(string(task.Type), "dropped").Inc()
		return ErrQueueFull
	}
}

func (p *Pool) work() {
	defer p.wg.Done()
	for task := range p.tasks {
		ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
		err := p.handler(ctx, task)
		cancel()
		if err != nil {
			metrics.EmailTasksTotal.WithLabelValues(string(task.Type), "failed").Inc()
			p.log.Error("email task failed", zap.String("type", string(task.Type)), zap.String("to", task.To), zap.Error(err))
			continue
		}
		metrics.EmailTasksTotal.WithLabelValues(string(task.Type), "sent").Inc()
		p.log.Debug("email task sent", zap.String("type", string(task.Type)), zap.String("to", task.To))
	}
}

// Close stops accepting tasks and waits for the buffer to drain or ctx to end.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

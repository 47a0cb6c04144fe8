package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/arush/chatcore/pkg/logger"
)

// Handler processes one job. A non-nil error (or a panic, which is recovered)
// counts as a failed attempt and triggers retry or dead-lettering per the
// queue's policy.
type Handler func(ctx context.Context, job *Job) error

// Worker runs one poll loop bound to exactly one queue:
// fetch -> handle -> ack | requeue-with-backoff | dead-letter.
type Worker struct {
	name       string
	queue      string
	handler    Handler
	dispatcher *Dispatcher
	limiter    *rate.Limiter
	pollEvery  time.Duration

	mu          sync.RWMutex
	running     bool
	lastOutcome string
}

// Health is the per-worker view on the health surface.
type Health struct {
	Name            string `json:"name"`
	Queue           string `json:"queue"`
	Running         bool   `json:"is_running"`
	LastPollOutcome string `json:"last_poll_outcome"`
}

func NewWorker(name, queueName string, d *Dispatcher, h Handler, pollEvery time.Duration) *Worker {
	cfg := d.QueueConfig(queueName)
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	if pollEvery <= 0 {
		pollEvery = 250 * time.Millisecond
	}
	return &Worker{
		name:        name,
		queue:       queueName,
		handler:     h,
		dispatcher:  d,
		limiter:     rate.NewLimiter(limit, 1),
		pollEvery:   pollEvery,
		lastOutcome: "never-polled",
	}
}

// Run blocks until ctx is cancelled. One failing job never halts the loop or
// blocks the jobs behind it.
func (w *Worker) Run(ctx context.Context) {
	w.setRunning(true)
	defer w.setRunning(false)
	logger.Log.Info("worker started", "worker", w.name, "queue", w.queue)

	for {
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
		job, err := w.dispatcher.Broker().Dequeue(ctx, w.queue)
		if err == nil && job != nil {
			w.setOutcome(w.process(ctx, job))
			// A job was available; poll again right away and let the rate
			// limiter govern throughput.
			select {
			case <-ctx.Done():
				return
			default:
			}
			continue
		}
		if err != nil {
			w.setOutcome("poll-error")
			logger.Log.Error("dequeue failed", "worker", w.name, "err", err)
		} else {
			w.setOutcome("idle")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.pollEvery):
		}
	}
}

func (w *Worker) process(ctx context.Context, job *Job) string {
	err := w.invoke(ctx, job)
	if err == nil {
		if ackErr := w.dispatcher.Broker().Ack(ctx, job); ackErr != nil {
			logger.Log.Error("ack failed", "worker", w.name, "job", job.ID, "err", ackErr)
		}
		return "handled"
	}

	job.Attempts++
	job.LastError = err.Error()
	policy := w.dispatcher.QueueConfig(w.queue).Retry

	if job.Attempts >= job.MaxAttempts {
		now := time.Now().UTC()
		job.FailedAt = &now
		if dlErr := w.dispatcher.Broker().DeadLetter(ctx, job); dlErr != nil {
			logger.Log.Error("dead-letter failed", "worker", w.name, "job", job.ID, "err", dlErr)
		}
		logger.Log.Warn("job dead-lettered",
			"worker", w.name, "job", job.ID, "type", job.Type,
			"attempts", job.Attempts, "err", err)
		return "dead-lettered"
	}

	delay := policy.Delay(job.Attempts)
	job.NotBefore = time.Now().Add(delay)
	if rqErr := w.dispatcher.Broker().Requeue(ctx, job); rqErr != nil {
		logger.Log.Error("requeue failed", "worker", w.name, "job", job.ID, "err", rqErr)
	}
	logger.Log.Info("job retry scheduled",
		"worker", w.name, "job", job.ID, "attempt", job.Attempts, "delay", delay, "err", err)
	return "retried"
}

// invoke shields the loop from handler panics.
func (w *Worker) invoke(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.handler(ctx, job)
}

func (w *Worker) setRunning(v bool) {
	w.mu.Lock()
	w.running = v
	w.mu.Unlock()
}

func (w *Worker) setOutcome(o string) {
	w.mu.Lock()
	w.lastOutcome = o
	w.mu.Unlock()
}

func (w *Worker) Health() Health {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return Health{
		Name:            w.name,
		Queue:           w.queue,
		Running:         w.running,
		LastPollOutcome: w.lastOutcome,
	}
}

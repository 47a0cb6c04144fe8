package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arush/chatcore/pkg/logger"
)

// Dispatcher is the publish side of the queue layer. Publishing appends a job
// and returns its id synchronously; it never blocks on consumption.
type Dispatcher struct {
	broker Broker

	mu     sync.RWMutex
	queues map[string]Config
}

func NewDispatcher(broker Broker) *Dispatcher {
	return &Dispatcher{broker: broker, queues: make(map[string]Config)}
}

func (d *Dispatcher) Broker() Broker { return d.broker }

// Register declares a named queue. Re-registering replaces the config.
func (d *Dispatcher) Register(cfg Config) {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetry
	}
	d.mu.Lock()
	d.queues[cfg.Name] = cfg
	d.mu.Unlock()
}

// QueueConfig returns the config for a queue, auto-registering unknown names
// with defaults so a publish can never fail on bookkeeping.
func (d *Dispatcher) QueueConfig(name string) Config {
	d.mu.RLock()
	cfg, ok := d.queues[name]
	d.mu.RUnlock()
	if ok {
		return cfg
	}
	cfg = Config{Name: name, Retry: DefaultRetry}
	d.Register(cfg)
	return cfg
}

type PublishOption func(*Job)

func WithPriority(p int) PublishOption {
	return func(j *Job) { j.Priority = p }
}

func WithDelay(delay time.Duration) PublishOption {
	return func(j *Job) { j.NotBefore = time.Now().Add(delay) }
}

func WithMaxAttempts(n int) PublishOption {
	return func(j *Job) { j.MaxAttempts = n }
}

// Publish appends a typed job to the named queue and returns its id.
func (d *Dispatcher) Publish(ctx context.Context, queueName, jobType string, payload any, opts ...PublishOption) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	cfg := d.QueueConfig(queueName)
	job := &Job{
		ID:          uuid.NewString(),
		Queue:       queueName,
		Type:        jobType,
		Payload:     body,
		CreatedAt:   time.Now().UTC(),
		MaxAttempts: cfg.Retry.MaxAttempts,
		Priority:    cfg.Priority,
	}
	for _, opt := range opts {
		opt(job)
	}
	if err := d.broker.Enqueue(ctx, job); err != nil {
		return "", err
	}
	logger.Log.Debug("job published", "queue", queueName, "type", jobType, "id", job.ID)
	return job.ID, nil
}

// Stats reports depth and dead-letter depth for every registered queue.
func (d *Dispatcher) Stats(ctx context.Context) []Stats {
	d.mu.RLock()
	names := make([]Config, 0, len(d.queues))
	for _, cfg := range d.queues {
		names = append(names, cfg)
	}
	d.mu.RUnlock()

	out := make([]Stats, 0, len(names))
	for _, cfg := range names {
		depth, _ := d.broker.Depth(ctx, cfg.Name)
		dead, _ := d.broker.DeadLetterDepth(ctx, cfg.Name)
		out = append(out, Stats{
			Name:            cfg.Name,
			Depth:           depth,
			DeadLetterDepth: dead,
			Priority:        cfg.Priority,
		})
	}
	return out
}

// Purge drops every pending and dead-lettered job on the queue, cancelling
// any scheduled retries with them.
func (d *Dispatcher) Purge(ctx context.Context, queueName string) error {
	return d.broker.Purge(ctx, queueName)
}

package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrBrokerClosed is returned for operations on a closed broker.
var ErrBrokerClosed = errors.New("queue: broker is closed")

type memEntry struct {
	job *Job
	seq uint64
}

// MemoryBroker is the in-process fallback used when Redis is unreachable at
// startup. Jobs queued here do not survive a restart; the health surface
// reports the degradation.
type MemoryBroker struct {
	mu     sync.Mutex
	seq    uint64
	ready  map[string][]memEntry
	dead   map[string][]*Job
	closed bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		ready: make(map[string][]memEntry),
		dead:  make(map[string][]*Job),
	}
}

func (b *MemoryBroker) Kind() string { return "memory" }

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

func (b *MemoryBroker) Enqueue(_ context.Context, job *Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	b.seq++
	b.ready[job.Queue] = append(b.ready[job.Queue], memEntry{job: job, seq: b.seq})
	return nil
}

// Dequeue scans the queue for due jobs and pops the best one: highest priority
// first, enqueue order within a priority.
func (b *MemoryBroker) Dequeue(_ context.Context, queue string) (*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}
	now := time.Now()
	entries := b.ready[queue]
	best := -1
	for i, e := range entries {
		if !e.job.Due(now) {
			continue
		}
		if best == -1 ||
			e.job.Priority > entries[best].job.Priority ||
			(e.job.Priority == entries[best].job.Priority && e.seq < entries[best].seq) {
			best = i
		}
	}
	if best == -1 {
		return nil, nil
	}
	job := entries[best].job
	b.ready[queue] = append(entries[:best], entries[best+1:]...)
	return job, nil
}

// Ack is a no-op: Dequeue already removed the job, so nothing holds it.
func (b *MemoryBroker) Ack(_ context.Context, _ *Job) error { return nil }

func (b *MemoryBroker) Requeue(ctx context.Context, job *Job) error {
	return b.Enqueue(ctx, job)
}

func (b *MemoryBroker) DeadLetter(_ context.Context, job *Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	b.dead[job.Queue] = append(b.dead[job.Queue], job)
	return nil
}

func (b *MemoryBroker) Depth(_ context.Context, queue string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ready[queue]), nil
}

func (b *MemoryBroker) DeadLetterDepth(_ context.Context, queue string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.dead[queue]), nil
}

func (b *MemoryBroker) DeadLetters(_ context.Context, queue string) ([]*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Job(nil), b.dead[queue]...), nil
}

func (b *MemoryBroker) Purge(_ context.Context, queue string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.ready, queue)
	delete(b.dead, queue)
	return nil
}

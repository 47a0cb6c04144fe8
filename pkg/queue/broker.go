package queue

import "context"

// Broker is the storage behind the dispatcher. Dequeue hands out the next due
// job (highest priority first, FIFO within a priority) and removes it from the
// ready set; the worker then settles it with Ack, Requeue or DeadLetter.
type Broker interface {
	Enqueue(ctx context.Context, job *Job) error
	Dequeue(ctx context.Context, queue string) (*Job, error)
	Ack(ctx context.Context, job *Job) error
	Requeue(ctx context.Context, job *Job) error
	DeadLetter(ctx context.Context, job *Job) error
	Depth(ctx context.Context, queue string) (int, error)
	DeadLetterDepth(ctx context.Context, queue string) (int, error)
	DeadLetters(ctx context.Context, queue string) ([]*Job, error)
	Purge(ctx context.Context, queue string) error
	Kind() string
	Close() error
}

// Package queue decouples slow side-effectful work from request handling.
// Jobs travel through named queues with independent rate limits, priorities
// and retry policies; every job terminates either acknowledged or in the
// queue's dead-letter sibling — nothing is silently dropped.
package queue

import (
	"encoding/json"
	"time"
)

type BackoffKind string

const (
	BackoffLinear      BackoffKind = "linear"
	BackoffExponential BackoffKind = "exponential"
)

type RetryPolicy struct {
	MaxAttempts  int           `json:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay"`
	Backoff      BackoffKind   `json:"backoff"`
	MaxDelay     time.Duration `json:"max_delay"`
}

// Delay returns the wait before the given retry. attempt counts completed
// attempts, so the first retry passes attempt=1.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	var d time.Duration
	switch p.Backoff {
	case BackoffExponential:
		d = p.InitialDelay << (attempt - 1)
	default:
		d = p.InitialDelay * time.Duration(attempt)
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Config describes one named queue.
type Config struct {
	Name      string      `json:"name"`
	RateLimit float64     `json:"rate_limit"` // jobs per second, 0 = unlimited
	Priority  int         `json:"priority"`   // default priority for its jobs
	Retry     RetryPolicy `json:"retry"`
}

// DefaultRetry matches the engine-wide default policy: three attempts with
// exponential backoff starting at one second.
var DefaultRetry = RetryPolicy{
	MaxAttempts:  3,
	InitialDelay: time.Second,
	Backoff:      BackoffExponential,
	MaxDelay:     time.Minute,
}

type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Priority    int             `json:"priority"`
	NotBefore   time.Time       `json:"not_before,omitzero"`
	LastError   string          `json:"last_error,omitempty"`
	FailedAt    *time.Time      `json:"failed_at,omitempty"`
}

// Due reports whether the job's delay has elapsed.
func (j *Job) Due(now time.Time) bool {
	return j.NotBefore.IsZero() || !now.Before(j.NotBefore)
}

// Stats is the per-queue health view.
type Stats struct {
	Name            string `json:"name"`
	Depth           int    `json:"depth"`
	DeadLetterDepth int    `json:"dead_letter_depth"`
	Priority        int    `json:"priority"`
}

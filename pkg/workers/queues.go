package workers

import (
	"time"

	"github.com/arush/chatcore/pkg/queue"
)

const (
	EmailQueue        = "email-queue"
	NotificationQueue = "notification-queue"
	AnalyticsQueue    = "chat-analytics-queue"
)

// DefaultQueues is the standing queue topology: email throttled hardest,
// notifications prioritized, analytics best-effort with linear backoff.
func DefaultQueues() []queue.Config {
	return []queue.Config{
		{
			Name:      EmailQueue,
			RateLimit: 10,
			Priority:  1,
			Retry:     queue.DefaultRetry,
		},
		{
			Name:      NotificationQueue,
			RateLimit: 50,
			Priority:  2,
			Retry:     queue.DefaultRetry,
		},
		{
			Name:      AnalyticsQueue,
			RateLimit: 100,
			Priority:  0,
			Retry: queue.RetryPolicy{
				MaxAttempts:  2,
				InitialDelay: 500 * time.Millisecond,
				Backoff:      queue.BackoffLinear,
				MaxDelay:     5 * time.Second,
			},
		},
	}
}

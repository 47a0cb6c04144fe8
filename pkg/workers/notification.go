package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arush/chatcore/pkg/queue"
)

// NotificationJob is the payload carried on the notification queue. Multiple
// recipients on one job go out as a single bulk call.
type NotificationJob struct {
	Recipients []string `json:"recipients"`
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	RoomID     string   `json:"room_id,omitempty"`
	MessageID  int64    `json:"message_id,omitempty"`
}

func NotificationHandler(sender NotificationSender) queue.Handler {
	return func(ctx context.Context, job *queue.Job) error {
		var p NotificationJob
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fmt.Errorf("decode notification payload: %w", err)
		}
		if len(p.Recipients) == 0 {
			return fmt.Errorf("notification job %s has no recipients", job.ID)
		}
		if len(p.Recipients) == 1 {
			return sender.Send(ctx, Notification{
				IdentityID: p.Recipients[0],
				Title:      p.Title,
				Body:       p.Body,
				RoomID:     p.RoomID,
				MessageID:  p.MessageID,
			})
		}
		ns := make([]Notification, 0, len(p.Recipients))
		for _, r := range p.Recipients {
			ns = append(ns, Notification{
				IdentityID: r,
				Title:      p.Title,
				Body:       p.Body,
				RoomID:     p.RoomID,
				MessageID:  p.MessageID,
			})
		}
		return sender.SendBulk(ctx, ns)
	}
}

package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arush/chatcore/pkg/queue"
)

// EmailJob is the payload carried on the email queue.
type EmailJob struct {
	To       string            `json:"to"`
	Subject  string            `json:"subject,omitempty"`
	Body     string            `json:"body,omitempty"`
	Template string            `json:"template,omitempty"`
	Vars     map[string]string `json:"vars,omitempty"`
}

// EmailHandler delivers email jobs through the sender. Template jobs go
// through the template endpoint, everything else is a plain send.
func EmailHandler(sender EmailSender) queue.Handler {
	return func(ctx context.Context, job *queue.Job) error {
		var p EmailJob
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fmt.Errorf("decode email payload: %w", err)
		}
		if p.To == "" {
			return fmt.Errorf("email job %s has no recipient", job.ID)
		}
		if p.Template != "" {
			return sender.SendTemplateEmail(ctx, p.To, p.Template, p.Vars)
		}
		return sender.SendEmail(ctx, p.To, p.Subject, p.Body)
	}
}

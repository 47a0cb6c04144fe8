// Package workers holds the consumer side of the queue layer: one handler per
// queue plus the thin HTTP clients they deliver through. The email and
// notification services are external collaborators; when they are down the
// client errors surface as failed attempts and ride the retry policy.
package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// EmailSender is what the email worker needs from a delivery backend.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
	SendTemplateEmail(ctx context.Context, to, template string, vars map[string]string) error
}

// NotificationSender is what the notification worker needs.
type NotificationSender interface {
	Send(ctx context.Context, n Notification) error
	SendBulk(ctx context.Context, ns []Notification) error
}

type Notification struct {
	IdentityID string `json:"identity_id"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	RoomID     string `json:"room_id,omitempty"`
	MessageID  int64  `json:"message_id,omitempty"`
}

// EmailClient talks to the email-delivery service over HTTP.
type EmailClient struct {
	base string
	http *http.Client
}

func NewEmailClient(baseURL string) *EmailClient {
	return &EmailClient{base: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *EmailClient) SendEmail(ctx context.Context, to, subject, body string) error {
	return postJSON(ctx, c.http, c.base+"/send-email", map[string]string{
		"to": to, "subject": subject, "body": body,
	})
}

func (c *EmailClient) SendTemplateEmail(ctx context.Context, to, template string, vars map[string]string) error {
	return postJSON(ctx, c.http, c.base+"/send-template-email", map[string]any{
		"to": to, "template": template, "vars": vars,
	})
}

// NotificationClient talks to the push-notification service over HTTP.
type NotificationClient struct {
	base string
	http *http.Client
}

func NewNotificationClient(baseURL string) *NotificationClient {
	return &NotificationClient{base: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *NotificationClient) Send(ctx context.Context, n Notification) error {
	return postJSON(ctx, c.http, c.base+"/send", n)
}

func (c *NotificationClient) SendBulk(ctx context.Context, ns []Notification) error {
	return postJSON(ctx, c.http, c.base+"/send-bulk", map[string]any{"notifications": ns})
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("delivery service returned %d", resp.StatusCode)
	}
	return nil
}

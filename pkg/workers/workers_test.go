package workers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arush/chatcore/pkg/queue"
)

type stubEmailSender struct {
	plain    []EmailJob
	template []EmailJob
	err      error
}

func (s *stubEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.plain = append(s.plain, EmailJob{To: to, Subject: subject, Body: body})
	return s.err
}

func (s *stubEmailSender) SendTemplateEmail(_ context.Context, to, template string, vars map[string]string) error {
	s.template = append(s.template, EmailJob{To: to, Template: template, Vars: vars})
	return s.err
}

type stubNotificationSender struct {
	single []Notification
	bulk   [][]Notification
}

func (s *stubNotificationSender) Send(_ context.Context, n Notification) error {
	s.single = append(s.single, n)
	return nil
}

func (s *stubNotificationSender) SendBulk(_ context.Context, ns []Notification) error {
	s.bulk = append(s.bulk, ns)
	return nil
}

type stubFirehose struct {
	msgs []kafka.Message
}

func (f *stubFirehose) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func makeJob(t *testing.T, payload any) *queue.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &queue.Job{ID: "job-1", Payload: raw}
}

func TestEmailHandlerPlain(t *testing.T) {
	sender := &stubEmailSender{}
	h := EmailHandler(sender)

	err := h(context.Background(), makeJob(t, EmailJob{To: "a@x.test", Subject: "hi", Body: "hello"}))
	require.NoError(t, err)
	require.Len(t, sender.plain, 1)
	assert.Equal(t, "a@x.test", sender.plain[0].To)
	assert.Empty(t, sender.template)
}

func TestEmailHandlerTemplate(t *testing.T) {
	sender := &stubEmailSender{}
	h := EmailHandler(sender)

	err := h(context.Background(), makeJob(t, EmailJob{
		To: "a@x.test", Template: "welcome", Vars: map[string]string{"name": "Alice"},
	}))
	require.NoError(t, err)
	require.Len(t, sender.template, 1)
	assert.Equal(t, "welcome", sender.template[0].Template)
	assert.Empty(t, sender.plain)
}

func TestEmailHandlerRejectsMissingRecipient(t *testing.T) {
	h := EmailHandler(&stubEmailSender{})
	err := h(context.Background(), makeJob(t, EmailJob{Subject: "no to"}))
	assert.Error(t, err)
}

func TestNotificationHandlerSingleVsBulk(t *testing.T) {
	sender := &stubNotificationSender{}
	h := NotificationHandler(sender)

	err := h(context.Background(), makeJob(t, NotificationJob{
		Recipients: []string{"u1"}, Title: "t", Body: "b",
	}))
	require.NoError(t, err)
	require.Len(t, sender.single, 1)
	assert.Equal(t, "u1", sender.single[0].IdentityID)

	err = h(context.Background(), makeJob(t, NotificationJob{
		Recipients: []string{"u1", "u2", "u3"}, Title: "t", Body: "b",
	}))
	require.NoError(t, err)
	require.Len(t, sender.bulk, 1)
	assert.Len(t, sender.bulk[0], 3)
}

func TestAnalyticsHandlerShipsRecord(t *testing.T) {
	fh := &stubFirehose{}
	h := AnalyticsHandler(fh)

	err := h(context.Background(), makeJob(t, AnalyticsJob{
		RoomID:    "r1",
		MessageID: 42,
		SenderID:  "alice",
		Body:      "quarterly numbers look great",
		Mentions:  []string{"bob"},
		Hashtags:  []string{"q3"},
	}))
	require.NoError(t, err)
	require.Len(t, fh.msgs, 1)
	assert.Equal(t, []byte("r1"), fh.msgs[0].Key)

	var rec AnalyticsRecord
	require.NoError(t, json.Unmarshal(fh.msgs[0].Value, &rec))
	assert.Equal(t, int64(42), rec.MessageID)
	assert.Equal(t, 4, rec.WordCount)
	assert.Equal(t, 1, rec.Mentions)
	assert.Equal(t, 1, rec.Hashtags)
	assert.False(t, rec.Flagged)
}

func TestAnalyticsHandlerFlagsModeratedWords(t *testing.T) {
	fh := &stubFirehose{}
	h := AnalyticsHandler(fh)

	err := h(context.Background(), makeJob(t, AnalyticsJob{
		RoomID: "r1", MessageID: 1, Body: "This looks like a SCAM, right?",
	}))
	require.NoError(t, err)
	require.Len(t, fh.msgs, 1)

	var rec AnalyticsRecord
	require.NoError(t, json.Unmarshal(fh.msgs[0].Value, &rec))
	assert.True(t, rec.Flagged)

	// "scampi" must not match: whole words only.
	err = h(context.Background(), makeJob(t, AnalyticsJob{
		RoomID: "r1", MessageID: 2, Body: "ordered the scampi",
	}))
	require.NoError(t, err)
	var rec2 AnalyticsRecord
	require.NoError(t, json.Unmarshal(fh.msgs[1].Value, &rec2))
	assert.False(t, rec2.Flagged)
}

func TestAnalyticsHandlerNilFirehose(t *testing.T) {
	h := AnalyticsHandler(nil)
	err := h(context.Background(), makeJob(t, AnalyticsJob{RoomID: "r1", Body: "hello"}))
	assert.NoError(t, err)
}

func TestEmailClientSurfacesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewEmailClient(srv.URL)
	err := c.SendEmail(context.Background(), "a@x.test", "s", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestNotificationClientPostsPayload(t *testing.T) {
	var got Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/send", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewNotificationClient(srv.URL)
	err := c.Send(context.Background(), Notification{IdentityID: "u1", Title: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "u1", got.IdentityID)
}

func TestFailingDeliveryRidesRetryPolicyToDeadLetter(t *testing.T) {
	d := queue.NewDispatcher(queue.NewMemoryBroker())
	d.Register(queue.Config{
		Name: EmailQueue,
		Retry: queue.RetryPolicy{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			Backoff:      queue.BackoffExponential,
			MaxDelay:     10 * time.Millisecond,
		},
	})

	sender := &stubEmailSender{err: errors.New("smtp relay down")}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := queue.NewWorker("email", EmailQueue, d, EmailHandler(sender), 2*time.Millisecond)
	go w.Run(ctx)

	_, err := d.Publish(ctx, EmailQueue, "send", EmailJob{To: "a@x.test", Subject: "s"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		dead, _ := d.Broker().DeadLetterDepth(context.Background(), EmailQueue)
		return dead == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Len(t, sender.plain, 3)

	letters, err := d.Broker().DeadLetters(context.Background(), EmailQueue)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, "smtp relay down", letters[0].LastError)
}

func TestDefaultQueuesTopology(t *testing.T) {
	qs := DefaultQueues()
	byName := map[string]queue.Config{}
	for _, q := range qs {
		byName[q.Name] = q
	}

	require.Contains(t, byName, EmailQueue)
	require.Contains(t, byName, NotificationQueue)
	require.Contains(t, byName, AnalyticsQueue)

	assert.Greater(t, byName[NotificationQueue].Priority, byName[EmailQueue].Priority)
	assert.Equal(t, queue.BackoffLinear, byName[AnalyticsQueue].Retry.Backoff)
	assert.Equal(t, 2, byName[AnalyticsQueue].Retry.MaxAttempts)
}

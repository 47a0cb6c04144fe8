package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/arush/chatcore/pkg/logger"
	"github.com/arush/chatcore/pkg/queue"
)

// AnalyticsJob is the message envelope the coordinator publishes for every
// accepted message.
type AnalyticsJob struct {
	RoomID    string    `json:"room_id"`
	MessageID int64     `json:"message_id"`
	SenderID  string    `json:"sender_id"`
	Body      string    `json:"body"`
	Mentions  []string  `json:"mentions,omitempty"`
	Hashtags  []string  `json:"hashtags,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AnalyticsRecord is what ends up on the firehose after processing.
type AnalyticsRecord struct {
	RoomID    string    `json:"room_id"`
	MessageID int64     `json:"message_id"`
	SenderID  string    `json:"sender_id"`
	WordCount int       `json:"word_count"`
	Mentions  int       `json:"mentions"`
	Hashtags  int       `json:"hashtags"`
	Flagged   bool      `json:"flagged"`
	Timestamp time.Time `json:"timestamp"`
}

// Firehose is the downstream sink for analytics records. *kafka.Writer
// satisfies it; a nil firehose degrades to log-only.
type Firehose interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewFirehose builds the Kafka producer for analytics records, or nil when no
// brokers are configured.
func NewFirehose(brokers []string, topic string) *kafka.Writer {
	if len(brokers) == 0 {
		return nil
	}
	return &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
}

// moderationList is the word list the moderation pass flags on. Matching is
// whole-word, case-insensitive.
var moderationList = map[string]bool{
	"spam": true, "scam": true, "phishing": true,
}

// AnalyticsHandler computes per-message stats, runs the moderation pass and
// ships the record to the firehose when one is attached. A dead firehose fails
// the attempt and rides the retry policy.
func AnalyticsHandler(firehose Firehose) queue.Handler {
	return func(ctx context.Context, job *queue.Job) error {
		var p AnalyticsJob
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fmt.Errorf("decode analytics payload: %w", err)
		}

		rec := AnalyticsRecord{
			RoomID:    p.RoomID,
			MessageID: p.MessageID,
			SenderID:  p.SenderID,
			WordCount: len(strings.Fields(p.Body)),
			Mentions:  len(p.Mentions),
			Hashtags:  len(p.Hashtags),
			Flagged:   flagged(p.Body),
			Timestamp: p.Timestamp,
		}
		if rec.Flagged {
			logger.Log.Warn("message flagged by moderation",
				"room", p.RoomID, "message", p.MessageID, "sender", p.SenderID)
		}

		if firehose == nil {
			logger.Log.Debug("analytics record (no firehose)",
				"room", rec.RoomID, "message", rec.MessageID, "words", rec.WordCount)
			return nil
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return firehose.WriteMessages(ctx, kafka.Message{
			Key:   []byte(rec.RoomID),
			Value: payload,
			Time:  time.Now(),
		})
	}
}

func flagged(body string) bool {
	for _, w := range strings.Fields(strings.ToLower(body)) {
		if moderationList[strings.Trim(w, ".,!?;:\"'()")] {
			return true
		}
	}
	return false
}

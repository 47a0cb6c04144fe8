package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	jobKeyPfx = "chatq:job:"
	seqKey    = "chatq:seq"
)

// RedisBroker keeps each queue as a ready sorted set (score encodes priority
// then enqueue order), a delayed sorted set (score is the due time) and a
// dead-letter list. Job bodies live under their own keys until settled.
type RedisBroker struct {
	rdb *redis.Client
}

func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb}
}

func (b *RedisBroker) Kind() string { return "redis" }
func (b *RedisBroker) Close() error { return b.rdb.Close() }

func readyKey(q string) string   { return "chatq:" + q + ":ready" }
func delayedKey(q string) string { return "chatq:" + q + ":delayed" }
func deadKey(q string) string    { return "chatq:" + q + ":dead" }

// readyScore orders the ready set: higher priority sorts first (lower score),
// ties resolve in enqueue order via the sequence counter.
func readyScore(priority int, seq int64) float64 {
	return float64(-priority)*1e12 + float64(seq)
}

func (b *RedisBroker) saveJob(ctx context.Context, job *Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return b.rdb.Set(ctx, jobKeyPfx+job.ID, payload, 0).Err()
}

func (b *RedisBroker) Enqueue(ctx context.Context, job *Job) error {
	if err := b.saveJob(ctx, job); err != nil {
		return err
	}
	if !job.Due(time.Now()) {
		return b.rdb.ZAdd(ctx, delayedKey(job.Queue), redis.Z{
			Score:  float64(job.NotBefore.UnixMilli()),
			Member: job.ID,
		}).Err()
	}
	seq, err := b.rdb.Incr(ctx, seqKey).Result()
	if err != nil {
		return err
	}
	return b.rdb.ZAdd(ctx, readyKey(job.Queue), redis.Z{
		Score:  readyScore(job.Priority, seq),
		Member: job.ID,
	}).Err()
}

// promote moves jobs whose delay has elapsed from the delayed set into the
// ready set.
func (b *RedisBroker) promote(ctx context.Context, queue string) error {
	now := float64(time.Now().UnixMilli())
	ids, err := b.rdb.ZRangeByScore(ctx, delayedKey(queue), &redis.ZRangeBy{
		Min: "-inf", Max: strconv.FormatFloat(now, 'f', 0, 64),
	}).Result()
	if err != nil || len(ids) == 0 {
		return err
	}
	for _, id := range ids {
		payload, err := b.rdb.Get(ctx, jobKeyPfx+id).Result()
		if err != nil {
			b.rdb.ZRem(ctx, delayedKey(queue), id)
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			b.rdb.ZRem(ctx, delayedKey(queue), id)
			continue
		}
		seq, err := b.rdb.Incr(ctx, seqKey).Result()
		if err != nil {
			return err
		}
		pipe := b.rdb.TxPipeline()
		pipe.ZRem(ctx, delayedKey(queue), id)
		pipe.ZAdd(ctx, readyKey(queue), redis.Z{Score: readyScore(job.Priority, seq), Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (b *RedisBroker) Dequeue(ctx context.Context, queue string) (*Job, error) {
	if err := b.promote(ctx, queue); err != nil {
		return nil, err
	}
	popped, err := b.rdb.ZPopMin(ctx, readyKey(queue), 1).Result()
	if err != nil {
		return nil, err
	}
	if len(popped) == 0 {
		return nil, nil
	}
	id, _ := popped[0].Member.(string)
	payload, err := b.rdb.Get(ctx, jobKeyPfx+id).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (b *RedisBroker) Ack(ctx context.Context, job *Job) error {
	return b.rdb.Del(ctx, jobKeyPfx+job.ID).Err()
}

func (b *RedisBroker) Requeue(ctx context.Context, job *Job) error {
	return b.Enqueue(ctx, job)
}

func (b *RedisBroker) DeadLetter(ctx context.Context, job *Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	pipe := b.rdb.TxPipeline()
	pipe.RPush(ctx, deadKey(job.Queue), payload)
	pipe.Del(ctx, jobKeyPfx+job.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (b *RedisBroker) Depth(ctx context.Context, queue string) (int, error) {
	ready, err := b.rdb.ZCard(ctx, readyKey(queue)).Result()
	if err != nil {
		return 0, err
	}
	delayed, err := b.rdb.ZCard(ctx, delayedKey(queue)).Result()
	if err != nil {
		return 0, err
	}
	return int(ready + delayed), nil
}

func (b *RedisBroker) DeadLetterDepth(ctx context.Context, queue string) (int, error) {
	n, err := b.rdb.LLen(ctx, deadKey(queue)).Result()
	return int(n), err
}

func (b *RedisBroker) DeadLetters(ctx context.Context, queue string) ([]*Job, error) {
	raw, err := b.rdb.LRange(ctx, deadKey(queue), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Job, 0, len(raw))
	for _, r := range raw {
		var job Job
		if err := json.Unmarshal([]byte(r), &job); err == nil {
			out = append(out, &job)
		}
	}
	return out, nil
}

func (b *RedisBroker) Purge(ctx context.Context, queue string) error {
	ids, err := b.rdb.ZRange(ctx, readyKey(queue), 0, -1).Result()
	if err != nil {
		return err
	}
	delayed, err := b.rdb.ZRange(ctx, delayedKey(queue), 0, -1).Result()
	if err != nil {
		return err
	}
	pipe := b.rdb.TxPipeline()
	for _, id := range append(ids, delayed...) {
		pipe.Del(ctx, jobKeyPfx+id)
	}
	pipe.Del(ctx, readyKey(queue), delayedKey(queue), deadKey(queue))
	_, err = pipe.Exec(ctx)
	return err
}

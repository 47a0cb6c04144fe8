package presence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arush/chatcore/pkg/model"
)

const (
	onlineSetKey  = "presence:online"
	recordKeyPfx  = "presence:rec:"
	lastSeenKeyPf = "presence:seen:"
)

// Redis keeps the online set in a Redis set and one JSON record per identity,
// so presence survives engine restarts and can be shared across instances.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func (r *Redis) Kind() string { return "redis" }
func (r *Redis) Close() error { return r.rdb.Close() }

func (r *Redis) SetOnline(ctx context.Context, rec model.PresenceRecord) error {
	if rec.Status == "" || rec.Status == model.StatusOffline {
		rec.Status = model.StatusOnline
	}
	rec.LastSeen = time.Now().UTC()
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe := r.rdb.TxPipeline()
	pipe.SAdd(ctx, onlineSetKey, rec.IdentityID)
	pipe.Set(ctx, recordKeyPfx+rec.IdentityID, payload, 0)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Redis) SetOffline(ctx context.Context, id string) error {
	pipe := r.rdb.TxPipeline()
	pipe.SRem(ctx, onlineSetKey, id)
	pipe.Del(ctx, recordKeyPfx+id)
	pipe.Set(ctx, lastSeenKeyPf+id, time.Now().UTC().Format(time.RFC3339Nano), 0)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) SetStatus(ctx context.Context, id string, status model.PresenceStatus) error {
	payload, err := r.rdb.Get(ctx, recordKeyPfx+id).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	var rec model.PresenceRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return err
	}
	rec.Status = status
	updated, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, recordKeyPfx+id, updated, 0).Err()
}

func (r *Redis) IsOnline(ctx context.Context, id string) (bool, error) {
	return r.rdb.SIsMember(ctx, onlineSetKey, id).Result()
}

func (r *Redis) ListOnline(ctx context.Context) ([]model.PresenceRecord, error) {
	ids, err := r.rdb.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.PresenceRecord, 0, len(ids))
	for _, id := range ids {
		payload, err := r.rdb.Get(ctx, recordKeyPfx+id).Result()
		if err != nil {
			continue
		}
		var rec model.PresenceRecord
		if err := json.Unmarshal([]byte(payload), &rec); err == nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *Redis) LastSeen(ctx context.Context, id string) (time.Time, error) {
	if payload, err := r.rdb.Get(ctx, recordKeyPfx+id).Result(); err == nil {
		var rec model.PresenceRecord
		if err := json.Unmarshal([]byte(payload), &rec); err == nil {
			return rec.LastSeen, nil
		}
	}
	raw, err := r.rdb.Get(ctx, lastSeenKeyPf+id).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, raw)
}

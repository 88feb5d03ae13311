package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// DispatchRecord is one successful push of a queue entry to a channel.
type DispatchRecord struct {
	ID           string    `json:"id"`
	Channel      string    `json:"channel"`
	EntryID      uint      `json:"entryId"`
	UnitID       uint      `json:"unitId"`
	Type         string    `json:"type"`
	Signature    string    `json:"signature,omitempty"`
	DispatchedAt time.Time `json:"dispatchedAt"`
}

// DispatchLog is append-only and informational; nothing reads it back to
// decide what to send.
type DispatchLog interface {
	Append(ctx context.Context, rec DispatchRecord) error
	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]DispatchRecord, error)
}

type MemoryDispatchLog struct {
	mu      sync.Mutex
	records []DispatchRecord
	max     int
}

func NewMemoryDispatchLog(max int) *MemoryDispatchLog {
	if max <= 0 {
		max = 1000
	}
	return &MemoryDispatchLog{max: max}
}

func (l *MemoryDispatchLog) Append(_ context.Context, rec DispatchRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	if over := len(l.records) - l.max; over > 0 {
		l.records = append([]DispatchRecord(nil), l.records[over:]...)
	}
	return nil
}

func (l *MemoryDispatchLog) Recent(_ context.Context, limit int) ([]DispatchRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.records) {
		limit = len(l.records)
	}
	out := make([]DispatchRecord, 0, limit)
	for i := len(l.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.records[i])
	}
	return out, nil
}

// RedisDispatchLog keeps the newest records in a capped Redis list so every
// instance sharing the store sees the same log.
type RedisDispatchLog struct {
	client redis.Cmdable
	key    string
	max    int64
}

func NewRedisDispatchLog(client redis.Cmdable, key string, max int64) *RedisDispatchLog {
	if key == "" {
		key = "channel_sync:dispatch_log"
	}
	if max <= 0 {
		max = 1000
	}
	return &RedisDispatchLog{client: client, key: key, max: max}
}

func (l *RedisDispatchLog) Append(ctx context.Context, rec DispatchRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshal dispatch record")
	}
	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, l.key, raw)
		pipe.LTrim(ctx, l.key, 0, l.max-1)
		return nil
	})
	return errors.Wrap(err, "append dispatch record")
}

func (l *RedisDispatchLog) Recent(ctx context.Context, limit int) ([]DispatchRecord, error) {
	if limit <= 0 {
		limit = int(l.max)
	}
	rows, err := l.client.LRange(ctx, l.key, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "read dispatch log")
	}
	out := make([]DispatchRecord, 0, len(rows))
	for _, row := range rows {
		var rec DispatchRecord
		if err := json.Unmarshal([]byte(row), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

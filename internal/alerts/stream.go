package alerts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream caregiver tooling consumes.
const DefaultStream = "companion:alerts"

const defaultMaxLen = 10000

// Stream appends alert events to a capped Redis stream.
type Stream struct {
	rdb    redis.Cmdable
	key    string
	maxLen int64
}

// NewStream returns a Stream writing to key, or DefaultStream when empty.
func NewStream(rdb redis.Cmdable, key string) *Stream {
	if key == "" {
		key = DefaultStream
	}
	return &Stream{rdb: rdb, key: key, maxLen: defaultMaxLen}
}

// Key returns the stream name.
func (s *Stream) Key() string { return s.key }

// Publish appends one event and returns its stream entry ID.
func (s *Stream) Publish(ctx context.Context, ev *Event) (string, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	id, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.key,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"category": string(ev.Category),
			"session":  ev.SessionID,
			"data":     string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", s.key, err)
	}
	return id, nil
}

// Recent returns up to n events, newest first. Entries that do not decode
// are skipped.
func (s *Stream) Recent(ctx context.Context, n int64) ([]Event, error) {
	msgs, err := s.rdb.XRevRangeN(ctx, s.key, "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.key, err)
	}
	out := make([]Event, 0, len(msgs))
	for _, m := range msgs {
		data, ok := m.Values["data"].(string)
		if !ok {
			continue
		}
		var ev Event
		if json.Unmarshal([]byte(data), &ev) == nil {
			out = append(out, ev)
		}
	}
	return out, nil
}

package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// seenTTL bounds how long the persistent seen-set remembers an event id.
// Events older than this have already fallen outside the replay window by
// a wide margin, so the set does not need to grow unbounded.
const seenTTL = 24 * time.Hour

// RedisOutcomeStore implements OutcomeStore over Redis: a seen-set of
// SET-with-TTL keys and a parallel outcome record for operator visibility.
type RedisOutcomeStore struct {
	rdb *redis.Client
}

// NewRedisOutcomeStore wraps an existing client.
func NewRedisOutcomeStore(rdb *redis.Client) *RedisOutcomeStore {
	return &RedisOutcomeStore{rdb: rdb}
}

func seenKey(eventID string) string    { return "seen:" + eventID }
func outcomeKey(eventID string) string { return "outcome:" + eventID }

// Seen implements OutcomeStore.
func (s *RedisOutcomeStore) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, seenKey(eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkSeen implements OutcomeStore.
func (s *RedisOutcomeStore) MarkSeen(ctx context.Context, eventID string) error {
	return s.rdb.Set(ctx, seenKey(eventID), "1", seenTTL).Err()
}

// Record implements OutcomeStore.
func (s *RedisOutcomeStore) Record(ctx context.Context, eventID string, outcome Outcome, detail string) error {
	value := fmt.Sprintf("%s|%s|%d", outcome, detail, time.Now().Unix())
	return s.rdb.Set(ctx, outcomeKey(eventID), value, seenTTL).Err()
}

package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaycord/core/internal/envelope"
)

// deadLetterListKey / deadLetterTTL mirror the Redis-backed bookkeeping the
// rest of the core uses (idempotency locks, rate limiter) instead of adding
// a new storage dependency just for dead letters.
const (
	deadLetterListKey = "bus:deadletters"
	deadLetterTTL      = 7 * 24 * time.Hour
)

// RedisDeadLetterSink records envelopes that exhausted MaxRedeliveries into
// a capped Redis list operators can drain for replay or inspection.
type RedisDeadLetterSink struct {
	rdb *redis.Client
}

// NewRedisDeadLetterSink wraps an existing Redis client.
func NewRedisDeadLetterSink(rdb *redis.Client) *RedisDeadLetterSink {
	return &RedisDeadLetterSink{rdb: rdb}
}

type deadLetterRecord struct {
	Subject   string `json:"subject"`
	EventID   string `json:"event_id"`
	Reason    string `json:"reason"`
	Payload   []byte `json:"payload"`
	DeadAt    int64  `json:"dead_at"`
}

// DeadLetter implements DeadLetterSink.
func (s *RedisDeadLetterSink) DeadLetter(ctx context.Context, subject string, env *envelope.Envelope, reason string) error {
	raw, err := env.Marshal()
	if err != nil {
		return err
	}
	rec := deadLetterRecord{
		Subject: subject,
		EventID: fmt.Sprintf("%x", env.Header.EventID),
		Reason:  reason,
		Payload: raw,
		DeadAt:  time.Now().Unix(),
	}
	blob, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, deadLetterListKey, blob)
	pipe.LTrim(ctx, deadLetterListKey, 0, 9999)
	pipe.Expire(ctx, deadLetterListKey, deadLetterTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// Package dispatch implements the LVVER worker pipeline (SPEC_FULL.md §4.3):
// Lock, Verify, Validate, Execute, Record, over events pulled off the bus.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/relaycord/core/internal/bus"
	"github.com/relaycord/core/internal/corerr"
	"github.com/relaycord/core/internal/envelope"
	"github.com/relaycord/core/internal/tenantctx"
)

// replayWindow rejects events whose producer timestamp is older than this
// (§4.3 step 4, replay attack mitigation).
const replayWindow = 5 * time.Minute

// defaultLockTTL / commandLockTTL are the idempotency lock durations for
// ordinary events vs. commands that call external APIs (§4.3 step 3).
const (
	defaultLockTTL = 30 * time.Second
	commandLockTTL = 60 * time.Second
)

// Outcome is the terminal state recorded for one dispatched event.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeFailure     Outcome = "failure"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeDuplicate   Outcome = "duplicate"
)

// Handler processes a decoded envelope within tenant context. It may suspend
// on I/O but must honor ctx cancellation.
type Handler struct {
	Decode  func(env *envelope.Envelope) (any, error)
	Execute func(ctx context.Context, tenant *tenantctx.TenantConfig, payload any) error
	// IsCommand marks handlers whose lock TTL should use commandLockTTL and
	// whose rate-limit action name differs from the bare event type.
	IsCommand bool
	Action    string
}

// Registry is the closed event_type → Handler map §4.3 calls for instead of
// an open class hierarchy.
type Registry map[envelope.EventType]Handler

// OutcomeStore records per-event outcomes, keyed by event id, for exactly-once
// bookkeeping and operator visibility.
type OutcomeStore interface {
	Record(ctx context.Context, eventID string, outcome Outcome, detail string) error
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkSeen(ctx context.Context, eventID string) error
}

// Locker is the distributed idempotency lock (§4.3 step 3).
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, acquired bool, err error)
	Release(ctx context.Context, key, token string) error
}

// DeadLetterSink matches bus.DeadLetterSink so dispatch can DLQ directly.
type DeadLetterSink = bus.DeadLetterSink

// Worker consumes bus messages and runs them through the LVVER pipeline.
type Worker struct {
	registry Registry
	tenants  *tenantctx.Cache
	limiter  *tenantctx.Limiter
	locker   Locker
	outcomes OutcomeStore
	dlq      DeadLetterSink
	maxInFlight int
}

// NewWorker builds a Worker. maxInFlight bounds concurrent message
// processing within this instance (§4.3 concurrency model).
func NewWorker(registry Registry, tenants *tenantctx.Cache, limiter *tenantctx.Limiter, locker Locker, outcomes OutcomeStore, dlq DeadLetterSink, maxInFlight int) *Worker {
	if maxInFlight <= 0 {
		maxInFlight = 16
	}
	return &Worker{
		registry:    registry,
		tenants:     tenants,
		limiter:     limiter,
		locker:      locker,
		outcomes:    outcomes,
		dlq:         dlq,
		maxInFlight: maxInFlight,
	}
}

// Run subscribes to subjectPattern on b and dispatches each message through
// the pipeline, bounding concurrency to maxInFlight.
func (w *Worker) Run(ctx context.Context, b bus.Bus, subjectPattern string) (func(), error) {
	sem := make(chan struct{}, w.maxInFlight)
	return b.Subscribe(ctx, subjectPattern, func(ctx context.Context, msg *bus.Message) error {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		defer func() { <-sem }()
		return w.handle(ctx, msg.Envelope)
	})
}

// handle runs one envelope through Lock, Verify, Validate, Execute, Record.
func (w *Worker) handle(ctx context.Context, env *envelope.Envelope) error {
	eventID := fmt.Sprintf("%x", env.Header.EventID)
	handler, ok := w.registry[env.Header.Type]
	if !ok {
		slog.Warn("dispatch: no handler registered, dead-lettering", "type", env.Header.Type, "event_id", eventID)
		if w.dlq != nil {
			_ = w.dlq.DeadLetter(ctx, env.Header.Type.String(), env, "no handler registered")
		}
		return nil
	}

	// 1. Decode.
	payload, err := handler.Decode(env)
	if err != nil {
		slog.Warn("dispatch: malformed envelope, dead-lettering", "event_id", eventID, "error", err)
		if w.dlq != nil {
			_ = w.dlq.DeadLetter(ctx, env.Header.Type.String(), env, "decode: "+err.Error())
		}
		return nil
	}

	// 2. Tenant-context attach.
	tenantID := env.Header.SubjectKeyString()
	if tenantID == "" || tenantID == envelope.GlobalSubjectKey {
		tenantID = envelope.GlobalSubjectKey
	}
	tenant, err := w.tenants.Get(ctx, tenantID)
	if err != nil {
		return corerr.Wrap(corerr.Transient, "load tenant context", err)
	}

	// 3. Idempotency lock.
	ttl := defaultLockTTL
	if handler.IsCommand {
		ttl = commandLockTTL
	}
	lockKey := "lock:event:" + eventID
	token, acquired, err := w.locker.Acquire(ctx, lockKey, ttl)
	if err != nil {
		return corerr.Wrap(corerr.Transient, "acquire idempotency lock", err)
	}
	if !acquired {
		_ = w.outcomes.Record(ctx, eventID, OutcomeDuplicate, "lock held")
		return nil
	}
	defer func() { _ = w.locker.Release(context.Background(), lockKey, token) }()

	// 4. Replay-window check.
	producedAt := time.Unix(int64(env.Header.ProducerTimeUnix), 0)
	if time.Since(producedAt) > replayWindow {
		_ = w.outcomes.Record(ctx, eventID, OutcomeFailure, "replay window exceeded")
		return nil
	}

	// 5. Duplicate check against persistent seen-set.
	seen, err := w.outcomes.Seen(ctx, eventID)
	if err != nil {
		return corerr.Wrap(corerr.Transient, "check seen-set", err)
	}
	if seen {
		_ = w.outcomes.Record(ctx, eventID, OutcomeDuplicate, "seen-set hit")
		return nil
	}

	// 6. Rate-limit consume.
	action := handler.Action
	if action == "" {
		action = env.Header.Type.String()
	}
	decision, err := w.limiter.Consume(ctx, tenant.TenantID, action, tenant.RateLimits)
	if err != nil {
		return corerr.Wrap(corerr.Transient, "rate limit consume", err)
	}
	if !decision.Allowed {
		_ = w.outcomes.Record(ctx, eventID, OutcomeRateLimited, fmt.Sprintf("retry_after=%s", decision.RetryAfter))
		return nil
	}

	// 7. Handler invoke.
	execErr := handler.Execute(ctx, tenant, payload)

	// 8. Record outcome.
	if execErr != nil {
		if corerr.Is(execErr, corerr.Transient) {
			return execErr // nack, bus retries with backoff
		}
		_ = w.outcomes.Record(ctx, eventID, OutcomeFailure, execErr.Error())
		_ = w.outcomes.MarkSeen(ctx, eventID)
		if w.dlq != nil {
			_ = w.dlq.DeadLetter(ctx, env.Header.Type.String(), env, execErr.Error())
		}
		return nil // ack + DLQ-copy; permanent errors are not retried
	}
	_ = w.outcomes.Record(ctx, eventID, OutcomeSuccess, "")
	_ = w.outcomes.MarkSeen(ctx, eventID)
	return nil
}

// RedisLocker implements Locker over SET NX PX plus a Lua check-and-delete,
// per §4.3's binding ("github.com/redis/go-redis/v9 ... released via a Lua
// script comparing a lock token before DEL").
type RedisLocker struct {
	rdb *redis.Client
}

// NewRedisLocker wraps an existing client.
func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

const releaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Release implements Locker via an atomic compare-then-delete.
func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	return l.rdb.Eval(ctx, releaseScript, []string{key}, token).Err()
}

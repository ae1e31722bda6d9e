package tenantctx

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript atomically removes expired entries, counts the
// remainder, and inserts the new request token only if the limit is not
// exceeded — the same remove+count+insert sequence the predecessor's
// in-memory rate_limiter.go used, generalized to a Lua script against a
// shared sorted set so every process instance shares one window.
//
// KEYS[1] = sorted set key
// ARGV[1] = now (unix millis)
// ARGV[2] = window size (millis)
// ARGV[3] = limit
// ARGV[4] = member token
// ARGV[5] = key expiry (seconds)
const slidingWindowScript = `
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', tonumber(ARGV[1]) - tonumber(ARGV[2]))
local count = redis.call('ZCARD', KEYS[1])
if count < tonumber(ARGV[3]) then
  redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
  redis.call('EXPIRE', KEYS[1], ARGV[5])
  return {1, count + 1}
end
return {0, count}
`

// Window identifies one of the three sliding windows a rate limit policy
// enforces concurrently.
type Window struct {
	Name   string
	Period time.Duration
	Limit  int
}

// Decision is the outcome of a rate-limit consume call.
type Decision struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter implements the sliding-window counter described in §4.6.
type Limiter struct {
	rdb *redis.Client
}

// NewLimiter wraps an existing Redis client.
func NewLimiter(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb}
}

// windowsForPolicy expands a RateLimitPolicy into its constituent windows.
func windowsForPolicy(p RateLimitPolicy) []Window {
	return []Window{
		{Name: "minute", Period: 60 * time.Second, Limit: p.PerMinute},
		{Name: "hour", Period: 3600 * time.Second, Limit: p.PerHour},
		{Name: "day", Period: 86400 * time.Second, Limit: p.PerDay},
	}
}

// Consume atomically reserves one unit against every configured window for
// (tenantID, action). Enterprise-tier "unlimited" bypasses consumption
// entirely. The first window to reject determines the returned Decision;
// prior window reservations for the same call are not rolled back — a
// rejected request simply also occupies a slot in windows it passed, which
// is consistent with "remove+count+insert" being per-window atomic, not
// cross-window transactional.
func (l *Limiter) Consume(ctx context.Context, tenantID, action string, policy RateLimitPolicy) (Decision, error) {
	if policy.Unlimited {
		return Decision{Allowed: true, Remaining: -1}, nil
	}

	token := uuid.NewString()
	now := time.Now()

	for _, w := range windowsForPolicy(policy) {
		if w.Limit <= 0 {
			continue
		}
		key := fmt.Sprintf("ratelimit:%s:%s:%s", tenantID, action, w.Name)
		res, err := l.rdb.Eval(ctx, slidingWindowScript, []string{key},
			now.UnixMilli(), w.Period.Milliseconds(), w.Limit, token, int(w.Period.Seconds())+60,
		).Result()
		if err != nil {
			return Decision{}, fmt.Errorf("tenantctx: rate limit eval: %w", err)
		}
		pair, ok := res.([]interface{})
		if !ok || len(pair) != 2 {
			return Decision{}, fmt.Errorf("tenantctx: unexpected rate limit script result: %v", res)
		}
		allowed, _ := pair[0].(int64)
		count, _ := pair[1].(int64)
		if allowed == 0 {
			resetAt := now.Add(w.Period)
			return Decision{
				Allowed:    false,
				Remaining:  0,
				ResetAt:    resetAt,
				RetryAfter: w.Period,
			}, nil
		}
		_ = count
	}

	return Decision{Allowed: true, Remaining: -1}, nil
}

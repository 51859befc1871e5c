package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// reserveScript evaluates every rule and records the event in one atomic
// round trip. Returns {ruleIndex, retryAfterMs}: index 0 is the minimum
// interval, 1..n the window rules in request order, -1 means allowed.
const reserveScript = `
local now = tonumber(ARGV[1])
local minInterval = tonumber(ARGV[2])
local retention = tonumber(ARGV[3])
local member = ARGV[4]
local n = tonumber(ARGV[5])
local recordOrigin = ARGV[6]

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - retention)
redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', now - retention)

if minInterval > 0 then
  local last = redis.call('ZRANGE', KEYS[1], -1, -1, 'WITHSCORES')
  if last[2] then
    local elapsed = now - tonumber(last[2])
    if elapsed < minInterval then
      return {0, minInterval - elapsed}
    end
  end
end

for i = 0, n - 1 do
  local keyIdx = tonumber(ARGV[7 + i * 3])
  local span = tonumber(ARGV[8 + i * 3])
  local limit = tonumber(ARGV[9 + i * 3])
  local key = KEYS[keyIdx]
  local windowStart = now - span
  local count = redis.call('ZCOUNT', key, windowStart, '+inf')
  if count >= limit then
    local retry = 0
    local oldest = redis.call('ZRANGEBYSCORE', key, windowStart, '+inf', 'LIMIT', 0, 1, 'WITHSCORES')
    if oldest[2] then
      retry = tonumber(oldest[2]) + span - now
    end
    return {i + 1, retry}
  end
end

redis.call('ZADD', KEYS[1], now, member)
redis.call('PEXPIRE', KEYS[1], retention)
if recordOrigin == '1' then
  redis.call('ZADD', KEYS[2], now, member)
  redis.call('PEXPIRE', KEYS[2], retention)
end
return {-1, 0}
`

type redisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...any) (any, error)
	RateLimitKey(scope string) string
}

// RedisStore backs the limiter with sorted sets of event timestamps, one zset
// per key, all evaluation done server side so concurrent producers on
// different instances observe consistent counts.
type RedisStore struct {
	client redisEvaler
}

// NewRedisStore wraps the shared redis client.
func NewRedisStore(client redisEvaler) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Reserve(ctx context.Context, req Request, now time.Time) (Decision, error) {
	nowMs := now.UnixMilli()
	member := fmt.Sprintf("%d-%s", nowMs, uuid.NewString())

	recordOrigin := "0"
	if req.OriginKey != "origin:" {
		recordOrigin = "1"
	}

	keys := []string{
		r.client.RateLimitKey(req.EmailKey),
		r.client.RateLimitKey(req.OriginKey),
	}

	args := make([]any, 0, 6+len(req.Rules)*3)
	args = append(args,
		nowMs,
		req.MinInterval.Milliseconds(),
		req.Retention.Milliseconds(),
		member,
		len(req.Rules),
		recordOrigin,
	)
	for _, rule := range req.Rules {
		keyIdx := 1
		if rule.Key == req.OriginKey {
			keyIdx = 2
		}
		args = append(args, keyIdx, rule.Span.Milliseconds(), rule.Limit)
	}

	raw, err := r.client.Eval(ctx, reserveScript, keys, args...)
	if err != nil {
		return Decision{}, fmt.Errorf("reserve script: %w", err)
	}

	reply, ok := raw.([]any)
	if !ok || len(reply) != 2 {
		return Decision{}, fmt.Errorf("reserve script: unexpected reply %v", raw)
	}
	ruleIdx, ok := toInt64(reply[0])
	if !ok {
		return Decision{}, fmt.Errorf("reserve script: unexpected rule index %v", reply[0])
	}
	retryMs, _ := toInt64(reply[1])

	switch {
	case ruleIdx < 0:
		return Decision{Allowed: true}, nil
	case ruleIdx == 0:
		return Decision{
			Allowed:    false,
			Rule:       RuleMinimumInterval,
			RetryAfter: time.Duration(retryMs) * time.Millisecond,
		}, nil
	case int(ruleIdx) <= len(req.Rules):
		return Decision{
			Allowed:    false,
			Rule:       req.Rules[ruleIdx-1].Name,
			RetryAfter: time.Duration(retryMs) * time.Millisecond,
		}, nil
	default:
		return Decision{}, fmt.Errorf("reserve script: rule index %d out of range", ruleIdx)
	}
}

func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

var _ Store = (*RedisStore)(nil)

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"keystack/internal/domain"

	"github.com/redis/go-redis/v9"
)

// allowScript admits a request only while the window count is below the
// limit, so refused requests are not counted. It returns
// {admitted, count, pttl}.
var allowScript = redis.NewScript(`
local count = tonumber(redis.call("GET", KEYS[1]) or "0")
local limit = tonumber(ARGV[2])
if count >= limit then
  return {0, count, redis.call("PTTL", KEYS[1])}
end
count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {1, count, redis.call("PTTL", KEYS[1])}
`)

// Redis shares windows between replicas.
type Redis struct {
	client redis.Scripter
	now    func() time.Time
}

func NewRedisLimiter(client redis.Scripter, now func() time.Time) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Redis{client: client, now: now}, nil
}

func (r *Redis) Allow(ctx context.Context, key string, limit int, length time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return unlimited(limit), nil
	}
	millis := length.Milliseconds()
	if millis <= 0 {
		millis = 1000
	}
	res, err := allowScript.Run(ctx, r.client, []string{KeyPrefix + key}, millis, limit).Int64Slice()
	if err != nil {
		return domain.RateLimitDecision{}, err
	}
	if len(res) != 3 {
		return domain.RateLimitDecision{}, fmt.Errorf("rate limit script returned %d values", len(res))
	}
	resetAt := r.now()
	if res[2] > 0 {
		resetAt = resetAt.Add(time.Duration(res[2]) * time.Millisecond)
	}
	return decide(res[0] == 1, res[1], limit, resetAt), nil
}

var _ domain.RateLimiter = (*Redis)(nil)

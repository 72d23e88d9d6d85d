// Package ratelimit counts requests in fixed windows, in process or in
// redis.
package ratelimit

import (
	"time"

	"keystack/internal/domain"
)

// KeyPrefix namespaces limiter keys in a redis shared with the export cache.
const KeyPrefix = "keystack:ratelimit:"

func unlimited(limit int) domain.RateLimitDecision {
	return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}
}

// decide turns the count recorded for the current window into a decision.
// count includes the request being decided when it was admitted.
func decide(admitted bool, count int64, limit int, resetAt time.Time) domain.RateLimitDecision {
	remaining := limit - int(count)
	if remaining < 0 || !admitted {
		remaining = 0
	}
	return domain.RateLimitDecision{
		Allowed:   admitted,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

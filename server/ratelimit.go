package server

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultGuestRateLimit = "5/minute"
	limiterIdleTTL        = 10 * time.Minute
	limiterSweepAt        = 10_000
)

// rateLimit is a parsed "<count>/<unit>" limit.
type rateLimit struct {
	every time.Duration
	burst int
}

// parseRateLimit reads limits written as "5/minute", "10/second", "100/hour" or "1000/day".
func parseRateLimit(limit string) (rateLimit, error) {
	countText, unit, ok := strings.Cut(strings.TrimSpace(limit), "/")
	if !ok {
		return rateLimit{}, fmt.Errorf("rate limit %q: expected <count>/<unit>", limit)
	}
	count, err := strconv.Atoi(strings.TrimSpace(countText))
	if err != nil || count <= 0 {
		return rateLimit{}, fmt.Errorf("rate limit %q: invalid count", limit)
	}

	var window time.Duration
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "s", "sec", "second":
		window = time.Second
	case "m", "min", "minute":
		window = time.Minute
	case "h", "hour":
		window = time.Hour
	case "d", "day":
		window = 24 * time.Hour
	default:
		return rateLimit{}, fmt.Errorf("rate limit %q: unknown unit %q", limit, unit)
	}
	return rateLimit{every: window / time.Duration(count), burst: count}, nil
}

type keyedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter is a token bucket per client key.
type rateLimiter struct {
	mu       sync.Mutex
	limit    rateLimit
	limiters map[string]*keyedLimiter
	now      func() time.Time
}

func newRateLimiter(limit rateLimit) *rateLimiter {
	return &rateLimiter{
		limit:    limit,
		limiters: make(map[string]*keyedLimiter),
		now:      time.Now,
	}
}

// Allow consumes a token for key. When refused it returns how long until the next token.
func (l *rateLimiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.limiters) >= limiterSweepAt {
		for k, kl := range l.limiters {
			if now.Sub(kl.lastSeen) > limiterIdleTTL {
				delete(l.limiters, k)
			}
		}
	}

	kl, ok := l.limiters[key]
	if !ok {
		kl = &keyedLimiter{limiter: rate.NewLimiter(rate.Every(l.limit.every), l.limit.burst)}
		l.limiters[key] = kl
	}
	kl.lastSeen = now

	res := kl.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

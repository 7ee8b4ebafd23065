package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	apiContext "contentflow/internal/api/context"
	"contentflow/internal/pkg/errors"
	"contentflow/internal/platform/config"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const limiterIdle = 10 * time.Minute

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter applies per-tenant token buckets, one for reads and one for writes.
// Unauthenticated requests are keyed by client address.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	read     int
	write    int
	clock    clockwork.Clock
}

func NewRateLimiter(cfg config.RateLimitConfig, clock clockwork.Clock) *RateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		read:     cfg.APIReadPerMinute,
		write:    cfg.APIWritePerMinute,
		clock:    clock,
	}
}

// Allow takes one token from key's bucket of perMinute tokens.
func (rl *RateLimiter) Allow(key string, perMinute int) bool {
	if perMinute <= 0 {
		return true
	}
	now := rl.clock.Now()

	rl.mu.Lock()
	e, ok := rl.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60), perMinute)}
		rl.limiters[key] = e
	}
	e.lastAccess = now
	rl.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

// Sweep drops buckets not used for limiterIdle. The server calls it periodically.
func (rl *RateLimiter) Sweep() int {
	cutoff := rl.clock.Now().Add(-limiterIdle)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	removed := 0
	for key, e := range rl.limiters {
		if e.lastAccess.Before(cutoff) {
			delete(rl.limiters, key)
			removed++
		}
	}
	return removed
}

func (rl *RateLimiter) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, limit := "read", rl.read
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			kind, limit = "write", rl.write
		}

		var key string
		if tenant := apiContext.TenantFrom(r.Context()); tenant != nil {
			key = tenant.OrgID + ":" + kind
		} else {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			key = host + ":" + kind
		}

		if !rl.Allow(key, limit) {
			retry := int(math.Ceil(60 / float64(limit)))
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			errors.WriteError(w, http.StatusTooManyRequests, errors.ErrCodeRateLimitExceeded, "Rate limit exceeded", nil)
			return
		}

		next(w, r)
	}
}

package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 50,
		BurstSize:         100,
	}
}

// limiterIdleTTL is how long a client key may go unseen before its limiter
// is dropped. An idle limiter has refilled anyway, so dropping it changes
// nothing for the client.
const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterStore holds one limiter per client key and sweeps idle keys.
type limiterStore struct {
	limiters  map[string]*limiterEntry
	mu        sync.Mutex
	config    RateLimitConfig
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func newLimiterStore(cfg RateLimitConfig) *limiterStore {
	return &limiterStore{
		limiters:  make(map[string]*limiterEntry),
		config:    cfg,
		idleTTL:   limiterIdleTTL,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) >= s.idleTTL {
		s.sweepLocked(now)
	}
	e, ok := s.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(s.config.RequestsPerSecond), s.config.BurstSize)}
		s.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

func (s *limiterStore) sweepLocked(now time.Time) {
	for key, e := range s.limiters {
		if now.Sub(e.lastSeen) >= s.idleTTL {
			delete(s.limiters, key)
		}
	}
	s.lastSweep = now
}

func (s *limiterStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// RateLimit limits requests per client IP, and per facility when the facility
// middleware has already run. A non-positive rate disables limiting.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.RequestsPerSecond <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return rateLimit(cfg, newLimiterStore(cfg))
}

func rateLimit(cfg RateLimitConfig, store *limiterStore) echo.MiddlewareFunc {
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.RealIP()
			if fid, ok := c.Get("facility_id").(string); ok && fid != "" {
				key = fid + ":" + key
			}

			c.Response().Header().Set("X-RateLimit-Limit", limit)
			l := store.get(key)
			if !l.Allow() {
				retryAfter := int(1/cfg.RequestsPerSecond) + 1
				c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
				c.Response().Header().Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}

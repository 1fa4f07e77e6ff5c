package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
	"uk.co.dudmesh.sentinel/internal/model"
)

// defaultMaxKeys bounds memory when many distinct clients show up between
// cleanups.
const defaultMaxKeys = 10000

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter hands out one token bucket per key, typically a client IP.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	every    time.Duration
	burst    int
	maxKeys  int
	now      func() time.Time
}

// New allows burst requests at once and one more every interval.
func New(burst int, interval time.Duration) *Limiter {
	return &Limiter{
		limiters: make(map[string]*entry),
		every:    interval,
		burst:    burst,
		maxKeys:  defaultMaxKeys,
		now:      time.Now,
	}
}

func (l *Limiter) get(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= l.maxKeys {
			l.evictOldest()
		}
		e = &entry{limiter: rate.NewLimiter(rate.Every(l.every), l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

// evictOldest makes room by dropping the bucket seen least recently. Clients
// that are actively being limited stay hot and keep their state.
func (l *Limiter) evictOldest() {
	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)
	for key, e := range l.limiters {
		if !found || e.lastSeen.Before(oldest) {
			oldestKey, oldest, found = key, e.lastSeen, true
		}
	}
	if found {
		delete(l.limiters, oldestKey)
	}
}

func (l *Limiter) Allow(key string) bool {
	now := l.now()
	return l.get(key, now).AllowN(now, 1)
}

// Check returns model.ErrorRateLimited once key has used up its bucket.
func (l *Limiter) Check(key string) error {
	if !l.Allow(key) {
		return model.ErrorRateLimited
	}
	return nil
}

// Cleanup drops buckets that have been idle for longer than idle.
func (l *Limiter) Cleanup(idle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	for key, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, key)
		}
	}
}

func (l *Limiter) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup(interval)
		}
	}
}

// Middleware limits requests per client IP.
func (l *Limiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := l.Check(c.RealIP()); err != nil {
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(l.every.Seconds()+0.5)))
				return err
			}
			return next(c)
		}
	}
}

package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/chartlock/internal/platform/auth"
)

// WriteLimit caps how fast one caller may write to the chart. Reads are never
// limited.
type WriteLimit struct {
	PerSecond float64
	Burst     int
}

type bucket struct {
	mu     sync.Mutex
	tokens float64
	last   time.Time
}

// take spends one token, refilling at rate up to burst. It returns false and
// the seconds until the next token when the bucket is empty.
func (b *bucket) take(now time.Time, rate float64, burst int) (bool, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens += now.Sub(b.last).Seconds() * rate
	if b.tokens > float64(burst) {
		b.tokens = float64(burst)
	}
	b.last = now
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	return false, int(math.Ceil((1 - b.tokens) / rate))
}

type writeLimiter struct {
	cfg     WriteLimit
	now     func() time.Time
	mu      sync.Mutex
	buckets map[string]*bucket
}

func (l *writeLimiter) bucketFor(key string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.cfg.Burst), last: l.now()}
		l.buckets[key] = b
	}
	return b
}

// WriteRateLimit limits POST, PUT, PATCH and DELETE per authenticated actor,
// falling back to the client address. It must run after authentication. A
// non-positive rate disables the limit.
func WriteRateLimit(cfg WriteLimit) echo.MiddlewareFunc {
	return writeRateLimit(cfg, time.Now)
}

func writeRateLimit(cfg WriteLimit, now func() time.Time) echo.MiddlewareFunc {
	if cfg.PerSecond <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	l := &writeLimiter{cfg: cfg, now: now, buckets: make(map[string]*bucket)}
	limit := strconv.FormatFloat(cfg.PerSecond, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			switch c.Request().Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			default:
				return next(c)
			}

			key := "ip:" + c.RealIP()
			if actor, ok := auth.ActorFromContext(c.Request().Context()); ok && actor.ID != "" {
				key = "actor:" + actor.ID
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			ok, retry := l.bucketFor(key).take(l.now(), cfg.PerSecond, cfg.Burst)
			if !ok {
				h.Set("Retry-After", strconv.Itoa(retry))
				return echo.NewHTTPError(http.StatusTooManyRequests, map[string]string{
					"code":    "RateLimited",
					"message": "Demasiadas modificaciones seguidas. Intente de nuevo en unos segundos.",
				})
			}
			return next(c)
		}
	}
}

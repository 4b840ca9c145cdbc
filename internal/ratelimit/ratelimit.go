// Package ratelimit provides per-client rate limiting middleware.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/propline/onboarding/internal/metrics"
)

// Config configures rate limiting
type Config struct {
	// RequestsPerMinute is the sustained rate per client IP
	RequestsPerMinute int
	// BurstSize allows brief bursts above the limit
	BurstSize int
	// CleanupInterval is how often idle clients are evicted
	CleanupInterval time.Duration
	// IdleTTL is how long a client may go unseen before eviction
	IdleTTL time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 120,
		BurstSize:         20,
		CleanupInterval:   time.Minute,
		IdleTTL:           10 * time.Minute,
	}
}

// Limiter holds one token bucket per key.
type Limiter struct {
	cfg      Config
	mu       sync.Mutex
	clients  map[string]*client
	stop     chan struct{}
	stopOnce sync.Once
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a limiter and starts its cleanup goroutine. Call Stop to release it.
func New(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = def.RequestsPerMinute
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = def.BurstSize
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = def.IdleTTL
	}
	l := &Limiter{
		cfg:     cfg,
		clients: make(map[string]*client),
		stop:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.evictIdle(time.Now())
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) evictIdle(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) > l.cfg.IdleTTL {
			delete(l.clients, key)
		}
	}
}

// Stop stops the cleanup goroutine. Safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rate.Limit(float64(l.cfg.RequestsPerMinute)/60.0), l.cfg.BurstSize)}
		l.clients[key] = c
	}
	c.lastSeen = time.Now()
	return c.limiter
}

// Allow reports whether a request for key may proceed now.
func (l *Limiter) Allow(key string) bool {
	return l.get(key).Allow()
}

// reserve returns zero when the request may proceed, otherwise how long
// the caller should wait. Rejected reservations are cancelled so the
// token is returned to the bucket.
func (l *Limiter) reserve(key string) time.Duration {
	r := l.get(key).Reserve()
	if d := r.Delay(); d > 0 {
		r.Cancel()
		return d
	}
	return 0
}

// Middleware returns a Gin middleware that rate limits by client IP.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if wait := l.reserve(c.ClientIP()); wait > 0 {
			path := c.FullPath()
			if path == "" {
				path = "unmatched"
			}
			metrics.RateLimitedTotal.WithLabelValues(path).Inc()

			retryAfter := int(math.Ceil(wait.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": retryAfter,
			})
			return
		}
		c.Next()
	}
}

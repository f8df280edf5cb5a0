package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	apperrors "rivulet/pkg/errors"
	"rivulet/pkg/metrics"
)

type Limiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	mu       sync.Mutex
}

type RateLimitConfig struct {
	RPS             float64
	Burst           int
	CleanupInterval time.Duration
	MaxAge          time.Duration
}

func DefaultConfig() RateLimitConfig {
	return RateLimitConfig{
		RPS:             1000.0,
		Burst:           2000,
		CleanupInterval: time.Minute,
		MaxAge:          5 * time.Minute,
	}
}

// Store keeps one token bucket per client IP.
type Store struct {
	config   RateLimitConfig
	limiters map[string]*Limiter
	mu       sync.RWMutex
	now      func() time.Time
}

func NewStore(config RateLimitConfig) *Store {
	d := DefaultConfig()
	if config.RPS <= 0 {
		config.RPS = d.RPS
	}
	if config.Burst <= 0 {
		config.Burst = d.Burst
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = d.CleanupInterval
	}
	if config.MaxAge <= 0 {
		config.MaxAge = d.MaxAge
	}
	return &Store{
		config:   config,
		limiters: make(map[string]*Limiter),
		now:      time.Now,
	}
}

// Run evicts idle limiters until ctx is done.
func (s *Store) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for ip, limiter := range s.limiters {
		limiter.mu.Lock()
		lastSeen := limiter.lastSeen
		limiter.mu.Unlock()
		if now.Sub(lastSeen) > s.config.MaxAge {
			delete(s.limiters, ip)
		}
	}
}

func (s *Store) get(clientIP string) *Limiter {
	s.mu.RLock()
	limiter, exists := s.limiters[clientIP]
	s.mu.RUnlock()

	if !exists {
		s.mu.Lock()
		limiter, exists = s.limiters[clientIP]
		if !exists {
			limiter = &Limiter{
				limiter:  rate.NewLimiter(rate.Limit(s.config.RPS), s.config.Burst),
				lastSeen: s.now(),
			}
			s.limiters[clientIP] = limiter
		}
		s.mu.Unlock()
	}

	limiter.mu.Lock()
	limiter.lastSeen = s.now()
	limiter.mu.Unlock()
	return limiter
}

func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.limiters)
}

func (s *Store) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if clientIP == "" {
			clientIP = c.RemoteIP()
		}

		limiter := s.get(clientIP)
		c.Header("X-RateLimit-Limit", formatRate(s.config.RPS))

		if !limiter.limiter.Allow() {
			metrics.RateLimitRequestsTotal.WithLabelValues("limited").Inc()
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, apperrors.ToErrorResponse(apperrors.ErrRateLimited))
			return
		}

		metrics.RateLimitRequestsTotal.WithLabelValues("allowed").Inc()

		remaining := int(limiter.limiter.Tokens())
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		c.Next()
	}
}

func formatRate(rps float64) string {
	return strconv.FormatFloat(rps, 'f', -1, 64)
}

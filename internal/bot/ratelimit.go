package bot

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type RateLimiterConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	CleanupInterval   time.Duration
}

var DefaultRateLimiterConfig = RateLimiterConfig{
	RequestsPerSecond: 1,
	BurstSize:         5,
	CleanupInterval:   time.Minute,
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a token bucket per Telegram user.
type RateLimiter struct {
	config   RateLimiterConfig
	visitors map[int64]*visitor
	mu       sync.Mutex
	now      func() time.Time
}

func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultRateLimiterConfig.CleanupInterval
	}
	return &RateLimiter{
		config:   config,
		visitors: make(map[int64]*visitor),
		now:      time.Now,
	}
}

// Run evicts idle users until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for id, v := range rl.visitors {
		if rl.now().Sub(v.lastSeen) > rl.config.CleanupInterval*3 {
			delete(rl.visitors, id)
		}
	}
}

func (rl *RateLimiter) getLimiter(userID int64) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if v, exists := rl.visitors[userID]; exists {
		v.lastSeen = rl.now()
		return v.limiter
	}

	limiter := rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.BurstSize)
	rl.visitors[userID] = &visitor{
		limiter:  limiter,
		lastSeen: rl.now(),
	}
	return limiter
}

// Allow reports whether userID may be served now.
func (rl *RateLimiter) Allow(userID int64) bool {
	return rl.getLimiter(userID).AllowN(rl.now(), 1)
}

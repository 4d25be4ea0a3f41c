// Package ratelimit enforces a minimum interval between requests to each remote host.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/wayback-mirror/internal/telemetry"
)

// Limiter is a per-host gate shared by every worker talking to that host.
type Limiter struct {
	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	minInterval time.Duration
}

// Config holds rate limiter configuration.
type Config struct {
	// MinInterval is the minimum spacing between two requests to the same host.
	// Zero disables limiting.
	MinInterval time.Duration
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	return &Limiter{
		limiters:    make(map[string]*rate.Limiter),
		minInterval: cfg.MinInterval,
	}
}

// MinInterval returns the configured spacing.
func (l *Limiter) MinInterval() time.Duration {
	return l.minInterval
}

// Wait blocks until a request to rawURL's host may be issued, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	limiter := l.limiterFor(host)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if duration := time.Since(start); duration > time.Millisecond {
		telemetry.ObserveRateLimitDelay(host, duration)
	}
	return nil
}

func (l *Limiter) limiterFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[host]
	if !exists {
		limit := rate.Inf
		if l.minInterval > 0 {
			limit = rate.Every(l.minInterval)
		}
		// Burst 1: the first request passes, every later one waits a full interval.
		limiter = rate.NewLimiter(limit, 1)
		l.limiters[host] = limiter
	}
	return limiter
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

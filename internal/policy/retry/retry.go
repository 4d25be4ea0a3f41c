// Package retry implements bounded exponential backoff for archive requests.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net"
	"time"

	"github.com/JakeFAU/wayback-mirror/internal/mirror"
)

// Config tunes the exponential policy.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay is the wait before the first retry; it doubles for every following retry.
	BaseDelay time.Duration
	// MaxDelay caps a single wait. Zero leaves it uncapped.
	MaxDelay time.Duration
	// Jitter spreads each wait over [delay/2, delay).
	Jitter bool
}

// Policy decides whether and when to retry a failed attempt.
type Policy struct {
	cfg   Config
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a policy from cfg.
func New(cfg Config) *Policy {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Policy{cfg: cfg, sleep: sleepCtx}
}

// MaxRetries returns the configured retry budget.
func (p *Policy) MaxRetries() int {
	return p.cfg.MaxRetries
}

// ShouldRetry reports whether err is transient and attempt (1-based) is within budget.
func (p *Policy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt > p.cfg.MaxRetries {
		return false
	}
	return Retryable(err)
}

// Retryable classifies transport failures, request timeouts and throttling as
// transient. A done caller context is handled by Do, not here: per-request
// timeouts surface as context.DeadlineExceeded and must stay retryable.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, mirror.ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Backoff returns the wait before retry number attempt (1-based).
func (p *Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.cfg.MaxDelay > 0 && delay >= p.cfg.MaxDelay {
			delay = p.cfg.MaxDelay
			break
		}
	}
	if p.cfg.MaxDelay > 0 && delay > p.cfg.MaxDelay {
		delay = p.cfg.MaxDelay
	}
	if p.cfg.Jitter {
		half := delay / 2
		return half + randomJitter(delay-half)
	}
	return delay
}

// Do runs op until it succeeds, fails permanently or the budget is spent.
// onRetry, when set, is called before every wait.
func (p *Policy) Do(ctx context.Context, op func(ctx context.Context) error, onRetry func(attempt int, err error, wait time.Duration)) error {
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("attempt %d: %w", attempt, ctxErr)
		}
		if !p.ShouldRetry(err, attempt) {
			if attempt > 1 {
				return fmt.Errorf("after %d attempts: %w", attempt, err)
			}
			return err
		}
		wait := p.Backoff(attempt)
		if onRetry != nil {
			onRetry(attempt, err, wait)
		}
		if err := p.sleep(ctx, wait); err != nil {
			return fmt.Errorf("backoff: %w", err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

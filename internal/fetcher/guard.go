// Package fetcher wraps a raw archive fetcher with the per-host gate and retry policy.
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/wayback-mirror/internal/mirror"
	"github.com/JakeFAU/wayback-mirror/internal/policy/retry"
	"github.com/JakeFAU/wayback-mirror/internal/telemetry"
)

// Gate blocks until a request to the URL's host may proceed.
type Gate interface {
	Wait(ctx context.Context, rawURL string) error
}

// Guarded rate-limits and retries every call to the wrapped fetcher.
type Guarded struct {
	next   mirror.Fetcher
	gate   Gate
	policy *retry.Policy
	logger *zap.Logger
}

// NewGuarded builds a guarded fetcher. A nil gate or policy disables that concern.
func NewGuarded(next mirror.Fetcher, gate Gate, policy *retry.Policy, logger *zap.Logger) *Guarded {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = retry.New(retry.Config{})
	}
	return &Guarded{next: next, gate: gate, policy: policy, logger: logger}
}

// Fetch waits on the host gate before every attempt and retries transient failures.
// HTTP 429 and 5xx responses count as transient.
func (g *Guarded) Fetch(ctx context.Context, request mirror.FetchRequest) (mirror.FetchResponse, error) {
	var resp mirror.FetchResponse
	err := g.policy.Do(ctx, func(ctx context.Context) error {
		if g.gate != nil {
			if err := g.gate.Wait(ctx, request.URL); err != nil {
				return err
			}
		}
		var err error
		resp, err = g.next.Fetch(ctx, request)
		if err != nil {
			return err
		}
		if transientStatus(resp.StatusCode) {
			return fmt.Errorf("%s returned %d: %w", request.URL, resp.StatusCode, mirror.ErrTransient)
		}
		return nil
	}, func(attempt int, err error, wait time.Duration) {
		telemetry.ObserveRetry(request.URL)
		g.logger.Warn("retrying archive request",
			zap.String("url", request.URL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	})
	if err != nil {
		return mirror.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, err)
	}
	return resp, nil
}

func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

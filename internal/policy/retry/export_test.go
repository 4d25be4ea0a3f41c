package retry

import (
	"context"
	"time"
)

// SetSleep replaces the backoff sleeper so tests do not wait.
func (p *Policy) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	p.sleep = fn
}

// Package clients provides HTTP transport plumbing shared by the CentrePoint
// client: a tuned http.Client and a bounded exponential-backoff retry policy.
package clients

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/sensorcloud/centrepoint-sync/pkg/config"
)

// RetryPolicy defines bounded retry behavior with exponential backoff and
// jitter. Only the caller-supplied predicate decides what is worth retrying;
// the policy never retries past MaxAttempts.
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64
}

// NewRetryPolicy builds a retry policy from reliability settings.
func NewRetryPolicy(cfg config.ReliabilityConfig) *RetryPolicy {
	rp := &RetryPolicy{
		MaxAttempts:     cfg.RetryAttempts,
		InitialDelay:    cfg.RetryDelay,
		MaxDelay:        cfg.MaxRetryDelay,
		Multiplier:      cfg.RetryMultiplier,
		RandomizeFactor: 0.25,
	}
	if rp.MaxAttempts <= 0 {
		rp.MaxAttempts = 3
	}
	if rp.InitialDelay <= 0 {
		rp.InitialDelay = time.Second
	}
	if rp.MaxDelay <= 0 {
		rp.MaxDelay = 60 * time.Second
	}
	if rp.Multiplier <= 1 {
		rp.Multiplier = 2.0
	}
	return rp
}

// Execute runs fn, retrying while shouldRetry approves the error, up to
// MaxAttempts total attempts. Non-retryable errors surface immediately.
func (rp *RetryPolicy) Execute(ctx context.Context, fn func() error, shouldRetry func(error) bool) error {
	var lastErr error

	for attempt := 0; attempt < rp.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldRetry(err) {
			return err
		}
		if attempt == rp.MaxAttempts-1 {
			break
		}

		timer := time.NewTimer(rp.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", rp.MaxAttempts, lastErr)
}

// delay computes the backoff for a given attempt, capped and jittered.
func (rp *RetryPolicy) delay(attempt int) time.Duration {
	d := float64(rp.InitialDelay) * math.Pow(rp.Multiplier, float64(attempt))
	if d > float64(rp.MaxDelay) {
		d = float64(rp.MaxDelay)
	}
	if rp.RandomizeFactor > 0 {
		delta := d * rp.RandomizeFactor
		d = d - delta + rand.Float64()*2*delta
	}
	return time.Duration(d)
}

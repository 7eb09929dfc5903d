package rpc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/ethergo-sdk/logstream/pkg/config"
	"github.com/ethergo-sdk/logstream/pkg/events"
)

// transientMarkers are substrings of node error messages that indicate a
// condition worth retrying. Matched case-insensitively.
var transientMarkers = []string{
	"timeout",
	"deadline exceeded",
	"429",
	"too many requests",
	"rate limit",
	"502",
	"503",
	"504",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
	"connection pool",
	"no available connection",
}

// retryableError reports whether a failed call is worth reattempting.
// Errors already classified by this package are trusted; everything else
// falls back to network error types and message inspection.
func retryableError(err error) bool {
	if err == nil {
		return false
	}

	var provErr *events.ProviderError
	if errors.As(err, &provErr) {
		return !provErr.Permanent
	}
	var transErr *events.TransportError
	if errors.As(err, &transErr) {
		return true
	}
	var cacheErr *events.CacheInvariantError
	if errors.As(err, &cacheErr) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// calculateBackoff returns the wait before the given attempt. The first
// attempt never waits; later attempts grow exponentially from
// InitialBackoff, capped at MaxBackoff, with 25% jitter either way.
func calculateBackoff(attempt int, cfg *config.RetryConfig) time.Duration {
	if attempt <= 1 {
		return 0
	}

	wait := float64(cfg.InitialBackoff.Duration) * math.Pow(cfg.BackoffMultiplier, float64(attempt-2))
	wait = math.Min(wait, float64(cfg.MaxBackoff.Duration))

	jitterSpan := wait * 0.25
	wait += (rand.Float64() * 2 * jitterSpan) - jitterSpan
	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait)
}

// retryWithBackoff runs fn until it succeeds, fails permanently, exhausts
// cfg.MaxAttempts, or ctx is done. A nil cfg runs fn exactly once.
func retryWithBackoff(ctx context.Context, cfg *config.RetryConfig, operation string, fn func() error) error {
	if cfg == nil {
		return fn()
	}

	started := time.Now()
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled before attempt %d: %w", attempt, err)
		}

		err := fn()
		if err == nil {
			if attempt > 1 {
				RPCRetryInc(operation)
			}
			return nil
		}
		lastErr = err

		if !retryableError(err) {
			return fmt.Errorf("non-retryable error on attempt %d/%d: %w", attempt, cfg.MaxAttempts, err)
		}
		if attempt >= cfg.MaxAttempts {
			break
		}

		if wait := calculateBackoff(attempt+1, cfg); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return fmt.Errorf("context cancelled during backoff (attempt %d/%d): %w",
					attempt, cfg.MaxAttempts, ctx.Err())
			}
		}
		RPCRetryInc(operation)
	}

	return fmt.Errorf("all %d attempts failed after %v (last error: %w)",
		cfg.MaxAttempts, time.Since(started), lastErr)
}

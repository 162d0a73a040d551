// Package retry provides the classified retry policy used around every
// external provider call (embedding, LLM completion).
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net"
	"time"

	"sahayak/internal/domain"
)

// Policy governs backoff and retry for transient provider failures.
// Retryable errors (timeouts, rate limiting, transient network) are
// retried with exponential backoff and jitter up to MaxAttempts; fatal
// errors (auth, malformed request, content policy) propagate on the
// first occurrence.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first.
	// Zero or negative is treated as 1.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Classify overrides the default retryability test. When nil,
	// Retryable is used.
	Classify func(error) bool
	Logger   *slog.Logger
}

// Default is the policy used when callers do not configure one.
var Default = Policy{
	MaxAttempts:  3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     10 * time.Second,
}

// Retryable reports whether err is a transient failure worth retrying.
// Provider errors carry their own classification; deadline and network
// timeout errors are transient by definition.
func Retryable(err error) bool {
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// Do calls fn up to MaxAttempts times. It stops early when ctx is
// cancelled, fn succeeds, or fn returns a fatal error. When all
// attempts fail it returns a ProviderExhaustedError wrapping the last
// error.
func (p Policy) Do(ctx context.Context, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := p.InitialDelay
	if delay <= 0 {
		delay = Default.InitialDelay
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = Default.MaxDelay
	}
	classify := p.Classify
	if classify == nil {
		classify = Retryable
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				return err
			}
			return &domain.ProviderExhaustedError{Attempts: attempt - 1, Last: lastErr}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !classify(lastErr) {
			return lastErr
		}

		if attempt < attempts {
			// Exponential backoff with jitter to prevent thundering herd.
			jitter := time.Duration(rand.Int63n(int64(delay/2 + 1)))
			wait := delay + jitter
			logger.Warn("transient provider failure, retrying",
				"attempt", attempt, "max", attempts, "backoff", wait, "err", lastErr)
			select {
			case <-ctx.Done():
				return &domain.ProviderExhaustedError{Attempts: attempt, Last: lastErr}
			case <-time.After(wait):
			}
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		}
	}

	return &domain.ProviderExhaustedError{Attempts: attempts, Last: lastErr}
}

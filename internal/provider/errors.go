package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"sahayak/internal/domain"
)

// statusErr wraps an HTTP failure as a classified ProviderError.
// Rate limiting and server-side failures are transient; 4xx responses
// (auth, malformed request, content policy) are fatal.
func statusErr(provider string, status int, body string) *domain.ProviderError {
	retryable := status == http.StatusTooManyRequests || status >= 500
	return &domain.ProviderError{
		Provider:  provider,
		Status:    status,
		Retryable: retryable,
		Err:       fmt.Errorf("HTTP %d: %s", status, body),
	}
}

// transportErr wraps a transport-level failure. Timeouts and dropped
// connections are transient; context cancellation is the caller's
// decision and is passed through unclassified.
func transportErr(provider string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	retryable := errors.Is(err, context.DeadlineExceeded)
	var ne net.Error
	if errors.As(err, &ne) {
		retryable = retryable || ne.Timeout()
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		retryable = true
	}
	return &domain.ProviderError{
		Provider:  provider,
		Retryable: retryable,
		Err:       err,
	}
}

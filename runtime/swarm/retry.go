// Package swarm implements the Swarm Mesh: peer discovery and health
// tracking, task delegation with attestation chains, sealed-bid auctions,
// reputation, and root-cause diagnosis for delegated task failures.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig configures retry behavior for peer RPC operations.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial
	// attempt). A value of 0 or 1 means no retries.
	MaxAttempts int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration
	// BackoffMultiplier is the factor the delay grows by after each retry.
	BackoffMultiplier float64
	// Jitter is the randomization factor applied to each delay (0-1).
	Jitter float64
}

// DefaultRetryConfig returns the retry configuration used for peer RPCs
// before a PEER_UNREACHABLE verdict is raised.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
	}
}

// ExhaustedError is returned when every retry attempt against a peer has
// failed.
type ExhaustedError struct {
	Attempts      int
	TotalDuration time.Duration
	LastError     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("peer rpc exhausted after %d attempts over %v: %v", e.Attempts, e.TotalDuration, e.LastError)
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastError
}

// HTTPStatusError carries an HTTP status code back from a peer RPC.
type HTTPStatusError struct {
	StatusCode int
	Message    string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("peer returned HTTP %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether err is worth retrying against a peer:
// timeouts, transient DNS failures, and 429/502/503/504 responses are;
// a canceled context or any other error is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}

	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusServiceUnavailable, http.StatusTooManyRequests, http.StatusBadGateway, http.StatusGatewayTimeout:
			return true
		}
	}

	return false
}

// Do calls fn, retrying with exponential backoff while the returned error
// is retryable, up to cfg.MaxAttempts. A non-retryable error is returned
// immediately. Exhausting all attempts returns *ExhaustedError wrapping
// the last error seen.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.InitialBackoff
	eb.MaxInterval = cfg.MaxBackoff
	eb.Multiplier = cfg.BackoffMultiplier
	eb.RandomizationFactor = cfg.Jitter
	eb.MaxElapsedTime = 0 // bounded by attempt count, not elapsed time

	bo := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(maxAttempts-1)), ctx)

	start := time.Now()
	attempts := 0
	var lastErr error

	operation := func() error {
		attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(operation, bo)
	if err == nil {
		return nil
	}

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ctx.Err()
	}

	return &ExhaustedError{
		Attempts:      attempts,
		TotalDuration: time.Since(start),
		LastError:     lastErr,
	}
}

// StreamReconnectConfig configures reconnection behavior for a long-lived
// peer gossip/heartbeat stream.
type StreamReconnectConfig struct {
	RetryConfig
	TrackLastEventID bool
}

// DefaultStreamReconnectConfig returns the reconnect policy used for peer
// heartbeat streams.
func DefaultStreamReconnectConfig() StreamReconnectConfig {
	return StreamReconnectConfig{
		RetryConfig: RetryConfig{
			MaxAttempts:       5,
			InitialBackoff:    500 * time.Millisecond,
			MaxBackoff:        30 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            0.1,
		},
		TrackLastEventID: true,
	}
}

// StreamState tracks a peer stream's reconnection progress.
type StreamState struct {
	LastEventID       string
	ReconnectAttempts int
}

// Reset clears the reconnect counter after a successful (re)connection.
func (s *StreamState) Reset() {
	s.ReconnectAttempts = 0
}

// UpdateLastEventID records the last event id seen, for resuming a stream
// at the right point after a reconnect.
func (s *StreamState) UpdateLastEventID(id string) {
	if id != "" {
		s.LastEventID = id
	}
}

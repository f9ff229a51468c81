package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/nft-syncer/internal/logging"
)

// ErrAttemptTimeout is reported when a single attempt outlives AttemptTimeout
var ErrAttemptTimeout = errors.New("attempt timed out")

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts    int           // Maximum number of attempts, including the first
	AttemptTimeout time.Duration // Upper bound for a single attempt; zero disables it
	InitialDelay   time.Duration // Delay before the second attempt
	MaxDelay       time.Duration // Cap for the backoff delay
	Multiplier     float64       // Multiplier for exponential backoff

	// OnFailure runs after each failed attempt, before the backoff sleep.
	OnFailure func(attempt int, err error)
}

// DefaultRetryConfig returns the configuration used for outbound chain calls:
// 5 attempts, 10s per attempt, 100ms doubling to 2s between attempts.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:    5,
		AttemptTimeout: 10 * time.Second,
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		Multiplier:     2.0,
	}
}

// RetryResult contains information about the retry operation
type RetryResult struct {
	Attempts      int           `json:"attempts"`
	Success       bool          `json:"success"`
	TotalDuration time.Duration `json:"totalDuration"`
	LastError     error         `json:"lastError,omitempty"`
	// Permanent is set when fn gave up with a Permanent error
	Permanent bool `json:"permanent,omitempty"`
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. WithExponentialBackoff stops at once,
// skips OnFailure and reports the unwrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// RetryFunc is a function that can be retried
type RetryFunc func(ctx context.Context, attempt int) error

// WithExponentialBackoff executes fn until it succeeds, the attempts run out
// or ctx is cancelled. It never panics on fn errors and never returns nil.
func WithExponentialBackoff(ctx context.Context, config *RetryConfig, fn RetryFunc) *RetryResult {
	logger := logging.FromContext(ctx)
	startTime := time.Now()
	result := &RetryResult{}

	maxAttempts := config.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		err := runAttempt(ctx, config.AttemptTimeout, attempt, fn)
		if err == nil {
			result.Success = true
			result.LastError = nil
			result.TotalDuration = time.Since(startTime)
			if attempt > 1 {
				logger.WithFields(map[string]interface{}{
					"attempts":      attempt,
					"totalDuration": result.TotalDuration.String(),
				}).Debug("Operation succeeded after retry")
			}
			return result
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			result.LastError = perm.err
			result.Permanent = true
			break
		}

		result.LastError = err
		if config.OnFailure != nil {
			config.OnFailure(attempt, err)
		}

		if attempt >= maxAttempts {
			logger.WithFields(map[string]interface{}{
				"attempts":      attempt,
				"totalDuration": time.Since(startTime).String(),
				"error":         err.Error(),
			}).Warn("Operation failed after max retry attempts")
			break
		}
		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			break
		}

		delay := calculateDelay(config, attempt)
		if delay <= 0 {
			continue
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		}
	}

	result.TotalDuration = time.Since(startTime)
	return result
}

// runAttempt races fn against the per-attempt timer. On timeout the attempt's
// context is cancelled and its eventual result is discarded.
func runAttempt(ctx context.Context, timeout time.Duration, attempt int, fn RetryFunc) error {
	if timeout <= 0 {
		return fn(ctx, attempt)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("attempt panicked: %v", r)
			}
		}()
		done <- fn(attemptCtx, attempt)
	}()

	select {
	case err := <-done:
		return err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w after %s", ErrAttemptTimeout, timeout)
	}
}

// calculateDelay calculates the delay for the next retry attempt
func calculateDelay(config *RetryConfig, attempt int) time.Duration {
	if config.InitialDelay <= 0 {
		return 0
	}
	multiplier := config.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(config.InitialDelay) * math.Pow(multiplier, float64(attempt-1))
	if config.MaxDelay > 0 && delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	return time.Duration(delay)
}

// WithRetry runs fn with the default configuration and returns the last error
func WithRetry(ctx context.Context, fn RetryFunc) error {
	result := WithExponentialBackoff(ctx, DefaultRetryConfig(), fn)
	if !result.Success {
		return fmt.Errorf("operation failed after %d attempts: %w", result.Attempts, result.LastError)
	}
	return nil
}

package transform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/proofreader/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	transformRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proofread_transform_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	transformRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "proofread_transform_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{1, 2, 5, 8, 11, 15, 30, 60},
	}, []string{"error_class"})

	transformRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proofread_transform_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by last error class",
	}, []string{"error_class"})
)

// Outcome is the classification of a single transformation attempt.
type Outcome int

const (
	// OutcomeSuccess means the attempt produced non-empty text.
	OutcomeSuccess Outcome = iota
	// OutcomeRetryable means the attempt failed and another may succeed.
	OutcomeRetryable
	// OutcomeFatal means further attempts are pointless.
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Classify returns the outcome of one attempt given its text and error.
// Whitespace-only text counts as an empty response. An error is cancelled
// only if ctx itself is done.
func (c RetryConfig) Classify(ctx context.Context, text string, err error) (Outcome, ErrorClass) {
	if err == nil {
		if strings.TrimSpace(text) == "" {
			return OutcomeRetryable, ErrorClassEmpty
		}
		return OutcomeSuccess, ""
	}
	class := classifyError(ctx, err)
	if shouldRetry(class, c.RetryClientErrors) {
		return OutcomeRetryable, class
	}
	return OutcomeFatal, class
}

// RetryConfig holds the configuration for retry logic.
// The wait before attempt k+1 (k counted from 0) is BaseBackoff + BackoffStep*k.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int `yaml:"max_attempts"`

	// BaseBackoff is the wait after the first failed attempt.
	BaseBackoff time.Duration `yaml:"base_backoff"`

	// BackoffStep is added to the wait for every further failed attempt.
	BackoffStep time.Duration `yaml:"backoff_step"`

	// RetryClientErrors also retries 4xx answers other than 429.
	RetryClientErrors bool `yaml:"retry_client_errors"`
}

// DefaultRetryConfig returns the default retry configuration: three attempts,
// waiting 5s then 8s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseBackoff: 5 * time.Second,
		BackoffStep: 3 * time.Second,
	}
}

// Validate checks the configuration.
func (c RetryConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1 (got %d)", c.MaxAttempts)
	}
	if c.BaseBackoff < 0 || c.BackoffStep < 0 {
		return fmt.Errorf("backoff durations must not be negative")
	}
	return nil
}

// Backoff returns the wait after failed attempt k (0-based).
func (c RetryConfig) Backoff(attempt int) time.Duration {
	return c.BaseBackoff + time.Duration(attempt)*c.BackoffStep
}

// attemptFunc performs one attempt. attempt is 0-based.
type attemptFunc func(ctx context.Context, attempt int) (string, error)

// retryWithBackoff runs fn until it yields non-empty text, a fatal outcome,
// or MaxAttempts is reached. There is no wait after the final attempt.
func retryWithBackoff(ctx context.Context, cfg RetryConfig, clock ratelimit.Clock, logger zerolog.Logger, fn attemptFunc) (string, error) {
	var (
		lastErr   error
		lastClass ErrorClass
	)

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		text, err := fn(ctx, attempt)
		outcome, class := cfg.Classify(ctx, text, err)

		switch outcome {
		case OutcomeSuccess:
			if attempt > 0 {
				logger.Info().
					Int("attempt", attempt+1).
					Msg("Request succeeded after retry")
			}
			return text, nil
		case OutcomeFatal:
			if class == ErrorClassCancelled {
				return "", fmt.Errorf("%w (attempt %d: %v)", ctx.Err(), attempt+1, err)
			}
			return "", err
		}

		if err == nil {
			err = ErrEmptyResponse
		}
		lastErr, lastClass = err, class

		if attempt+1 >= cfg.MaxAttempts {
			break
		}

		backoff := cfg.Backoff(attempt)
		transformRetriesTotal.WithLabelValues(string(class)).Inc()
		transformRetryBackoffSeconds.WithLabelValues(string(class)).Observe(backoff.Seconds())

		logger.Warn().
			Err(err).
			Str("error_class", string(class)).
			Int("attempt", attempt+1).
			Int("max_attempts", cfg.MaxAttempts).
			Dur("backoff", backoff).
			Msg("Transformation attempt failed, retrying after backoff")

		if err := clock.Sleep(ctx, backoff); err != nil {
			logger.Warn().
				Int("attempt", attempt+1).
				Msg("Context cancelled during retry backoff")
			return "", fmt.Errorf("retry backoff: %w", err)
		}
	}

	transformRetryExhaustedTotal.WithLabelValues(string(lastClass)).Inc()
	logger.Warn().
		Err(lastErr).
		Str("error_class", string(lastClass)).
		Int("max_attempts", cfg.MaxAttempts).
		Msg("Retry attempts exhausted")

	return "", fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, cfg.MaxAttempts, lastErr)
}

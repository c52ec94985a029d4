package transform

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Sternrassler/proofreader/internal/testutil"
	"github.com/rs/zerolog"
)

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", config.MaxAttempts)
	}
	if config.BaseBackoff != 5*time.Second {
		t.Errorf("BaseBackoff = %v, want 5s", config.BaseBackoff)
	}
	if config.BackoffStep != 3*time.Second {
		t.Errorf("BackoffStep = %v, want 3s", config.BackoffStep)
	}
}

func TestRetryConfig_Backoff(t *testing.T) {
	config := DefaultRetryConfig()
	expected := []time.Duration{5 * time.Second, 8 * time.Second, 11 * time.Second}

	for attempt, want := range expected {
		if got := config.Backoff(attempt); got != want {
			t.Errorf("Backoff(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestRetryConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  RetryConfig
		wantErr bool
	}{
		{name: "default", config: DefaultRetryConfig(), wantErr: false},
		{name: "single attempt", config: RetryConfig{MaxAttempts: 1}, wantErr: false},
		{name: "zero attempts", config: RetryConfig{MaxAttempts: 0}, wantErr: true},
		{name: "negative backoff", config: RetryConfig{MaxAttempts: 2, BaseBackoff: -time.Second}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	done, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name    string
		ctx     context.Context
		config  RetryConfig
		text    string
		err     error
		outcome Outcome
		class   ErrorClass
	}{
		{name: "text", text: "fixed", outcome: OutcomeSuccess},
		{name: "empty text", text: "", outcome: OutcomeRetryable, class: ErrorClassEmpty},
		{name: "whitespace text", text: " \n", outcome: OutcomeRetryable, class: ErrorClassEmpty},
		{name: "server error", err: &ProviderError{StatusCode: 502, ErrorClass: ErrorClassServer}, outcome: OutcomeRetryable, class: ErrorClassServer},
		{name: "rate limited", err: &ProviderError{StatusCode: 429, ErrorClass: ErrorClassRateLimit}, outcome: OutcomeRetryable, class: ErrorClassRateLimit},
		{name: "unauthorized", err: &ProviderError{StatusCode: 401, ErrorClass: ErrorClassClient}, outcome: OutcomeFatal, class: ErrorClassClient},
		{
			name:    "unauthorized with client retries",
			config:  RetryConfig{RetryClientErrors: true},
			err:     &ProviderError{StatusCode: 401, ErrorClass: ErrorClassClient},
			outcome: OutcomeRetryable,
			class:   ErrorClassClient,
		},
		{name: "deadline from transport", err: fmt.Errorf("post: %w", context.DeadlineExceeded), outcome: OutcomeRetryable, class: ErrorClassNetwork},
		{name: "cancelled", ctx: done, err: context.Canceled, outcome: OutcomeFatal, class: ErrorClassCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := tt.ctx
			if ctx == nil {
				ctx = context.Background()
			}
			outcome, class := tt.config.Classify(ctx, tt.text, tt.err)
			if outcome != tt.outcome {
				t.Errorf("outcome = %v, want %v", outcome, tt.outcome)
			}
			if class != tt.class {
				t.Errorf("class = %q, want %q", class, tt.class)
			}
		})
	}
}

func TestRetryWithBackoff(t *testing.T) {
	serverErr := &ProviderError{StatusCode: 500, ErrorClass: ErrorClassServer, Message: "boom"}

	tests := []struct {
		name          string
		results       []error // nil means success
		expectedCalls int
		expectedSleep []time.Duration
		wantErr       error
	}{
		{
			name:          "success on first attempt",
			results:       []error{nil},
			expectedCalls: 1,
			expectedSleep: nil,
		},
		{
			name:          "success after one failure",
			results:       []error{serverErr, nil},
			expectedCalls: 2,
			expectedSleep: []time.Duration{5 * time.Second},
		},
		{
			name:          "exhausted after three failures",
			results:       []error{serverErr, serverErr, serverErr},
			expectedCalls: 3,
			expectedSleep: []time.Duration{5 * time.Second, 8 * time.Second},
			wantErr:       ErrRetryExhausted,
		},
		{
			name:          "empty responses are retried",
			results:       []error{ErrEmptyResponse, ErrEmptyResponse, ErrEmptyResponse},
			expectedCalls: 3,
			expectedSleep: []time.Duration{5 * time.Second, 8 * time.Second},
			wantErr:       ErrRetryExhausted,
		},
		{
			name:          "client error is not retried",
			results:       []error{&ProviderError{StatusCode: 400, ErrorClass: ErrorClassClient}},
			expectedCalls: 1,
			expectedSleep: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := testutil.NewFakeClock(time.Unix(0, 0))
			calls := 0

			text, err := retryWithBackoff(context.Background(), DefaultRetryConfig(), clock, zerolog.Nop(),
				func(ctx context.Context, attempt int) (string, error) {
					if attempt != calls {
						t.Errorf("attempt = %d, want %d", attempt, calls)
					}
					res := tt.results[calls]
					calls++
					if res == nil {
						return "ok", nil
					}
					if errors.Is(res, ErrEmptyResponse) {
						return "", nil
					}
					return "", res
				})

			if calls != tt.expectedCalls {
				t.Errorf("calls = %d, want %d", calls, tt.expectedCalls)
			}
			sleeps := clock.Sleeps()
			if len(sleeps) != len(tt.expectedSleep) {
				t.Fatalf("sleeps = %v, want %v", sleeps, tt.expectedSleep)
			}
			for i := range sleeps {
				if sleeps[i] != tt.expectedSleep[i] {
					t.Errorf("sleep[%d] = %v, want %v", i, sleeps[i], tt.expectedSleep[i])
				}
			}

			last := tt.results[len(tt.results)-1]
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
			case last == nil:
				if err != nil || text != "ok" {
					t.Errorf("got (%q, %v), want (\"ok\", nil)", text, err)
				}
			default:
				if err == nil || errors.Is(err, ErrRetryExhausted) {
					t.Errorf("error = %v, want non-exhausted fatal error", err)
				}
			}
		})
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clock := testutil.NewFakeClock(time.Unix(0, 0))
	calls := 0

	_, err := retryWithBackoff(ctx, DefaultRetryConfig(), clock, zerolog.Nop(),
		func(ctx context.Context, attempt int) (string, error) {
			calls++
			cancel()
			return "", &ProviderError{StatusCode: 503, ErrorClass: ErrorClassServer}
		})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Error("cancellation must not be reported as exhaustion")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryWithBackoff_TransportTimeoutIsRetried(t *testing.T) {
	clock := testutil.NewFakeClock(time.Unix(0, 0))
	calls := 0

	_, err := retryWithBackoff(context.Background(), DefaultRetryConfig(), clock, zerolog.Nop(),
		func(ctx context.Context, attempt int) (string, error) {
			calls++
			return "", &ProviderError{
				Provider:   "openai",
				ErrorClass: ErrorClassNetwork,
				Message:    "request failed",
				Err:        fmt.Errorf("Client.Timeout exceeded: %w", context.DeadlineExceeded),
			}
		})

	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("error = %v, want ErrRetryExhausted", err)
	}
	if len(clock.Sleeps()) != 2 {
		t.Errorf("sleeps = %v, want two backoffs", clock.Sleeps())
	}
}

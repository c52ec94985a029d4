// Package transform provides the transformation client: one proofreading
// completion per work item, with backend selection by model id, bounded
// retries with linear backoff and response post-processing.
package transform

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/Sternrassler/proofreader/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for transformation calls.
var (
	transformRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proofread_transform_requests_total",
		Help: "Total provider requests by model and status",
	}, []string{"model", "status"})

	transformRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "proofread_transform_request_duration_seconds",
		Help:    "Provider request duration in seconds by model",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 120},
	}, []string{"model"})

	transformErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proofread_transform_errors_total",
		Help: "Total failed attempts by error class",
	}, []string{"class"})
)

// Config holds the client configuration.
type Config struct {
	// Models is the registry of supported model ids.
	Models []ModelSpec

	// SystemPrompt is the fixed instruction sent with every request.
	SystemPrompt string

	// Retry controls attempts and backoff.
	Retry RetryConfig

	// Timeout bounds a single HTTP round trip. Ignored when HTTPClient is set.
	Timeout time.Duration

	// HTTPClient overrides the default HTTP client.
	HTTPClient *http.Client

	// Clock drives backoff sleeps. Defaults to the wall clock.
	Clock ratelimit.Clock

	// Logger receives per-attempt diagnostics.
	Logger zerolog.Logger
}

// DefaultConfig returns a configuration with the built-in models, the
// built-in instruction and default retry settings.
func DefaultConfig() Config {
	return Config{
		Models:       DefaultModels(),
		SystemPrompt: DefaultSystemPrompt(),
		Retry:        DefaultRetryConfig(),
		Timeout:      120 * time.Second,
		Clock:        ratelimit.SystemClock,
		Logger:       zerolog.Nop(),
	}
}

// Client sends work items to the backend registered for a model id.
type Client struct {
	httpClient *http.Client
	models     map[string]ModelSpec
	system     string
	retry      RetryConfig
	clock      ratelimit.Clock
	logger     zerolog.Logger

	mu       sync.Mutex
	backends map[string]Backend
}

// New creates a transformation client.
func New(cfg Config) (*Client, error) {
	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("retry config: %w", err)
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt()
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.SystemClock
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	models := make(map[string]ModelSpec, len(cfg.Models))
	for _, spec := range cfg.Models {
		if spec.Name == "" {
			return nil, fmt.Errorf("model entry without name")
		}
		models[spec.Name] = spec
	}

	return &Client{
		httpClient: httpClient,
		models:     models,
		system:     cfg.SystemPrompt,
		retry:      cfg.Retry,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		backends:   make(map[string]Backend),
	}, nil
}

// Resolve checks that model is usable: registered, with a credential and a
// known provider. It creates the backend on first use.
func (c *Client) Resolve(model string) error {
	_, err := c.backend(model)
	return err
}

func (c *Client) backend(model string) (Backend, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.backends[model]; ok {
		return b, nil
	}
	spec, ok := c.models[model]
	if !ok {
		return nil, fmt.Errorf("%w: %q (supported: %v)", ErrUnsupportedModel, model, c.modelNamesLocked())
	}
	b, err := newBackend(spec, c.httpClient)
	if err != nil {
		return nil, err
	}
	c.backends[model] = b
	return b, nil
}

// RegisterBackend installs a custom backend for model, replacing any
// registered spec.
func (c *Client) RegisterBackend(model string, b Backend) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.models[model]; !ok {
		c.models[model] = ModelSpec{Name: model}
	}
	c.backends[model] = b
}

// Models returns the supported model ids, sorted.
func (c *Client) Models() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.modelNamesLocked()
}

func (c *Client) modelNamesLocked() []string {
	names := make([]string, 0, len(c.models))
	for name := range c.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolved returns the provider-side model name and temperature that
// requests for model are sent with.
func (c *Client) Resolved(model string) (apiModel string, temperature float64) {
	spec := c.spec(model)
	return spec.apiModel(), spec.temperature()
}

// SystemPrompt returns the instruction sent with every request.
func (c *Client) SystemPrompt() string {
	return c.system
}

// Transform sends one prompt to model and returns the first non-empty
// answer with echoed target tags removed. After MaxAttempts failures the
// returned error wraps ErrRetryExhausted.
func (c *Client) Transform(ctx context.Context, model string, prompt Prompt) (string, error) {
	b, err := c.backend(model)
	if err != nil {
		return "", err
	}

	spec := c.spec(model)
	req := Request{
		Model:       spec.apiModel(),
		System:      c.system,
		Prompt:      prompt,
		Temperature: spec.temperature(),
	}
	logger := c.logger.With().Str("model", model).Str("backend", b.Name()).Logger()

	return retryWithBackoff(ctx, c.retry, c.clock, logger, func(ctx context.Context, attempt int) (string, error) {
		logger.Debug().Int("attempt", attempt+1).Msg("Calling provider")

		start := time.Now()
		text, err := b.Complete(ctx, req)
		transformRequestDuration.WithLabelValues(model).Observe(time.Since(start).Seconds())

		text = UnwrapTarget(text)
		if _, class := c.retry.Classify(ctx, text, err); class != "" {
			transformErrorsTotal.WithLabelValues(string(class)).Inc()
			transformRequestsTotal.WithLabelValues(model, string(class)).Inc()
		} else {
			transformRequestsTotal.WithLabelValues(model, "ok").Inc()
		}
		return text, err
	})
}

func (c *Client) spec(model string) ModelSpec {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.models[model]
}

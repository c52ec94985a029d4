package transform

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// Request is one completion call as handed to a backend.
type Request struct {
	// Model is the provider-side model name.
	Model string
	// System is the fixed instruction.
	System string
	// Prompt is the tagged user input.
	Prompt Prompt
	// Temperature is the sampling temperature.
	Temperature float64
}

// Backend performs one non-streaming completion call.
// Implementations return *ProviderError for HTTP and transport failures and
// may return "" with a nil error when the provider answered with no text.
type Backend interface {
	// Name returns the backend identifier.
	Name() string

	// Complete sends req and returns the full response text.
	Complete(ctx context.Context, req Request) (string, error)
}

// Provider names a wire format.
type Provider string

const (
	// ProviderOpenAI is the OpenAI-compatible chat completions API.
	ProviderOpenAI Provider = "openai"
	// ProviderGemini is the Google Gemini generateContent API.
	ProviderGemini Provider = "gemini"
)

// ModelSpec binds a user-facing model id to a provider endpoint.
type ModelSpec struct {
	// Name is the model id used on the command line and in config.
	Name string `yaml:"name"`

	// Provider selects the wire format.
	Provider Provider `yaml:"provider"`

	// BaseURL is the API root (e.g. https://api.deepseek.com).
	BaseURL string `yaml:"base_url"`

	// APIModel is the provider-side model name. Defaults to Name.
	APIModel string `yaml:"api_model,omitempty"`

	// APIKeyEnv names the environment variable holding the credential.
	APIKeyEnv string `yaml:"api_key_env"`

	// APIKey overrides APIKeyEnv when set.
	APIKey string `yaml:"api_key,omitempty"`

	// Temperature is the sampling temperature. Defaults to 1 when unset;
	// an explicit 0 is sent as 0.
	Temperature *float64 `yaml:"temperature,omitempty"`
}

// DefaultModels returns the built-in model registry.
func DefaultModels() []ModelSpec {
	return []ModelSpec{
		{
			Name:      "deepseek-chat",
			Provider:  ProviderOpenAI,
			BaseURL:   "https://api.deepseek.com",
			APIKeyEnv: "DEEPSEEK_API_KEY",
		},
		{
			Name:      "deepseek-reasoner",
			Provider:  ProviderOpenAI,
			BaseURL:   "https://api.deepseek.com",
			APIKeyEnv: "DEEPSEEK_API_KEY",
		},
		{
			Name:      "deepseek-v3",
			Provider:  ProviderOpenAI,
			BaseURL:   "https://dashscope.aliyuncs.com/compatible-mode/v1",
			APIKeyEnv: "ALIYUN_API_KEY",
		},
		{
			Name:      "google",
			Provider:  ProviderGemini,
			BaseURL:   "https://generativelanguage.googleapis.com/v1beta",
			APIModel:  "gemini-2.0-flash-001",
			APIKeyEnv: "GOOGLE_API_KEY",
		},
	}
}

func (s ModelSpec) apiModel() string {
	if s.APIModel != "" {
		return s.APIModel
	}
	return s.Name
}

func (s ModelSpec) temperature() float64 {
	if s.Temperature != nil {
		return *s.Temperature
	}
	return 1
}

func (s ModelSpec) apiKey() string {
	if s.APIKey != "" {
		return s.APIKey
	}
	if s.APIKeyEnv != "" {
		return os.Getenv(s.APIKeyEnv)
	}
	return ""
}

// newBackend creates the backend for spec.
func newBackend(spec ModelSpec, httpClient *http.Client) (Backend, error) {
	key := spec.apiKey()
	if key == "" {
		return nil, fmt.Errorf("%w for model %s (set %s)", ErrMissingAPIKey, spec.Name, spec.APIKeyEnv)
	}
	baseURL := strings.TrimSuffix(spec.BaseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("model %s: base_url is required", spec.Name)
	}

	switch Provider(strings.ToLower(string(spec.Provider))) {
	case ProviderOpenAI, "openai-compatible", "":
		return &openAIBackend{baseURL: baseURL, apiKey: key, client: httpClient}, nil
	case ProviderGemini, "google":
		return &geminiBackend{baseURL: baseURL, apiKey: key, client: httpClient}, nil
	default:
		return nil, fmt.Errorf("unknown provider %q for model %s (supported: openai, gemini)", spec.Provider, spec.Name)
	}
}

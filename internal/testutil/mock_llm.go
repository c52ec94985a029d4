// Package testutil provides testing utilities for the proofreading engine.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// Wire formats served by MockLLM.
const (
	FormatOpenAI = "openai"
	FormatGemini = "gemini"
)

// MockMessage is one chat message as received by the mock server.
type MockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MockRequest is the decoded request handed to a responder.
type MockRequest struct {
	Format   string
	Model    string
	System   string
	Messages []MockMessage
	// Prompt is the last user message (OpenAI) or the single content text (Gemini).
	Prompt        string
	Authorization string
	Temperature   float64
}

// MockResponse defines how the mock answers one request.
type MockResponse struct {
	StatusCode int
	Text       string
	Delay      time.Duration
}

// Responder decides the response for a request.
type Responder func(req MockRequest) MockResponse

// MockLLM is a configurable mock completion provider speaking the
// OpenAI-compatible chat completions and Gemini generateContent formats.
type MockLLM struct {
	server    *httptest.Server
	mu        sync.RWMutex
	responder Responder

	requestCount int
	requests     []MockRequest
}

// NewMockLLM creates and starts a mock provider server.
func NewMockLLM() *MockLLM {
	mock := &MockLLM{
		responder: func(MockRequest) MockResponse { return NewTextResponse("OK") },
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeRequest(r)
		if !ok {
			http.Error(w, `{"error": "bad request"}`, http.StatusBadRequest)
			return
		}

		mock.mu.Lock()
		mock.requestCount++
		mock.requests = append(mock.requests, req)
		responder := mock.responder
		mock.mu.Unlock()

		resp := responder(req)
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		writeResponse(w, req.Format, resp)
	}))

	return mock
}

// URL returns the mock server base URL.
func (m *MockLLM) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockLLM) Close() {
	m.server.Close()
}

// SetResponder replaces the responder.
func (m *MockLLM) SetResponder(r Responder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responder = r
}

// SetResponse makes every request answer with resp.
func (m *MockLLM) SetResponse(resp MockResponse) {
	m.SetResponder(func(MockRequest) MockResponse { return resp })
}

// Reset clears all tracking state.
func (m *MockLLM) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.requests = nil
}

// GetRequestCount returns the number of requests served.
func (m *MockLLM) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// Requests returns a copy of every decoded request, in arrival order.
func (m *MockLLM) Requests() []MockRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]MockRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

func decodeRequest(r *http.Request) (MockRequest, bool) {
	if r.Method != http.MethodPost {
		return MockRequest{}, false
	}

	switch {
	case strings.HasSuffix(r.URL.Path, "/chat/completions"):
		var body struct {
			Model       string        `json:"model"`
			Messages    []MockMessage `json:"messages"`
			Temperature float64       `json:"temperature"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return MockRequest{}, false
		}
		req := MockRequest{
			Format:        FormatOpenAI,
			Model:         body.Model,
			Messages:      body.Messages,
			Authorization: r.Header.Get("Authorization"),
			Temperature:   body.Temperature,
		}
		for _, msg := range body.Messages {
			switch msg.Role {
			case "system":
				req.System = msg.Content
			case "user":
				req.Prompt = msg.Content
			}
		}
		return req, true

	case strings.HasSuffix(r.URL.Path, ":generateContent"):
		var body struct {
			SystemInstruction struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"system_instruction"`
			Contents []struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"contents"`
			GenerationConfig struct {
				Temperature float64 `json:"temperature"`
			} `json:"generationConfig"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return MockRequest{}, false
		}
		model := strings.TrimSuffix(r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:], ":generateContent")
		req := MockRequest{
			Format:        FormatGemini,
			Model:         model,
			Authorization: r.Header.Get("x-goog-api-key"),
			Temperature:   body.GenerationConfig.Temperature,
		}
		for _, p := range body.SystemInstruction.Parts {
			req.System += p.Text
		}
		if len(body.Contents) > 0 {
			for _, p := range body.Contents[len(body.Contents)-1].Parts {
				req.Prompt += p.Text
			}
		}
		return req, true
	}

	return MockRequest{}, false
}

func writeResponse(w http.ResponseWriter, format string, resp MockResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
		w.Write([]byte(`{"error": {"message": "mock failure"}}`))
		return
	}

	var body any
	switch format {
	case FormatGemini:
		body = map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]string{{"text": resp.Text}},
				},
				"finishReason": "STOP",
			}},
		}
	default:
		body = map[string]any{
			"model": "mock-model",
			"choices": []map[string]any{{
				"message":       map[string]string{"role": "assistant", "content": resp.Text},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		}
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}

// NewTextResponse creates a 200 OK response carrying text.
func NewTextResponse(text string) MockResponse {
	return MockResponse{StatusCode: http.StatusOK, Text: text}
}

// NewEmptyResponse creates a 200 OK response with no content.
func NewEmptyResponse() MockResponse {
	return MockResponse{StatusCode: http.StatusOK}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{StatusCode: http.StatusInternalServerError}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{StatusCode: http.StatusTooManyRequests}
}

// NewUnauthorizedResponse creates a 401 Unauthorized response.
func NewUnauthorizedResponse() MockResponse {
	return MockResponse{StatusCode: http.StatusUnauthorized}
}

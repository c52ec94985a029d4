package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxErrorBody caps how much of an error response body is kept in a ProviderError.
const maxErrorBody = 512

type openAIBackend struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (b *openAIBackend) Name() string { return string(ProviderOpenAI) }

// chatMessages lays out the conversation: the instruction, then the material
// and the target each as a user turn preceded by an empty assistant turn.
func chatMessages(req Request) []chatMessage {
	msgs := []chatMessage{{Role: "system", Content: req.System}}
	if req.Prompt.Material != "" {
		msgs = append(msgs,
			chatMessage{Role: "assistant", Content: ""},
			chatMessage{Role: "user", Content: req.Prompt.Material},
		)
	}
	return append(msgs,
		chatMessage{Role: "assistant", Content: ""},
		chatMessage{Role: "user", Content: req.Prompt.Target},
	)
}

func (b *openAIBackend) Complete(ctx context.Context, req Request) (string, error) {
	payload := map[string]any{
		"model":       req.Model,
		"messages":    chatMessages(req),
		"temperature": req.Temperature,
		"stream":      false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", transportError(b.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(b.Name(), resp)
	}

	var result struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &ProviderError{
			Provider:   b.Name(),
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassServer,
			Message:    "decode response",
			Err:        err,
		}
	}
	if len(result.Choices) == 0 {
		return "", nil
	}
	return result.Choices[0].Message.Content, nil
}

// transportError wraps a failed round trip. Context errors stay visible to errors.Is.
func transportError(provider string, err error) error {
	return &ProviderError{
		Provider:   provider,
		ErrorClass: ErrorClassNetwork,
		Message:    "request failed",
		Err:        err,
	}
}

// statusError builds a ProviderError from a non-200 response.
func statusError(provider string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := resp.Status
	if len(snippet) > 0 {
		msg = fmt.Sprintf("%s: %s", resp.Status, bytes.TrimSpace(snippet))
	}
	return &ProviderError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		ErrorClass: ClassifyStatus(resp.StatusCode),
		Message:    msg,
	}
}

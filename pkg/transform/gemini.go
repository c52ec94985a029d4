package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

type geminiBackend struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

func (b *geminiBackend) Name() string { return string(ProviderGemini) }

// Complete sends the material and target as one content part, with the
// instruction as system_instruction.
func (b *geminiBackend) Complete(ctx context.Context, req Request) (string, error) {
	payload := map[string]any{
		"system_instruction": geminiContent{Parts: []geminiPart{{Text: req.System}}},
		"contents": []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: req.Prompt.Combined()}},
		}},
		"generationConfig": map[string]any{
			"temperature": req.Temperature,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", b.baseURL, url.PathEscape(req.Model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", b.apiKey)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", transportError(b.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(b.Name(), resp)
	}

	var result struct {
		Candidates []struct {
			Content geminiContent `json:"content"`
		} `json:"candidates"`
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
	if len(result.Candidates) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

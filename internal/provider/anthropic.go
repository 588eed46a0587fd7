package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"chatcore/internal/domain"
)

type anthropic struct {
	ep AnthropicEndpoint
}

type anthropicRequest struct {
	Model     string           `json:"model"`
	MaxTokens int              `json:"max_tokens"`
	System    string           `json:"system,omitempty"`
	Messages  []domain.Message `json:"messages"`
}

type anthropicResponse struct {
	Content Content `json:"content"`
}

func (a *anthropic) validate() error {
	if a.ep.APIKey == "" {
		return &ConfigError{Engine: domain.EngineAnthropic, Field: "API key", Hint: hint(a.ep.APIKeyEnv)}
	}
	if a.ep.BaseURL == "" {
		return &ConfigError{Engine: domain.EngineAnthropic, Field: "base URL"}
	}
	if a.ep.Model == "" {
		return &ConfigError{Engine: domain.EngineAnthropic, Field: "model"}
	}
	return nil
}

func (a *anthropic) newRequest(ctx context.Context, messages []domain.Message) (*http.Request, error) {
	// The messages API takes system text as a top-level field.
	var system []string
	turns := make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m)
	}
	payload, err := json.Marshal(anthropicRequest{
		Model:     a.ep.Model,
		MaxTokens: a.ep.MaxTokens,
		System:    strings.Join(system, "\n\n"),
		Messages:  turns,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	url := strings.TrimRight(a.ep.BaseURL, "/") + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.ep.APIKey)
	req.Header.Set("anthropic-version", a.ep.Version)
	return req, nil
}

func (a *anthropic) parse(body []byte) (string, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	return resp.Content.String(), nil
}

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

// openAICompatible serves both the local LM Studio endpoint and the hosted
// OpenAI API; they differ only in authentication.
type openAICompatible struct {
	engine      domain.Engine
	ep          Endpoint
	temperature float64
	auth        bool
}

type chatCompletionRequest struct {
	Model       string           `json:"model"`
	Messages    []domain.Message `json:"messages"`
	Temperature float64          `json:"temperature"`
	Stream      bool             `json:"stream"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content Content `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (o *openAICompatible) validate() error {
	if o.auth && o.ep.APIKey == "" {
		return &ConfigError{Engine: o.engine, Field: "API key", Hint: hint(o.ep.APIKeyEnv)}
	}
	if o.ep.BaseURL == "" {
		return &ConfigError{Engine: o.engine, Field: "base URL"}
	}
	if o.ep.Model == "" {
		return &ConfigError{Engine: o.engine, Field: "model"}
	}
	return nil
}

func (o *openAICompatible) newRequest(ctx context.Context, messages []domain.Message) (*http.Request, error) {
	payload, err := json.Marshal(chatCompletionRequest{
		Model:       o.ep.Model,
		Messages:    messages,
		Temperature: o.temperature,
		Stream:      false,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	url := strings.TrimRight(o.ep.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.auth {
		req.Header.Set("Authorization", "Bearer "+o.ep.APIKey)
	}
	return req, nil
}

func (o *openAICompatible) parse(body []byte) (string, error) {
	var resp chatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content.String(), nil
}

func hint(env string) string {
	if env == "" {
		return ""
	}
	return "set " + env
}

package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatcore/internal/domain"
)

// Endpoint configures one OpenAI-shaped backend.
type Endpoint struct {
	BaseURL   string
	APIKey    string
	APIKeyEnv string // only used in error hints
	Model     string
}

// AnthropicEndpoint configures the Anthropic messages backend.
type AnthropicEndpoint struct {
	Endpoint
	MaxTokens int
	Version   string
}

// Config configures the router and its backends.
type Config struct {
	Temperature float64
	Timeout     time.Duration
	// MaxRetries bounds extra attempts after a retryable failure; 0 means one attempt.
	MaxRetries   int
	RetryInitial time.Duration
	RetryMax     time.Duration

	LMStudio  Endpoint
	OpenAI    Endpoint
	Anthropic AnthropicEndpoint

	HTTPClient *http.Client
}

// Router dispatches a normalized message list to one of the stateless HTTP engines.
type Router struct {
	cfg      Config
	client   *http.Client
	log      *zap.Logger
	backends map[domain.Engine]backend
}

// backend knows one engine's request shape and response envelope.
type backend interface {
	validate() error
	newRequest(ctx context.Context, messages []domain.Message) (*http.Request, error)
	parse(body []byte) (string, error)
}

// New creates a Router.
func New(cfg Config, log *zap.Logger) *Router {
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryInitial == 0 {
		cfg.RetryInitial = 500 * time.Millisecond
	}
	if cfg.RetryMax == 0 {
		cfg.RetryMax = 8 * time.Second
	}
	if cfg.Anthropic.MaxTokens == 0 {
		cfg.Anthropic.MaxTokens = 1024
	}
	if cfg.Anthropic.Version == "" {
		cfg.Anthropic.Version = "2023-06-01"
	}
	if cfg.OpenAI.BaseURL == "" {
		cfg.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Anthropic.BaseURL == "" {
		cfg.Anthropic.BaseURL = "https://api.anthropic.com/v1"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		cfg:    cfg,
		client: client,
		log:    log.Named("router"),
		backends: map[domain.Engine]backend{
			domain.EngineLMStudio:  &openAICompatible{engine: domain.EngineLMStudio, ep: cfg.LMStudio, temperature: cfg.Temperature},
			domain.EngineOpenAI:    &openAICompatible{engine: domain.EngineOpenAI, ep: cfg.OpenAI, temperature: cfg.Temperature, auth: true},
			domain.EngineAnthropic: &anthropic{ep: cfg.Anthropic},
		},
	}
}

// Route sends messages to engine and returns the flattened reply text.
// Configuration problems fail before any request is made; a non-success
// status yields *HTTPError.
func (r *Router) Route(ctx context.Context, engine domain.Engine, messages []domain.Message) (string, error) {
	if engine.Streaming() {
		return "", ErrStreamingEngine
	}
	b, ok := r.backends[engine]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownEngine, engine)
	}
	if err := b.validate(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	reqID := uuid.NewString()
	log := r.log.With(zap.String("engine", string(engine)), zap.String("request_id", reqID))
	start := time.Now()

	var (
		reply    string
		attempts int
	)
	op := func() error {
		attempts++
		req, err := b.newRequest(ctx, messages)
		if err != nil {
			return backoff.Permanent(err)
		}
		body, err := r.do(req, engine)
		if err != nil {
			var herr *HTTPError
			if errors.As(err, &herr) && !herr.retryable() {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			log.Warn("chat request failed", zap.Int("attempt", attempts), zap.Error(err))
			return err
		}
		reply, err = b.parse(body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%s: decode response: %w", engine, err))
		}
		return nil
	}

	if err := backoff.Retry(op, r.policy(ctx)); err != nil {
		log.Error("chat request gave up", zap.Int("attempts", attempts), zap.Error(err))
		return "", err
	}
	log.Debug("chat reply received", zap.Int("attempts", attempts), zap.Duration("elapsed", time.Since(start)))
	return reply, nil
}

func (r *Router) policy(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.cfg.RetryInitial
	exp.MaxInterval = r.cfg.RetryMax
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(r.cfg.MaxRetries)), ctx)
}

func (r *Router) do(req *http.Request, engine domain.Engine) ([]byte, error) {
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", engine, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", engine, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Engine: engine, StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

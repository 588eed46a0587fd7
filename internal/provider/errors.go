package provider

import (
	"errors"
	"fmt"

	"chatcore/internal/domain"
)

var (
	// ErrStreamingEngine is returned when the live engine is routed over HTTP.
	ErrStreamingEngine = errors.New("engine is served by the streaming session, not the HTTP router")
	// ErrUnknownEngine is returned for an engine the router does not know.
	ErrUnknownEngine = errors.New("unknown engine")
)

// ConfigError reports a missing credential or endpoint. It is returned before
// any network activity.
type ConfigError struct {
	Engine domain.Engine
	Field  string
	Hint   string
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("%s: missing %s", e.Engine, e.Field)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

// HTTPError reports a non-success response from a chat backend.
type HTTPError struct {
	Engine     domain.Engine
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s error: status %d, body: %s", e.Engine, e.StatusCode, e.Body)
}

func (e *HTTPError) retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

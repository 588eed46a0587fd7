package domain

import (
	"fmt"
	"strings"
	"time"
)

// IndexChunk is a slice of source text stored with its embedding.
type IndexChunk struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Source    string    `json:"source"`
	Embedding []float64 `json:"embedding"`
}

// RetrievalIndex is the precomputed embedding index produced by the offline indexer.
// It is treated as read-only once loaded.
type RetrievalIndex struct {
	Model      string       `json:"model"`
	BuiltAt    time.Time    `json:"builtAt"`
	SourceRoot string       `json:"sourceRoot"`
	Chunks     []IndexChunk `json:"chunks"`
}

// Dimension returns the embedding length shared by all chunks, or 0 for an empty index.
func (r *RetrievalIndex) Dimension() int {
	if r == nil || len(r.Chunks) == 0 {
		return 0
	}
	return len(r.Chunks[0].Embedding)
}

// ScoredChunk represents a matching chunk with a relevance score.
type ScoredChunk struct {
	IndexChunk
	Score float64
}

// Role of a chat message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is the provider-agnostic request unit.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ConversationTurn is one entry of the rolling conversation log.
type ConversationTurn struct {
	Role      Role
	Text      string
	Timestamp time.Time
}

// Part is a unit of content sent into a streaming session.
type Part struct {
	Text string `json:"text"`
}

// Engine selects the language-model backend.
type Engine string

const (
	EngineGoogle    Engine = "google"
	EngineLMStudio  Engine = "lmstudio"
	EngineOpenAI    Engine = "openai"
	EngineAnthropic Engine = "anthropic"
)

// Streaming reports whether the engine is served by a persistent session
// rather than a stateless HTTP request.
func (e Engine) Streaming() bool { return e == EngineGoogle }

// ParseEngine validates an engine name. The empty string selects google.
func ParseEngine(s string) (Engine, error) {
	switch e := Engine(strings.ToLower(strings.TrimSpace(s))); e {
	case "":
		return EngineGoogle, nil
	case EngineGoogle, EngineLMStudio, EngineOpenAI, EngineAnthropic:
		return e, nil
	default:
		return "", fmt.Errorf("unknown engine %q", s)
	}
}

// Package chat turns a user message into a grounded prompt and delivers it to
// the active engine, keeping the conversation buffer current.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatcore/internal/conversation"
	"chatcore/internal/domain"
	"chatcore/internal/session"
)

// DefaultSystemPrompt is used when Config.SystemPrompt is blank.
const DefaultSystemPrompt = "You are a helpful assistant."

var (
	// ErrEmptyMessage is returned by Submit for blank input.
	ErrEmptyMessage = errors.New("chat: empty message")

	// ErrNoSession is returned when a streaming engine is configured without a Session.
	ErrNoSession = errors.New("chat: streaming engine has no session")
)

// Searcher retrieves the chunks most similar to a query.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) []domain.ScoredChunk
}

// IndexInfo describes the loaded index for the grounding header.
type IndexInfo interface {
	Info(ctx context.Context) (builtAt time.Time, sourceRoot string, ok bool)
}

// Router sends a conversation to an HTTP chat engine.
type Router interface {
	Route(ctx context.Context, engine domain.Engine, messages []domain.Message) (string, error)
}

// Session is the streaming connection used by the google engine.
type Session interface {
	Send(ctx context.Context, parts []domain.Part) error
	Events() <-chan session.Event
}

// Config selects the engine and shapes the grounded prompt.
type Config struct {
	Engine       domain.Engine
	TopK         int
	SystemPrompt string
}

// Deps are the collaborators of a Service. Session may be nil for HTTP engines.
type Deps struct {
	Searcher Searcher
	Index    IndexInfo
	Router   Router
	Session  Session
	Buffer   *conversation.Buffer
}

// Reply describes what Submit did with a message. For a streaming engine Text
// is empty and the answer arrives later as content events.
type Reply struct {
	Engine    domain.Engine
	Parts     []domain.Part
	Sources   []domain.ScoredChunk
	Text      string
	Streaming bool
}

// Service delivers grounded user messages to the active engine.
type Service struct {
	cfg    Config
	deps   Deps
	log    *zap.Logger
	events chan session.Event
}

// New creates a Service. Zero TopK means 4 and a nil Buffer gets a fresh one.
func New(cfg Config, deps Deps, log *zap.Logger) *Service {
	if cfg.TopK < 1 {
		cfg.TopK = 4
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if deps.Buffer == nil {
		deps.Buffer = conversation.NewBuffer()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{cfg: cfg, deps: deps, log: log.Named("chat"), events: make(chan session.Event, 256)}
}

// Engine returns the configured engine.
func (s *Service) Engine() domain.Engine { return s.cfg.Engine }

// Buffer returns the conversation buffer the service records into.
func (s *Service) Buffer() *conversation.Buffer { return s.deps.Buffer }

// Events re-publishes session events after the buffer has seen them. It is
// closed when Run returns.
func (s *Service) Events() <-chan session.Event { return s.events }

// Submit records the user turn, grounds it with retrieved snippets and sends it
// to the configured engine.
func (s *Service) Submit(ctx context.Context, text string) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, ErrEmptyMessage
	}
	log := s.log.With(zap.String("request_id", uuid.NewString()), zap.String("engine", string(s.cfg.Engine)))

	s.deps.Buffer.AddUser(text)

	var hits []domain.ScoredChunk
	if s.deps.Searcher != nil {
		hits = s.deps.Searcher.Search(ctx, text, s.cfg.TopK)
	}
	if len(hits) == 0 {
		log.Info("no local knowledge hits")
	}
	parts := s.buildParts(ctx, text, hits)
	reply := Reply{Engine: s.cfg.Engine, Parts: parts, Sources: hits}

	if s.cfg.Engine.Streaming() {
		if s.deps.Session == nil {
			return reply, ErrNoSession
		}
		if err := s.deps.Session.Send(ctx, parts); err != nil {
			log.Warn("live send failed", zap.Error(err))
			return reply, fmt.Errorf("send to live session: %w", err)
		}
		reply.Streaming = true
		return reply, nil
	}

	prompt := joinParts(parts)
	answer, err := s.deps.Router.Route(ctx, s.cfg.Engine, []domain.Message{
		{Role: domain.RoleSystem, Content: s.cfg.SystemPrompt},
		{Role: domain.RoleUser, Content: prompt},
	})
	if err != nil {
		log.Error("route failed", zap.Error(err))
		return reply, err
	}
	s.deps.Buffer.AddAssistant(answer)
	reply.Text = answer
	log.Info("reply received", zap.Int("chars", len(answer)), zap.Int("sources", len(hits)))
	return reply, nil
}

func (s *Service) buildParts(ctx context.Context, text string, hits []domain.ScoredChunk) []domain.Part {
	if len(hits) == 0 {
		return []domain.Part{{Text: text}}
	}

	header := "Local knowledge base"
	if s.deps.Index != nil {
		if builtAt, root, ok := s.deps.Index.Info(ctx); ok {
			if root != "" {
				header = "Source root: " + root
			}
			if !builtAt.IsZero() {
				header += " (indexed " + builtAt.Format(time.RFC3339) + ")"
			}
		}
	}

	snippets := make([]string, len(hits))
	for i, h := range hits {
		snippets[i] = strings.TrimSpace(fmt.Sprintf("[%d] %s\n%s", i+1, h.Source, strings.TrimSpace(h.Text)))
	}

	return []domain.Part{
		{Text: header},
		{Text: "Local knowledge snippets:\n" + strings.Join(snippets, "\n\n")},
		{Text: "Respond to the user. If you use the snippets, cite them like [1], [2]. User request: " + text},
	}
}

// Run captures assistant content from the live session into the buffer and
// forwards every event to Events until ctx ends or the session closes.
func (s *Service) Run(ctx context.Context) {
	defer close(s.events)
	if s.deps.Session == nil {
		<-ctx.Done()
		return
	}
	in := s.deps.Session.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			if ev.Kind == session.EventContent {
				for _, p := range ev.Parts {
					if p.Text != "" {
						s.deps.Buffer.AddAssistant(p.Text)
					}
				}
			}
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func joinParts(parts []domain.Part) string {
	texts := make([]string, len(parts))
	for i, p := range parts {
		texts[i] = p.Text
	}
	return strings.Join(texts, "\n\n")
}

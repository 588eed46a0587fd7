package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"chatcore/internal/conversation"
	"chatcore/internal/domain"
	"chatcore/internal/session"
)

type stubSearcher struct {
	hits  []domain.ScoredChunk
	query string
	topK  int
}

func (s *stubSearcher) Search(_ context.Context, query string, topK int) []domain.ScoredChunk {
	s.query, s.topK = query, topK
	return s.hits
}

type stubIndex struct {
	builtAt time.Time
	root    string
	ok      bool
}

func (s stubIndex) Info(context.Context) (time.Time, string, bool) { return s.builtAt, s.root, s.ok }

type stubRouter struct {
	reply    string
	err      error
	engine   domain.Engine
	messages []domain.Message
}

func (r *stubRouter) Route(_ context.Context, engine domain.Engine, messages []domain.Message) (string, error) {
	r.engine, r.messages = engine, messages
	return r.reply, r.err
}

type stubSession struct {
	sent   [][]domain.Part
	err    error
	events chan session.Event
}

func (s *stubSession) Send(_ context.Context, parts []domain.Part) error {
	s.sent = append(s.sent, parts)
	return s.err
}

func (s *stubSession) Events() <-chan session.Event { return s.events }

func hit(id, source, text string, score float64) domain.ScoredChunk {
	return domain.ScoredChunk{IndexChunk: domain.IndexChunk{ID: id, Source: source, Text: text}, Score: score}
}

func TestSubmitEmptyMessage(t *testing.T) {
	svc := New(Config{Engine: domain.EngineLMStudio}, Deps{Router: &stubRouter{}}, zaptest.NewLogger(t))
	_, err := svc.Submit(context.Background(), "  \n ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Zero(t, svc.Buffer().Len())
}

func TestSubmitHTTPEngineWithoutHits(t *testing.T) {
	router := &stubRouter{reply: "Use a prefab."}
	searcher := &stubSearcher{}
	svc := New(Config{Engine: domain.EngineOpenAI}, Deps{Searcher: searcher, Router: router}, zaptest.NewLogger(t))

	reply, err := svc.Submit(context.Background(), "  how do I spawn enemies? ")
	require.NoError(t, err)

	assert.Equal(t, "how do I spawn enemies?", searcher.query)
	assert.Equal(t, 4, searcher.topK)
	assert.Equal(t, domain.EngineOpenAI, router.engine)
	assert.Equal(t, []domain.Message{
		{Role: domain.RoleSystem, Content: DefaultSystemPrompt},
		{Role: domain.RoleUser, Content: "how do I spawn enemies?"},
	}, router.messages)
	assert.Equal(t, "Use a prefab.", reply.Text)
	assert.False(t, reply.Streaming)

	turns := svc.Buffer().Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, domain.RoleUser, turns[0].Role)
	assert.Equal(t, "Use a prefab.", turns[1].Text)
}

func TestSubmitGroundsPromptWithSnippets(t *testing.T) {
	router := &stubRouter{reply: "See [1]."}
	searcher := &stubSearcher{hits: []domain.ScoredChunk{
		hit("a", "docs/spawn.md", "  Spawners live under Systems.  ", 0.9),
		hit("b", "docs/prefab.md", "Prefabs are reusable.", 0.8),
	}}
	built := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc := New(Config{Engine: domain.EngineAnthropic, SystemPrompt: "You are a game dev mentor."}, Deps{
		Searcher: searcher,
		Index:    stubIndex{builtAt: built, root: "/proj/docs", ok: true},
		Router:   router,
	}, zaptest.NewLogger(t))

	reply, err := svc.Submit(context.Background(), "spawn enemies")
	require.NoError(t, err)

	want := "Source root: /proj/docs (indexed 2024-05-01T12:00:00Z)\n\n" +
		"Local knowledge snippets:\n[1] docs/spawn.md\nSpawners live under Systems.\n\n[2] docs/prefab.md\nPrefabs are reusable.\n\n" +
		"Respond to the user. If you use the snippets, cite them like [1], [2]. User request: spawn enemies"
	require.Len(t, router.messages, 2)
	assert.Equal(t, "You are a game dev mentor.", router.messages[0].Content)
	assert.Equal(t, want, router.messages[1].Content)
	assert.Len(t, reply.Sources, 2)
	assert.Len(t, reply.Parts, 3)
}

func TestHeaderFallsBackWithoutIndexInfo(t *testing.T) {
	router := &stubRouter{reply: "ok"}
	svc := New(Config{Engine: domain.EngineLMStudio}, Deps{
		Searcher: &stubSearcher{hits: []domain.ScoredChunk{hit("a", "s", "t", 1)}},
		Index:    stubIndex{},
		Router:   router,
	}, zaptest.NewLogger(t))

	reply, err := svc.Submit(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "Local knowledge base", reply.Parts[0].Text)
}

func TestSubmitRouteErrorSurfaced(t *testing.T) {
	boom := errors.New("openai error: status 500")
	svc := New(Config{Engine: domain.EngineOpenAI}, Deps{Router: &stubRouter{err: boom}}, zaptest.NewLogger(t))

	_, err := svc.Submit(context.Background(), "hello")
	assert.ErrorIs(t, err, boom)
	turns := svc.Buffer().Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, domain.RoleUser, turns[0].Role)
}

func TestSubmitStreamingEngineSendsToSession(t *testing.T) {
	sess := &stubSession{}
	router := &stubRouter{}
	svc := New(Config{Engine: domain.EngineGoogle}, Deps{Router: router, Session: sess}, zaptest.NewLogger(t))

	reply, err := svc.Submit(context.Background(), "hello")
	require.NoError(t, err)
	assert.True(t, reply.Streaming)
	assert.Equal(t, [][]domain.Part{{{Text: "hello"}}}, sess.sent)
	assert.Nil(t, router.messages)
}

func TestSubmitStreamingErrors(t *testing.T) {
	svc := New(Config{Engine: domain.EngineGoogle}, Deps{}, zaptest.NewLogger(t))
	_, err := svc.Submit(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNoSession)

	sess := &stubSession{err: session.ErrNotConnected}
	svc = New(Config{Engine: domain.EngineGoogle}, Deps{Session: sess}, zaptest.NewLogger(t))
	_, err = svc.Submit(context.Background(), "hello")
	assert.ErrorIs(t, err, session.ErrNotConnected)
}

func TestRunCapturesContentAndForwards(t *testing.T) {
	sess := &stubSession{events: make(chan session.Event, 4)}
	buf := conversation.NewBuffer()
	svc := New(Config{Engine: domain.EngineGoogle}, Deps{Session: sess, Buffer: buf}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	sess.events <- session.Event{Kind: session.EventContent, Parts: []domain.Part{{Text: "first"}, {Text: ""}, {Text: "second"}}}
	sess.events <- session.Event{Kind: session.EventState, State: session.Connected}

	first := <-svc.Events()
	assert.Equal(t, session.EventContent, first.Kind)
	second := <-svc.Events()
	assert.Equal(t, session.EventState, second.Kind)

	turns := buf.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, "first", turns[0].Text)
	assert.Equal(t, "second", turns[1].Text)
	assert.Equal(t, domain.RoleAssistant, turns[1].Role)

	close(sess.events)
	<-done
	_, ok := <-svc.Events()
	assert.False(t, ok)
}

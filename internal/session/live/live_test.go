package live

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"chatcore/internal/domain"
	"chatcore/internal/session"
)

type fakeServer struct {
	*httptest.Server
	setup chan []byte
	sent  chan []byte
	key   chan string
}

// newFakeServer scripts one session: acknowledge setup, stream a model turn,
// signal an interruption, wait for one client turn, then close normally.
func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		setup: make(chan []byte, 1),
		sent:  make(chan []byte, 1),
		key:   make(chan string, 1),
	}
	upgrader := websocket.Upgrader{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.key <- r.URL.Query().Get("key")
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		fs.setup <- data

		for _, msg := range []string{
			`{"setupComplete":{}}`,
			`{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"AQID"}},{"text":"Hello there"}]},"turnComplete":true}}`,
			`{"serverContent":{"interrupted":true}}`,
		} {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}

		_, data, err = ws.ReadMessage()
		if err != nil {
			return
		}
		fs.sent <- data
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	}))
	t.Cleanup(fs.Close)
	return fs
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestSessionRoundTrip(t *testing.T) {
	srv := newFakeServer(t)
	b := New(Config{URL: wsURL(srv.Server), APIKey: "k-123"}, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := b.Dial(ctx, "gemini-live-test", session.LiveConfig{
		ResponseModalities: []string{"AUDIO"},
		Voice:              "Puck",
		SystemInstruction:  "Be brief.",
	})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, "k-123", <-srv.key)
	assert.JSONEq(t, `{"setup":{
		"model":"models/gemini-live-test",
		"generationConfig":{"responseModalities":["AUDIO"],"speechConfig":{"voiceConfig":{"prebuiltVoiceConfig":{"voiceName":"Puck"}}}},
		"systemInstruction":{"parts":[{"text":"Be brief."}]}
	}}`, string(<-srv.setup))

	var kinds []session.EventKind
	var logs int
	for ev := range c.Events() {
		switch ev.Kind {
		case session.EventLog:
			logs++
			continue
		case session.EventAudio:
			assert.Equal(t, []byte{1, 2, 3}, ev.Audio)
		case session.EventContent:
			assert.Equal(t, []domain.Part{{Text: "Hello there"}}, ev.Parts)
			assert.True(t, ev.TurnComplete)
		case session.EventInterrupted:
			require.NoError(t, c.Send(ctx, []domain.Part{{Text: "next question"}}))
		}
		kinds = append(kinds, ev.Kind)
	}

	assert.Equal(t, []session.EventKind{
		session.EventOpen,
		session.EventAudio,
		session.EventContent,
		session.EventInterrupted,
		session.EventClose,
	}, kinds)
	assert.Equal(t, 3, logs)
	assert.JSONEq(t, `{"clientContent":{"turns":[{"role":"user","parts":[{"text":"next question"}]}],"turnComplete":true}}`,
		string(<-srv.sent))
}

func TestTurnCompleteInSeparateMessage(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
		for _, msg := range []string{
			`{"setupComplete":{}}`,
			`{"serverContent":{"modelTurn":{"parts":[{"text":"Hello"}]}}}`,
			`{"serverContent":{"turnComplete":true}}`,
		} {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	b := New(Config{URL: wsURL(srv), APIKey: "k"}, zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := b.Dial(ctx, "m", session.LiveConfig{ResponseModalities: []string{"TEXT"}})
	require.NoError(t, err)
	defer c.Close()

	var content []session.Event
	for ev := range c.Events() {
		if ev.Kind == session.EventContent {
			content = append(content, ev)
		}
	}
	require.Len(t, content, 2)
	assert.Equal(t, []domain.Part{{Text: "Hello"}}, content[0].Parts)
	assert.False(t, content[0].TurnComplete)
	assert.Empty(t, content[1].Parts)
	assert.True(t, content[1].TurnComplete)
}

func TestDialValidatesBeforeNetwork(t *testing.T) {
	b := New(Config{URL: "ws://127.0.0.1:1"}, nil)
	_, err := b.Dial(context.Background(), "m", session.LiveConfig{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	b = New(Config{URL: "ws://127.0.0.1:1", APIKey: "k"}, nil)
	_, err = b.Dial(context.Background(), " ", session.LiveConfig{})
	assert.ErrorIs(t, err, ErrMissingModel)
}

func TestDialHandshakeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	b := New(Config{URL: wsURL(srv), APIKey: "bad"}, zaptest.NewLogger(t))
	_, err := b.Dial(context.Background(), "m", session.LiveConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}

func TestCloseEndsEvents(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		_, _, _ = ws.ReadMessage()
		<-hold
	}))
	defer srv.Close()

	b := New(Config{URL: wsURL(srv), APIKey: "k"}, zaptest.NewLogger(t))
	c, err := b.Dial(context.Background(), "m", session.LiveConfig{})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	select {
	case <-drain(c.Events()):
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed")
	}
	assert.Error(t, c.Send(context.Background(), []domain.Part{{Text: "late"}}))
}

func drain(ch <-chan session.Event) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		for range ch {
		}
		close(done)
	}()
	return done
}

// Package live implements the streaming session backend over the Gemini Live
// bidirectional websocket API.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"go.uber.org/zap"

	"chatcore/internal/domain"
	"chatcore/internal/session"
)

// DefaultURL is the Gemini Live bidirectional streaming endpoint.
const DefaultURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

const (
	defaultHandshakeTimeout = 15 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	maxMessageSize          = 16 << 20
)

var (
	// ErrMissingAPIKey is returned by Dial when no API key is configured.
	ErrMissingAPIKey = errors.New("live: missing API key")

	// ErrMissingModel is returned by Dial for a blank model name.
	ErrMissingModel = errors.New("live: missing model")

	errConnClosed = errors.New("live: connection closed")
)

// Config configures the websocket backend. Zero timeouts fall back to
// package defaults and an empty URL dials DefaultURL.
type Config struct {
	URL              string
	APIKey           string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// Backend dials Gemini Live sessions.
type Backend struct {
	cfg    Config
	dialer *websocket.Dialer
	log    *zap.Logger
}

// New creates a Backend. A nil logger discards output.
func New(cfg Config, log *zap.Logger) *Backend {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Backend{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout:  cfg.HandshakeTimeout,
			EnableCompression: true,
		},
		log: log.Named("live"),
	}
}

// Dial opens a websocket, sends the setup message and starts reading. The
// session reports EventOpen once the server acknowledges the setup.
func (b *Backend) Dial(ctx context.Context, model string, cfg session.LiveConfig) (session.Conn, error) {
	if b.cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if strings.TrimSpace(model) == "" {
		return nil, ErrMissingModel
	}
	u, err := url.Parse(b.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("live: parse url: %w", err)
	}
	q := u.Query()
	q.Set("key", b.cfg.APIKey)
	u.RawQuery = q.Encode()

	ws, resp, err := b.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("live: handshake failed: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("live: dial: %w", err)
	}
	ws.SetReadLimit(maxMessageSize)

	c := &conn{
		ws:           ws,
		log:          b.log,
		writeTimeout: b.cfg.WriteTimeout,
		events:       make(chan session.Event, 64),
		done:         make(chan struct{}),
	}
	if err := c.writeJSON(ctx, newSetup(model, cfg)); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("live: send setup: %w", err)
	}
	go c.readLoop()
	return c, nil
}

type conn struct {
	ws           *websocket.Conn
	log          *zap.Logger
	writeTimeout time.Duration

	events    chan session.Event
	done      chan struct{}
	closeOnce sync.Once

	writeMu sync.Mutex
}

func (c *conn) Events() <-chan session.Event { return c.events }

// Send submits parts as one complete user turn.
func (c *conn) Send(ctx context.Context, parts []domain.Part) error {
	msg := clientContentMessage{ClientContent: clientContent{
		Turns:        []content{{Role: "user", Parts: textParts(parts)}},
		TurnComplete: true,
	}}
	return c.writeJSON(ctx, msg)
}

// Close shuts the socket down without waiting for the reader, which closes
// Events on its way out.
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *conn) closing() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *conn) writeJSON(ctx context.Context, v any) error {
	if c.closing() {
		return errConnClosed
	}
	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteJSON(v)
}

func (c *conn) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			switch {
			case c.closing(), websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				c.emit(session.Event{Kind: session.EventClose})
			default:
				c.log.Warn("read failed", zap.Error(err))
				c.emit(session.Event{Kind: session.EventError, Err: err})
			}
			_ = c.ws.Close()
			return
		}
		c.dispatch(data)
	}
}

func (c *conn) dispatch(data []byte) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.emit(session.Event{Kind: session.EventLog, Message: "server.undecodable: " + err.Error()})
		return
	}
	c.emit(session.Event{Kind: session.EventLog, Message: msg.label()})

	switch {
	case msg.SetupComplete != nil:
		c.emit(session.Event{Kind: session.EventOpen})
	case msg.ServerContent != nil:
		sc := msg.ServerContent
		if sc.Interrupted {
			c.emit(session.Event{Kind: session.EventInterrupted})
		}
		var text []domain.Part
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				switch {
				case p.InlineData != nil && strings.HasPrefix(p.InlineData.MimeType, "audio/pcm"):
					c.emit(session.Event{Kind: session.EventAudio, Audio: p.InlineData.Data})
				case p.Text != "":
					text = append(text, domain.Part{Text: p.Text})
				}
			}
		}
		// a bare turnComplete still ends the turn for listeners
		if len(text) > 0 || sc.TurnComplete {
			c.emit(session.Event{Kind: session.EventContent, Parts: text, TurnComplete: sc.TurnComplete})
		}
	}
}

func (c *conn) emit(ev session.Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

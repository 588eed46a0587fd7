package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatcore/internal/domain"
)

const (
	// DefaultReconnectDelay is the pause before an automatic reconnect.
	DefaultReconnectDelay = 1200 * time.Millisecond
	// DefaultRecapChars bounds the replayed recap.
	DefaultRecapChars = 1800

	recapSendTimeout = 10 * time.Second
)

type stopper interface {
	Stop() bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithReconnectDelay overrides the automatic reconnect delay.
func WithReconnectDelay(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.reconnectDelay = d
		}
	}
}

// WithRecap replays a recap of recent turns into every freshly opened session.
func WithRecap(src RecapSource, maxChars int) Option {
	return func(m *Manager) {
		m.recap = src
		if maxChars > 0 {
			m.recapChars = maxChars
		}
	}
}

// WithPlayer routes inbound audio to p.
func WithPlayer(p AudioPlayer) Option {
	return func(m *Manager) { m.player = p }
}

// WithEventBuffer sets the capacity of the outbound event channel.
func WithEventBuffer(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.events = make(chan Event, n)
		}
	}
}

// Manager owns the lifecycle of the streaming connection: connect, disconnect,
// automatic reconnect, audio hookup and recap replay. Consumers read
// everything that happens from Events.
type Manager struct {
	backend        Backend
	log            *zap.Logger
	reconnectDelay time.Duration
	recap          RecapSource
	recapChars     int
	player         AudioPlayer
	afterFunc      func(time.Duration, func()) stopper

	events chan Event
	wg     sync.WaitGroup

	mu            sync.Mutex
	state         State
	autoReconnect bool
	model         string
	cfg           LiveConfig
	conn          Conn
	attempt       uint64
	dialCancel    context.CancelFunc
	timer         stopper
	timerSeq      uint64
	closed        bool
}

// New creates a Manager for backend.
func New(backend Backend, log *zap.Logger, opts ...Option) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		backend:        backend,
		log:            log.Named("session"),
		reconnectDelay: DefaultReconnectDelay,
		recapChars:     DefaultRecapChars,
		events:         make(chan Event, 256),
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Events returns the outbound event channel. It is closed by Close.
func (m *Manager) Events() <-chan Event { return m.events }

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether the session is open.
func (m *Manager) Connected() bool { return m.State() == Connected }

// Volume returns the current output level, or 0 without a player.
func (m *Manager) Volume() float64 {
	if m.player == nil {
		return 0
	}
	return m.player.Volume()
}

// Connect opens a session and arms automatic reconnection. It is a no-op while
// an attempt is already in progress; an open session is replaced.
func (m *Manager) Connect(ctx context.Context, model string, cfg LiveConfig) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state == Connecting {
		m.mu.Unlock()
		return nil
	}
	m.stopTimerLocked()
	old := m.detachLocked()
	m.autoReconnect = true
	m.model, m.cfg = model, cfg
	m.mu.Unlock()

	m.closeConn(old)
	return m.dial(ctx, false)
}

// Disconnect stops reconnection for good, cancels any pending timer or
// in-flight dial, and tears down the session.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.autoReconnect = false
	m.stopTimerLocked()
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	m.attempt++
	old := m.detachLocked()
	m.setStateLocked(Disconnected)
	m.mu.Unlock()

	m.closeConn(old)
}

// Send forwards parts into the open session.
func (m *Manager) Send(ctx context.Context, parts []domain.Part) error {
	m.mu.Lock()
	conn, state := m.conn, m.state
	m.mu.Unlock()
	if state != Connected || conn == nil {
		return ErrNotConnected
	}
	return conn.Send(ctx, parts)
}

// Close disconnects, waits for session goroutines and closes Events.
func (m *Manager) Close() {
	m.Disconnect()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()
	m.wg.Wait()
	close(m.events)
}

func (m *Manager) dial(ctx context.Context, auto bool) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.attempt++
	gen := m.attempt
	dialCtx, cancel := context.WithCancel(ctx)
	m.dialCancel = cancel
	model, cfg := m.model, m.cfg
	m.setStateLocked(Connecting)
	m.mu.Unlock()

	attemptID := uuid.NewString()
	log := m.log.With(zap.String("attempt", attemptID), zap.String("model", model), zap.Bool("auto", auto))
	log.Info("connecting")

	conn, err := m.backend.Dial(dialCtx, model, cfg)
	cancel()

	m.mu.Lock()
	if gen != m.attempt || m.closed {
		m.mu.Unlock()
		m.closeConn(conn)
		log.Info("connect attempt superseded")
		return ErrDisconnected
	}
	m.dialCancel = nil
	if err != nil {
		log.Warn("connect failed", zap.Error(err))
		m.setStateLocked(Disconnected)
		m.emitLocked(Event{Kind: EventError, Err: err})
		if auto && m.autoReconnect {
			m.scheduleReconnectLocked()
		} else {
			m.autoReconnect = false
		}
		m.mu.Unlock()
		return err
	}

	m.conn = conn
	m.wg.Add(1)
	go m.pump(conn)
	m.mu.Unlock()
	return nil
}

// pump delivers one connection's events until its channel closes. Events from
// a connection that is no longer current are dropped.
func (m *Manager) pump(conn Conn) {
	defer m.wg.Done()
	for ev := range conn.Events() {
		m.handle(conn, ev)
	}
	m.handle(conn, Event{Kind: EventClose})
}

func (m *Manager) handle(conn Conn, ev Event) {
	m.mu.Lock()
	if conn != m.conn {
		m.mu.Unlock()
		return
	}

	switch ev.Kind {
	case EventOpen:
		edge := m.state != Connected
		m.setStateLocked(Connected)
		m.emitLocked(ev)
		m.mu.Unlock()
		m.log.Info("connected")
		if edge {
			m.replayRecap(conn)
		}

	case EventClose, EventError:
		if ev.Kind == EventError {
			m.log.Error("session error", zap.Error(ev.Err))
		} else {
			m.log.Info("session closed", zap.Bool("auto_reconnect", m.autoReconnect))
		}
		m.emitLocked(ev)
		old := m.detachLocked()
		m.setStateLocked(Disconnected)
		if m.autoReconnect {
			m.scheduleReconnectLocked()
		}
		m.mu.Unlock()
		m.closeConn(old)

	case EventInterrupted:
		m.emitLocked(ev)
		m.mu.Unlock()
		if m.player != nil {
			m.player.Stop()
			m.emit(Event{Kind: EventVolume, Volume: 0})
		}

	case EventAudio:
		m.emitLocked(ev)
		m.mu.Unlock()
		if m.player != nil {
			m.player.AddPCM16(ev.Audio)
			m.emit(Event{Kind: EventVolume, Volume: m.player.Volume()})
		}

	case EventLog:
		m.emitLocked(ev)
		m.mu.Unlock()
		m.log.Debug("backend", zap.String("message", ev.Message))

	default:
		m.emitLocked(ev)
		m.mu.Unlock()
	}
}

func (m *Manager) replayRecap(conn Conn) {
	if m.recap == nil {
		return
	}
	recap := m.recap.Recap(m.recapChars)
	if strings.TrimSpace(recap) == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recapSendTimeout)
	defer cancel()
	text := "Context recap from previous session:\n" + recap + "\nContinue naturally."
	if err := conn.Send(ctx, []domain.Part{{Text: text}}); err != nil {
		m.log.Warn("recap replay failed", zap.Error(err))
		return
	}
	m.log.Debug("recap replayed", zap.Int("chars", len(recap)))
}

// scheduleReconnectLocked arms the single reconnect timer, replacing any pending one.
func (m *Manager) scheduleReconnectLocked() {
	m.stopTimerLocked()
	m.timerSeq++
	seq := m.timerSeq
	m.timer = m.afterFunc(m.reconnectDelay, func() { m.fireReconnect(seq) })
	m.log.Info("reconnect scheduled", zap.Duration("delay", m.reconnectDelay))
}

func (m *Manager) fireReconnect(seq uint64) {
	m.mu.Lock()
	if seq != m.timerSeq || m.timer == nil || !m.autoReconnect || m.closed || m.state != Disconnected {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.mu.Unlock()

	if err := m.dial(context.Background(), true); err != nil {
		m.log.Warn("reconnect failed", zap.Error(err))
	}
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerSeq++
}

// detachLocked forgets the current connection and returns it. The caller
// closes it after releasing m.mu, since Close may wait on an in-flight write.
func (m *Manager) detachLocked() Conn {
	conn := m.conn
	m.conn = nil
	return conn
}

func (m *Manager) closeConn(conn Conn) {
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil {
		m.log.Debug("close session", zap.Error(err))
	}
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	m.emitLocked(Event{Kind: EventState, State: s})
}

func (m *Manager) emit(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitLocked(ev)
}

func (m *Manager) emitLocked(ev Event) {
	if m.closed {
		return
	}
	select {
	case m.events <- ev:
	default:
		m.log.Debug("event buffer full, dropping", zap.String("kind", string(ev.Kind)))
	}
}

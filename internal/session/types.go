package session

import (
	"context"
	"errors"

	"chatcore/internal/domain"
)

var (
	// ErrNotConnected is returned by Send outside the Connected state.
	ErrNotConnected = errors.New("session: not connected")
	// ErrDisconnected is returned by Connect when Disconnect or a newer Connect
	// superseded the attempt.
	ErrDisconnected = errors.New("session: disconnected while connecting")
	// ErrClosed is returned once the manager has been closed.
	ErrClosed = errors.New("session: manager closed")
)

// State of the streaming connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// EventKind names a session event.
type EventKind string

const (
	EventOpen        EventKind = "open"
	EventClose       EventKind = "close"
	EventError       EventKind = "error"
	EventAudio       EventKind = "audio"
	EventInterrupted EventKind = "interrupted"
	EventContent     EventKind = "content"
	EventLog         EventKind = "log"

	// Published by the Manager only.
	EventState  EventKind = "state"
	EventVolume EventKind = "volume"
)

// Event is a backend-originated or manager-originated notification.
type Event struct {
	Kind         EventKind
	Parts        []domain.Part
	TurnComplete bool
	Audio        []byte
	Err          error
	Message      string
	State        State
	Volume       float64
}

// LiveConfig is the per-session setup sent to the streaming backend.
type LiveConfig struct {
	ResponseModalities []string
	SystemInstruction  string
	Voice              string
}

// Conn is one live backend session. Events must be closed once the session
// ends, whether by Close or by the remote side.
type Conn interface {
	Events() <-chan Event
	Send(ctx context.Context, parts []domain.Part) error
	Close() error
}

// Backend opens live sessions.
type Backend interface {
	Dial(ctx context.Context, model string, cfg LiveConfig) (Conn, error)
}

// AudioPlayer plays inbound PCM and supports barge-in.
type AudioPlayer interface {
	AddPCM16(b []byte)
	Stop()
	Volume() float64
}

// RecapSource renders recent conversation for replay after a reconnect.
type RecapSource interface {
	Recap(maxChars int) string
}

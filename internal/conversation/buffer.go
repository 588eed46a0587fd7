package conversation

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"chatcore/internal/domain"
)

const (
	// MaxTurns is how many turns the buffer retains.
	MaxTurns = 30
	// DefaultRecapChars bounds Recap when callers pass a non-positive limit.
	DefaultRecapChars = 1800
)

// Buffer is a bounded rolling log of conversation turns.
type Buffer struct {
	mu    sync.Mutex
	turns []domain.ConversationTurn
	now   func() time.Time
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{now: time.Now}
}

// AddUser appends a user turn.
func (b *Buffer) AddUser(text string) { b.add(domain.RoleUser, text) }

// AddAssistant appends an assistant turn.
func (b *Buffer) AddAssistant(text string) { b.add(domain.RoleAssistant, text) }

func (b *Buffer) add(role domain.Role, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.turns = append(b.turns, domain.ConversationTurn{Role: role, Text: text, Timestamp: b.now()})
	if over := len(b.turns) - MaxTurns; over > 0 {
		// copy down so the backing array does not grow without bound
		n := copy(b.turns, b.turns[over:])
		clear(b.turns[n:])
		b.turns = b.turns[:n]
	}
}

// Turns returns a copy of the retained turns, oldest first.
func (b *Buffer) Turns() []domain.ConversationTurn {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.ConversationTurn, len(b.turns))
	copy(out, b.turns)
	return out
}

// Len returns the number of retained turns.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.turns)
}

// Clear drops all turns.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.turns = nil
}

// Recap renders the retained turns as "User: ..." / "Assistant: ..." lines.
// When longer than maxChars characters only the most recent maxChars are kept.
func (b *Buffer) Recap(maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultRecapChars
	}
	b.mu.Lock()
	lines := make([]string, len(b.turns))
	for i, t := range b.turns {
		lines[i] = label(t.Role) + ": " + t.Text
	}
	b.mu.Unlock()

	recap := strings.Join(lines, "\n")
	if n := utf8.RuneCountInString(recap); n > maxChars {
		r := []rune(recap)
		recap = string(r[n-maxChars:])
	}
	return recap
}

func label(r domain.Role) string {
	if r == domain.RoleUser {
		return "User"
	}
	return "Assistant"
}

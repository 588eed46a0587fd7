package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"chatcore/internal/chat"
	"chatcore/internal/domain"
	"chatcore/internal/session"
)

const submitTimeout = 2 * time.Minute

// ChatPort is the TUI-facing subset of the chat service.
type ChatPort interface {
	Engine() domain.Engine
	Submit(ctx context.Context, text string) (chat.Reply, error)
	Events() <-chan session.Event
}

// SearchPort backs the /search command.
type SearchPort interface {
	Search(ctx context.Context, query string, topK int) []domain.ScoredChunk
}

type replyMsg struct {
	reply chat.Reply
	err   error
}

type searchMsg struct {
	query string
	hits  []domain.ScoredChunk
}

type eventMsg struct{ ev session.Event }

type eventsClosedMsg struct{}

type mode int

const (
	modeChat mode = iota
	modeResults
)

// Model is the Bubble Tea model for the chat console.
type Model struct {
	chat     ChatPort
	search   SearchPort
	input    textinput.Model
	viewport viewport.Model

	mode       mode
	transcript []string
	results    []domain.ScoredChunk
	cursor     int
	lastQuery  string

	banner  string
	status  string
	state   session.State
	volume  float64
	pending bool
	ready   bool
}

// New creates a new TUI model instance. banner is shown under the title, for
// example the loaded index description.
func New(c ChatPort, search SearchPort, banner string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask something, /search <query>, or /chat to return"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{chat: c, search: search, input: ti, viewport: vp, banner: banner, status: "Ready."}
}

// Init starts the cursor blink and the session event subscription.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForEvent(m.chat.Events()))
}

func waitForEvent(ch <-chan session.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg{ev: ev}
	}
}

func submit(c ChatPort, text string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
		defer cancel()
		reply, err := c.Submit(ctx, text)
		return replyMsg{reply: reply, err: err}
	}
}

func runSearch(s SearchPort, query string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
		defer cancel()
		return searchMsg{query: query, hits: s.Search(ctx, query, 10)}
	}
}

// Update handles key, window, reply and session events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		totalHeaderLines := 3 // title, banner, session line
		totalFooterLines := 1
		reserved := totalHeaderLines + totalFooterLines + qh + 1
		vh := msg.Height - reserved
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.refresh()
		return m, nil

	case replyMsg:
		m.pending = false
		switch {
		case msg.err != nil:
			m.status = "Error: " + msg.err.Error()
		case msg.reply.Streaming:
			m.status = fmt.Sprintf("Sent to live session (%d sources)", len(msg.reply.Sources))
		default:
			m.transcript = append(m.transcript, "Assistant: "+msg.reply.Text)
			m.status = fmt.Sprintf("Reply from %s (%d sources)", msg.reply.Engine, len(msg.reply.Sources))
		}
		m.refresh()
		return m, nil

	case searchMsg:
		m.pending = false
		m.mode = modeResults
		m.results = msg.hits
		m.cursor = 0
		m.lastQuery = msg.query
		m.status = fmt.Sprintf("Results for %q", msg.query)
		m.refresh()
		return m, nil

	case eventMsg:
		m.applyEvent(msg.ev)
		m.refresh()
		return m, waitForEvent(m.chat.Events())

	case eventsClosedMsg:
		m.state = session.Disconnected
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text == "" || m.pending {
				return m, nil
			}
			m.input.SetValue("")
			return m.handleInput(text)
		case "down":
			if m.mode == modeResults && len(m.results) > 0 {
				m.cursor = (m.cursor + 1) % len(m.results)
				m.refresh()
				return m, nil
			}
		case "up":
			if m.mode == modeResults && len(m.results) > 0 {
				m.cursor = (m.cursor - 1 + len(m.results)) % len(m.results)
				m.refresh()
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleInput(text string) (tea.Model, tea.Cmd) {
	switch {
	case text == "/quit":
		return m, tea.Quit
	case text == "/chat":
		m.mode = modeChat
		m.refresh()
		return m, nil
	case strings.HasPrefix(text, "/search"):
		q := strings.TrimSpace(strings.TrimPrefix(text, "/search"))
		if q == "" || m.search == nil {
			m.status = "Usage: /search <query>"
			return m, nil
		}
		m.pending = true
		m.status = "Searching..."
		return m, runSearch(m.search, q)
	}
	m.mode = modeChat
	m.pending = true
	m.transcript = append(m.transcript, "You: "+text)
	m.status = "Sending..."
	m.refresh()
	return m, submit(m.chat, text)
}

func (m *Model) applyEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventContent:
		for _, p := range ev.Parts {
			if p.Text != "" {
				m.transcript = append(m.transcript, "Assistant: "+p.Text)
			}
		}
	case session.EventState:
		m.state = ev.State
		if ev.State == session.Disconnected {
			m.volume = 0
		}
	case session.EventVolume:
		m.volume = ev.Volume
	case session.EventInterrupted:
		m.transcript = append(m.transcript, interruptStyle.Render("(interrupted)"))
	case session.EventError:
		if ev.Err != nil {
			m.status = "Session error: " + ev.Err.Error()
		}
	}
}

// View renders the title, session line, transcript or results, input and status.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("chatcore")
	banner := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.banner)
	line := m.sessionLine()
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	body := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + banner + "\n" + line + "\n" + body + "\n" + input + "\n" + status
}

func (m Model) sessionLine() string {
	engine := m.chat.Engine()
	if !engine.Streaming() {
		return sessionStyle.Render(fmt.Sprintf("engine=%s", engine))
	}
	return sessionStyle.Render(fmt.Sprintf("engine=%s  session=%s  volume %s", engine, m.state, volumeBar(m.volume)))
}

func volumeBar(v float64) string {
	n := int(v*10 + 0.5)
	if n > 10 {
		n = 10
	}
	if n < 0 {
		n = 0
	}
	return "[" + strings.Repeat("#", n) + strings.Repeat(".", 10-n) + "]"
}

func (m *Model) refresh() {
	if m.mode == modeResults {
		m.viewport.SetContent(m.renderCurrentResult())
		return
	}
	if len(m.transcript) == 0 {
		m.viewport.SetContent("No messages yet.")
		return
	}
	m.viewport.SetContent(strings.Join(m.transcript, "\n\n"))
	m.viewport.GotoBottom()
}

func (m Model) renderCurrentResult() string {
	if len(m.results) == 0 {
		return "No results."
	}
	r := m.results[m.cursor]
	title := fmt.Sprintf("Result %d/%d  score=%.3f  %s", m.cursor+1, len(m.results), r.Score, r.Source)
	body := highlightBestSentence(r.Text, m.lastQuery)
	return title + "\n\n" + body
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	sessionStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	interruptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Italic(true)
	unicodeWordRe  = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe     = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	bestIdx := 0
	bestScore := -1
	for i, s := range sentences {
		score := tokenOverlapScore(qTokens, s)
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx {
			sentences[i] = highlightStyle.Render(sent)
		} else {
			sentences[i] = sent
		}
	}
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	tokens := unicodeWordRe.FindAllString(strings.ToLower(sentence), -1)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}

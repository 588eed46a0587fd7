package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"chatcore/internal/domain"
	"chatcore/internal/session"
	"chatcore/internal/tui"
)

var (
	searchLimit int
	searchJSON  bool
	askWait     time.Duration
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the interactive chat console",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "Send one grounded message and print the reply",
	Long: `Send one grounded message and print the reply.

With the google engine the live session is opened with TEXT responses,
whatever live.response_modalities says, since audio cannot be printed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Show the index chunks most similar to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var indexInfoCmd = &cobra.Command{
	Use:   "index-info",
	Short: "Describe the loaded retrieval index",
	Args:  cobra.NoArgs,
	RunE:  runIndexInfo,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 4, "maximum number of results")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	askCmd.Flags().DurationVar(&askWait, "wait", 20*time.Second, "how long to collect a live session reply")
	rootCmd.AddCommand(chatCmd, askCmd, searchCmd, indexInfoCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	a, err := setup(true)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.session != nil {
		if err := a.session.Connect(ctx, a.cfg.Live.Model, a.liveConfig()); err != nil {
			return fmt.Errorf("connect live session: %w", err)
		}
	}
	go a.chat.Run(ctx)

	m := tui.New(a.chat, a.searcher, describeIndex(ctx, a))
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := setup(false)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	text := strings.Join(args, " ")

	if a.session == nil {
		reply, err := a.chat.Submit(ctx, text)
		if err != nil {
			return err
		}
		cmd.Println(reply.Text)
		printSources(cmd, reply.Sources)
		return nil
	}

	if err := a.session.Connect(ctx, a.cfg.Live.Model, a.askLiveConfig()); err != nil {
		return fmt.Errorf("connect live session: %w", err)
	}
	runCtx, stop := context.WithTimeout(ctx, askWait)
	defer stop()
	go a.chat.Run(runCtx)

	if err := waitConnected(runCtx, a.chat.Events()); err != nil {
		return err
	}
	reply, err := a.chat.Submit(runCtx, text)
	if err != nil {
		return err
	}
	for ev := range a.chat.Events() {
		if ev.Kind != session.EventContent {
			continue
		}
		for _, p := range ev.Parts {
			cmd.Print(p.Text)
		}
		if ev.TurnComplete {
			break
		}
	}
	cmd.Println()
	printSources(cmd, reply.Sources)
	return nil
}

func waitConnected(ctx context.Context, events <-chan session.Event) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("live session did not open: %w", ctx.Err())
		case ev, ok := <-events:
			if !ok {
				return errors.New("live session closed before opening")
			}
			if ev.Kind == session.EventOpen {
				return nil
			}
		}
	}
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := setup(false)
	if err != nil {
		return err
	}
	defer a.close()

	query := strings.Join(args, " ")
	hits := a.searcher.Search(cmd.Context(), query, searchLimit)
	if searchJSON {
		data, err := json.MarshalIndent(hits, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}
	if len(hits) == 0 {
		cmd.Println("No results found.")
		return nil
	}
	for i, h := range hits {
		cmd.Printf("  [%d] %s (%.3f)\n", i+1, h.Source, h.Score)
		cmd.Printf("      %s\n", snippet(h.Text, 160))
	}
	return nil
}

func runIndexInfo(cmd *cobra.Command, _ []string) error {
	a, err := setup(false)
	if err != nil {
		return err
	}
	defer a.close()

	idx := a.loader.Load(cmd.Context())
	if idx == nil {
		cmd.Printf("No index available at %s\n", a.cfg.Index.Location)
		return nil
	}
	cmd.Printf("Location:    %s\n", a.cfg.Index.Location)
	cmd.Printf("Model:       %s\n", idx.Model)
	if !idx.BuiltAt.IsZero() {
		cmd.Printf("Built at:    %s\n", idx.BuiltAt.Format(time.RFC3339))
	}
	if idx.SourceRoot != "" {
		cmd.Printf("Source root: %s\n", idx.SourceRoot)
	}
	cmd.Printf("Chunks:      %d\n", len(idx.Chunks))
	cmd.Printf("Dimension:   %d\n", idx.Dimension())
	return nil
}

func describeIndex(ctx context.Context, a *app) string {
	idx := a.loader.Load(ctx)
	if idx == nil {
		return fmt.Sprintf("engine %s, no local index", a.engine)
	}
	return fmt.Sprintf("engine %s, %d chunks from %s", a.engine, len(idx.Chunks), a.cfg.Index.Location)
}

func printSources(cmd *cobra.Command, hits []domain.ScoredChunk) {
	if len(hits) == 0 {
		return
	}
	cmd.Println()
	cmd.Println("Sources:")
	for i, h := range hits {
		cmd.Printf("  [%d] %s (%.3f)\n", i+1, h.Source, h.Score)
	}
}

func snippet(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit]) + "..."
}

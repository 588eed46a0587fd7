package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"chatcore/internal/audio"
	"chatcore/internal/chat"
	"chatcore/internal/config"
	"chatcore/internal/conversation"
	"chatcore/internal/domain"
	"chatcore/internal/embedding"
	"chatcore/internal/embedding/gemini"
	"chatcore/internal/embedding/openai"
	"chatcore/internal/index"
	"chatcore/internal/logger"
	"chatcore/internal/provider"
	"chatcore/internal/retrieval"
	"chatcore/internal/session"
	"chatcore/internal/session/live"
)

// app holds the assembled components for one command invocation.
type app struct {
	cfg      *config.AppConfig
	log      *zap.Logger
	engine   domain.Engine
	loader   *index.Loader
	searcher *retrieval.Searcher
	router   *provider.Router
	buffer   *conversation.Buffer
	player   *audio.Streamer
	session  *session.Manager
	chat     *chat.Service
	closers  []io.Closer
}

func newApp(cfg *config.AppConfig, engineFlag string, quiet bool) (*app, error) {
	engineName := cfg.Engine
	if engineFlag != "" {
		engineName = engineFlag
	}
	engine, err := domain.ParseEngine(engineName)
	if err != nil {
		return nil, err
	}

	logCfg := cfg.Log
	logCfg.Quiet = quiet
	log, err := logger.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &app{cfg: cfg, log: log, engine: engine, buffer: conversation.NewBuffer()}

	a.loader = index.NewLoader(index.Config{
		Location: cfg.Index.Location,
		Timeout:  time.Duration(cfg.Index.TimeoutSecs) * time.Second,
	}, log)
	a.searcher = retrieval.NewSearcher(a.loader, a.newEmbedder(), log)

	a.router = provider.New(provider.Config{
		Temperature: cfg.Providers.Temperature,
		Timeout:     time.Duration(cfg.Providers.TimeoutSecs) * time.Second,
		MaxRetries:  cfg.Providers.MaxRetries,
		LMStudio: provider.Endpoint{
			BaseURL: cfg.Providers.LMStudio.BaseURL,
			Model:   cfg.Providers.LMStudio.Model,
		},
		OpenAI: provider.Endpoint{
			BaseURL:   cfg.Providers.OpenAI.BaseURL,
			APIKey:    config.Secret(cfg.Providers.OpenAI.APIKeyEnv),
			APIKeyEnv: cfg.Providers.OpenAI.APIKeyEnv,
			Model:     cfg.Providers.OpenAI.Model,
		},
		Anthropic: provider.AnthropicEndpoint{
			Endpoint: provider.Endpoint{
				BaseURL:   cfg.Providers.Anthropic.BaseURL,
				APIKey:    config.Secret(cfg.Providers.Anthropic.APIKeyEnv),
				APIKeyEnv: cfg.Providers.Anthropic.APIKeyEnv,
				Model:     cfg.Providers.Anthropic.Model,
			},
			MaxTokens: cfg.Providers.Anthropic.MaxTokens,
		},
	}, log)

	deps := chat.Deps{Searcher: a.searcher, Index: a.loader, Router: a.router, Buffer: a.buffer}
	if engine.Streaming() {
		if err := a.initSession(); err != nil {
			a.close()
			return nil, err
		}
		deps.Session = a.session
	}
	a.chat = chat.New(chat.Config{
		Engine:       engine,
		TopK:         cfg.Index.TopK,
		SystemPrompt: cfg.Chat.SystemPrompt,
	}, deps, log)
	return a, nil
}

// newEmbedder returns nil when no embedder can be built; retrieval then degrades to no hits.
func (a *app) newEmbedder() embedding.Embedder {
	ec := a.cfg.Embedder
	timeout := time.Duration(ec.TimeoutSecs) * time.Second
	var (
		next embedding.Embedder
		err  error
	)
	switch ec.Type {
	case "openai":
		next, err = openai.NewClient(openai.Config{
			BaseURL: ec.BaseURL,
			APIKey:  config.Secret(ec.APIKeyEnv),
			Timeout: timeout,
		})
	case "gemini", "":
		next, err = gemini.NewClient(gemini.Config{
			BaseURL: ec.BaseURL,
			APIKey:  config.Secret(ec.APIKeyEnv),
			Timeout: timeout,
		})
	default:
		err = fmt.Errorf("unknown embedder: %s", ec.Type)
	}
	if err != nil {
		a.log.Warn("retrieval disabled", zap.String("embedder", ec.Type), zap.Error(err))
		return nil
	}
	return embedding.NewCached(next, time.Duration(ec.CacheMins)*time.Minute)
}

func (a *app) initSession() error {
	lc := a.cfg.Live
	var sink audio.Sink = audio.Discard
	if lc.AudioOut != "" {
		f, err := os.OpenFile(lc.AudioOut, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("open audio output: %w", err)
		}
		a.closers = append(a.closers, f)
		sink = audio.NewWriterSink(f)
	}
	a.player = audio.NewStreamer(sink)

	backend := live.New(live.Config{URL: lc.URL, APIKey: config.Secret(lc.APIKeyEnv)}, a.log)
	a.session = session.New(backend, a.log,
		session.WithReconnectDelay(time.Duration(lc.ReconnectDelayMs)*time.Millisecond),
		session.WithRecap(a.buffer, lc.RecapChars),
		session.WithPlayer(a.player),
	)
	return nil
}

func (a *app) liveConfig() session.LiveConfig {
	return session.LiveConfig{
		ResponseModalities: a.cfg.Live.ResponseModalities,
		Voice:              a.cfg.Live.Voice,
		SystemInstruction:  a.cfg.Chat.SystemPrompt,
	}
}

// askLiveConfig is liveConfig with text replies and no speech settings, for
// one-shot printing.
func (a *app) askLiveConfig() session.LiveConfig {
	cfg := a.liveConfig()
	cfg.ResponseModalities = []string{"TEXT"}
	cfg.Voice = ""
	return cfg
}

func (a *app) close() {
	if a.session != nil {
		a.session.Close()
	}
	if a.player != nil {
		a.player.Close()
	}
	for _, c := range a.closers {
		_ = c.Close()
	}
	_ = a.log.Sync()
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"chatcore/internal/logger"
)

// IndexConfig locates the precomputed embedding index.
type IndexConfig struct {
	Location    string `yaml:"location"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	TopK        int    `yaml:"top_k"`
}

// EmbedderConfig selects and configures the query embedder.
type EmbedderConfig struct {
	Type        string `yaml:"type"`
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	CacheMins   int    `yaml:"cache_mins"`
}

// LMStudioConfig configures the local OpenAI-compatible endpoint.
type LMStudioConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// OpenAIConfig configures the hosted OpenAI chat endpoint.
type OpenAIConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
}

// AnthropicConfig configures the Anthropic messages endpoint.
type AnthropicConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// ProvidersConfig holds the stateless HTTP engines and their shared request policy.
type ProvidersConfig struct {
	Temperature float64         `yaml:"temperature"`
	TimeoutSecs int             `yaml:"timeout_secs"`
	MaxRetries  int             `yaml:"max_retries"` // 0 means default, -1 a single attempt
	LMStudio    LMStudioConfig  `yaml:"lmstudio"`
	OpenAI      OpenAIConfig    `yaml:"openai"`
	Anthropic   AnthropicConfig `yaml:"anthropic"`
}

// LiveConfig configures the streaming engine.
type LiveConfig struct {
	URL                string   `yaml:"url"`
	APIKeyEnv          string   `yaml:"api_key_env"`
	Model              string   `yaml:"model"`
	ResponseModalities []string `yaml:"response_modalities"`
	Voice              string   `yaml:"voice"`
	ReconnectDelayMs   int      `yaml:"reconnect_delay_ms"`
	RecapChars         int      `yaml:"recap_chars"`
	AudioOut           string   `yaml:"audio_out"`
}

// ChatConfig holds prompt-level settings.
type ChatConfig struct {
	SystemPrompt string `yaml:"system_prompt"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Engine    string          `yaml:"engine"`
	Index     IndexConfig     `yaml:"index"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Providers ProvidersConfig `yaml:"providers"`
	Live      LiveConfig      `yaml:"live"`
	Chat      ChatConfig      `yaml:"chat"`
	Log       logger.Config   `yaml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// Environment overrides are applied after the file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/chatcore/config.yaml.
// If neither exists, it writes defaults to ~/.config/chatcore/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	applyEnvOverrides(cfg)
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Secret resolves an API key from the environment variable named by envName.
func Secret(envName string) string {
	if envName == "" {
		return ""
	}
	return os.Getenv(envName)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "chatcore", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{Engine: "google"}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Engine == "" {
		cfg.Engine = "google"
	}
	if cfg.Index.Location == "" {
		cfg.Index.Location = "public/local-rag-index.json"
	}
	if cfg.Index.TimeoutSecs == 0 {
		cfg.Index.TimeoutSecs = 30
	}
	if cfg.Index.TopK == 0 {
		cfg.Index.TopK = 4
	}

	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "gemini"
	}
	if cfg.Embedder.APIKeyEnv == "" {
		if cfg.Embedder.Type == "openai" {
			cfg.Embedder.APIKeyEnv = "OPENAI_API_KEY"
		} else {
			cfg.Embedder.APIKeyEnv = "GEMINI_API_KEY"
		}
	}
	if cfg.Embedder.TimeoutSecs == 0 {
		cfg.Embedder.TimeoutSecs = 30
	}
	if cfg.Embedder.CacheMins == 0 {
		cfg.Embedder.CacheMins = 30
	}

	p := &cfg.Providers
	if p.Temperature == 0 {
		p.Temperature = 0.7
	}
	if p.TimeoutSecs == 0 {
		p.TimeoutSecs = 60
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = 2
	}
	if p.LMStudio.BaseURL == "" {
		p.LMStudio.BaseURL = "http://localhost:1234/v1"
	}
	if p.LMStudio.Model == "" {
		p.LMStudio.Model = "openai/gpt-oss-20b"
	}
	if p.OpenAI.BaseURL == "" {
		p.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if p.OpenAI.APIKeyEnv == "" {
		p.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if p.OpenAI.Model == "" {
		p.OpenAI.Model = "gpt-4o-mini"
	}
	if p.Anthropic.BaseURL == "" {
		p.Anthropic.BaseURL = "https://api.anthropic.com/v1"
	}
	if p.Anthropic.APIKeyEnv == "" {
		p.Anthropic.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if p.Anthropic.Model == "" {
		p.Anthropic.Model = "claude-3-5-sonnet-20241022"
	}
	if p.Anthropic.MaxTokens == 0 {
		p.Anthropic.MaxTokens = 1024
	}

	l := &cfg.Live
	if l.APIKeyEnv == "" {
		l.APIKeyEnv = "GEMINI_API_KEY"
	}
	if l.Model == "" {
		l.Model = "models/gemini-2.0-flash-exp"
	}
	if len(l.ResponseModalities) == 0 {
		l.ResponseModalities = []string{"AUDIO"}
	}
	if l.ReconnectDelayMs == 0 {
		l.ReconnectDelayMs = 1200
	}
	if l.RecapChars == 0 {
		l.RecapChars = 1800
	}

	if cfg.Chat.SystemPrompt == "" {
		cfg.Chat.SystemPrompt = "You are a helpful assistant."
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// applyEnvOverrides lets the environment (and .env) win over the file.
func applyEnvOverrides(cfg *AppConfig) {
	setString(&cfg.Engine, "AI_ENGINE")
	setString(&cfg.Index.Location, "RAG_INDEX")
	setInt(&cfg.Index.TopK, "RAG_TOP_K")
	setString(&cfg.Providers.LMStudio.BaseURL, "LMSTUDIO_URL")
	setString(&cfg.Providers.LMStudio.Model, "LMSTUDIO_MODEL")
	setString(&cfg.Providers.OpenAI.Model, "OPENAI_MODEL")
	setString(&cfg.Providers.Anthropic.Model, "ANTHROPIC_MODEL")
	setInt(&cfg.Providers.MaxRetries, "PROVIDER_MAX_RETRIES")
	setString(&cfg.Live.Model, "LIVE_MODEL")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.FilePath, "LOG_FILE_PATH")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

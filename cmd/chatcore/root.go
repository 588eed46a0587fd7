package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"chatcore/internal/config"
)

var (
	cfgPath    string
	engineName string
)

var rootCmd = &cobra.Command{
	Use:   "chatcore",
	Short: "Grounded chat over a local knowledge index",
	Long: `chatcore answers questions with a live streaming session or one of the
HTTP chat engines, grounding each message with snippets retrieved from a
precomputed embedding index.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config (default ./config.yaml or ~/.config/chatcore/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&engineName, "engine", "", "engine override: google, lmstudio, openai or anthropic")
}

func loadConfig() (*config.AppConfig, error) {
	_ = godotenv.Load()
	var (
		cfg *config.AppConfig
		err error
	)
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// setup loads configuration and assembles the components for a command.
func setup(quiet bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(cfg, engineName, quiet)
}

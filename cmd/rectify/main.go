package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"Rectify/internal/app"
	"Rectify/internal/config"
)

// defaultDBPath keeps sessions between invocations when no database is configured
const defaultDBPath = "rectify.db"

var (
	configPath string
	backend    string
	dbPath     string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:          "rectify",
	Short:        "Adaptive birth-time rectification questionnaire",
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <user config dir>/rectify/config.toml)")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "text generation backend (ollama|anthropic|openai|grok|gemini|none)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "session database path (default "+defaultDBPath+")")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if backend != "" {
		cfg.Backend = backend
	}
	if debug {
		cfg.Debug = true
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if cfg.DBPath == "" {
		cfg.DBPath = defaultDBPath
	}
	return cfg, cfg.Validate()
}

// withApp builds the application for one command and tears it down afterwards
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx := cmd.Context()
	a, cleanup, err := app.New(ctx, cfg)
	defer cleanup()
	if err != nil {
		return err
	}
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

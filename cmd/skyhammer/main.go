// ABOUTME: Entry point for the skyhammer chat server
// ABOUTME: Wires storage, transcription, model gateway, and the HTTP API

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/skyhammer/internal/api"
	"github.com/2389/skyhammer/internal/attach"
	"github.com/2389/skyhammer/internal/config"
	"github.com/2389/skyhammer/internal/conversation"
	"github.com/2389/skyhammer/internal/model"
	"github.com/2389/skyhammer/internal/store"
	"github.com/2389/skyhammer/internal/transcribe"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
      _          _
  ___| | ___   _| |__   __ _ _ __ ___  _ __ ___   ___ _ __
 / __| |/ / | | | '_ \ / _' | '_ ' _ \| '_ ' _ \ / _ \ '__|
 \__ \   <| |_| | | | | (_| | | | | | | | | | | |  __/ |
 |___/_|\_\\__, |_| |_|\__,_|_| |_| |_|_| |_| |_|\___|_|
           |___/
`

const exampleConfig = `server:
  http_addr: ":8080"

database:
  path: "skyhammer.db"

uploads:
  dir: "uploads"

model:
  api_key: "${OPENAI_API_KEY}"
  chat_model: "gpt-4o"
  title_model: "gpt-4o-mini"
  transcription_model: "whisper-1"

transcription:
  workers: 2
  wait_timeout: "5m"

logging:
  level: "info"
`

// getConfigPath returns the path to the config file.
// Priority: SKYHAMMER_CONFIG env var > XDG_CONFIG_HOME/skyhammer/config.yaml > ~/.config/skyhammer/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("SKYHAMMER_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "skyhammer", "config.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: skyhammer <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the chat server")
		fmt.Println("  init     Write an example config file")
		fmt.Println("  health   Check server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, closeLog := config.SetupLogger(cfg.Logging.File, config.ParseLevel(cfg.Logging.Level))
	defer closeLog()

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Uploads:   %s\n", cfg.Uploads.Dir)
	fmt.Println()

	logger.Info("starting skyhammer",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"database", cfg.Database.Path,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	whisper := transcribe.NewWhisperTranscriber(
		cfg.Model.APIKey, cfg.Model.BaseURL, cfg.Model.TranscriptionModel, logger)

	queue := transcribe.NewQueue(st, whisper, cfg.Transcription.Workers, logger)
	queue.SetPollInterval(cfg.Transcription.PollInterval)
	queue.Start()
	defer queue.Stop()

	processor := attach.NewProcessor(
		&attach.TesseractOCR{Language: cfg.Transcription.OCRLanguage},
		&attach.FFmpegExtractor{},
		queue,
		cfg.Transcription.WaitTimeout,
		logger,
	)

	gateway := model.NewOpenAIGateway(
		cfg.Model.APIKey, cfg.Model.BaseURL, cfg.Model.ChatModel, cfg.Model.TitleModel, logger)

	broadcaster := conversation.NewBroadcaster(logger)
	defer broadcaster.Close()

	service := conversation.New(st, gateway, processor, broadcaster, logger)

	server := api.NewServer(service, st, broadcaster, cfg.Uploads.Dir, cfg.Uploads.MaxBytes, logger)

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// runInit writes an example config to the default path, refusing to
// overwrite an existing file.
func runInit() error {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists at %s", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(exampleConfig), 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Wrote example config to %s\n", configPath)
	fmt.Println("Set OPENAI_API_KEY (or edit model.api_key) before starting the server.")
	return nil
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr := cfg.Server.HTTPAddr
	if addr != "" && addr[0] == ':' {
		addr = "localhost" + addr
	}

	url := fmt.Sprintf("http://%s/health", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

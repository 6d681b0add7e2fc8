package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tmplhub/tmplhub/internal/api"
	"github.com/tmplhub/tmplhub/internal/assistant"
	"github.com/tmplhub/tmplhub/internal/auth"
	"github.com/tmplhub/tmplhub/internal/catalog"
	"github.com/tmplhub/tmplhub/internal/config"
	"github.com/tmplhub/tmplhub/internal/learning"
	"github.com/tmplhub/tmplhub/internal/payments"
	"github.com/tmplhub/tmplhub/internal/statestore"
	"github.com/tmplhub/tmplhub/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tmplhub API server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		versions, err := store.AppliedMigrations()
		if err != nil {
			return err
		}
		fmt.Printf("schema up to date, %d migration(s) applied\n", len(versions))
		return nil
	},
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.LogLevel, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("starting tmplhub", "version", version, "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	// Transient per-process state: OAuth nonces and rate-limit windows.
	states := statestore.NewMemory()
	go states.Run(ctx, time.Minute)

	sessions := auth.NewSessions(store)
	github := auth.NewGitHubClient(cfg.GitHubClientID, cfg.GitHubClientSecret)

	paymentClient := payments.NewClient(cfg.PaymentSecretKey)
	paymentSvc := payments.NewService(store, paymentClient, cfg.FrontendOrigin)

	// Without an API key the assistant runs on its non-LLM stages only.
	var llm assistant.LLM
	if cfg.LLMEnabled() {
		llm = assistant.NewGroqClient(cfg.GroqAPIKey)
	} else {
		slog.Warn("no LLM API key configured, assistant runs without the external model stage")
	}
	resolver := assistant.NewResolver(store, llm, states, cfg.AssistantRateLimit())

	handler := api.NewHandler(api.Deps{
		Store:          store,
		Sessions:       sessions,
		GitHub:         github,
		Payments:       paymentSvc,
		Resolver:       resolver,
		Catalog:        catalog.NewReader(store),
		States:         states,
		WebhookSecret:  cfg.PaymentWebhookSecret,
		FrontendOrigin: cfg.FrontendOrigin,
		PublicURL:      cfg.PublicURL,
		SecureCookies:  cfg.IsProduction(),
	})

	// Start the learning maintenance worker.
	worker := learning.NewWorker(store, time.Hour)
	go worker.Run(ctx)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("tmplhub listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

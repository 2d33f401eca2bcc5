package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/chat-memory/internal/assembler"
	"github.com/rcliao/chat-memory/internal/chunker"
	"github.com/rcliao/chat-memory/internal/httpapi"
	"github.com/rcliao/chat-memory/internal/ingest"
	"github.com/rcliao/chat-memory/internal/llm"
	"github.com/rcliao/chat-memory/internal/observability"
	"github.com/rcliao/chat-memory/internal/reliability"
	"github.com/rcliao/chat-memory/internal/session"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.BindAddr = addr
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	history, err := openHistory(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer history.Close()

	index, closeIndex, err := openIndex(cfg, logger)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer closeIndex()

	chunks, err := chunker.New(cfg.ChunkOptions())
	if err != nil {
		return err
	}
	backend, err := llm.New(cfg.Backend())
	if err != nil {
		return err
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	retry := reliability.DefaultPolicy()
	retry.Retries = cfg.PersistRetries
	asm, err := assembler.New(assembler.Deps{
		Chunker: chunks,
		Index:   index,
		History: history,
		Backend: backend,
		Metrics: metrics,
		Logger:  logger,
	}, assembler.Config{
		SystemPrompt:   cfg.SystemPrompt,
		RetrievalK:     cfg.RetrievalK,
		Model:          cfg.BackendModel,
		Params:         cfg.Params(),
		BackendTimeout: cfg.BackendTimeout,
		Retry:          retry,
		IngestMaxChars: cfg.IngestMaxChars,
	})
	if err != nil {
		return err
	}

	sessions := session.NewManager(cfg.MemoryWindowK, cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(s *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
		logger.Info("session expired", "session_id", s.ID, "user_id", s.UserID, "turns", s.Turns)
	})
	sessions.StartJanitor(ctx, 5*time.Second)

	fetcher := ingest.NewFetcher(cfg.Ingest())
	api := httpapi.New(cfg, sessions, asm, history, fetcher, metrics, logger)
	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			"addr", cfg.BindAddr,
			"backend", cfg.BackendProvider,
			"embedder", cfg.EmbedProvider,
			"data_dir", cfg.DataDir,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		_ = httpServer.Close()
	}
	return nil
}

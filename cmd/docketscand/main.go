package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"docketscan/internal/async"
	"docketscan/internal/common"
	"docketscan/internal/export"
	"docketscan/internal/ingest"
	"docketscan/internal/memory"
	"docketscan/internal/oracle/openai"
	"docketscan/internal/pipeline"
	"docketscan/internal/server"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := newBackend(cfg.Memory)
	if err != nil {
		logger.Error("failed to open memory backend", "error", err, "backend", cfg.Memory.Backend, "path", cfg.Memory.Path)
		os.Exit(1)
	}
	defer backend.Close()

	mgr, err := memory.NewManager(ctx, backend, logger)
	if err != nil {
		logger.Error("failed to load document memory", "error", err)
		os.Exit(1)
	}

	client := openai.NewClient(openai.Config{
		APIKey:         cfg.Oracle.APIKey,
		BaseURL:        cfg.Oracle.BaseURL,
		Model:          cfg.Oracle.Model,
		Temperature:    cfg.Oracle.Temperature,
		MaxTokens:      cfg.Oracle.MaxTokens,
		RequestTimeout: cfg.Oracle.RequestTimeout,
		MaxAttempts:    cfg.Oracle.MaxAttempts,
		BaseDelay:      cfg.Oracle.BaseDelay,
		MaxDelay:       cfg.Oracle.MaxDelay,
		RateLimitStep:  cfg.Oracle.RateLimitStep,
	}, logger)

	extractor := pipeline.NewExtractor(client, mgr, logger).
		WithMaxImageBytes(int64(cfg.Oracle.MaxImageMB) << 20)
	corrections := pipeline.NewCorrections(mgr, logger)

	var sink export.Sink
	if cfg.Sheets.SpreadsheetID != "" {
		s, err := export.NewSheetsSink(ctx, cfg.Sheets.CredentialsFile, cfg.Sheets.SpreadsheetID, cfg.Sheets.Range, logger)
		if err != nil {
			logger.Error("failed to build sheets sink", "error", err)
			os.Exit(1)
		}
		sink = s
		logger.Info("sheets sink enabled", "spreadsheet_id", cfg.Sheets.SpreadsheetID, "range", cfg.Sheets.Range)
	}

	srv, err := server.New(extractor, corrections, mgr, sink, logger, cfg.Server.HTTPAddr)
	if err != nil {
		logger.Error("failed to build server", "error", err)
		os.Exit(1)
	}

	var queue *async.ExtractorQueue
	if cfg.Ingest.WatchDir != "" {
		queue = async.NewExtractorQueue(extractor, func(r async.JobResult) {
			if r.Err != nil || sink == nil || len(r.Result.Records) == 0 {
				return
			}
			if err := sink.Append(context.Background(), r.Result.Records); err != nil {
				logger.Error("inbox sink append failed", "source", r.Job.Source, "error", err)
			}
		}, logger, async.WithWorkers(cfg.Ingest.Workers))

		inbox := ingest.NewInbox(cfg.Ingest.WatchDir, queue, logger)
		go func() {
			if err := inbox.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("inbox stopped", "error", err)
			}
		}()
	}

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("http serve failed", "error", err)
			stop()
		}
	}()
	logger.Info("serving", "addr", cfg.Server.HTTPAddr, "memory_backend", cfg.Memory.Backend)

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if queue != nil {
		queue.Shutdown(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}

// closableBackend is the daemon's view of a backend: every backend here owns
// a resource that must be released on exit.
type closableBackend interface {
	memory.Backend
	Close() error
}

type nopCloser struct{ memory.Backend }

func (nopCloser) Close() error { return nil }

func newBackend(cfg common.MemoryConfig) (closableBackend, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	switch cfg.Backend {
	case "sqlite":
		return memory.OpenSQLite(cfg.Path)
	default:
		return nopCloser{memory.NewFileBackend(cfg.Path)}, nil
	}
}

package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/leadkit/automation/internal/action"
	"github.com/leadkit/automation/internal/action/email"
	"github.com/leadkit/automation/internal/action/lead"
	"github.com/leadkit/automation/internal/action/webhook"
	"github.com/leadkit/automation/internal/api"
	"github.com/leadkit/automation/internal/config"
	"github.com/leadkit/automation/internal/engine"
	"github.com/leadkit/automation/internal/intake"
	"github.com/leadkit/automation/internal/record"
	"github.com/leadkit/automation/internal/registry"
	"github.com/leadkit/automation/internal/storage/postgres"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	cfgPath := flag.String("config", "configs/automation.yaml", "Path to YAML config")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// ── Load config ──────────────────────────────────────────────────────────
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config validation failed", "err", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	// ── Registry and record store ─────────────────────────────────────────────
	var (
		reg     registry.Registry
		records record.Store
	)
	if cfg.Database.URL != "" {
		store, err := postgres.New(cfg.Database.URL)
		if err != nil {
			slog.Error("failed to open database", "err", err)
			os.Exit(1)
		}
		defer store.Close()
		reg = store
		records = store.Records()
		slog.Info("registry: postgres")
	} else {
		fileReg, err := registry.NewFileRegistry(cfg.Registry.File)
		if err != nil {
			slog.Error("failed to load automations file", "err", err)
			os.Exit(1)
		}
		stopWatch, err := fileReg.Watch()
		if err != nil {
			slog.Warn("automations watcher unavailable (hot-reload disabled)", "err", err)
		} else {
			defer stopWatch()
		}
		reg = fileReg
		records = record.NewMemoryStore()
		slog.Info("registry: file", "path", cfg.Registry.File)
	}

	// ── Action handlers ───────────────────────────────────────────────────────
	handlers := action.NewRegistry()
	handlers.Register(email.New(
		email.NewStaticTemplates(cfg.Templates),
		email.NewSMTPSender(cfg.SMTP.SMTPConfig),
		cfg.SMTP.From,
	))
	handlers.Register(lead.New(lead.NewClient(cfg.LeadAPI.BaseURL)))
	handlers.Register(webhook.New())

	// ── Engine ────────────────────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := engine.NewExecutor(ctx, records, handlers, cfg.Engine.ExecutorConfig())
	dispatcher := engine.NewDispatcher(reg, records, exec)

	// ── Bus intake ────────────────────────────────────────────────────────────
	if cfg.NATS.URL != "" {
		sub, err := intake.NewSubscriber(cfg.NATS.URL, dispatcher)
		if err != nil {
			slog.Error("failed to start bus intake", "err", err)
			os.Exit(1)
		}
		defer sub.Close()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	handler := api.New(dispatcher, exec, reg, records)
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	exec.Shutdown()
	cancel()
	slog.Info("goodbye")
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/joho/godotenv/autoload"
	glog "github.com/labstack/gommon/log"

	"chronicles/pkg/config"
	"chronicles/pkg/inference"
	"chronicles/pkg/modes"
	"chronicles/pkg/server"
	"chronicles/pkg/session"
	"chronicles/pkg/story"
	"chronicles/pkg/utils"
)

func main() {
	ctx, done := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer done()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration", "error", err)
	}
	setLogLevel(cfg.LogLevel)

	registry := modes.NewRegistry()
	if cfg.ModesFile != "" {
		if !utils.Exists(cfg.ModesFile) {
			log.Fatal("modes file not found", "file", cfg.ModesFile)
		}
		n, err := registry.LoadFile(cfg.ModesFile)
		if err != nil {
			log.Fatal("failed to load modes", "file", cfg.ModesFile, "error", err)
		}
		log.Info("loaded modes", "file", cfg.ModesFile, "count", n)
	}

	if cfg.APIKey() == "" {
		log.Warn("no API key configured for provider, completions will fail", "provider", cfg.Provider)
	}
	llm, err := inference.New(ctx, cfg)
	if err != nil {
		log.Fatal("failed to create completion client", "provider", cfg.Provider, "error", err)
	}

	store := session.NewStore(session.Options{MaxSize: cfg.MaxSessions, TTL: cfg.SessionTTL})
	if cfg.SessionTTL > 0 {
		go store.Run(ctx, max(cfg.SessionTTL/4, time.Second))
	}

	svc := story.NewService(store, registry, llm, story.Options{
		HistoryWindow: cfg.HistoryWindow,
		TokenBudget:   cfg.PromptTokenBudget,
	})

	srv := server.NewServer(ctx, svc, server.Options{AllowedOrigins: cfg.AllowedOrigins})
	if cfg.LogLevel == "debug" {
		srv.Echo.Logger.SetLevel(glog.DEBUG)
	}

	log.Info("starting chronicles", "provider", cfg.Provider, "modes", registry.IDs(), "window", cfg.HistoryWindow)

	finishedShutDown := make(chan struct{})
	go func() {
		defer close(finishedShutDown)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown failed", "error", err)
		}
	}()

	if err := srv.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server stopped", "error", err)
		done()
	}
	<-finishedShutDown
	log.Info("bye", "sessions", store.Len())
}

func setLogLevel(level string) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.Warn("unknown LOG_LEVEL, using info", "level", level)
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
	log.SetReportTimestamp(true)
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atmx/risk-engine/internal/config"
	"github.com/atmx/risk-engine/internal/jobs"
	"github.com/atmx/risk-engine/internal/service"
)

func main() {
	configFile := flag.String("config", os.Getenv("CONFIG_FILE"), "path to a config file (default ./config.yaml if present)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ratings, err := cfg.RatingTable()
	if err != nil {
		slog.Error("invalid rating table", "err", err)
		os.Exit(1)
	}

	st, closeStore, err := openStore(context.Background(), cfg)
	if err != nil {
		slog.Error("store setup failed", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	// --- WebSocket hub ---
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	wsHub := service.NewWSHub()
	go wsHub.Run(hubCtx)

	// --- Jobs and service ---
	registry := jobs.NewRegistry(wsHub.Observer())
	svc := service.NewService(st, registry, ratings, cfg.Sim, wsHub)

	// --- Server ---
	// Synchronous runs hold the response open for the whole simulation.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(svc, wsHub),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("risk-engine listening", "port", cfg.Port, "workers", cfg.Sim.Workers, "max_trials", cfg.Sim.MaxTrials)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	slog.Info("shutting down risk-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	if err := registry.Shutdown(ctx); err != nil {
		slog.Error("job shutdown error", "err", err)
	}
	stopHub()
	fmt.Println("risk-engine stopped")
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/penguin-run/penguin/internal/config"
	"github.com/penguin-run/penguin/internal/eventbus"
	"github.com/penguin-run/penguin/pkg/core"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// runServe implements the serve command: it loads the config, wires a
// Runtime, and keeps it resident until a shutdown signal arrives.
func runServe(cmd *cobra.Command, configPath string, metricsPort int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if metricsPort > 0 {
		cfg.Server.MetricsPort = metricsPort
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return fmt.Errorf("failed to build runtime: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	out := cmd.OutOrStdout()
	handle, events := rt.EventBus.Subscribe(eventbus.Filter{})
	go streamEvents(out, events)
	defer rt.EventBus.Unsubscribe(handle)

	rt.Checkpoint.Start(ctx, rt.EventBus, time.Hour)
	defer rt.Checkpoint.Stop()

	rt.Scheduler.Start(ctx)
	defer rt.Scheduler.Stop()

	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler: promhttp.Handler(),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()

	slog.Info("penguin runtime started",
		"version", version,
		"config", configPath,
		"llm_provider", cfg.LLM.DefaultProvider,
		"metrics_addr", metricsSrv.Addr,
	)

	<-ctx.Done()
	slog.Info("shutdown signal received, stopping")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("metrics server shutdown error", "error", err)
	}
	if err := rt.Shutdown(shutdownCtx); err != nil {
		slog.Warn("tracer shutdown error", "error", err)
	}

	slog.Info("penguin runtime stopped")
	return nil
}

// streamEvents prints every event as a single JSON line until events is
// closed (EventBus.Close, or the subscriber is unsubscribed).
func streamEvents(out io.Writer, events <-chan core.Event) {
	for e := range events {
		line, err := json.Marshal(e)
		if err != nil {
			continue
		}
		fmt.Fprintln(out, string(line))
	}
}

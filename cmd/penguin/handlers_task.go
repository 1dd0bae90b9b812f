package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/penguin-run/penguin/internal/config"
	"github.com/penguin-run/penguin/internal/engine"
	"github.com/penguin-run/penguin/pkg/core"
	"github.com/spf13/cobra"
)

type taskOptions struct {
	configPath    string
	provider      string
	model         string
	prompt        string
	maxIterations int
	wallClock     time.Duration
	tokenBudget   int
}

func runTask(cmd *cobra.Command, opts taskOptions) error {
	ctx := cmd.Context()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return fmt.Errorf("failed to build runtime: %w", err)
	}
	defer rt.Shutdown(context.Background())

	provider := opts.provider
	if provider == "" {
		provider = cfg.LLM.DefaultProvider
	}
	model := opts.model
	if model == "" {
		model = cfg.LLM.Providers[strings.ToLower(provider)].DefaultModel
	}

	agent, err := rt.newDefaultAgent(ctx, provider, model)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	maxIterations := opts.maxIterations
	if maxIterations <= 0 {
		maxIterations = cfg.Engine.MaxIterations
	}

	var stopConditions []core.StopCondition
	if opts.wallClock > 0 {
		stopConditions = append(stopConditions, engine.WallClockCondition{MaxDuration: opts.wallClock})
	}
	if opts.tokenBudget > 0 {
		stopConditions = append(stopConditions, engine.TokenBudgetCondition{MaxTokens: opts.tokenBudget})
	}

	ctx, span := rt.Tracer.TraceEngineRun(ctx, "task", agent.ID, agent.SessionID)
	result := rt.Engine.RunTask(ctx, agent.ID, opts.prompt, stopConditions, maxIterations)
	span.End()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "status: %s (iterations: %d)\n", result.Status, result.Iterations)
	if result.Content != "" {
		fmt.Fprintln(out, result.Content)
	}
	if result.Message != "" {
		fmt.Fprintln(out, result.Message)
	}
	if result.Status != core.TaskCompleted {
		return fmt.Errorf("task ended with status %s", result.Status)
	}
	return nil
}

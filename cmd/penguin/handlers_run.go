package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/penguin-run/penguin/internal/config"
	"github.com/penguin-run/penguin/internal/engine"
	"github.com/spf13/cobra"
)

func runRun(cmd *cobra.Command, configPath, provider, model, prompt string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return fmt.Errorf("failed to build runtime: %w", err)
	}
	defer rt.Shutdown(context.Background())

	if provider == "" {
		provider = cfg.LLM.DefaultProvider
	}
	if model == "" {
		model = cfg.LLM.Providers[strings.ToLower(provider)].DefaultModel
	}

	agent, err := rt.newDefaultAgent(ctx, provider, model)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	ctx, span := rt.Tracer.TraceEngineRun(ctx, "turn", agent.ID, agent.SessionID)
	result, err := rt.Engine.RunTurn(ctx, agent.ID, prompt, engine.RunOptions{})
	if err != nil {
		rt.Tracer.RecordError(span, err)
		span.End()
		return fmt.Errorf("turn failed: %w", err)
	}
	span.End()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, result.Content)
	for _, action := range result.Actions {
		fmt.Fprintf(out, "[action %s] %s: %s\n", action.ActionRef, action.Status, action.Output)
	}
	return nil
}

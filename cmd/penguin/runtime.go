package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/penguin-run/penguin/internal/actions"
	"github.com/penguin-run/penguin/internal/agents"
	"github.com/penguin-run/penguin/internal/checkpoint"
	"github.com/penguin-run/penguin/internal/config"
	"github.com/penguin-run/penguin/internal/conversation"
	"github.com/penguin-run/penguin/internal/coordinator"
	"github.com/penguin-run/penguin/internal/engine"
	"github.com/penguin-run/penguin/internal/eventbus"
	"github.com/penguin-run/penguin/internal/gateway"
	"github.com/penguin-run/penguin/internal/jobqueue"
	"github.com/penguin-run/penguin/internal/messagebus"
	"github.com/penguin-run/penguin/internal/observability"
	"github.com/penguin-run/penguin/internal/stream"
	"github.com/penguin-run/penguin/pkg/core"
)

// Runtime wires together every core package into a running instance: one
// config, one conversation store, one registry, and the buses/engine/
// coordinator/checkpointer that operate over them. cmd/penguin's three
// subcommands (run, task, serve) each build a Runtime and drive it
// differently; none of them touch the core packages' internals directly.
type Runtime struct {
	Config *config.Config

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer

	Store      conversation.Store
	Registry   *agents.Registry
	EventBus   *eventbus.Bus
	MessageBus *messagebus.Bus
	Executor   *actions.Executor
	Parser     *actions.Parser
	Mux        *stream.Multiplexer

	Engine      *engine.Engine
	Coordinator *coordinator.Coordinator
	Checkpoint  *checkpoint.Checkpointer
	Jobs        *jobqueue.MemoryStore
	Scheduler   *jobqueue.Scheduler

	shutdownTracer func(context.Context) error
	closeStore     func() error
}

// buildRuntime constructs a Runtime from a loaded Config. It is the single
// wiring point for every core package: gateways are selected from
// cfg.LLM, the executor's async/approval/redaction policies come from
// cfg.Tools, and checkpoint/stream/bus knobs come from their matching
// Config sections.
func buildRuntime(cfg *config.Config) (*Runtime, error) {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics()
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:  cfg.Observability.Tracing.ServiceName,
		Endpoint:     cfg.Observability.Tracing.Endpoint,
		SamplingRate: cfg.Observability.Tracing.SamplingRate,
	})

	slogLogger := logger.Slog()

	var store conversation.Store
	var closeStore func() error
	if cfg.Store.Path != "" {
		sqliteStore, err := conversation.OpenSQLiteStore(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("runtime: open conversation store: %w", err)
		}
		store = sqliteStore
		closeStore = sqliteStore.Close
	} else {
		store = conversation.NewMemoryStore()
	}

	bus := eventbus.New(cfg.Bus.QueueMax)
	mbus := messagebus.New(cfg.Bus.QueueMax,
		messagebus.WithDropPolicy(messagebus.DropPolicy(cfg.Bus.DropPolicy)))

	onEvent := func(e core.Event) {
		bus.Publish(e)
		recordEventMetrics(metrics, e)
	}

	registry := agents.New(store, agents.WithEventCallback(onEvent))

	gatewaysByProvider, err := buildGateways(cfg)
	if err != nil {
		return nil, err
	}
	if len(gatewaysByProvider) == 0 {
		return nil, fmt.Errorf("runtime: no llm.providers configured")
	}

	jobs := jobqueue.NewMemoryStore()
	scheduler := jobqueue.NewScheduler(jobs, cfg.Tools.Jobs.Retention, cfg.Tools.Jobs.PruneInterval).
		WithLogger(slogLogger)
	if cfg.Cron.Enabled {
		if err := registerCronJobs(scheduler, cfg.Cron.Jobs, slogLogger); err != nil {
			return nil, fmt.Errorf("runtime: register cron jobs: %w", err)
		}
	}

	executorOpts := []actions.ExecutorOption{
		actions.WithActionTimeout(cfg.Tools.Execution.Timeout),
		actions.WithMaxOutputBytes(cfg.Tools.Execution.MaxOutputKB * 1024),
		actions.WithEventCallback(onEvent),
	}
	if len(cfg.Tools.Approval.Allowlist) > 0 || len(cfg.Tools.Approval.RequireApproval) > 0 {
		executorOpts = append(executorOpts, actions.WithApprovalChecker(newAllowlistApprover(cfg.Tools.Approval)))
	}
	if cfg.Tools.Redaction.Enabled {
		guard, err := newRegexRedactor(cfg.Tools.Redaction)
		if err != nil {
			return nil, fmt.Errorf("runtime: build redaction guard: %w", err)
		}
		executorOpts = append(executorOpts, actions.WithResultGuard(guard))
	}
	if len(cfg.Tools.Execution.Async) > 0 {
		async := asyncToolSet(cfg.Tools.Execution.Async)
		executorOpts = append(executorOpts, actions.WithAsyncPolicy(async, jobs))
	}
	executor := actions.NewExecutor(executorOpts...)

	parser := actions.NewParser(actions.Registry{})

	mux := stream.New(
		stream.WithCoalesceChars(cfg.Stream.CoalesceChars),
		stream.WithCoalesceInterval(time.Duration(cfg.Stream.CoalesceMS)*time.Millisecond),
		stream.WithEventCallback(onEvent),
	)

	engOpts := []engine.Option{
		engine.WithLogger(slogLogger),
		engine.WithEventCallback(onEvent),
		engine.WithRetryPolicy(cfg.Engine.Retry.MaxAttempts, cfg.Engine.Retry.BaseDelay()),
		engine.WithEmptyResponseRecovery(cfg.Engine.EmptyResponseRecovery),
		engine.WithMaxActionConcurrency(cfg.Tools.Execution.Parallelism),
	}
	if cfg.Engine.CompletionPhrase != "" {
		engOpts = append(engOpts, engine.WithCompletionPhrase(cfg.Engine.CompletionPhrase))
	}
	if cfg.Context.MaxTokens > 0 {
		trimOpts := core.TrimOptions{
			MaxTokens: cfg.Context.MaxTokens,
			Policy:    core.TrimPolicy(cfg.Context.TrimPolicy),
		}
		engOpts = append(engOpts, engine.WithContextPolicy(func(*core.Agent) core.TrimOptions {
			return trimOpts
		}))
	}
	for provider, gw := range gatewaysByProvider {
		engOpts = append(engOpts, engine.WithGateway(provider, gw))
	}
	defaultProvider := strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	if gw, ok := gatewaysByProvider[defaultProvider]; ok {
		engOpts = append(engOpts, engine.WithDefaultGateway(gw))
	}

	eng := engine.New(registry, store, parser, executor, mux, engOpts...)

	coord := coordinator.New(registry, mbus, eng, coordinator.WithEventCallback(onEvent))

	cp := checkpoint.New(store,
		checkpoint.WithAutoEvery(cfg.Checkpoint.AutoEvery),
		checkpoint.WithRetention(cfg.Checkpoint.Retention()),
		checkpoint.WithMinAutoKept(cfg.Checkpoint.MinAutoKept),
		checkpoint.WithLogger(slogLogger),
		checkpoint.WithEventCallback(onEvent),
	)

	return &Runtime{
		Config:         cfg,
		Logger:         slogLogger,
		Metrics:        metrics,
		Tracer:         tracer,
		Store:          store,
		Registry:       registry,
		EventBus:       bus,
		MessageBus:     mbus,
		Executor:       executor,
		Parser:         parser,
		Mux:            mux,
		Engine:         eng,
		Coordinator:    coord,
		Checkpoint:     cp,
		Jobs:           jobs,
		Scheduler:      scheduler,
		shutdownTracer: shutdownTracer,
		closeStore:     closeStore,
	}, nil
}

// Shutdown flushes the tracer, closes the conversation store (if it owns
// a connection), and stops background workers. Safe to call once after
// the runtime is no longer needed.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	var err error
	if rt.closeStore != nil {
		if closeErr := rt.closeStore(); closeErr != nil {
			err = fmt.Errorf("runtime: close conversation store: %w", closeErr)
		}
	}
	if rt.shutdownTracer != nil {
		if tracerErr := rt.shutdownTracer(ctx); tracerErr != nil && err == nil {
			err = tracerErr
		}
	}
	return err
}

func buildGateways(cfg *config.Config) (map[string]core.ModelGateway, error) {
	out := make(map[string]core.ModelGateway)
	for name, provider := range cfg.LLM.Providers {
		key := strings.ToLower(strings.TrimSpace(name))
		switch key {
		case "anthropic":
			out[key] = gateway.NewAnthropicGateway(gateway.AnthropicConfig{
				APIKey:       provider.APIKey,
				BaseURL:      provider.BaseURL,
				DefaultModel: provider.DefaultModel,
			})
		case "openai":
			out[key] = gateway.NewOpenAIGateway(gateway.OpenAIConfig{
				APIKey:       provider.APIKey,
				BaseURL:      provider.BaseURL,
				DefaultModel: provider.DefaultModel,
			})
		case "bedrock":
			gw, err := gateway.NewBedrockGateway(context.Background(), gateway.BedrockConfig{
				Region:          provider.Region,
				AccessKeyID:     provider.AccessKeyID,
				SecretAccessKey: provider.SecretAccessKey,
				SessionToken:    provider.SessionToken,
				DefaultModel:    provider.DefaultModel,
			})
			if err != nil {
				return nil, fmt.Errorf("runtime: build bedrock gateway: %w", err)
			}
			out[key] = gw
		default:
			return nil, fmt.Errorf("runtime: unknown llm provider %q", name)
		}
	}
	return out, nil
}

// newDefaultAgent creates a single top-level agent bound to provider/model,
// the shape every "run"/"task" invocation needs before it can call
// Engine.RunTurn or Engine.RunTask.
func (rt *Runtime) newDefaultAgent(ctx context.Context, provider, model string) (*core.Agent, error) {
	return rt.Registry.Create(ctx, core.AgentSpec{
		Persona: "penguin",
		ModelConfig: core.ModelConfig{
			Provider: provider,
			Model:    model,
		},
	})
}

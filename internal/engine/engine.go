// Package engine implements the core reason→act→observe loop: a single
// bounded turn (RunTurn) and a repeated, stop-condition driven task
// (RunTask) built on top of it. The Engine owns no state of its own
// beyond its wiring — ConversationStore is the sole owner of messages,
// AgentRegistry the sole owner of agent records.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/penguin-run/penguin/internal/actions"
	"github.com/penguin-run/penguin/internal/agents"
	"github.com/penguin-run/penguin/internal/conversation"
	"github.com/penguin-run/penguin/internal/stream"
	"github.com/penguin-run/penguin/pkg/core"
)

// ErrCancelled is returned by RunTurn when the run's context is cancelled
// before the model finished streaming. No assistant message is appended
// for a cancelled turn.
var ErrCancelled = errors.New("engine: run cancelled")

// ErrAgentNotActive is returned when RunTurn/RunTask is asked to drive an
// agent that is not in the active state.
var ErrAgentNotActive = errors.New("engine: agent is not active")

// DefaultMaxRetryAttempts and DefaultRetryBaseDelay are the transient
// provider-error retry defaults.
const (
	DefaultMaxRetryAttempts = 3
	DefaultRetryBaseDelay   = 500 * time.Millisecond
)

// ActionFailurePolicy decides whether a failed action observation aborts
// the enclosing RunTask.
type ActionFailurePolicy int

const (
	// ActionFailuresAreObservations is the default: a failed action
	// becomes a tool observation and the task continues.
	ActionFailuresAreObservations ActionFailurePolicy = iota
	// ActionFailuresAreFatal promotes any failed action to a task-ending
	// failure.
	ActionFailuresAreFatal
)

// ContextPolicyFunc derives Trim options for an agent's next turn. The
// default policy keeps the whole branch unbounded (no trimming).
type ContextPolicyFunc func(agent *core.Agent) core.TrimOptions

func defaultContextPolicy(*core.Agent) core.TrimOptions { return core.TrimOptions{} }

// Engine drives the turn loop for agents known to an agents.Registry,
// reading/writing through a conversation.Store and dispatching parsed
// actions through an actions.Executor.
type Engine struct {
	registry *agents.Registry
	store    conversation.Store
	parser   *actions.Parser
	executor *actions.Executor
	mux      *stream.Multiplexer

	gateways    map[string]core.ModelGateway
	defaultGW   core.ModelGateway
	contextPol  ContextPolicyFunc
	onEvent     func(core.Event)
	logger      *slog.Logger

	maxRetryAttempts int
	retryBaseDelay   time.Duration

	completionPhrase       string
	emptyResponseRecovery  bool
	actionFailurePolicy    ActionFailurePolicy
	maxActionConcurrency   int
}

// Option configures an Engine at construction time.
type Option func(*Engine)

func WithGateway(provider string, gw core.ModelGateway) Option {
	return func(e *Engine) {
		if e.gateways == nil {
			e.gateways = make(map[string]core.ModelGateway)
		}
		e.gateways[provider] = gw
	}
}

// WithDefaultGateway sets the gateway used when an agent's ModelConfig
// names a provider with no registered gateway.
func WithDefaultGateway(gw core.ModelGateway) Option {
	return func(e *Engine) { e.defaultGW = gw }
}

func WithContextPolicy(fn ContextPolicyFunc) Option {
	return func(e *Engine) { e.contextPol = fn }
}

// WithEventCallback registers a sink for engine.progress/engine.error and
// message.appended events; callers typically wire this to
// eventbus.Bus.Publish.
func WithEventCallback(fn func(core.Event)) Option {
	return func(e *Engine) { e.onEvent = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithRetryPolicy configures the transient-provider-error retry budget.
func WithRetryPolicy(maxAttempts int, baseDelay time.Duration) Option {
	return func(e *Engine) {
		e.maxRetryAttempts = maxAttempts
		e.retryBaseDelay = baseDelay
	}
}

// WithCompletionPhrase configures engine.completion_phrase: a textual
// marker that terminates RunTask successfully as soon as it appears in
// assistant output, regardless of other stop conditions.
func WithCompletionPhrase(phrase string) Option {
	return func(e *Engine) { e.completionPhrase = phrase }
}

// WithEmptyResponseRecovery toggles engine.empty_response_recovery.
func WithEmptyResponseRecovery(enabled bool) Option {
	return func(e *Engine) { e.emptyResponseRecovery = enabled }
}

// WithActionFailurePolicy configures whether a failed action aborts the
// enclosing task.
func WithActionFailurePolicy(p ActionFailurePolicy) Option {
	return func(e *Engine) { e.actionFailurePolicy = p }
}

// WithMaxActionConcurrency bounds how many actions from one assistant
// message are executed concurrently via actions.Executor.ExecuteBatch.
// <=0 (the default) executes actions strictly in parse order.
func WithMaxActionConcurrency(n int) Option {
	return func(e *Engine) { e.maxActionConcurrency = n }
}

// New builds an Engine. registry, store, parser, and executor are
// required; at least one gateway (default or named) must be configured
// before RunTurn is called.
func New(registry *agents.Registry, store conversation.Store, parser *actions.Parser, executor *actions.Executor, mux *stream.Multiplexer, opts ...Option) *Engine {
	e := &Engine{
		registry:              registry,
		store:                 store,
		parser:                parser,
		executor:              executor,
		mux:                   mux,
		gateways:              make(map[string]core.ModelGateway),
		contextPol:            defaultContextPolicy,
		maxRetryAttempts:      DefaultMaxRetryAttempts,
		retryBaseDelay:        DefaultRetryBaseDelay,
		emptyResponseRecovery: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.onEvent == nil {
		e.onEvent = func(core.Event) {}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

func (e *Engine) gatewayFor(agent *core.Agent) (core.ModelGateway, error) {
	if gw, ok := e.gateways[agent.ModelConfig.Provider]; ok {
		return gw, nil
	}
	if e.defaultGW != nil {
		return e.defaultGW, nil
	}
	return nil, fmt.Errorf("engine: no gateway registered for provider %q", agent.ModelConfig.Provider)
}

// RunOptions parameterizes a single RunTurn call.
type RunOptions struct {
	// SkipUserAppend suppresses step 1 of RunTurn when the caller has
	// already appended the driving message itself (e.g. an envelope the
	// agent pulled off the MessageBus and recorded before running).
	SkipUserAppend bool
	// Channel tags the appended messages' Channel field, for multi-agent
	// routing correlation.
	Channel string
}

// RunTurn executes one reason→act→observe cycle for agentID.
func (e *Engine) RunTurn(ctx context.Context, agentID, prompt string, opts RunOptions) (core.TurnResult, error) {
	agent, err := e.registry.Get(agentID)
	if err != nil {
		return core.TurnResult{}, err
	}
	if agent.State != core.AgentActive {
		return core.TurnResult{}, ErrAgentNotActive
	}

	if !opts.SkipUserAppend {
		userMsg := &core.Message{
			SessionID: agent.SessionID,
			Role:      core.RoleUser,
			Content:   prompt,
			AgentID:   agentID,
			Channel:   opts.Channel,
			Type:      core.MessageKindMessage,
			CreatedAt: time.Now(),
		}
		if _, err := e.store.Append(ctx, agent.SessionID, userMsg); err != nil {
			return core.TurnResult{}, fmt.Errorf("engine: append user message: %w", err)
		}
		e.onEvent(core.Event{
			Type:      core.EventMessageAppended,
			AgentID:   agentID,
			SessionID: agent.SessionID,
			Payload:   map[string]any{"role": string(core.RoleUser)},
		})
	}

	trimmed, err := e.store.Trim(ctx, agent.SessionID, e.contextPol(agent))
	if err != nil {
		return core.TurnResult{}, fmt.Errorf("engine: trim context: %w", err)
	}
	chatMessages := toChatMessages(trimmed)

	gw, err := e.gatewayFor(agent)
	if err != nil {
		return core.TurnResult{}, err
	}

	result, err := e.streamWithRetry(ctx, agent, gw, chatMessages)
	if err != nil {
		if errors.Is(err, ErrCancelled) {
			return core.TurnResult{}, err
		}
		e.onEvent(core.Event{Type: core.EventEngineError, AgentID: agentID, Payload: map[string]any{"error": err.Error()}})
		return core.TurnResult{}, err
	}
	if result.Cancelled {
		return core.TurnResult{}, ErrCancelled
	}

	assistantMsg := &core.Message{
		SessionID: agent.SessionID,
		Role:      core.RoleAssistant,
		Content:   result.Content,
		AgentID:   agentID,
		Channel:   opts.Channel,
		Type:      core.MessageKindMessage,
		Metadata:  map[string]any{"reasoning": result.Reasoning},
		CreatedAt: time.Now(),
	}
	if _, err := e.store.Append(ctx, agent.SessionID, assistantMsg); err != nil {
		return core.TurnResult{}, fmt.Errorf("engine: append assistant message: %w", err)
	}
	e.onEvent(core.Event{
		Type:      core.EventMessageAppended,
		AgentID:   agentID,
		SessionID: agent.SessionID,
		Payload:   map[string]any{"role": string(core.RoleAssistant)},
	})

	parsed := e.parser.Parse(result.Content)
	results := e.executeActions(ctx, agent, parsed)

	for i, res := range results {
		obs := &core.Message{
			SessionID: agent.SessionID,
			Role:      core.RoleTool,
			Content:   res.Output,
			AgentID:   agentID,
			Channel:   opts.Channel,
			Type:      core.MessageKindObservation,
			Metadata: map[string]any{
				"action_ref": res.ActionRef,
				"status":     string(res.Status),
				"action":     parsed[i].Name,
			},
			CreatedAt: time.Now(),
		}
		if _, err := e.store.Append(ctx, agent.SessionID, obs); err != nil {
			return core.TurnResult{}, fmt.Errorf("engine: append observation: %w", err)
		}
		e.onEvent(core.Event{
			Type:      core.EventMessageAppended,
			AgentID:   agentID,
			SessionID: agent.SessionID,
			Payload:   map[string]any{"role": string(core.RoleTool)},
		})
	}

	return core.TurnResult{Content: result.Content, Actions: results}, nil
}

// executeActions filters parsed actions by the agent's permitted tool list
// before dispatching the rest to the executor,
// either concurrently (WithMaxActionConcurrency) or strictly in order.
func (e *Engine) executeActions(ctx context.Context, agent *core.Agent, parsed []core.Action) []core.ActionResult {
	if len(parsed) == 0 {
		return nil
	}

	permitted := make([]core.Action, len(parsed))
	results := make([]core.ActionResult, len(parsed))
	runIdx := make([]int, 0, len(parsed))

	for i, a := range parsed {
		permitted[i] = a
		if len(agent.DefaultTools) > 0 && a.ErrorKind == core.ErrorKindNone && !toolAllowed(agent.DefaultTools, a.Name) {
			results[i] = core.ActionResult{
				ActionRef: a.ID,
				Status:    core.ActionFailed,
				Output:    fmt.Sprintf("tool %q is not permitted for this agent", a.Name),
				ErrorKind: core.ErrorKindApprovalDenied,
			}
			continue
		}
		runIdx = append(runIdx, i)
	}

	if len(runIdx) == 0 {
		return results
	}

	toRun := make([]core.Action, len(runIdx))
	for j, i := range runIdx {
		toRun[j] = permitted[i]
	}

	var ran []core.ActionResult
	if e.maxActionConcurrency > 0 {
		ran = e.executor.ExecuteBatch(ctx, toRun, e.maxActionConcurrency)
	} else {
		ran = make([]core.ActionResult, len(toRun))
		for j, a := range toRun {
			if ctx.Err() != nil {
				ran[j] = core.ActionResult{ActionRef: a.ID, Status: core.ActionCancelled, ErrorKind: core.ErrorKindStreamCancelled}
				continue
			}
			ran[j] = e.executor.Execute(ctx, a)
		}
	}

	for j, i := range runIdx {
		results[i] = ran[j]
	}
	return results
}

func toolAllowed(allowed []string, name string) bool {
	for _, a := range allowed {
		if a == name {
			return true
		}
	}
	return false
}

// streamWithRetry invokes gw.Stream and drains it through the
// Multiplexer, retrying transient provider errors under exponential
// backoff up to maxRetryAttempts.
func (e *Engine) streamWithRetry(ctx context.Context, agent *core.Agent, gw core.ModelGateway, messages []core.ChatMessage) (stream.Result, error) {
	var lastErr error
	attempts := e.maxRetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return stream.Result{Cancelled: true}, nil
		}
		if attempt > 0 {
			delay := time.Duration(float64(e.retryBaseDelay) * math.Pow(2, float64(attempt-1)))
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return stream.Result{Cancelled: true}, nil
			case <-timer.C:
			}
		}

		deltas, errs := gw.Stream(ctx, messages, agent.ModelConfig)
		result, err := e.mux.Run(ctx, agent.ID, deltas, errs)
		if err == nil {
			return result, nil
		}

		var transient *core.TransientError
		if errors.As(err, &transient) {
			lastErr = err
			e.logger.Warn("engine: transient provider error, retrying", "agent_id", agent.ID, "attempt", attempt+1, "error", err)
			continue
		}
		return result, err
	}
	return stream.Result{}, fmt.Errorf("engine: exhausted retry attempts: %w", lastErr)
}

func toChatMessages(msgs []*core.Message) []core.ChatMessage {
	out := make([]core.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, core.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// hasCompletionPhrase reports whether content contains the configured
// completion marker (empty phrase never matches).
func (e *Engine) hasCompletionPhrase(content string) bool {
	if e.completionPhrase == "" {
		return false
	}
	return strings.Contains(content, e.completionPhrase)
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/penguin-run/penguin/pkg/core"
)

// DefaultMaxIterations bounds RunTask when the caller passes <=0.
const DefaultMaxIterations = 25

// estimateTokens is a crude, provider-agnostic stand-in for a real
// tokenizer: good enough to drive TokenBudgetCondition and engine.progress
// without depending on any one provider's counting rules.
func estimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return len(strings.Fields(s))
}

// RunTask repeats single-turn semantics with a synthesized continuation
// prompt after each action batch, until a StopCondition triggers, the
// completion phrase appears, or maxIterations is reached.
func (e *Engine) RunTask(ctx context.Context, agentID, prompt string, stopConditions []core.StopCondition, maxIterations int) (result core.TaskResult) {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("engine: unhandled panic in RunTask", "agent_id", agentID, "panic", r)
			e.onEvent(core.Event{Type: core.EventEngineError, AgentID: agentID, Payload: map[string]any{"panic": fmt.Sprint(r)}})
			result = core.TaskResult{Status: core.TaskFailedInternal, ErrorKind: core.ErrorKindInternal, Message: fmt.Sprintf("panic: %v", r)}
		}
	}()

	state := core.EngineState{AgentID: agentID, StartTime: time.Now()}
	nextPrompt := prompt
	emptyStreak := 0
	var lastContent string
	var lastActions []core.ActionResult

	for {
		if ctx.Err() != nil {
			return core.TaskResult{Status: core.TaskCancelled, Iterations: state.Iteration, Content: lastContent, Actions: lastActions}
		}
		if state.Iteration >= maxIterations {
			return core.TaskResult{Status: core.TaskFailed, Iterations: state.Iteration, Content: lastContent, Actions: lastActions, ErrorKind: core.ErrorKindInternal, Message: "max_iterations reached"}
		}
		for _, sc := range stopConditions {
			if sc.ShouldStop(state) {
				return core.TaskResult{Status: core.TaskCompleted, Iterations: state.Iteration, Content: lastContent, Actions: lastActions}
			}
		}

		state.Iteration++
		e.onEvent(core.Event{
			Type:    core.EventEngineProgress,
			AgentID: agentID,
			Payload: map[string]any{"iteration": state.Iteration, "elapsed_ms": time.Since(state.StartTime).Milliseconds(), "tokens_in": state.TokensIn, "tokens_out": state.TokensOut},
		})

		turn, err := e.RunTurn(ctx, agentID, nextPrompt, RunOptions{})
		if err != nil {
			switch {
			case errors.Is(err, ErrCancelled):
				return core.TaskResult{Status: core.TaskCancelled, Iterations: state.Iteration, Content: lastContent, Actions: lastActions}
			case isContextOverflow(err):
				return core.TaskResult{Status: core.TaskFailedContextOverflow, Iterations: state.Iteration, ErrorKind: core.ErrorKindContextOverflow, Message: err.Error()}
			default:
				return core.TaskResult{Status: core.TaskFailed, Iterations: state.Iteration, ErrorKind: core.ErrorKindPermanentProvider, Message: err.Error()}
			}
		}

		state.TokensIn += estimateTokens(nextPrompt)
		state.TokensOut += estimateTokens(turn.Content)
		state.LastMessage = turn.Content
		lastContent = turn.Content
		lastActions = turn.Actions

		if e.hasCompletionPhrase(turn.Content) {
			return core.TaskResult{Status: core.TaskCompleted, Iterations: state.Iteration, Content: lastContent, Actions: lastActions}
		}

		if strings.TrimSpace(turn.Content) == "" {
			emptyStreak++
			if !e.emptyResponseRecovery || emptyStreak > 1 {
				return core.TaskResult{Status: core.TaskFailedEmptyResponse, Iterations: state.Iteration, ErrorKind: core.ErrorKindEmptyResponse, Message: "assistant returned an empty response"}
			}
			nextPrompt = "Your previous response was empty. You must respond with visible content or a completed action."
			continue
		}
		emptyStreak = 0

		if e.actionFailurePolicy == ActionFailuresAreFatal {
			for _, ar := range turn.Actions {
				if ar.Status == core.ActionFailed {
					return core.TaskResult{Status: core.TaskFailed, Iterations: state.Iteration, Content: lastContent, Actions: lastActions, ErrorKind: ar.ErrorKind, Message: "action failure promoted to task-fatal: " + ar.Output}
				}
			}
		}

		state.PendingActions = 0
		nextPrompt = synthesizeContinuation(turn.Actions)
	}
}

func isContextOverflow(err error) bool {
	var overflow *core.ContextOverflowError
	return errors.As(err, &overflow)
}

// synthesizeContinuation builds the next iteration's driving prompt from
// the previous iteration's action results, steering the model to react to
// its own tool output rather than repeating the original prompt verbatim.
func synthesizeContinuation(results []core.ActionResult) string {
	if len(results) == 0 {
		return "Continue. If you are finished, say so explicitly; otherwise take the next action."
	}
	var b strings.Builder
	b.WriteString("Continue based on the results of your previous actions:\n")
	for _, r := range results {
		fmt.Fprintf(&b, "- %s: %s\n", r.Status, truncateForPrompt(r.Output, 500))
	}
	return b.String()
}

func truncateForPrompt(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

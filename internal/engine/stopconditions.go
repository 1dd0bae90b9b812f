package engine

import (
	"time"

	"github.com/penguin-run/penguin/pkg/core"
)

// TokenBudgetCondition stops a task once combined input+output tokens
// reach MaxTokens.
type TokenBudgetCondition struct {
	MaxTokens int
}

func (c TokenBudgetCondition) ShouldStop(s core.EngineState) bool {
	return c.MaxTokens > 0 && s.TokensIn+s.TokensOut >= c.MaxTokens
}

func (c TokenBudgetCondition) Name() string { return "token_budget" }

// WallClockCondition stops a task once MaxDuration has elapsed since
// EngineState.StartTime. Enforced only at
// iteration boundaries, never mid-action.
type WallClockCondition struct {
	MaxDuration time.Duration
}

func (c WallClockCondition) ShouldStop(s core.EngineState) bool {
	return c.MaxDuration > 0 && time.Since(s.StartTime) >= c.MaxDuration
}

func (c WallClockCondition) Name() string { return "wall_clock" }

// MaxIterationsCondition duplicates RunTask's own max_iterations bound as
// a composable StopCondition, for callers who build a stop-condition list
// independent of the max_iterations parameter.
type MaxIterationsCondition struct {
	Max int
}

func (c MaxIterationsCondition) ShouldStop(s core.EngineState) bool {
	return c.Max > 0 && s.Iteration >= c.Max
}

func (c MaxIterationsCondition) Name() string { return "max_iterations" }

// CallbackCondition adapts an arbitrary predicate to core.StopCondition.
type CallbackCondition struct {
	Fn    func(core.EngineState) bool
	Label string
}

func (c CallbackCondition) ShouldStop(s core.EngineState) bool {
	if c.Fn == nil {
		return false
	}
	return c.Fn(s)
}

func (c CallbackCondition) Name() string {
	if c.Label == "" {
		return "callback"
	}
	return c.Label
}

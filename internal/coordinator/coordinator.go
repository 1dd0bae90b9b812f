// Package coordinator implements higher-order multi-agent patterns:
// send-by-role, broadcast, round-robin, and role chains. It is a thin
// composition over an AgentRegistry, a MessageBus, and an Engine — it
// holds no independent state beyond an in-flight workflow id used to
// correlate its own events.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/penguin-run/penguin/internal/agents"
	"github.com/penguin-run/penguin/internal/engine"
	"github.com/penguin-run/penguin/internal/messagebus"
	"github.com/penguin-run/penguin/pkg/core"
)

// DefaultRoleChainStageTimeout bounds a single role chain stage when the
// caller does not override it.
const DefaultRoleChainStageTimeout = 2 * time.Minute

// Coordinator composes AgentRegistry + MessageBus + Engine into the
// multi-agent patterns above.
type Coordinator struct {
	registry *agents.Registry
	bus      *messagebus.Bus
	eng      *engine.Engine
	onEvent  func(core.Event)

	roleChainStageTimeout time.Duration
}

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

func WithEventCallback(fn func(core.Event)) Option {
	return func(c *Coordinator) { c.onEvent = fn }
}

func WithRoleChainStageTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.roleChainStageTimeout = d }
}

// New builds a Coordinator over the given registry, bus, and engine.
func New(registry *agents.Registry, bus *messagebus.Bus, eng *engine.Engine, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry:              registry,
		bus:                   bus,
		eng:                   eng,
		roleChainStageTimeout: DefaultRoleChainStageTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.onEvent == nil {
		c.onEvent = func(core.Event) {}
	}
	return c
}

func (c *Coordinator) newWorkflowID() string { return uuid.NewString() }

// SendByRole delivers one message to every agent tagged with role via the
// MessageBus.
func (c *Coordinator) SendByRole(sender, role, content string, msgType core.MessageType) (messagebus.SendResult, error) {
	return c.bus.Send(messagebus.Envelope{
		Sender:      sender,
		Recipient:   role,
		Content:     content,
		MessageType: msgType,
		CreatedAt:   time.Now(),
	})
}

// Broadcast delivers content to every role listed, returning each role's
// SendResult keyed by role name.
func (c *Coordinator) Broadcast(sender string, roles []string, content string, msgType core.MessageType) map[string]messagebus.SendResult {
	out := make(map[string]messagebus.SendResult, len(roles))
	for _, role := range roles {
		res, err := c.SendByRole(sender, role, content, msgType)
		if err != nil {
			out[role] = messagebus.SendResult{Failed: map[string]error{role: err}}
			continue
		}
		out[role] = res
	}
	return out
}

// RoundRobinResult pairs a distributed prompt with the agent it ran on and
// its outcome.
type RoundRobinResult struct {
	AgentID string
	Prompt  string
	Turn    core.TurnResult
	Err     error
}

// RoundRobin distributes prompts across every active agent tagged with
// role, one prompt per agent in rotation, running each through the Engine
//. Results are returned in prompt order.
func (c *Coordinator) RoundRobin(ctx context.Context, role string, prompts []string) ([]RoundRobinResult, error) {
	candidates := c.registry.List(agents.Filter{Role: role, State: core.AgentActive})
	if len(candidates) == 0 {
		return nil, fmt.Errorf("coordinator: no active agents with role %q", role)
	}

	workflowID := c.newWorkflowID()
	results := make([]RoundRobinResult, len(prompts))
	for i, prompt := range prompts {
		agent := candidates[i%len(candidates)]
		turn, err := c.eng.RunTurn(ctx, agent.ID, prompt, engine.RunOptions{})
		results[i] = RoundRobinResult{AgentID: agent.ID, Prompt: prompt, Turn: turn, Err: err}
		c.onEvent(core.Event{
			Type:    core.EventEngineProgress,
			AgentID: agent.ID,
			Payload: map[string]any{"workflow_id": workflowID, "role": role, "round_robin_index": i},
		})
	}
	return results, nil
}

// RoleChainStage is one link in a RoleChain: the role whose agent runs
// next, fed the previous stage's output content.
type RoleChainStage struct {
	Role string
}

// RoleChainResult is the outcome of one stage of a RoleChain.
type RoleChainResult struct {
	Role    string
	AgentID string
	Content string
	Err     error
}

// RoleChain sequences prompt through roles[0..n-1]: the output of stage i
// becomes the input to stage i+1. It fails fast on any stage's failure or
// timeout, returning every stage attempted so far.
func (c *Coordinator) RoleChain(ctx context.Context, roles []string, prompt string) ([]RoleChainResult, error) {
	if len(roles) == 0 {
		return nil, fmt.Errorf("coordinator: role chain requires at least one role")
	}

	workflowID := c.newWorkflowID()
	results := make([]RoleChainResult, 0, len(roles))
	current := prompt

	for _, role := range roles {
		candidates := c.registry.List(agents.Filter{Role: role, State: core.AgentActive})
		if len(candidates) == 0 {
			err := fmt.Errorf("coordinator: no active agent with role %q", role)
			results = append(results, RoleChainResult{Role: role, Err: err})
			return results, err
		}
		agent := candidates[0]

		stageCtx, cancel := context.WithTimeout(ctx, c.roleChainStageTimeout)
		turn, err := c.eng.RunTurn(stageCtx, agent.ID, current, engine.RunOptions{})
		cancel()

		c.onEvent(core.Event{
			Type:    core.EventEngineProgress,
			AgentID: agent.ID,
			Payload: map[string]any{"workflow_id": workflowID, "role": role, "role_chain_stage": len(results)},
		})

		if err != nil {
			results = append(results, RoleChainResult{Role: role, AgentID: agent.ID, Err: err})
			return results, fmt.Errorf("coordinator: role chain stage %q failed: %w", role, err)
		}

		results = append(results, RoleChainResult{Role: role, AgentID: agent.ID, Content: turn.Content})
		current = turn.Content
	}
	return results, nil
}

// Package agents is the exclusive owner of Agent lifecycle, including
// sub-agent spawning under isolated, snapshot, and shared context-sharing
// modes.
package agents

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/penguin-run/penguin/internal/conversation"
	"github.com/penguin-run/penguin/pkg/core"
)

// RoleDirectory is the subset of messagebus.Bus the registry needs to keep
// role-based routing in sync with agent lifecycle, without importing the
// messagebus package directly.
type RoleDirectory interface {
	RegisterAgent(agentID string, roles ...string)
	UnregisterAgent(agentID string)
}

// Registry owns every Agent record. No other component mutates an Agent
// directly.
type Registry struct {
	mu       sync.RWMutex
	agents   map[string]*core.Agent
	children map[string][]string // parent id -> child ids, for cascade
	store    conversation.Store
	roles    RoleDirectory
	onEvent  func(core.Event)
}

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithRoleDirectory wires the registry to a MessageBus so role-based
// routing tracks Create/Destroy automatically.
func WithRoleDirectory(d RoleDirectory) Option {
	return func(r *Registry) { r.roles = d }
}

// WithEventCallback registers a sink invoked for agent.state_changed
// events; callers typically wire this to eventbus.Bus.Publish.
func WithEventCallback(fn func(core.Event)) Option {
	return func(r *Registry) { r.onEvent = fn }
}

// New creates a Registry backed by store for session lifecycle.
func New(store conversation.Store, opts ...Option) *Registry {
	r := &Registry{
		agents:   make(map[string]*core.Agent),
		children: make(map[string][]string),
		store:    store,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) emit(agentID string, payload map[string]any) {
	if r.onEvent == nil {
		return
	}
	r.onEvent(core.Event{Type: core.EventAgentState, AgentID: agentID, Payload: payload})
}

// Create registers a new top-level agent with a fresh session.
func (r *Registry) Create(ctx context.Context, spec core.AgentSpec) (*core.Agent, error) {
	return r.create(ctx, spec, "", false)
}

func (r *Registry) create(ctx context.Context, spec core.AgentSpec, parentID string, isSub bool) (*core.Agent, error) {
	id := uuid.NewString()
	sessionID := "session-" + id

	if _, err := r.store.CreateSession(ctx, sessionID, id); err != nil {
		return nil, fmt.Errorf("agents: create session: %w", err)
	}

	now := time.Now()
	agent := &core.Agent{
		ID:           id,
		Persona:      spec.Persona,
		Role:         spec.Role,
		ParentID:     parentID,
		SessionID:    sessionID,
		ModelConfig:  spec.ModelConfig,
		DefaultTools: spec.DefaultTools,
		State:        core.AgentActive,
		IsSubAgent:   isSub,
		Metadata:     spec.Metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	r.mu.Lock()
	r.agents[id] = agent
	if parentID != "" {
		r.children[parentID] = append(r.children[parentID], id)
	}
	r.mu.Unlock()

	if r.roles != nil {
		if spec.Role != "" {
			r.roles.RegisterAgent(id, spec.Role)
		} else {
			r.roles.RegisterAgent(id)
		}
	}

	r.emit(id, map[string]any{"state": string(core.AgentActive)})
	return cloneAgent(agent), nil
}

// SpawnSubAgent creates a child of parentID under the given context
// sharing mode.
func (r *Registry) SpawnSubAgent(ctx context.Context, parentID string, spec core.AgentSpec, mode core.ContextSharingMode) (*core.Agent, error) {
	parent, err := r.Get(parentID)
	if err != nil {
		return nil, err
	}

	child, err := r.create(ctx, spec, parentID, true)
	if err != nil {
		return nil, err
	}

	switch mode {
	case core.ContextIsolated, "":
		// Fresh session already created by create(); nothing further.
		return child, nil

	case core.ContextSnapshot:
		cp, err := r.store.Checkpoint(ctx, parent.SessionID, core.CheckpointAuto, "subagent-snapshot", "spawn of "+child.ID)
		if err != nil {
			return nil, fmt.Errorf("agents: snapshot checkpoint: %w", err)
		}
		snapshotSessionID := "session-" + child.ID + "-snapshot"
		if err := r.store.Branch(ctx, parent.SessionID, cp.ID, snapshotSessionID); err != nil {
			return nil, fmt.Errorf("agents: snapshot branch: %w", err)
		}
		r.mu.Lock()
		r.agents[child.ID].SessionID = snapshotSessionID
		updated := cloneAgent(r.agents[child.ID])
		r.mu.Unlock()
		return updated, nil

	case core.ContextShared:
		// The child reads and appends to the parent's own session id;
		// ConversationStore.Append's per-session lock is the single
		// serialization point for the interleaved writers.
		r.mu.Lock()
		r.agents[child.ID].SessionID = parent.SessionID
		updated := cloneAgent(r.agents[child.ID])
		r.mu.Unlock()
		return updated, nil

	default:
		return nil, fmt.Errorf("agents: unknown context sharing mode %q", mode)
	}
}

// Get returns a copy of the agent record for id.
func (r *Registry) Get(id string) (*core.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("agents: %q not found", id)
	}
	return cloneAgent(a), nil
}

// Filter restricts List to agents matching every non-zero field.
type Filter struct {
	Role       string
	State      core.AgentState
	ParentID   string
	IsSubAgent *bool
}

// List returns every agent matching filter, in no particular order.
func (r *Registry) List(filter Filter) []*core.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*core.Agent
	for _, a := range r.agents {
		if filter.Role != "" && a.Role != filter.Role {
			continue
		}
		if filter.State != "" && a.State != filter.State {
			continue
		}
		if filter.ParentID != "" && a.ParentID != filter.ParentID {
			continue
		}
		if filter.IsSubAgent != nil && a.IsSubAgent != *filter.IsSubAgent {
			continue
		}
		out = append(out, cloneAgent(a))
	}
	return out
}

// transition enforces the agent state machine: active ⇄ paused; active →
// cancelled/completed/failed; terminal states never re-enter active.
func transition(from, to core.AgentState) bool {
	switch from {
	case core.AgentActive:
		switch to {
		case core.AgentPaused, core.AgentCancelled, core.AgentCompleted, core.AgentFailed:
			return true
		}
	case core.AgentPaused:
		if to == core.AgentActive || to == core.AgentCancelled {
			return true
		}
	}
	return false
}

// SetState transitions id's state, rejecting moves the state machine
// disallows.
func (r *Registry) SetState(id string, to core.AgentState) error {
	r.mu.Lock()
	a, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("agents: %q not found", id)
	}
	if !transition(a.State, to) {
		from := a.State
		r.mu.Unlock()
		return fmt.Errorf("agents: illegal transition %s -> %s", from, to)
	}
	a.State = to
	a.UpdatedAt = time.Now()
	r.mu.Unlock()

	r.emit(id, map[string]any{"state": string(to)})
	return nil
}

// Pause moves an active agent to paused.
func (r *Registry) Pause(id string) error { return r.SetState(id, core.AgentPaused) }

// Resume moves a paused agent back to active.
func (r *Registry) Resume(id string) error { return r.SetState(id, core.AgentActive) }

// Destroy removes id from the registry. It is idempotent: a second call
// for the same id is a no-op. When cascade is true, every descendant is
// destroyed too; when false, children are orphaned (their ParentID still
// points at a now-unknown id, which List/Get callers must tolerate — see
// DESIGN.md for the cascade-vs-orphan default rationale). When
// preserveHistory is false and the backing store supports it
// (conversation.SessionDeleter), the agent's own session is deleted too;
// a store that can't support deletion simply leaves the history in place.
func (r *Registry) Destroy(id string, preserveHistory, cascade bool) error {
	r.mu.Lock()
	a, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.agents, id)
	kids := r.children[id]
	delete(r.children, id)
	r.mu.Unlock()

	if r.roles != nil {
		r.roles.UnregisterAgent(id)
	}
	r.emit(id, map[string]any{"state": "destroyed", "preserve_history": preserveHistory})

	if !preserveHistory {
		if deleter, ok := r.store.(conversation.SessionDeleter); ok {
			_ = deleter.DeleteSession(context.Background(), a.SessionID)
		}
	}

	if cascade {
		for _, kid := range kids {
			_ = r.Destroy(kid, preserveHistory, true)
		}
	}
	return nil
}

func cloneAgent(a *core.Agent) *core.Agent {
	if a == nil {
		return nil
	}
	c := *a
	if a.DefaultTools != nil {
		c.DefaultTools = append([]string(nil), a.DefaultTools...)
	}
	if a.Metadata != nil {
		c.Metadata = make(map[string]any, len(a.Metadata))
		for k, v := range a.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

package core

import "time"

// AgentState is the lifecycle state of an Agent. Terminal states
// (cancelled, failed, completed) cannot re-enter active without a new
// Create.
type AgentState string

const (
	AgentActive    AgentState = "active"
	AgentPaused    AgentState = "paused"
	AgentCancelled AgentState = "cancelled"
	AgentFailed    AgentState = "failed"
	AgentCompleted AgentState = "completed"
)

// ModelConfig selects the model and provider handed to the ModelGateway.
// The engine treats it as an opaque bag; only gateway implementations
// interpret its fields.
type ModelConfig struct {
	Provider    string         `json:"provider"`
	Model       string         `json:"model"`
	Temperature float64        `json:"temperature,omitempty"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Agent is an active participant: a named reasoning loop bound to one
// session.
type Agent struct {
	ID           string         `json:"id"`
	Persona      string         `json:"persona,omitempty"`
	Role         string         `json:"role,omitempty"`
	ParentID     string         `json:"parent_id,omitempty"`
	SessionID    string         `json:"session_id"`
	ModelConfig  ModelConfig    `json:"model_config"`
	DefaultTools []string       `json:"default_tools,omitempty"`
	State        AgentState     `json:"state"`
	IsSubAgent   bool           `json:"is_sub_agent"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// AgentSpec describes a new agent at creation time.
type AgentSpec struct {
	Persona      string
	Role         string
	ModelConfig  ModelConfig
	DefaultTools []string
	Metadata     map[string]any
}

// ContextSharingMode controls how a sub-agent's session relates to its
// parent's at spawn time.
type ContextSharingMode string

const (
	// ContextIsolated gives the sub-agent a fresh, empty session.
	ContextIsolated ContextSharingMode = "isolated"
	// ContextSnapshot gives the sub-agent a one-time copy of the parent's
	// head (equivalent to an immediate Branch).
	ContextSnapshot ContextSharingMode = "snapshot"
	// ContextShared has the sub-agent read and append to the same session
	// id as its parent; ConversationStore.Append's per-session lock is the
	// single serialization point for interleaved writers.
	ContextShared ContextSharingMode = "shared"
)

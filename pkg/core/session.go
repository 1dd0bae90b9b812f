package core

import "time"

// Session is a sequence of Messages plus an active branch identifier. A
// session has exactly one active branch head at a time; historical
// branches and checkpoints reference the session's messages by id.
type Session struct {
	ID         string         `json:"id"`
	AgentID    string         `json:"agent_id"`
	Branch     string         `json:"branch"`
	ParentID   string         `json:"parent_id,omitempty"`   // source session, if branched
	ParentHead int64          `json:"parent_head,omitempty"` // head id at fork time
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// CheckpointKind distinguishes operator-requested snapshots from the
// Checkpointer's periodic ones.
type CheckpointKind string

const (
	CheckpointManual CheckpointKind = "manual"
	CheckpointAuto   CheckpointKind = "auto"
)

// Checkpoint is a named, immutable snapshot of a session branch's head at
// some message id.
type Checkpoint struct {
	ID                 string         `json:"id"`
	SessionID          string         `json:"session_id"`
	Branch             string         `json:"branch"`
	HeadMessageID      int64          `json:"head_message_id"`
	Kind               CheckpointKind `json:"kind"`
	Name               string         `json:"name,omitempty"`
	Description        string         `json:"description,omitempty"`
	ParentCheckpointID string         `json:"parent_checkpoint_id,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

// TrimPolicy selects how ConversationStore.Trim collapses a context window
// that exceeds its token budget.
type TrimPolicy string

const (
	TrimDropMiddle      TrimPolicy = "drop_middle"
	TrimSummarizeMiddle TrimPolicy = "summarize_middle"
)

// TrimOptions parameterizes a Trim projection.
type TrimOptions struct {
	MaxTokens int
	Policy    TrimPolicy
	// PinnedIDs are message ids that must survive trimming regardless of
	// position (e.g. the system preamble, explicitly pinned context).
	PinnedIDs []int64
	// Summarizer produces replacement text for a dropped middle span when
	// Policy is TrimSummarizeMiddle. Required only for that policy.
	Summarizer func(dropped []*Message) string
}

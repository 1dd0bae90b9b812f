// Package conversation provides an append-only per-session message log
// with a checkpoint index supporting branch, rollback, and read-time
// trimming.
package conversation

import (
	"context"
	"fmt"

	"github.com/penguin-run/penguin/pkg/core"
)

// Store is the operation set every ConversationStore backend implements.
// It is the sole owner of Message and Checkpoint lifetimes: every other
// component observes or appends through this interface, never holding a
// message pointer across an await.
type Store interface {
	CreateSession(ctx context.Context, sessionID, agentID string) (*core.Session, error)
	GetSession(ctx context.Context, sessionID string) (*core.Session, error)

	// Append adds message to sessionID's active branch and returns its
	// assigned, monotonically increasing id.
	Append(ctx context.Context, sessionID string, message *core.Message) (int64, error)

	// Head returns the active branch's current head message id.
	Head(ctx context.Context, sessionID string) (int64, error)

	// Range returns non-tombstoned messages in (fromID, toID] order on the
	// active branch. toID <= 0 means "through head".
	Range(ctx context.Context, sessionID string, fromID, toID int64) ([]*core.Message, error)

	// Checkpoint records the current head under a new checkpoint id. O(1).
	Checkpoint(ctx context.Context, sessionID string, kind core.CheckpointKind, name, description string) (*core.Checkpoint, error)

	// Rollback moves the active branch head back to checkpointID's head,
	// tombstoning every later message in that branch.
	Rollback(ctx context.Context, sessionID, checkpointID string) error

	// Branch creates newSessionID as a new session whose initial messages
	// are a copy of sessionID's branch up through checkpointID. sessionID
	// itself is left unaffected.
	Branch(ctx context.Context, sessionID, checkpointID, newSessionID string) error

	// Trim produces a read-time projection of the active branch bounded by
	// opts; the underlying log is never mutated.
	Trim(ctx context.Context, sessionID string, opts core.TrimOptions) ([]*core.Message, error)

	// ListCheckpoints returns checkpoints for sessionID in creation order.
	ListCheckpoints(ctx context.Context, sessionID string) ([]*core.Checkpoint, error)
}

// BranchComparer is an optional capability some Store backends expose.
type BranchComparer interface {
	CompareBranches(ctx context.Context, sessionA, sessionB string) (BranchDiff, error)
}

// BranchMerger is an optional capability some Store backends expose.
type BranchMerger interface {
	MergeBranch(ctx context.Context, sourceSessionID, targetSessionID string) (int, error)
}

// SessionDeleter is an optional capability some Store backends expose so a
// caller that genuinely wants a session's history gone (rather than merely
// orphaned) has somewhere to ask. agents.Registry.Destroy uses this,
// best-effort, when the caller passes preserveHistory=false.
type SessionDeleter interface {
	DeleteSession(ctx context.Context, sessionID string) error
}

// BranchDiff summarizes how two sessions' active branches differ.
type BranchDiff struct {
	CommonHead   int64
	OnlyInA      []*core.Message
	OnlyInB      []*core.Message
}

// ErrNotFound is returned when a session or checkpoint id is unknown.
type ErrNotFound struct{ Kind, ID string }

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

package agents

import (
	"context"
	"testing"

	"github.com/penguin-run/penguin/internal/conversation"
	"github.com/penguin-run/penguin/pkg/core"
)

func newTestRegistry() (*Registry, conversation.Store) {
	store := conversation.NewMemoryStore()
	return New(store), store
}

func TestCreateAndGet(t *testing.T) {
	r, _ := newTestRegistry()
	a, err := r.Create(context.Background(), core.AgentSpec{Persona: "assistant"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.State != core.AgentActive {
		t.Fatalf("got state %v, want active", a.State)
	}

	got, err := r.Get(a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != a.ID {
		t.Fatalf("got %v, want %v", got.ID, a.ID)
	}
}

func TestPauseResumeStateMachine(t *testing.T) {
	r, _ := newTestRegistry()
	a, _ := r.Create(context.Background(), core.AgentSpec{})

	if err := r.Pause(a.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := r.Resume(a.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := r.SetState(a.ID, core.AgentCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := r.Resume(a.ID); err == nil {
		t.Fatal("expected terminal state to reject re-entering active")
	}
}

func TestSpawnSubAgentIsolated(t *testing.T) {
	r, store := newTestRegistry()
	ctx := context.Background()
	parent, _ := r.Create(ctx, core.AgentSpec{})
	store.Append(ctx, parent.SessionID, &core.Message{Role: core.RoleUser, Content: "hi"})

	child, err := r.SpawnSubAgent(ctx, parent.ID, core.AgentSpec{}, core.ContextIsolated)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if child.SessionID == parent.SessionID {
		t.Fatal("isolated sub-agent must not share parent's session")
	}
	head, _ := store.Head(ctx, child.SessionID)
	if head != 0 {
		t.Fatalf("isolated sub-agent session should start empty, head=%d", head)
	}
}

func TestSpawnSubAgentSnapshotCopiesParentHead(t *testing.T) {
	r, store := newTestRegistry()
	ctx := context.Background()
	parent, _ := r.Create(ctx, core.AgentSpec{})
	store.Append(ctx, parent.SessionID, &core.Message{Role: core.RoleUser, Content: "hi"})
	store.Append(ctx, parent.SessionID, &core.Message{Role: core.RoleAssistant, Content: "hello"})

	child, err := r.SpawnSubAgent(ctx, parent.ID, core.AgentSpec{}, core.ContextSnapshot)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if child.SessionID == parent.SessionID {
		t.Fatal("snapshot sub-agent must get its own session")
	}
	msgs, _ := store.Range(ctx, child.SessionID, 0, -1)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages in snapshot, want 2", len(msgs))
	}

	store.Append(ctx, parent.SessionID, &core.Message{Role: core.RoleUser, Content: "more"})
	childMsgsAfter, _ := store.Range(ctx, child.SessionID, 0, -1)
	if len(childMsgsAfter) != 2 {
		t.Fatal("snapshot must not observe later parent appends")
	}
}

func TestSpawnSubAgentSharedUsesParentSession(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	parent, _ := r.Create(ctx, core.AgentSpec{})

	child, err := r.SpawnSubAgent(ctx, parent.ID, core.AgentSpec{}, core.ContextShared)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if child.SessionID != parent.SessionID {
		t.Fatal("shared sub-agent must use parent's session id")
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	r, _ := newTestRegistry()
	a, _ := r.Create(context.Background(), core.AgentSpec{})

	if err := r.Destroy(a.ID, true, false); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if err := r.Destroy(a.ID, true, false); err != nil {
		t.Fatalf("second destroy: %v", err)
	}
	if _, err := r.Get(a.ID); err == nil {
		t.Fatal("expected agent to be gone after destroy")
	}
}

func TestDestroyWithoutPreserveHistoryDeletesSession(t *testing.T) {
	r, store := newTestRegistry()
	ctx := context.Background()
	a, _ := r.Create(ctx, core.AgentSpec{})
	sessionID := a.SessionID

	if err := r.Destroy(a.ID, false, false); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if _, err := store.GetSession(ctx, sessionID); err == nil {
		t.Fatal("expected session to be deleted when preserveHistory is false")
	}
}

func TestDestroyWithPreserveHistoryKeepsSession(t *testing.T) {
	r, store := newTestRegistry()
	ctx := context.Background()
	a, _ := r.Create(ctx, core.AgentSpec{})
	sessionID := a.SessionID

	if err := r.Destroy(a.ID, true, false); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if _, err := store.GetSession(ctx, sessionID); err != nil {
		t.Fatalf("expected session to survive destroy with preserveHistory=true, got %v", err)
	}
}

func TestDestroyCascadesToChildren(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	parent, _ := r.Create(ctx, core.AgentSpec{})
	child, _ := r.SpawnSubAgent(ctx, parent.ID, core.AgentSpec{}, core.ContextIsolated)

	if err := r.Destroy(parent.ID, true, true); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if _, err := r.Get(child.ID); err == nil {
		t.Fatal("expected child to be cascaded away")
	}
}

func TestListFiltersByRole(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	r.Create(ctx, core.AgentSpec{Role: "reviewer"})
	r.Create(ctx, core.AgentSpec{Role: "writer"})

	got := r.List(Filter{Role: "reviewer"})
	if len(got) != 1 {
		t.Fatalf("got %d agents, want 1", len(got))
	}
}

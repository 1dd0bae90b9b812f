package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/penguin-run/penguin/internal/conversation"
	"github.com/penguin-run/penguin/internal/eventbus"
	"github.com/penguin-run/penguin/pkg/core"
)

func TestCheckpointerCreatesAutoCheckpointOnCadence(t *testing.T) {
	store := conversation.NewMemoryStore()
	ctx := context.Background()
	if _, err := store.CreateSession(ctx, "s1", "agent-1"); err != nil {
		t.Fatalf("create session: %v", err)
	}

	bus := eventbus.New(16)
	cp := New(store, WithAutoEvery(2))
	cp.Start(ctx, bus, time.Hour)
	defer cp.Stop()

	publishAssistantAppend := func() {
		bus.Publish(core.Event{Type: core.EventMessageAppended, SessionID: "s1", Payload: map[string]any{"role": string(core.RoleAssistant)}})
	}

	publishAssistantAppend()
	publishAssistantAppend()

	deadline := time.After(time.Second)
	for {
		cps, err := store.ListCheckpoints(ctx, "s1")
		if err != nil {
			t.Fatalf("list checkpoints: %v", err)
		}
		if len(cps) == 1 && cps[0].Kind == core.CheckpointAuto {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("expected one auto checkpoint after 2 assistant appends, got %d", len(cps))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestCheckpointerIgnoresNonAssistantAppends(t *testing.T) {
	store := conversation.NewMemoryStore()
	ctx := context.Background()
	if _, err := store.CreateSession(ctx, "s1", "agent-1"); err != nil {
		t.Fatalf("create session: %v", err)
	}

	bus := eventbus.New(16)
	cp := New(store, WithAutoEvery(1))
	cp.Start(ctx, bus, time.Hour)
	defer cp.Stop()

	bus.Publish(core.Event{Type: core.EventMessageAppended, SessionID: "s1", Payload: map[string]any{"role": string(core.RoleUser)}})
	time.Sleep(20 * time.Millisecond)

	cps, err := store.ListCheckpoints(ctx, "s1")
	if err != nil {
		t.Fatalf("list checkpoints: %v", err)
	}
	if len(cps) != 0 {
		t.Fatalf("expected no checkpoint from a user append, got %d", len(cps))
	}
}

func TestCleanupKeepsMinAutoKeptAndPrunesOld(t *testing.T) {
	store := conversation.NewMemoryStore()
	ctx := context.Background()
	if _, err := store.CreateSession(ctx, "s1", "agent-1"); err != nil {
		t.Fatalf("create session: %v", err)
	}

	old := make([]*core.Checkpoint, 0, 5)
	for i := 0; i < 5; i++ {
		c, err := store.Checkpoint(ctx, "s1", core.CheckpointAuto, "", "")
		if err != nil {
			t.Fatalf("checkpoint: %v", err)
		}
		old = append(old, c)
	}
	// Retention is set to 0 so every auto checkpoint is in principle
	// prunable; min-kept is what protects the two newest regardless of age.
	cp := New(store, WithRetention(0), WithMinAutoKept(2))
	cp.Cleanup(ctx)

	remaining, err := store.ListCheckpoints(ctx, "s1")
	if err != nil {
		t.Fatalf("list checkpoints: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("remaining = %d, want 2 (min kept)", len(remaining))
	}
	if remaining[0].ID != old[3].ID || remaining[1].ID != old[4].ID {
		t.Fatalf("expected the two newest checkpoints to survive, got %+v", remaining)
	}
}

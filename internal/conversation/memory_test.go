package conversation

import (
	"context"
	"testing"

	"github.com/penguin-run/penguin/pkg/core"
)

func mustCreate(t *testing.T, s *MemoryStore, id string) {
	t.Helper()
	if _, err := s.CreateSession(context.Background(), id, "agent-1"); err != nil {
		t.Fatalf("create session: %v", err)
	}
}

func appendN(t *testing.T, s *MemoryStore, sessionID string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		if _, err := s.Append(ctx, sessionID, &core.Message{Role: core.RoleUser, Content: "msg"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
}

func TestAppendIDsStrictlyIncrease(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	mustCreate(t, s, "s1")

	var last int64
	for i := 0; i < 5; i++ {
		id, err := s.Append(ctx, "s1", &core.Message{Role: core.RoleUser, Content: "x"})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if id <= last {
			t.Fatalf("id %d did not strictly increase over %d", id, last)
		}
		last = id
	}
}

func TestBranchLeavesSourceInvariantAndCopiesUpToCheckpoint(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	mustCreate(t, s, "src")

	appendN(t, s, "src", 5)
	cp, err := s.Checkpoint(ctx, "src", core.CheckpointManual, "c1", "")
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	appendN(t, s, "src", 3)

	if err := s.Branch(ctx, "src", cp.ID, "forked"); err != nil {
		t.Fatalf("branch: %v", err)
	}

	forked, err := s.Range(ctx, "forked", 0, -1)
	if err != nil {
		t.Fatalf("range forked: %v", err)
	}
	if len(forked) != 5 {
		t.Fatalf("forked has %d messages, want 5", len(forked))
	}

	srcHeadBefore, _ := s.Head(ctx, "src")
	if _, err := s.Append(ctx, "forked", &core.Message{Role: core.RoleUser, Content: "new"}); err != nil {
		t.Fatalf("append to forked: %v", err)
	}
	srcHeadAfter, _ := s.Head(ctx, "src")
	if srcHeadBefore != srcHeadAfter {
		t.Fatalf("mutating forked session changed source head: %d -> %d", srcHeadBefore, srcHeadAfter)
	}
}

func TestRollbackThenAppendYieldsCheckpointHeadPlusOne(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	mustCreate(t, s, "s1")
	appendN(t, s, "s1", 5)

	cp, err := s.Checkpoint(ctx, "s1", core.CheckpointManual, "", "")
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	appendN(t, s, "s1", 3)

	if err := s.Rollback(ctx, "s1", cp.ID); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	id, err := s.Append(ctx, "s1", &core.Message{Role: core.RoleUser, Content: "after rollback"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if id != cp.HeadMessageID+1 {
		t.Fatalf("got head %d, want %d", id, cp.HeadMessageID+1)
	}

	msgs, err := s.Range(ctx, "s1", 0, -1)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	for _, m := range msgs {
		if m.ID > cp.HeadMessageID && m.ID != id {
			t.Fatalf("tombstoned message %d returned by Range", m.ID)
		}
	}
}

func TestCheckpointThenImmediateRollbackIsNoop(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	mustCreate(t, s, "s1")
	appendN(t, s, "s1", 4)

	before, _ := s.Range(ctx, "s1", 0, -1)
	cp, err := s.Checkpoint(ctx, "s1", core.CheckpointManual, "", "")
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if err := s.Rollback(ctx, "s1", cp.ID); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	after, _ := s.Range(ctx, "s1", 0, -1)

	if len(before) != len(after) {
		t.Fatalf("rollback after immediate checkpoint changed message count: %d vs %d", len(before), len(after))
	}
}

func TestTrimPreservesSystemPreambleAndRecentTail(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	mustCreate(t, s, "s1")

	if _, err := s.Append(ctx, "s1", &core.Message{Role: core.RoleSystem, Content: "you are a helpful agent"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	appendN(t, s, "s1", 20)

	trimmed, err := s.Trim(ctx, "s1", core.TrimOptions{MaxTokens: 10, Policy: core.TrimDropMiddle})
	if err != nil {
		t.Fatalf("trim: %v", err)
	}
	if len(trimmed) == 0 {
		t.Fatal("expected at least the preamble to survive trimming")
	}
	if trimmed[0].Role != core.RoleSystem {
		t.Fatalf("expected system preamble first, got %v", trimmed[0].Role)
	}
}

func TestTrimNeverMutatesUnderlyingLog(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	mustCreate(t, s, "s1")
	appendN(t, s, "s1", 10)

	before, _ := s.Range(ctx, "s1", 0, -1)
	if _, err := s.Trim(ctx, "s1", core.TrimOptions{MaxTokens: 1, Policy: core.TrimDropMiddle}); err != nil {
		t.Fatalf("trim: %v", err)
	}
	after, _ := s.Range(ctx, "s1", 0, -1)

	if len(before) != len(after) {
		t.Fatalf("trim mutated the log: %d messages before, %d after", len(before), len(after))
	}
}

func TestMergeBranchAppendsOnlyNewerMessages(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	mustCreate(t, s, "src")
	appendN(t, s, "src", 3)

	cp, err := s.Checkpoint(ctx, "src", core.CheckpointManual, "", "")
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if err := s.Branch(ctx, "src", cp.ID, "target"); err != nil {
		t.Fatalf("branch: %v", err)
	}
	appendN(t, s, "src", 2)

	n, err := s.MergeBranch(ctx, "src", "target")
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if n != 2 {
		t.Fatalf("merged %d messages, want 2", n)
	}
}

package coordinator

import (
	"context"
	"testing"

	"github.com/penguin-run/penguin/internal/actions"
	"github.com/penguin-run/penguin/internal/agents"
	"github.com/penguin-run/penguin/internal/conversation"
	"github.com/penguin-run/penguin/internal/engine"
	"github.com/penguin-run/penguin/internal/messagebus"
	"github.com/penguin-run/penguin/internal/stream"
	"github.com/penguin-run/penguin/pkg/core"
)

type echoGateway struct{}

func (echoGateway) Stream(ctx context.Context, messages []core.ChatMessage, cfg core.ModelConfig) (<-chan core.Delta, <-chan error) {
	last := ""
	if len(messages) > 0 {
		last = messages[len(messages)-1].Content
	}
	deltas := make(chan core.Delta, 1)
	errs := make(chan error)
	deltas <- core.Delta{Text: "echo:" + last, Kind: core.DeltaContent}
	close(deltas)
	close(errs)
	return deltas, errs
}

func newTestCoordinator(t *testing.T, roles ...string) (*Coordinator, *agents.Registry, *messagebus.Bus) {
	t.Helper()
	store := conversation.NewMemoryStore()
	bus := messagebus.New(0)
	registry := agents.New(store, agents.WithRoleDirectory(bus))
	eng := engine.New(registry, store, actions.NewParser(nil), actions.NewExecutor(), stream.New(), engine.WithDefaultGateway(echoGateway{}))

	for _, role := range roles {
		if _, err := registry.Create(context.Background(), core.AgentSpec{Role: role, ModelConfig: core.ModelConfig{Provider: "fake"}}); err != nil {
			t.Fatalf("create agent for role %q: %v", role, err)
		}
	}

	return New(registry, bus, eng), registry, bus
}

func TestRoundRobinDistributesAcrossRoleAgents(t *testing.T) {
	c, _, _ := newTestCoordinator(t, "worker", "worker")

	results, err := c.RoundRobin(context.Background(), "worker", []string{"p1", "p2", "p3"})
	if err != nil {
		t.Fatalf("RoundRobin: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	if results[0].AgentID == results[1].AgentID {
		t.Fatalf("expected prompts 0 and 1 to land on different agents, both got %s", results[0].AgentID)
	}
	if results[0].AgentID != results[2].AgentID {
		t.Fatalf("expected rotation to wrap back to the first agent on prompt 2")
	}
}

func TestRoleChainFeedsOutputForward(t *testing.T) {
	c, _, _ := newTestCoordinator(t, "writer", "reviewer")

	results, err := c.RoleChain(context.Background(), []string{"writer", "reviewer"}, "draft this")
	if err != nil {
		t.Fatalf("RoleChain: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Content != "echo:draft this" {
		t.Fatalf("stage 0 content = %q", results[0].Content)
	}
	if results[1].Content != "echo:echo:draft this" {
		t.Fatalf("stage 1 did not receive stage 0's output: %q", results[1].Content)
	}
}

func TestRoleChainFailsFastOnMissingRole(t *testing.T) {
	c, _, _ := newTestCoordinator(t, "writer")

	results, err := c.RoleChain(context.Background(), []string{"writer", "reviewer"}, "draft this")
	if err == nil {
		t.Fatalf("expected error for missing reviewer role")
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2 (writer succeeded, reviewer recorded the failure)", len(results))
	}
	if results[1].Err == nil {
		t.Fatalf("expected stage 1 to carry the missing-role error")
	}
}

func TestBroadcastCoversEveryRole(t *testing.T) {
	c, _, _ := newTestCoordinator(t, "alpha", "beta")

	out := c.Broadcast("system", []string{"alpha", "beta", "missing"}, "hello", core.MessageKindMessage)
	if len(out["alpha"].Delivered) != 1 || len(out["beta"].Delivered) != 1 {
		t.Fatalf("expected delivery to alpha and beta, got %+v", out)
	}
	if len(out["missing"].Failed) == 0 {
		t.Fatalf("expected undeliverable failure for unknown role")
	}
}

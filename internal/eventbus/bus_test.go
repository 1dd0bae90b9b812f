package eventbus

import (
	"testing"
	"time"

	"github.com/penguin-run/penguin/pkg/core"
)

func TestPublishDeliversToMatchingSubscriber(t *testing.T) {
	bus := New(4)
	_, ch := bus.Subscribe(Filter{Topics: []core.EventType{core.EventStreamChunk}})

	bus.Publish(core.Event{Type: core.EventStreamStart})
	bus.Publish(core.Event{Type: core.EventStreamChunk, AgentID: "a1"})

	select {
	case e := <-ch:
		if e.Type != core.EventStreamChunk {
			t.Fatalf("got type %v, want stream.chunk", e.Type)
		}
		if e.Seq == 0 {
			t.Fatalf("expected non-zero seq")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case e, ok := <-ch:
		if ok {
			t.Fatalf("unexpected second event: %+v", e)
		}
	default:
	}
}

func TestFilterByAgentAndSession(t *testing.T) {
	bus := New(4)
	_, ch := bus.Subscribe(Filter{AgentID: "a1", SessionID: "s1"})

	bus.Publish(core.Event{Type: core.EventMessageAppended, AgentID: "a2", SessionID: "s1"})
	bus.Publish(core.Event{Type: core.EventMessageAppended, AgentID: "a1", SessionID: "s1"})

	select {
	case e := <-ch:
		if e.AgentID != "a1" {
			t.Fatalf("got agent %q, want a1", e.AgentID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestOverflowDropsOldest(t *testing.T) {
	bus := New(2)
	h, ch := bus.Subscribe(Filter{})

	bus.Publish(core.Event{Type: core.EventEngineProgress, Payload: map[string]any{"i": 1}})
	bus.Publish(core.Event{Type: core.EventEngineProgress, Payload: map[string]any{"i": 2}})
	bus.Publish(core.Event{Type: core.EventEngineProgress, Payload: map[string]any{"i": 3}})

	if got := bus.Dropped(h); got != 1 {
		t.Fatalf("dropped = %d, want 1", got)
	}

	first := <-ch
	if first.Payload["i"] != 2 {
		t.Fatalf("first surviving event = %v, want 2 (oldest dropped)", first.Payload["i"])
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(4)
	h, ch := bus.Subscribe(Filter{})
	bus.Unsubscribe(h)

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}

	// Unsubscribing twice must not panic.
	bus.Unsubscribe(h)
}

func TestSeqIsMonotonic(t *testing.T) {
	bus := New(8)
	_, ch := bus.Subscribe(Filter{})

	bus.Publish(core.Event{Type: core.EventEngineProgress})
	bus.Publish(core.Event{Type: core.EventEngineProgress})

	first := <-ch
	second := <-ch
	if second.Seq <= first.Seq {
		t.Fatalf("seq not monotonic: %d then %d", first.Seq, second.Seq)
	}
}

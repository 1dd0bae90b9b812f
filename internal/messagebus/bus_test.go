package messagebus

import "testing"

func TestSendAndPollFIFO(t *testing.T) {
	b := New(10)
	b.RegisterAgent("a1")

	b.Send(Envelope{Sender: "a2", Recipient: "a1", Content: "first"})
	b.Send(Envelope{Sender: "a2", Recipient: "a1", Content: "second"})

	e, ok := b.Poll("a1")
	if !ok || e.Content != "first" {
		t.Fatalf("got %+v, %v", e, ok)
	}
	e, ok = b.Poll("a1")
	if !ok || e.Content != "second" {
		t.Fatalf("got %+v, %v", e, ok)
	}
	if _, ok := b.Poll("a1"); ok {
		t.Fatal("expected empty queue")
	}
}

func TestSendToRoleFansOut(t *testing.T) {
	b := New(10)
	b.RegisterAgent("a1", "worker")
	b.RegisterAgent("a2", "worker")

	result, err := b.Send(Envelope{Sender: "lead", Recipient: "worker", Content: "go"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(result.Delivered) != 2 {
		t.Fatalf("delivered %v, want 2 recipients", result.Delivered)
	}
	if b.PendingCount("a1") != 1 || b.PendingCount("a2") != 1 {
		t.Fatalf("expected 1 pending each, got %d %d", b.PendingCount("a1"), b.PendingCount("a2"))
	}
}

func TestSendBroadcastReachesEveryAgent(t *testing.T) {
	b := New(10)
	b.RegisterAgent("a1")
	b.RegisterAgent("a2")

	result, err := b.Send(Envelope{Sender: "lead", Broadcast: true, Content: "hello all"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(result.Delivered) != 2 {
		t.Fatalf("delivered %v, want 2", result.Delivered)
	}
}

func TestSendUnknownRecipientFailsSynchronously(t *testing.T) {
	b := New(10)
	if _, err := b.Send(Envelope{Sender: "a1", Recipient: "ghost", Content: "x"}); err == nil {
		t.Fatal("expected ErrUndeliverable")
	}
}

func TestSendQueueFullFailsAndResumeDrains(t *testing.T) {
	b := New(1)
	b.RegisterAgent("a1")

	if _, err := b.Send(Envelope{Sender: "a2", Recipient: "a1", Content: "one"}); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if _, err := b.Send(Envelope{Sender: "a2", Recipient: "a1", Content: "two"}); err != ErrQueueFull {
		t.Fatalf("got %v, want ErrQueueFull", err)
	}

	e, ok := b.Poll("a1")
	if !ok || e.Content != "one" {
		t.Fatalf("got %+v", e)
	}
	if _, err := b.Send(Envelope{Sender: "a2", Recipient: "a1", Content: "two"}); err != nil {
		t.Fatalf("send after drain: %v", err)
	}
}

func TestDropOldestPolicyEvictsOldestAtWatermark(t *testing.T) {
	b := New(1, WithDropPolicy(DropOldest))
	b.RegisterAgent("a1")

	if _, err := b.Send(Envelope{Sender: "a2", Recipient: "a1", Content: "one"}); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if _, err := b.Send(Envelope{Sender: "a2", Recipient: "a1", Content: "two"}); err != nil {
		t.Fatalf("second send should evict, not fail: %v", err)
	}

	e, ok := b.Poll("a1")
	if !ok || e.Content != "two" {
		t.Fatalf("got %+v, want the newest envelope after eviction", e)
	}
	if _, ok := b.Poll("a1"); ok {
		t.Fatal("expected a single queued envelope")
	}
}

func TestUnregisterRemovesFromRoleAndQueue(t *testing.T) {
	b := New(10)
	b.RegisterAgent("a1", "worker")
	b.UnregisterAgent("a1")

	if _, err := b.Send(Envelope{Sender: "lead", Recipient: "worker", Content: "x"}); err == nil {
		t.Fatal("expected undeliverable after unregister drained the role")
	}
}

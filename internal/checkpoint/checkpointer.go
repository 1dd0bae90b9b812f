// Package checkpoint subscribes to conversation append events, creates
// auto-checkpoints on a configurable assistant-turn cadence, and
// periodically prunes old auto checkpoints while never touching manual
// ones within their retention window.
package checkpoint

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/penguin-run/penguin/internal/conversation"
	"github.com/penguin-run/penguin/internal/eventbus"
	"github.com/penguin-run/penguin/pkg/core"
)

// DefaultAutoEvery is the default assistant-turn cadence between auto
// checkpoints.
const DefaultAutoEvery = 5

// DefaultRetention and DefaultMinAutoKept back the configured
// checkpoint.retention_hours / checkpoint.min_auto_kept values.
const (
	DefaultRetention   = 24 * time.Hour
	DefaultMinAutoKept = 3
)

// Checkpointer drives auto-checkpoint creation and cleanup for a
// conversation.Store. It holds no session state of its own beyond a
// per-session assistant-turn counter used to evaluate the cadence policy.
type Checkpointer struct {
	store conversation.Store

	mu       sync.Mutex
	counters map[string]int // session id -> assistant turns since last auto checkpoint

	autoEvery    int
	retention    time.Duration
	minAutoKept  int
	logger       *slog.Logger
	onEvent      func(core.Event)

	sub    eventbus.Handle
	events <-chan core.Event
	bus    *eventbus.Bus

	stop chan struct{}
	done chan struct{}
}

// Option configures a Checkpointer at construction time.
type Option func(*Checkpointer)

func WithAutoEvery(n int) Option        { return func(c *Checkpointer) { c.autoEvery = n } }
func WithRetention(d time.Duration) Option { return func(c *Checkpointer) { c.retention = d } }
func WithMinAutoKept(n int) Option      { return func(c *Checkpointer) { c.minAutoKept = n } }
func WithLogger(l *slog.Logger) Option  { return func(c *Checkpointer) { c.logger = l } }
func WithEventCallback(fn func(core.Event)) Option {
	return func(c *Checkpointer) { c.onEvent = fn }
}

// New builds a Checkpointer over store. Call Start to begin subscribing to
// bus for append events and running the periodic cleanup pass.
func New(store conversation.Store, opts ...Option) *Checkpointer {
	c := &Checkpointer{
		store:       store,
		counters:    make(map[string]int),
		autoEvery:   DefaultAutoEvery,
		retention:   DefaultRetention,
		minAutoKept: DefaultMinAutoKept,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.onEvent == nil {
		c.onEvent = func(core.Event) {}
	}
	return c
}

// Start subscribes to bus for message.appended events and launches the
// background cleanup task, which runs every cleanupInterval. Call Stop to
// unwind both.
func (c *Checkpointer) Start(ctx context.Context, bus *eventbus.Bus, cleanupInterval time.Duration) {
	c.bus = bus
	c.sub, c.events = bus.Subscribe(eventbus.Filter{Topics: []core.EventType{core.EventMessageAppended}})
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	if cleanupInterval <= 0 {
		cleanupInterval = time.Hour
	}

	go c.run(ctx, cleanupInterval)
}

// Stop unsubscribes from the event bus and halts the cleanup task,
// blocking until both have exited.
func (c *Checkpointer) Stop() {
	if c.stop == nil {
		return
	}
	close(c.stop)
	<-c.done
	c.bus.Unsubscribe(c.sub)
}

func (c *Checkpointer) run(ctx context.Context, cleanupInterval time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-c.events:
			if !ok {
				return
			}
			c.onAppend(ctx, ev)
		case <-ticker.C:
			c.Cleanup(ctx)
		}
	}
}

// onAppend evaluates the auto-checkpoint cadence for a single
// message.appended event. Only assistant-role appends advance the
// counter.
func (c *Checkpointer) onAppend(ctx context.Context, ev core.Event) {
	role, _ := ev.Payload["role"].(string)
	if role != string(core.RoleAssistant) {
		return
	}

	c.mu.Lock()
	c.counters[ev.SessionID]++
	count := c.counters[ev.SessionID]
	due := c.autoEvery > 0 && count >= c.autoEvery
	if due {
		c.counters[ev.SessionID] = 0
	}
	c.mu.Unlock()

	if !due {
		return
	}

	cp, err := c.store.Checkpoint(ctx, ev.SessionID, core.CheckpointAuto, "", "auto checkpoint every "+strconv.Itoa(c.autoEvery)+" assistant turns")
	if err != nil {
		c.logger.Warn("checkpoint: auto checkpoint failed", "session_id", ev.SessionID, "error", err)
		return
	}
	c.onEvent(core.Event{Type: core.EventCheckpointNew, SessionID: ev.SessionID, Payload: map[string]any{"checkpoint_id": cp.ID, "kind": string(cp.Kind)}})
}

// Cleanup prunes auto checkpoints older than retention, always keeping at
// least minAutoKept of the most recent auto checkpoints per session, and
// never pruning manual checkpoints at all (see DESIGN.md for that
// open-question resolution).
func (c *Checkpointer) Cleanup(ctx context.Context) {
	lister, ok := c.store.(sessionLister)
	if !ok {
		return
	}
	for _, sessionID := range lister.ListSessionIDs(ctx) {
		c.cleanupSession(ctx, sessionID)
	}
}

// sessionLister is an optional capability a Store backend can expose so
// Cleanup can enumerate sessions without the checkpoint package needing
// its own session index.
type sessionLister interface {
	ListSessionIDs(ctx context.Context) []string
}

func (c *Checkpointer) cleanupSession(ctx context.Context, sessionID string) {
	cps, err := c.store.ListCheckpoints(ctx, sessionID)
	if err != nil {
		c.logger.Warn("checkpoint: list checkpoints failed", "session_id", sessionID, "error", err)
		return
	}

	var auto []*core.Checkpoint
	for _, cp := range cps {
		if cp.Kind == core.CheckpointAuto {
			auto = append(auto, cp)
		}
	}
	if len(auto) <= c.minAutoKept {
		return
	}

	cutoff := time.Now().Add(-c.retention)
	// auto is in creation order (oldest first); keep the newest
	// minAutoKept unconditionally, and among the rest prune anything
	// older than cutoff.
	prunable := auto[:len(auto)-c.minAutoKept]
	pruner, ok := c.store.(checkpointPruner)
	if !ok {
		return
	}
	for _, cp := range prunable {
		if cp.CreatedAt.Before(cutoff) {
			if err := pruner.DeleteCheckpoint(ctx, sessionID, cp.ID); err != nil {
				c.logger.Warn("checkpoint: prune failed", "session_id", sessionID, "checkpoint_id", cp.ID, "error", err)
			}
		}
	}
}

// checkpointPruner is an optional capability a Store backend can expose
// to let Cleanup actually remove pruned auto checkpoints from its index.
type checkpointPruner interface {
	DeleteCheckpoint(ctx context.Context, sessionID, checkpointID string) error
}

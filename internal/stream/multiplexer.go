// Package stream wraps a ModelGateway's token stream: it keeps content
// and reasoning deltas in separate buffers, coalesces emission to a
// bounded rate, and enforces the single-live-stream-per-target rule.
package stream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/penguin-run/penguin/pkg/core"
)

// Policy decides what happens when a second stream starts for a target
// that already has one live. The policy is fixed at construction.
type Policy string

const (
	// PolicyCancelFirst deterministically cancels the existing stream
	// before starting the new one.
	PolicyCancelFirst Policy = "cancel_first"
	// PolicyFail rejects the new stream with ErrConcurrentStreamViolation.
	PolicyFail Policy = "fail"
)

// ErrConcurrentStreamViolation is returned by Run under PolicyFail when a
// stream is already live for the target.
var ErrConcurrentStreamViolation = errors.New("stream: concurrent stream violation")

// DefaultCoalesceChars and DefaultCoalesceInterval are the emission
// coalescing defaults when the Multiplexer is constructed with zero
// values.
const (
	DefaultCoalesceChars    = 80
	DefaultCoalesceInterval = 50 * time.Millisecond
)

// Result is the accumulated content/reasoning pair returned at stream end.
type Result struct {
	Content   string
	Reasoning string
	Cancelled bool
}

type slot struct {
	gen    uint64
	cancel context.CancelFunc
}

// Multiplexer is safe for concurrent use across distinct targets. "Target"
// is whatever the caller uses to identify a single live subscription slot
// — typically an agent id.
type Multiplexer struct {
	mu      sync.Mutex
	active  map[string]*slot
	nextGen uint64

	policy          Policy
	coalesceChars   int
	coalesceEvery   time.Duration
	emit            func(core.Event)
}

// Option configures a Multiplexer at construction time.
type Option func(*Multiplexer)

func WithPolicy(p Policy) Option                { return func(m *Multiplexer) { m.policy = p } }
func WithCoalesceChars(n int) Option            { return func(m *Multiplexer) { m.coalesceChars = n } }
func WithCoalesceInterval(d time.Duration) Option { return func(m *Multiplexer) { m.coalesceEvery = d } }
func WithEventCallback(fn func(core.Event)) Option {
	return func(m *Multiplexer) { m.emit = fn }
}

// New builds a Multiplexer. Default policy is cancel-first.
func New(opts ...Option) *Multiplexer {
	m := &Multiplexer{
		active:        make(map[string]*slot),
		policy:        PolicyCancelFirst,
		coalesceChars: DefaultCoalesceChars,
		coalesceEvery: DefaultCoalesceInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.emit == nil {
		m.emit = func(core.Event) {}
	}
	return m
}

// begin enforces the single-live-stream-per-target rule.
func (m *Multiplexer) begin(ctx context.Context, target string) (context.Context, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.active[target]; ok {
		if m.policy == PolicyFail {
			return nil, 0, ErrConcurrentStreamViolation
		}
		existing.cancel()
		m.emit(core.Event{Type: core.EventStreamCancelled, AgentID: target, Payload: map[string]any{"reason": "superseded"}})
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.nextGen++
	gen := m.nextGen
	m.active[target] = &slot{gen: gen, cancel: cancel}
	return runCtx, gen, nil
}

func (m *Multiplexer) end(target string, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.active[target]; ok && s.gen == gen {
		delete(m.active, target)
	}
}

// Run consumes deltas until it closes, an error arrives on errs, or ctx is
// cancelled. Content and reasoning deltas are appended to separate
// buffers in arrival order and never interleaved in the emitted streams.
// Emission to onEvent is coalesced: a flush happens every coalesceChars
// characters or coalesceEvery, whichever comes first; the final flush
// always drains whatever remains buffered.
func (m *Multiplexer) Run(ctx context.Context, target string, deltas <-chan core.Delta, errs <-chan error) (Result, error) {
	runCtx, gen, err := m.begin(ctx, target)
	if err != nil {
		return Result{}, err
	}
	defer m.end(target, gen)

	m.emit(core.Event{Type: core.EventStreamStart, AgentID: target})

	var content, reasoning strings.Builder
	var pendingContent, pendingReasoning strings.Builder

	flush := func() {
		if pendingContent.Len() > 0 {
			m.emit(core.Event{Type: core.EventStreamChunk, AgentID: target, Payload: map[string]any{"delta": pendingContent.String()}})
			pendingContent.Reset()
		}
		if pendingReasoning.Len() > 0 {
			m.emit(core.Event{Type: core.EventStreamReasoning, AgentID: target, Payload: map[string]any{"delta": pendingReasoning.String()}})
			pendingReasoning.Reset()
		}
	}

	maxChars := m.coalesceChars
	if maxChars <= 0 {
		maxChars = DefaultCoalesceChars
	}
	interval := m.coalesceEvery
	if interval <= 0 {
		interval = DefaultCoalesceInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	localErrs := errs
	for {
		select {
		case <-runCtx.Done():
			// No flush: once cancellation is observed nothing further is
			// emitted. Already-emitted deltas remain valid; buffered ones
			// are discarded along with the turn.
			m.emit(core.Event{Type: core.EventStreamCancelled, AgentID: target})
			return Result{Content: content.String(), Reasoning: reasoning.String(), Cancelled: true}, nil

		case streamErr, ok := <-localErrs:
			if !ok {
				localErrs = nil
				continue
			}
			if streamErr != nil {
				flush()
				return Result{Content: content.String(), Reasoning: reasoning.String()}, streamErr
			}

		case d, ok := <-deltas:
			if !ok {
				flush()
				m.emit(core.Event{Type: core.EventStreamEnd, AgentID: target})
				return Result{Content: content.String(), Reasoning: reasoning.String()}, nil
			}
			switch d.Kind {
			case core.DeltaReasoning:
				reasoning.WriteString(d.Text)
				pendingReasoning.WriteString(d.Text)
				if pendingReasoning.Len() >= maxChars {
					flush()
				}
			default:
				content.WriteString(d.Text)
				pendingContent.WriteString(d.Text)
				if pendingContent.Len() >= maxChars {
					flush()
				}
			}

		case <-ticker.C:
			flush()
		}
	}
}

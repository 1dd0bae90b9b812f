package actions

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/penguin-run/penguin/pkg/core"
)

// DefaultMaxOutputBytes bounds captured action output before truncation
// kicks in.
const DefaultMaxOutputBytes = 32 * 1024

// DefaultActionTimeout bounds a single handler invocation when the caller
// does not override it via ExecutorOption.
const DefaultActionTimeout = 2 * time.Minute

// ApprovalChecker gates execution of actions a Tool has flagged as
// NeedsApproval. Implementations typically consult a configured allow-list
// or an external operator.
type ApprovalChecker interface {
	// Approve returns true if the action may proceed.
	Approve(ctx context.Context, action core.Action, toolName string) bool
}

// ResultGuard redacts sensitive content from captured action output before
// it is persisted or returned to the model.
type ResultGuard interface {
	Redact(output string) string
}

// AsyncPolicy decides whether an action should be queued as a background
// job instead of executed inline.
type AsyncPolicy interface {
	IsAsync(toolName string) bool
}

// AsyncPolicyFunc adapts a function to AsyncPolicy.
type AsyncPolicyFunc func(toolName string) bool

func (f AsyncPolicyFunc) IsAsync(toolName string) bool { return f(toolName) }

// AsyncJobStore records queued async actions. A minimal subset of
// internal/jobqueue.Store so this package does not need to import it
// directly.
type AsyncJobStore interface {
	Enqueue(ctx context.Context, action core.Action) (jobID string, err error)
}

// Executor owns the registry of tool handlers and dispatches parsed
// Actions to them.
type Executor struct {
	mu       sync.RWMutex
	tools    map[string]core.Tool
	timeout  time.Duration
	maxBytes int
	approval ApprovalChecker
	guard    ResultGuard
	async    AsyncPolicy
	jobs     AsyncJobStore
	onEvent  func(core.Event)
}

// ExecutorOption configures an Executor at construction time.
type ExecutorOption func(*Executor)

func WithActionTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

func WithMaxOutputBytes(n int) ExecutorOption {
	return func(e *Executor) { e.maxBytes = n }
}

func WithApprovalChecker(a ApprovalChecker) ExecutorOption {
	return func(e *Executor) { e.approval = a }
}

func WithResultGuard(g ResultGuard) ExecutorOption {
	return func(e *Executor) { e.guard = g }
}

func WithAsyncPolicy(p AsyncPolicy, store AsyncJobStore) ExecutorOption {
	return func(e *Executor) { e.async = p; e.jobs = store }
}

// WithEventCallback registers a sink invoked for action.started and
// action.completed events so long-running work can report progress;
// callers typically wire this to eventbus.Bus.Publish.
func WithEventCallback(fn func(core.Event)) ExecutorOption {
	return func(e *Executor) { e.onEvent = fn }
}

// NewExecutor builds an Executor with no tools registered.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		tools:    make(map[string]core.Tool),
		timeout:  DefaultActionTimeout,
		maxBytes: DefaultMaxOutputBytes,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds or replaces the handler for tool.Name().
func (e *Executor) Register(tool core.Tool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tools[tool.Name()] = tool
}

func (e *Executor) lookup(name string) (core.Tool, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tools[name]
	return t, ok
}

func (e *Executor) emit(ev core.Event) {
	if e.onEvent != nil {
		e.onEvent(ev)
	}
}

// Execute dispatches a single Action under a per-action timeout derived
// from ctx, honoring approval policy, async offload, and result redaction
// before returning the normalized ActionResult. Execute never panics: a
// handler panic is recovered and surfaced as a failed result.
func (e *Executor) Execute(ctx context.Context, action core.Action) core.ActionResult {
	start := time.Now()

	if action.ErrorKind == core.ErrorKindParseUnterminated {
		return core.ActionResult{
			ActionRef: action.ID,
			Status:    core.ActionFailed,
			Output:    "unterminated action tag",
			ErrorKind: core.ErrorKindParseUnterminated,
		}
	}

	tool, ok := e.lookup(action.Name)
	if !ok {
		return core.ActionResult{
			ActionRef:  action.ID,
			Status:     core.ActionFailed,
			Output:     fmt.Sprintf("no handler registered for action %q", action.Name),
			ErrorKind:  core.ErrorKindActionExecution,
			DurationMS: time.Since(start).Milliseconds(),
		}
	}

	if tool.NeedsApproval() && e.approval != nil && !e.approval.Approve(ctx, action, action.Name) {
		return core.ActionResult{
			ActionRef:  action.ID,
			Status:     core.ActionFailed,
			Output:     "action denied by approval policy",
			ErrorKind:  core.ErrorKindApprovalDenied,
			DurationMS: time.Since(start).Milliseconds(),
		}
	}

	if e.async != nil && e.jobs != nil && e.async.IsAsync(action.Name) {
		jobID, err := e.jobs.Enqueue(ctx, action)
		if err != nil {
			return core.ActionResult{
				ActionRef:  action.ID,
				Status:     core.ActionFailed,
				Output:     err.Error(),
				ErrorKind:  core.ErrorKindActionExecution,
				DurationMS: time.Since(start).Milliseconds(),
			}
		}
		return core.ActionResult{
			ActionRef:  action.ID,
			Status:     core.ActionCompleted,
			Output:     "queued",
			DurationMS: time.Since(start).Milliseconds(),
			Metadata:   map[string]any{"async": true, "job_id": jobID},
		}
	}

	e.emit(core.Event{Type: core.EventActionStarted, Payload: map[string]any{"action_id": action.ID, "name": action.Name}})

	result := e.run(ctx, tool, action, start)

	e.emit(core.Event{Type: core.EventActionCompleted, Payload: map[string]any{"action_id": action.ID, "name": action.Name, "status": string(result.Status)}})
	return result
}

// run invokes the tool under timeout and cancellation, recovering panics
// and normalizing output.
func (e *Executor) run(ctx context.Context, tool core.Tool, action core.Action, start time.Time) (result core.ActionResult) {
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		out core.ToolOutcome
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("action handler panic: %v", r)}
			}
		}()
		out, err := tool.Execute(runCtx, action.Params)
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return core.ActionResult{
				ActionRef:  action.ID,
				Status:     core.ActionFailed,
				Output:     e.finalize(o.err.Error()),
				ErrorKind:  core.ErrorKindActionExecution,
				DurationMS: time.Since(start).Milliseconds(),
			}
		}
		status := o.out.Status
		if status == "" {
			status = core.ActionCompleted
		}
		output, truncated := truncate(e.finalize(o.out.Output), e.maxBytes)
		return core.ActionResult{
			ActionRef:  action.ID,
			Status:     status,
			Output:     output,
			Truncated:  truncated,
			DurationMS: time.Since(start).Milliseconds(),
			Metadata:   o.out.Metadata,
		}
	case <-runCtx.Done():
		status := core.ActionFailed
		errKind := core.ErrorKindTimeout
		if ctx.Err() != nil {
			// Cancellation propagated from the enclosing engine run,
			// not a local timeout.
			status = core.ActionCancelled
			errKind = core.ErrorKindStreamCancelled
		}
		return core.ActionResult{
			ActionRef:  action.ID,
			Status:     status,
			Output:     "action did not complete before its deadline",
			ErrorKind:  errKind,
			DurationMS: time.Since(start).Milliseconds(),
		}
	}
}

func (e *Executor) finalize(output string) string {
	output = stripANSI(output)
	if e.guard != nil {
		output = e.guard.Redact(output)
	}
	return output
}

// ExecuteBatch runs independent actions concurrently, bounded by
// maxConcurrency (<=0 means unbounded), and returns results in the same
// order as actions. Used when the Engine chooses to fan out a batch
// instead of executing actions strictly in sequence.
func (e *Executor) ExecuteBatch(ctx context.Context, actions []core.Action, maxConcurrency int) []core.ActionResult {
	results := make([]core.ActionResult, len(actions))
	if len(actions) == 0 {
		return results
	}

	sem := make(chan struct{}, maxConcurrency)
	if maxConcurrency <= 0 {
		sem = make(chan struct{}, len(actions))
	}

	var wg sync.WaitGroup
	for i, action := range actions {
		i, action := i, action
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = e.Execute(ctx, action)
		}()
	}
	wg.Wait()
	return results
}

// truncate applies the head/tail window policy: output at or under max is
// returned unchanged with no truncation marker inserted.
func truncate(output string, max int) (string, bool) {
	if max <= 0 || len(output) <= max {
		return output, false
	}
	head := max / 2
	tail := max - head
	marker := fmt.Sprintf("\n... [%d bytes elided] ...\n", len(output)-max)
	return output[:head] + marker + output[len(output)-tail:], true
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// stripANSI neutralizes terminal formatting escapes so captured output is
// plain text.
func stripANSI(s string) string {
	if s == "" {
		return s
	}
	return ansiEscape.ReplaceAllString(s, "")
}

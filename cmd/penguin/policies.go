package main

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/penguin-run/penguin/internal/actions"
	"github.com/penguin-run/penguin/internal/config"
	"github.com/penguin-run/penguin/internal/jobqueue"
	"github.com/penguin-run/penguin/internal/observability"
	"github.com/penguin-run/penguin/pkg/core"
)

// registerCronJobs wires cfg.Cron.Jobs onto scheduler. A deployer-defined
// job has no built-in body beyond logging its own run; concrete work
// belongs to whatever operational tooling schedules against this runtime.
func registerCronJobs(scheduler *jobqueue.Scheduler, jobs []config.CronJobConfig, logger *slog.Logger) error {
	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		name := job.Name
		if name == "" {
			name = job.ID
		}
		fn := func(_ context.Context) {
			logger.Info("cron job fired", "id", job.ID, "name", name)
		}
		if job.Schedule.Every > 0 {
			scheduler.AddIntervalJob(job.ID, job.Schedule.Every, fn)
			continue
		}
		if err := scheduler.AddCronJob(job.ID, job.Schedule.Cron, fn); err != nil {
			return fmt.Errorf("cron job %q: %w", job.ID, err)
		}
	}
	return nil
}

// recordEventMetrics maps the core.Event stream onto observability.Metrics.
// This is the one place a cmd/penguin Runtime translates engine/action/
// stream/checkpoint events into Prometheus observations, using every
// package's existing onEvent/WithEventCallback hook rather than reaching
// into their internals.
func recordEventMetrics(m *observability.Metrics, e core.Event) {
	switch e.Type {
	case core.EventActionCompleted:
		name, _ := e.Payload["name"].(string)
		status, _ := e.Payload["status"].(string)
		m.RecordActionExecution(name, status, 0)

	case core.EventStreamChunk:
		if delta, ok := e.Payload["delta"].(string); ok {
			m.RecordStreamFlush("content", len(delta))
		}
	case core.EventStreamReasoning:
		if delta, ok := e.Payload["delta"].(string); ok {
			m.RecordStreamFlush("reasoning", len(delta))
		}
	case core.EventStreamCancelled:
		m.RecordStreamCancellation()

	case core.EventCheckpointNew:
		kind, _ := e.Payload["kind"].(string)
		m.RecordCheckpoint(kind)

	case core.EventEngineError:
		kind := "error"
		if _, ok := e.Payload["panic"]; ok {
			kind = "panic"
		}
		m.RecordError("engine", kind)

	case core.EventEngineProgress:
		m.RecordEngineIteration(e.AgentID, "continuing")

	case core.EventAgentState:
		switch e.Payload["state"] {
		case string(core.AgentActive):
			m.AgentStarted()
		case string(core.AgentCompleted), string(core.AgentFailed), string(core.AgentCancelled):
			m.AgentStopped(0)
		}
	}
}

// allowlistApprover implements actions.ApprovalChecker from
// config.ApprovalConfig's tool-name patterns. RequireApproval patterns
// always win over Allowlist; everything else is approved by default.
type allowlistApprover struct {
	allow   []string
	require []string
}

func newAllowlistApprover(cfg config.ApprovalConfig) *allowlistApprover {
	return &allowlistApprover{allow: cfg.Allowlist, require: cfg.RequireApproval}
}

func (a *allowlistApprover) Approve(_ context.Context, _ core.Action, toolName string) bool {
	for _, pattern := range a.require {
		if matchToolPattern(pattern, toolName) {
			return false
		}
	}
	for _, pattern := range a.allow {
		if matchToolPattern(pattern, toolName) {
			return true
		}
	}
	return len(a.require) == 0
}

func matchToolPattern(pattern, toolName string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(toolName, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == toolName
}

// regexRedactor implements actions.ResultGuard, replacing every match of
// cfg.RedactPatterns in captured action output with cfg.RedactionText.
type regexRedactor struct {
	patterns []*regexp.Regexp
	text     string
}

func newRegexRedactor(cfg config.RedactionConfig) (*regexRedactor, error) {
	patterns := make([]*regexp.Regexp, 0, len(cfg.RedactPatterns))
	for _, p := range cfg.RedactPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("redaction pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}
	return &regexRedactor{patterns: patterns, text: cfg.RedactionText}, nil
}

func (r *regexRedactor) Redact(output string) string {
	for _, re := range r.patterns {
		output = re.ReplaceAllString(output, r.text)
	}
	return output
}

// asyncToolSet adapts a configured list of tool names into an
// actions.AsyncPolicy: any name in the list is queued via jobqueue instead
// of executed inline.
func asyncToolSet(names []string) actions.AsyncPolicyFunc {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[strings.TrimSpace(n)] = struct{}{}
	}
	return func(toolName string) bool {
		_, ok := set[toolName]
		return ok
	}
}

// Package jobqueue tracks actions offloaded from the synchronous
// reason-act-observe loop because they were named in the async tool list.
// It satisfies internal/actions.AsyncJobStore and adds the bookkeeping an
// operator needs to inspect and prune queued work.
package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/penguin-run/penguin/pkg/core"
)

// Status is the lifecycle state of a queued job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Job records one async action from enqueue through terminal outcome.
type Job struct {
	ID         string
	Action     core.Action
	Status     Status
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    *core.ToolOutcome
	Error      string

	cancel context.CancelFunc
}

// Store persists Job records. internal/actions.AsyncJobStore only needs
// Enqueue; the rest of this interface is the operator-facing surface for
// listing and pruning queued work.
type Store interface {
	Enqueue(ctx context.Context, action core.Action) (jobID string, err error)
	Start(ctx context.Context, jobID string) (context.Context, error)
	Finish(ctx context.Context, jobID string, outcome core.ToolOutcome, execErr error) error
	Get(ctx context.Context, jobID string) (*Job, error)
	List(ctx context.Context, limit, offset int) ([]*Job, error)
	Cancel(ctx context.Context, jobID string) error
	Prune(ctx context.Context, olderThan time.Duration) (int, error)
}

// MemoryStore is an in-process Store backed by a map, matching the shape
// used elsewhere in this tree for reference backends.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	keys []string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

func (s *MemoryStore) Enqueue(ctx context.Context, action core.Action) (string, error) {
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id] = &Job{
		ID:        id,
		Action:    action,
		Status:    StatusQueued,
		CreatedAt: time.Now(),
	}
	s.keys = append(s.keys, id)
	return id, nil
}

// Start marks a queued job running and returns a cancellable context the
// caller should run the action's handler with.
func (s *MemoryStore) Start(ctx context.Context, jobID string) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ctx, nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	job.Status = StatusRunning
	job.StartedAt = time.Now()
	job.cancel = cancel
	return runCtx, nil
}

func (s *MemoryStore) Finish(ctx context.Context, jobID string, outcome core.ToolOutcome, execErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	job.FinishedAt = time.Now()
	job.Outcome = &outcome
	if execErr != nil {
		job.Status = StatusFailed
		job.Error = execErr.Error()
	} else {
		job.Status = StatusSucceeded
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, jobID string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, nil
	}
	clone := *job
	return &clone, nil
}

func (s *MemoryStore) List(ctx context.Context, limit, offset int) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(s.keys) {
		return nil, nil
	}
	end := len(s.keys)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	result := make([]*Job, 0, end-offset)
	for _, id := range s.keys[offset:end] {
		if job, ok := s.jobs[id]; ok {
			clone := *job
			result = append(result, &clone)
		}
	}
	return result, nil
}

func (s *MemoryStore) Cancel(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	if job.Status == StatusQueued || job.Status == StatusRunning {
		if job.cancel != nil {
			job.cancel()
		}
		job.Status = StatusFailed
		job.Error = "job cancelled"
		job.FinishedAt = time.Now()
	}
	return nil
}

func (s *MemoryStore) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	pruned := 0
	kept := s.keys[:0:0]
	for _, id := range s.keys {
		job, ok := s.jobs[id]
		if !ok {
			continue
		}
		terminal := job.Status == StatusSucceeded || job.Status == StatusFailed
		if terminal && job.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
			pruned++
			continue
		}
		kept = append(kept, id)
	}
	s.keys = kept
	return pruned, nil
}

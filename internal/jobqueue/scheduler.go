package jobqueue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler runs the periodic background work a Penguin deployment needs
// outside the request path: pruning terminal jobs past retention, and any
// deployer-defined cron.CronJobConfig entries.
type Scheduler struct {
	store         Store
	retention     time.Duration
	pruneInterval time.Duration
	logger        *slog.Logger

	mu   sync.Mutex
	jobs []scheduledJob

	cancel context.CancelFunc
	done   chan struct{}
}

type scheduledJob struct {
	name     string
	schedule cron.Schedule
	every    time.Duration
	fn       func(context.Context)
	next     time.Time
}

// NewScheduler builds a Scheduler over store. retention and pruneInterval
// default to 24h/1h when zero.
func NewScheduler(store Store, retention, pruneInterval time.Duration) *Scheduler {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	if pruneInterval <= 0 {
		pruneInterval = time.Hour
	}
	return &Scheduler{
		store:         store,
		retention:     retention,
		pruneInterval: pruneInterval,
		logger:        slog.Default(),
	}
}

// WithLogger overrides the scheduler's logger.
func (s *Scheduler) WithLogger(l *slog.Logger) *Scheduler {
	s.logger = l
	return s
}

// AddCronJob registers fn to run on a standard five-field cron expression
// (or the "@every 1h"-style descriptors cron/v3 supports).
func (s *Scheduler) AddCronJob(name, expr string, fn func(context.Context)) error {
	if strings.TrimSpace(expr) == "" {
		return fmt.Errorf("cron expression is required for job %q", name)
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression for job %q: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, scheduledJob{name: name, schedule: schedule, fn: fn, next: schedule.Next(time.Now())})
	return nil
}

// AddIntervalJob registers fn to run every d.
func (s *Scheduler) AddIntervalJob(name string, d time.Duration, fn func(context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, scheduledJob{name: name, every: d, fn: fn, next: time.Now().Add(d)})
}

// Start launches the scheduler loop. Call Stop to terminate it.
func (s *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	s.AddIntervalJob("prune-jobs", s.pruneInterval, func(ctx context.Context) {
		pruned, err := s.store.Prune(ctx, s.retention)
		if err != nil {
			s.logger.Warn("job prune failed", "error", err)
			return
		}
		if pruned > 0 {
			s.logger.Debug("pruned jobs", "count", pruned)
		}
	})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case now := <-ticker.C:
				s.runDue(runCtx, now)
			}
		}
	}()
}

func (s *Scheduler) runDue(ctx context.Context, now time.Time) {
	s.mu.Lock()
	due := make([]scheduledJob, 0)
	for i := range s.jobs {
		job := &s.jobs[i]
		if now.Before(job.next) {
			continue
		}
		due = append(due, *job)
		if job.schedule != nil {
			job.next = job.schedule.Next(now)
		} else {
			job.next = now.Add(job.every)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		func(job scheduledJob) {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("scheduled job panicked", "job", job.name, "panic", r)
				}
			}()
			job.fn(ctx)
		}(job)
	}
}

// Stop halts the scheduler loop and blocks until it has exited.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

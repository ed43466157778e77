package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/me/batchgate/internal/jobqueue"
	"github.com/me/batchgate/pkg/model"
)

// TrackerConfig holds tracker configuration.
type TrackerConfig struct {
	PollInterval time.Duration
}

// DefaultTrackerConfig returns sensible defaults.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{PollInterval: 30 * time.Second}
}

// Tracker polls a scheduler for the jobs it was told about and archives
// each one once it is done. Remote schedulers keep no history of their
// own, so this is how their finished jobs reach the archive.
type Tracker struct {
	sched   Scheduler
	archive jobqueue.Archive
	config  TrackerConfig
	logger  *slog.Logger

	mu   sync.Mutex
	jobs map[string]*model.Job

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewTracker creates a tracker for sched.
func NewTracker(sched Scheduler, archive jobqueue.Archive, cfg TrackerConfig, logger *slog.Logger) *Tracker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultTrackerConfig().PollInterval
	}
	return &Tracker{
		sched:   sched,
		archive: archive,
		config:  cfg,
		logger:  logger.With("component", "tracker", "scheduler", sched.Name()),
		jobs:    make(map[string]*model.Job),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Track adds job to the polled set.
func (t *Tracker) Track(job *model.Job) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[job.Identifier()] = job
}

// Tracked returns the number of jobs not yet archived.
func (t *Tracker) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}

// Start runs the polling loop. Blocks until ctx is cancelled or Stop is called.
func (t *Tracker) Start(ctx context.Context) error {
	t.logger.Info("tracker started", "poll_interval", t.config.PollInterval)
	ticker := time.NewTicker(t.config.PollInterval)
	defer ticker.Stop()
	defer close(t.doneCh)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("tracker stopping (context cancelled)")
			return ctx.Err()
		case <-t.stopCh:
			t.logger.Info("tracker stopping (stop called)")
			return nil
		case <-ticker.C:
			if err := t.Tick(ctx); err != nil {
				t.logger.Error("tick error", "error", err)
			}
		}
	}
}

// Stop ends the loop started by Start and waits for the current tick.
func (t *Tracker) Stop() error {
	t.stopOnce.Do(func() { close(t.stopCh) })
	<-t.doneCh
	return nil
}

// Tick polls every tracked job once. Done jobs are archived and dropped;
// jobs the scheduler no longer reports are dropped.
func (t *Tracker) Tick(ctx context.Context) error {
	t.mu.Lock()
	ids := slices.Sorted(maps.Keys(t.jobs))
	jobs := make([]*model.Job, len(ids))
	for i, id := range ids {
		jobs[i] = t.jobs[id]
	}
	t.mu.Unlock()
	if len(jobs) == 0 {
		return nil
	}

	statuses, err := t.sched.GetJobStatuses(ctx, jobs...)
	if err != nil {
		return fmt.Errorf("poll %d jobs: %w", len(jobs), err)
	}

	for i, st := range statuses {
		job := jobs[i]
		switch {
		case st == nil:
			t.logger.Warn("job no longer reported, not archived", "job_id", job.Identifier())
		case st.State == "" && st.HasException():
			// The query for this job failed; try again next tick.
			t.logger.Warn("job status unavailable", "job_id", job.Identifier(), "error", st.Err)
			continue
		case !st.IsDone():
			continue
		default:
			if err := t.archive.ArchiveJob(ctx, st); err != nil {
				t.logger.Error("archive job", "job_id", job.Identifier(), "error", err)
				continue
			}
			t.logger.Info("job archived", "job_id", job.Identifier(), "state", st.State)
		}
		t.mu.Lock()
		delete(t.jobs, job.Identifier())
		t.mu.Unlock()
	}
	return nil
}

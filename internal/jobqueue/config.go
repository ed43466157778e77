// Package jobqueue implements the local job engine: named queues with
// concurrency limits, a single poller goroutine that starts and reaps
// processes, and a bounded history of finished jobs.
package jobqueue

import (
	"context"
	"time"

	"github.com/me/batchgate/pkg/model"
)

// Queue names.
const (
	SingleQueue    = "single"
	MultiQueue     = "multi"
	UnlimitedQueue = "unlimited"
)

// Polling delay bounds and defaults.
const (
	MinPollingDelay     = 100 * time.Millisecond
	MaxPollingDelay     = 60 * time.Second
	DefaultPollingDelay = time.Second

	DefaultMultiQueueLimit = 4
	DefaultHistorySize     = 1000

	// UnboundedHistory keeps every finished job.
	UnboundedHistory = -1
)

// Config holds engine configuration.
type Config struct {
	Name            string        // scheduler identity and adaptor name in errors
	MultiQueueLimit int           // concurrency of the multi queue
	PollingDelay    time.Duration // poller period
	HistorySize     int           // finished jobs kept per queue, -1 for unbounded
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Name:            "local",
		MultiQueueLimit: DefaultMultiQueueLimit,
		PollingDelay:    DefaultPollingDelay,
		HistorySize:     DefaultHistorySize,
	}
}

// Validate checks the configuration and returns a BAD_PARAMETER error for
// the first violation.
func (c Config) Validate() error {
	if c.Name == "" {
		return model.NewError(model.CodeBadParameter, "local", "scheduler name is empty")
	}
	if c.MultiQueueLimit < 1 {
		return model.NewError(model.CodeBadParameter, c.Name, "multi queue limit must be at least 1, got %d", c.MultiQueueLimit)
	}
	if c.PollingDelay < MinPollingDelay || c.PollingDelay > MaxPollingDelay {
		return model.NewError(model.CodeBadParameter, c.Name, "polling delay %s outside [%s, %s]", c.PollingDelay, MinPollingDelay, MaxPollingDelay)
	}
	if c.HistorySize < UnboundedHistory {
		return model.NewError(model.CodeBadParameter, c.Name, "history size must be -1 or at least 0, got %d", c.HistorySize)
	}
	return nil
}

// Archive receives the final status of every job filed into history.
type Archive interface {
	ArchiveJob(ctx context.Context, status *model.JobStatus) error
}

// Option customizes a JobQueues.
type Option func(*JobQueues)

// WithIDGenerator replaces the default "<name>-<n>" job identifiers.
func WithIDGenerator(g IDGenerator) Option {
	return func(q *JobQueues) { q.ids = g }
}

// WithArchive registers an archive for finished jobs.
func WithArchive(a Archive) Option {
	return func(q *JobQueues) { q.archive = a }
}

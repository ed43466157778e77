package store

import (
	"context"

	"github.com/me/batchgate/pkg/model"
)

// Store persists the final status of finished jobs.
type Store interface {
	// ArchiveJob records a done status. Archiving the same job again
	// replaces the earlier record.
	ArchiveJob(ctx context.Context, status *model.JobStatus) error
	// GetArchivedJob returns nil, nil if the job was never archived.
	GetArchivedJob(ctx context.Context, scheduler, id string) (*model.ArchivedJob, error)
	// ListArchivedJobs returns one page, newest first, and the total count.
	ListArchivedJobs(ctx context.Context, opts model.ListOptions) ([]*model.ArchivedJob, int, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

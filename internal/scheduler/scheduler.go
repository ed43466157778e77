// Package scheduler defines the operations every batchgate scheduler
// offers, local or remote, and builds one from configuration.
package scheduler

import (
	"context"
	"time"

	"github.com/me/batchgate/internal/jobqueue"
	"github.com/me/batchgate/internal/scripting/gridengine"
	"github.com/me/batchgate/internal/scripting/slurm"
	"github.com/me/batchgate/internal/scripting/torque"
	"github.com/me/batchgate/pkg/model"
)

// Scheduler submits jobs and reports their status. Jobs carry the name of
// the scheduler that created them; passing a job to another scheduler
// fails with NO_SUCH_JOB.
type Scheduler interface {
	// Name identifies the scheduler instance.
	Name() string
	GetQueueNames() []string
	// GetDefaultQueueName returns the queue used when a description names
	// none, or "" if the scheduler decides per job.
	GetDefaultQueueName() string

	SubmitJob(ctx context.Context, desc model.JobDescription) (*model.Job, error)
	// GetJobStatus returns nil, nil for a remote job the scheduler no
	// longer reports.
	GetJobStatus(ctx context.Context, job *model.Job) (*model.JobStatus, error)
	GetJobStatuses(ctx context.Context, jobs ...*model.Job) ([]*model.JobStatus, error)
	CancelJob(ctx context.Context, job *model.Job) (*model.JobStatus, error)
	GetJobs(ctx context.Context, queueNames ...string) ([]*model.Job, error)

	GetQueueStatus(ctx context.Context, name string) (*model.QueueStatus, error)
	GetQueueStatuses(ctx context.Context, names ...string) ([]*model.QueueStatus, error)

	// WaitUntilDone and WaitUntilRunning block until the job reaches the
	// state or timeout elapses, returning the last status seen. A zero
	// timeout waits forever.
	WaitUntilDone(ctx context.Context, job *model.Job, timeout time.Duration) (*model.JobStatus, error)
	WaitUntilRunning(ctx context.Context, job *model.Job, timeout time.Duration) (*model.JobStatus, error)

	// End releases the scheduler. Local jobs still running are destroyed.
	End() error
}

// ScriptGenerator is implemented by schedulers that submit job scripts.
type ScriptGenerator interface {
	Script(desc model.JobDescription) (string, error)
}

var (
	_ Scheduler       = (*jobqueue.JobQueues)(nil)
	_ Scheduler       = (*gridengine.Scheduler)(nil)
	_ Scheduler       = (*torque.Scheduler)(nil)
	_ Scheduler       = (*slurm.Scheduler)(nil)
	_ ScriptGenerator = (*gridengine.Scheduler)(nil)
	_ ScriptGenerator = (*torque.Scheduler)(nil)
	_ ScriptGenerator = (*slurm.Scheduler)(nil)
)

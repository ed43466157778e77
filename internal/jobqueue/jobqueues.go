package jobqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/me/batchgate/internal/filesystem"
	"github.com/me/batchgate/internal/process"
	"github.com/me/batchgate/pkg/model"
)

// JobQueues is the local job engine. It owns the single, multi and
// unlimited queues and one poller goroutine that performs every job state
// transition. Client calls only enqueue, cancel and read.
type JobQueues struct {
	config  Config
	factory process.Factory
	fsys    filesystem.FileSystem
	ids     IDGenerator
	archive Archive
	logger  *slog.Logger

	mu      sync.Mutex
	queues  []*jobQueue
	jobs    map[string]*entry
	retired []*entry // evicted from history, oldest first
	stopped bool

	endOnce sync.Once
	endErr  error
	stopCh  chan struct{}
	doneCh  chan struct{}
	kickCh  chan chan struct{}
}

// New validates cfg, creates the queues and starts the poller. Processes
// are started through factory; batch job streams are redirected to files
// in fsys.
func New(cfg Config, factory process.Factory, fsys filesystem.FileSystem, logger *slog.Logger, opts ...Option) (*JobQueues, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if factory == nil || fsys == nil {
		return nil, model.NewError(model.CodeBadParameter, cfg.Name, "process factory and filesystem are required")
	}
	q := &JobQueues{
		config:  cfg,
		factory: factory,
		fsys:    fsys,
		logger:  logger.With("component", "jobqueues", "scheduler", cfg.Name),
		queues: []*jobQueue{
			newJobQueue(SingleQueue, 1, cfg.HistorySize),
			newJobQueue(MultiQueue, cfg.MultiQueueLimit, cfg.HistorySize),
			newJobQueue(UnlimitedQueue, 0, cfg.HistorySize),
		},
		jobs:   make(map[string]*entry),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		kickCh: make(chan chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.ids == nil {
		q.ids = NewSequence(cfg.Name)
	}
	go q.run(context.Background())
	return q, nil
}

// Name returns the scheduler identity stamped on every job.
func (q *JobQueues) Name() string {
	return q.config.Name
}

// PollingDelay returns the poller period.
func (q *JobQueues) PollingDelay() time.Duration {
	return q.config.PollingDelay
}

// GetQueueNames returns the queue names.
func (q *JobQueues) GetQueueNames() []string {
	names := make([]string, len(q.queues))
	for i, jq := range q.queues {
		names[i] = jq.name
	}
	return names
}

// GetDefaultQueueName returns the queue used when a description names none.
func (q *JobQueues) GetDefaultQueueName() string {
	return SingleQueue
}

func (q *JobQueues) queue(name string) (*jobQueue, error) {
	if name == "" {
		name = SingleQueue
	}
	for _, jq := range q.queues {
		if jq.name == name {
			return jq, nil
		}
	}
	return nil, model.NewError(model.CodeNoSuchQueue, q.config.Name, "queue %q does not exist", name)
}

// SubmitJob validates desc and queues a batch job. The call returns after
// the poller has had a chance to start the job, so a process start failure
// is already visible in the next GetJobStatus.
func (q *JobQueues) SubmitJob(_ context.Context, desc model.JobDescription) (*model.Job, error) {
	if desc.Interactive {
		return nil, model.NewError(model.CodeInvalidJobDescription, q.config.Name, "interactive job submitted as batch job")
	}
	e, err := q.enqueue(desc)
	if err != nil {
		return nil, err
	}
	q.kick()
	return e.job, nil
}

// SubmitInteractiveJob queues an interactive job and waits until its
// process has started. The caller owns the returned streams.
func (q *JobQueues) SubmitInteractiveJob(ctx context.Context, desc model.JobDescription) (*model.Job, process.Streams, error) {
	if !desc.Interactive {
		return nil, process.Streams{}, model.NewError(model.CodeInvalidJobDescription, q.config.Name, "batch job submitted as interactive job")
	}
	e, err := q.enqueue(desc)
	if err != nil {
		return nil, process.Streams{}, err
	}
	q.kick()

	select {
	case <-e.started:
	case <-ctx.Done():
		return e.job, process.Streams{}, ctx.Err()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if e.proc == nil || e.final != nil {
		if e.final != nil && e.final.Err != nil {
			return e.job, process.Streams{}, e.final.Err
		}
		return e.job, process.Streams{}, model.NewError(model.CodeEngineStopped, q.config.Name, "job %s did not start", e.job.Identifier())
	}
	return e.job, e.proc.Streams(), nil
}

func (q *JobQueues) enqueue(desc model.JobDescription) (*entry, error) {
	if err := q.verifyDescription(desc); err != nil {
		return nil, err
	}
	jq, err := q.queue(desc.QueueName)
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return nil, model.NewError(model.CodeEngineStopped, q.config.Name, "engine has ended")
	}
	job := model.NewJob(desc, q.config.Name, q.ids.Next())
	if _, dup := q.jobs[job.Identifier()]; dup {
		return nil, model.NewError(model.CodeInternal, q.config.Name, "duplicate job identifier %s", job.Identifier())
	}
	e := newEntry(job, jq)
	jq.pending = append(jq.pending, e)
	q.jobs[job.Identifier()] = e
	q.logger.Debug("job queued", "job_id", job.Identifier(), "queue", jq.name)
	return e, nil
}

// lookup returns the entry of job. Must be called with q.mu held.
func (q *JobQueues) lookup(job *model.Job) (*entry, error) {
	if job == nil {
		return nil, model.NewError(model.CodeBadParameter, q.config.Name, "job is nil")
	}
	if job.Scheduler() != q.config.Name {
		return nil, model.NewError(model.CodeNoSuchJob, q.config.Name, "job %s belongs to scheduler %q", job.Identifier(), job.Scheduler())
	}
	e, ok := q.jobs[job.Identifier()]
	if !ok {
		return nil, model.NewError(model.CodeNoSuchJob, q.config.Name, "job %s not found", job.Identifier())
	}
	return e, nil
}

// GetJobStatus returns a snapshot of job's status.
func (q *JobQueues) GetJobStatus(_ context.Context, job *model.Job) (*model.JobStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, err := q.lookup(job)
	if err != nil {
		return nil, err
	}
	return e.snapshot(), nil
}

// GetJobStatuses returns one status per job. A failed lookup is reported in
// that job's status rather than as an error; nil jobs yield nil entries.
func (q *JobQueues) GetJobStatuses(ctx context.Context, jobs ...*model.Job) ([]*model.JobStatus, error) {
	out := make([]*model.JobStatus, len(jobs))
	for i, job := range jobs {
		if job == nil {
			continue
		}
		s, err := q.GetJobStatus(ctx, job)
		if err != nil {
			s = model.NewJobStatus(job, "", nil, err, false, true, nil)
		}
		out[i] = s
	}
	return out, nil
}

// CancelJob stops job and returns its final status. A job that already
// finished keeps its real outcome. A pending job never starts. A running
// job is destroyed and ends with a JOB_CANCELED error.
func (q *JobQueues) CancelJob(_ context.Context, job *model.Job) (*model.JobStatus, error) {
	q.mu.Lock()
	e, err := q.lookup(job)
	if err != nil {
		q.mu.Unlock()
		return nil, err
	}
	if e.final != nil {
		s := e.final.Clone()
		q.mu.Unlock()
		return s, nil
	}
	proc := e.proc
	if proc == nil {
		e.final = q.canceled(e.job)
		s := e.final.Clone()
		q.mu.Unlock()
		q.logger.Info("job cancelled before start", "job_id", job.Identifier())
		return s, nil
	}
	q.mu.Unlock()

	var final *model.JobStatus
	if proc.IsDone() {
		final = exitStatus(e.job, proc.ExitStatus(), q.config.Name)
	} else {
		proc.Destroy()
		final = q.canceled(e.job)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if e.final == nil {
		e.final = final
		q.logger.Info("job cancelled", "job_id", job.Identifier(), "state", final.State)
	}
	return e.final.Clone(), nil
}

func (q *JobQueues) canceled(job *model.Job) *model.JobStatus {
	err := model.NewError(model.CodeJobCanceled, q.config.Name, "job %s cancelled", job.Identifier())
	return model.NewJobStatus(job, StateError, nil, err, false, true, nil)
}

// GetJobs returns the pending, running and retained finished jobs of the
// named queues, or of all queues when none is named.
func (q *JobQueues) GetJobs(_ context.Context, queueNames ...string) ([]*model.Job, error) {
	targets := q.queues
	if len(queueNames) > 0 {
		targets = nil
		var unknown []string
		for _, name := range queueNames {
			jq, err := q.queue(name)
			if err != nil {
				unknown = append(unknown, name)
				continue
			}
			targets = append(targets, jq)
		}
		if len(unknown) > 0 {
			return nil, model.NewError(model.CodeNoSuchQueue, q.config.Name, "queues do not exist: %v", unknown)
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*model.Job
	for _, jq := range targets {
		out = append(out, jq.jobs()...)
	}
	return out, nil
}

// GetQueueStatus reports the occupancy of one queue.
func (q *JobQueues) GetQueueStatus(_ context.Context, name string) (*model.QueueStatus, error) {
	if name == "" {
		return nil, model.NewError(model.CodeBadParameter, q.config.Name, "queue name is empty")
	}
	jq, err := q.queue(name)
	if err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return &model.QueueStatus{Scheduler: q.config.Name, Name: jq.name, SchedulerInfo: jq.info()}, nil
}

// GetQueueStatuses reports every named queue, or all queues when none is
// named. Unknown names yield a status carrying the error.
func (q *JobQueues) GetQueueStatuses(ctx context.Context, names ...string) ([]*model.QueueStatus, error) {
	if len(names) == 0 {
		names = q.GetQueueNames()
	}
	out := make([]*model.QueueStatus, len(names))
	for i, name := range names {
		s, err := q.GetQueueStatus(ctx, name)
		if err != nil {
			s = &model.QueueStatus{Scheduler: q.config.Name, Name: name, Err: err}
		}
		out[i] = s
	}
	return out, nil
}

// WaitUntilDone polls job until it is done or timeout elapses. A zero
// timeout waits forever. On timeout the last status is returned without
// an error.
func (q *JobQueues) WaitUntilDone(ctx context.Context, job *model.Job, timeout time.Duration) (*model.JobStatus, error) {
	return q.wait(ctx, job, timeout, (*model.JobStatus).IsDone)
}

// WaitUntilRunning polls job until it runs, is done, or timeout elapses.
func (q *JobQueues) WaitUntilRunning(ctx context.Context, job *model.Job, timeout time.Duration) (*model.JobStatus, error) {
	return q.wait(ctx, job, timeout, func(s *model.JobStatus) bool {
		return s.IsRunning() || s.IsDone()
	})
}

func (q *JobQueues) wait(ctx context.Context, job *model.Job, timeout time.Duration, until func(*model.JobStatus) bool) (*model.JobStatus, error) {
	if timeout < 0 {
		return nil, model.NewError(model.CodeBadParameter, q.config.Name, "illegal timeout %s", timeout)
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		s, err := q.GetJobStatus(ctx, job)
		if err != nil {
			return nil, err
		}
		if until(s) {
			return s, nil
		}
		delay := q.config.PollingDelay
		if !deadline.IsZero() {
			left := time.Until(deadline)
			if left <= 0 {
				return s, nil
			}
			delay = min(delay, left)
		}
		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// End stops the poller, cancels every unfinished job and then closes the
// process factory. Submissions after End fail with ENGINE_STOPPED.
func (q *JobQueues) End() error {
	q.endOnce.Do(func() {
		q.mu.Lock()
		q.stopped = true
		q.mu.Unlock()

		close(q.stopCh)
		<-q.doneCh

		q.mu.Lock()
		var procs []process.InteractiveProcess
		var live []*entry
		for _, jq := range q.queues {
			live = append(live, jq.pending...)
			live = append(live, jq.running...)
			jq.pending = nil
		}
		for _, e := range live {
			if e.proc != nil && e.final == nil {
				procs = append(procs, e.proc)
			}
		}
		q.mu.Unlock()

		// Destroy without the lock, then decide each outcome.
		finished := make(map[process.InteractiveProcess]bool, len(procs))
		for _, p := range procs {
			if p.IsDone() {
				finished[p] = true
				continue
			}
			p.Destroy()
		}

		q.mu.Lock()
		var filed []*model.JobStatus
		for _, e := range live {
			if e.final == nil {
				if e.proc != nil && finished[e.proc] {
					e.final = exitStatus(e.job, e.proc.ExitStatus(), q.config.Name)
				} else {
					e.final = q.canceled(e.job)
				}
			}
			filed = append(filed, q.file(e))
			e.markStarted()
		}
		q.mu.Unlock()
		q.archiveAll(context.Background(), filed)

		if err := q.factory.Close(); err != nil {
			q.endErr = fmt.Errorf("close process factory: %w", err)
		}
		q.logger.Info("engine ended", "jobs", len(live))
	})
	return q.endErr
}

package jobqueue

import (
	"context"
	"time"

	"github.com/me/batchgate/internal/process"
	"github.com/me/batchgate/pkg/model"
)

// run is the poller. It is the only goroutine that starts processes and
// moves entries between pending, running and history.
func (q *JobQueues) run(ctx context.Context) {
	defer close(q.doneCh)
	q.logger.Info("poller started", "polling_delay", q.config.PollingDelay)
	ticker := time.NewTicker(q.config.PollingDelay)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			q.logger.Info("poller stopping")
			return
		case ack := <-q.kickCh:
			q.tick(ctx)
			close(ack)
		case <-ticker.C:
			q.tick(ctx)
		}
	}
}

// kick runs an extra poller pass and waits for it to finish. It returns
// immediately if the poller has stopped.
func (q *JobQueues) kick() {
	ack := make(chan struct{})
	select {
	case q.kickCh <- ack:
	case <-q.doneCh:
		return
	}
	select {
	case <-ack:
	case <-q.doneCh:
	}
}

// tick runs one poller pass: reap finished jobs, then admit pending jobs
// into free slots.
func (q *JobQueues) tick(ctx context.Context) {
	q.reap(ctx)
	q.admit(ctx)
}

// reap files every running job whose process is done or that was
// cancelled.
func (q *JobQueues) reap(ctx context.Context) {
	q.mu.Lock()
	q.forgetRetired(time.Now())
	var candidates []*entry
	var filed []*model.JobStatus
	for _, jq := range q.queues {
		for _, e := range append([]*entry(nil), jq.running...) {
			switch {
			case e.final != nil && e.phase != phaseStarting:
				filed = append(filed, q.file(e))
			case e.phase == phaseRunning:
				candidates = append(candidates, e)
			}
		}
		// Entries cancelled while still pending never start.
		kept := jq.pending[:0]
		for _, e := range jq.pending {
			if e.final != nil {
				e.markStarted()
				filed = append(filed, q.file(e))
				continue
			}
			kept = append(kept, e)
		}
		clear(jq.pending[len(kept):])
		jq.pending = kept
	}
	q.mu.Unlock()

	// IsDone is sampled without the lock.
	var done []*entry
	for _, e := range candidates {
		if e.proc.IsDone() {
			done = append(done, e)
		}
	}

	q.mu.Lock()
	for _, e := range done {
		if e.final == nil {
			e.final = exitStatus(e.job, e.proc.ExitStatus(), q.config.Name)
		}
		filed = append(filed, q.file(e))
	}
	q.mu.Unlock()

	q.archiveAll(ctx, filed)
}

// admit starts pending jobs while their queue has free slots. Slots are
// reserved under the lock; processes are created without it.
func (q *JobQueues) admit(ctx context.Context) {
	q.mu.Lock()
	var starting []*entry
	for _, jq := range q.queues {
		n := min(jq.freeSlots(), len(jq.pending))
		if n <= 0 {
			continue
		}
		batch := jq.pending[:n]
		for _, e := range batch {
			e.phase = phaseStarting
			jq.running = append(jq.running, e)
		}
		starting = append(starting, batch...)
		jq.pending = append([]*entry(nil), jq.pending[n:]...)
	}
	q.mu.Unlock()

	var filed []*model.JobStatus
	var destroy []process.InteractiveProcess
	for _, e := range starting {
		proc, err := q.start(ctx, e)

		q.mu.Lock()
		switch {
		case err != nil:
			q.logger.Info("job failed to start", "job_id", e.job.Identifier(), "error", err)
			if e.final == nil {
				e.final = model.NewJobStatus(e.job, StateError, nil, err, false, true, nil)
			}
			filed = append(filed, q.file(e))
		case e.final != nil:
			// Cancelled while the process was being created.
			e.proc = proc
			destroy = append(destroy, proc)
			filed = append(filed, q.file(e))
		default:
			e.proc = proc
			e.phase = phaseRunning
			q.logger.Info("job started", "job_id", e.job.Identifier(), "queue", e.queue.name)
		}
		e.markStarted()
		q.mu.Unlock()
	}

	for _, p := range destroy {
		p.Destroy()
	}
	q.archiveAll(ctx, filed)
}

// start creates the process of e. Interactive jobs get raw streams, batch
// jobs are redirected to files.
func (q *JobQueues) start(ctx context.Context, e *entry) (process.InteractiveProcess, error) {
	desc := e.job.Description()
	if desc.Interactive {
		desc.WorkingDirectory = resolveWorkDir(q.fsys, desc)
		return q.factory.CreateInteractiveProcess(desc, e.job.Identifier())
	}
	return startBatch(ctx, q.factory, q.fsys, desc, e.job.Identifier())
}

// file moves e from its queue's running or pending set into history and
// returns its final status. Must be called with q.mu held.
func (q *JobQueues) file(e *entry) *model.JobStatus {
	jq := e.queue
	jq.removeRunning(e)
	e.phase = phaseFiled
	if evicted := jq.history.push(e); evicted != nil {
		evicted.retiredAt = time.Now()
		q.retired = append(q.retired, evicted)
	}
	q.logger.Info("job finished",
		"job_id", e.job.Identifier(),
		"queue", jq.name,
		"state", e.final.State,
		"exit_code", e.final.ExitCode,
	)
	return e.final.Clone()
}

// forgetRetired drops entries evicted from history more than two polling
// delays ago. Until then their final status can still be looked up, but
// they are no longer listed. Must be called with q.mu held.
func (q *JobQueues) forgetRetired(now time.Time) {
	keep := 2 * q.config.PollingDelay
	n := 0
	for _, e := range q.retired {
		if now.Sub(e.retiredAt) < keep {
			break
		}
		delete(q.jobs, e.job.Identifier())
		n++
	}
	clear(q.retired[:n])
	q.retired = q.retired[n:]
}

func (q *JobQueues) archiveAll(ctx context.Context, statuses []*model.JobStatus) {
	if q.archive == nil {
		return
	}
	for _, s := range statuses {
		if err := q.archive.ArchiveJob(ctx, s); err != nil {
			q.logger.Error("archive job", "job_id", s.Job.Identifier(), "error", err)
		}
	}
}

// exitStatus converts a process exit status into a final job status. A
// negative status means the process was killed by a signal.
func exitStatus(job *model.Job, code int, adaptor string) *model.JobStatus {
	if code < 0 {
		err := model.NewError(model.CodeSchedulerFailure, adaptor, "process terminated by signal")
		return model.NewJobStatus(job, StateError, nil, err, false, true, nil)
	}
	return model.NewJobStatus(job, StateDone, &code, nil, false, true, nil)
}

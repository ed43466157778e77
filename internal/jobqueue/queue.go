package jobqueue

import (
	"strconv"
	"sync"
	"time"

	"github.com/me/batchgate/internal/process"
	"github.com/me/batchgate/pkg/model"
)

// Local job states.
const (
	StateQueued  = "QUEUED"
	StateRunning = "RUNNING"
	StateDone    = "DONE"
	StateError   = "ERROR"
)

type phase int

const (
	phaseQueued   phase = iota // in pending
	phaseStarting              // in running, process being created
	phaseRunning               // in running, process started
	phaseFiled                 // in history
)

// entry is the engine's record of one job. Fields are guarded by
// JobQueues.mu.
type entry struct {
	job   *model.Job
	queue *jobQueue
	phase phase
	proc  process.InteractiveProcess
	final *model.JobStatus // set once, never replaced

	retiredAt time.Time // when it was evicted from history

	started     chan struct{} // closed when the job leaves pending
	startedOnce sync.Once
}

func newEntry(job *model.Job, q *jobQueue) *entry {
	return &entry{job: job, queue: q, started: make(chan struct{})}
}

func (e *entry) markStarted() {
	e.startedOnce.Do(func() { close(e.started) })
}

// snapshot returns the current status of e.
func (e *entry) snapshot() *model.JobStatus {
	if e.final != nil {
		return e.final.Clone()
	}
	if e.phase == phaseRunning {
		return model.NewJobStatus(e.job, StateRunning, nil, nil, true, false, nil)
	}
	return model.NewJobStatus(e.job, StateQueued, nil, nil, false, false, nil)
}

// jobQueue is one named concurrency domain.
type jobQueue struct {
	name    string
	limit   int // 0 means unlimited
	pending []*entry
	running []*entry
	history *ring
}

func newJobQueue(name string, limit, historySize int) *jobQueue {
	return &jobQueue{name: name, limit: limit, history: newRing(historySize)}
}

func (q *jobQueue) freeSlots() int {
	if q.limit == 0 {
		return len(q.pending)
	}
	return q.limit - len(q.running)
}

func (q *jobQueue) removeRunning(e *entry) {
	for i, r := range q.running {
		if r == e {
			q.running = append(q.running[:i], q.running[i+1:]...)
			return
		}
	}
}

func (q *jobQueue) jobs() []*model.Job {
	out := make([]*model.Job, 0, len(q.pending)+len(q.running)+q.history.len())
	for _, e := range q.pending {
		out = append(out, e.job)
	}
	for _, e := range q.running {
		out = append(out, e.job)
	}
	q.history.each(func(e *entry) { out = append(out, e.job) })
	return out
}

func (q *jobQueue) info() map[string]string {
	limit := "unlimited"
	if q.limit > 0 {
		limit = strconv.Itoa(q.limit)
	}
	return map[string]string{
		"limit":   limit,
		"pending": strconv.Itoa(len(q.pending)),
		"running": strconv.Itoa(len(q.running)),
		"history": strconv.Itoa(q.history.len()),
	}
}

// ring is a bounded FIFO of finished entries. A size of -1 is unbounded.
type ring struct {
	size  int
	buf   []*entry
	start int
	n     int
}

func newRing(size int) *ring {
	return &ring{size: size}
}

func (r *ring) len() int { return r.n }

// push appends e and returns the evicted entry, if any.
func (r *ring) push(e *entry) *entry {
	if r.size == 0 {
		return e
	}
	if r.size < 0 {
		r.buf = append(r.buf, e)
		r.n++
		return nil
	}
	if r.buf == nil {
		r.buf = make([]*entry, r.size)
	}
	if r.n < r.size {
		r.buf[(r.start+r.n)%r.size] = e
		r.n++
		return nil
	}
	old := r.buf[r.start]
	r.buf[r.start] = e
	r.start = (r.start + 1) % r.size
	return old
}

// each visits entries oldest first.
func (r *ring) each(fn func(*entry)) {
	if r.size < 0 {
		for _, e := range r.buf {
			fn(e)
		}
		return
	}
	for i := 0; i < r.n; i++ {
		fn(r.buf[(r.start+i)%r.size])
	}
}

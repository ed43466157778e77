package jobqueue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/me/batchgate/internal/filesystem"
	"github.com/me/batchgate/internal/process"
	"github.com/me/batchgate/pkg/model"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type discardWriteCloser struct{}

func (discardWriteCloser) Write(b []byte) (int, error) { return len(b), nil }
func (discardWriteCloser) Close() error                { return nil }

// fakeProcess is a process that ends when finish is called.
type fakeProcess struct {
	factory *fakeFactory
	id      string
	outW    *io.PipeWriter
	errW    *io.PipeWriter
	streams process.Streams

	mu   sync.Mutex
	exit int
	done bool
}

func (p *fakeProcess) Streams() process.Streams { return p.streams }

func (p *fakeProcess) IsDone() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *fakeProcess) ExitStatus() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.done {
		return -1
	}
	return p.exit
}

func (p *fakeProcess) Destroy() {
	if p.finish(-1) {
		p.factory.record("destroy " + p.id)
	}
}

// finish ends the process with code and reports whether it was running.
func (p *fakeProcess) finish(code int) bool {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return false
	}
	p.done = true
	p.exit = code
	p.mu.Unlock()

	p.outW.Close()
	p.errW.Close()
	p.factory.release()
	return true
}

// fakeFactory creates fakeProcesses and records what happens to them.
type fakeFactory struct {
	createErr error
	autoExit  *int          // when set, processes exit with this code
	exitAfter time.Duration // delay before autoExit

	mu       sync.Mutex
	procs    []*fakeProcess
	alive    int
	maxAlive int
	closed   bool
	events   []string
}

func (f *fakeFactory) CreateInteractiveProcess(desc model.JobDescription, jobID string) (process.InteractiveProcess, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	p := &fakeProcess{
		factory: f,
		id:      jobID,
		outW:    outW,
		errW:    errW,
		streams: process.Streams{JobID: jobID, Stdin: discardWriteCloser{}, Stdout: outR, Stderr: errR},
	}

	f.mu.Lock()
	f.procs = append(f.procs, p)
	f.alive++
	f.maxAlive = max(f.maxAlive, f.alive)
	f.events = append(f.events, "create "+jobID)
	f.mu.Unlock()

	if f.autoExit != nil {
		code := *f.autoExit
		time.AfterFunc(f.exitAfter, func() { p.finish(code) })
	}
	return p, nil
}

func (f *fakeFactory) release() {
	f.mu.Lock()
	f.alive--
	f.mu.Unlock()
}

func (f *fakeFactory) record(event string) {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
}

func (f *fakeFactory) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

func (f *fakeFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.events = append(f.events, "close")
	return nil
}

func (f *fakeFactory) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.procs)
}

func (f *fakeFactory) process(i int) *fakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.procs[i]
}

func (f *fakeFactory) eventLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func exitCode(code int) *int { return &code }

// testConfig returns a config with the fastest allowed poller.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollingDelay = MinPollingDelay
	return cfg
}

// newTestQueues creates a JobQueues over factory and a temp directory and
// ends it when the test finishes.
func newTestQueues(t *testing.T, cfg Config, factory process.Factory, opts ...Option) *JobQueues {
	t.Helper()
	fsys, err := filesystem.NewLocal(t.TempDir())
	require.NoError(t, err)
	q, err := New(cfg, factory, fsys, newTestLogger(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { q.End() })
	return q
}

func batchDesc(queue string) model.JobDescription {
	desc := model.NewJobDescription()
	desc.Executable = "/bin/true"
	desc.QueueName = queue
	return desc
}

func interactiveDesc() model.JobDescription {
	desc := model.NewJobDescription()
	desc.Executable = "/bin/cat"
	desc.Interactive = true
	desc.Stdout = ""
	desc.Stderr = ""
	return desc
}

func waitDone(t *testing.T, q *JobQueues, job *model.Job) *model.JobStatus {
	t.Helper()
	s, err := q.WaitUntilDone(context.Background(), job, 10*time.Second)
	require.NoError(t, err)
	require.True(t, s.IsDone(), "job %s not done", job.Identifier())
	return s
}

// recordingArchive collects archived statuses.
type recordingArchive struct {
	mu       sync.Mutex
	statuses []*model.JobStatus
	err      error
}

func (a *recordingArchive) ArchiveJob(_ context.Context, s *model.JobStatus) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.statuses = append(a.statuses, s)
	return a.err
}

func (a *recordingArchive) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.statuses)
}

var errBoom = errors.New("boom")

package process

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/me/batchgate/pkg/model"
)

// LocalFactory starts processes on this machine.
type LocalFactory struct {
	logger *slog.Logger
	closed atomic.Bool
}

// NewLocalFactory creates a LocalFactory.
func NewLocalFactory(logger *slog.Logger) *LocalFactory {
	return &LocalFactory{logger: logger.With("component", "local-process")}
}

// CreateInteractiveProcess starts desc as an OS process.
func (f *LocalFactory) CreateInteractiveProcess(desc model.JobDescription, jobID string) (InteractiveProcess, error) {
	if f.closed.Load() {
		return nil, model.NewError(model.CodeEngineStopped, "local", "process factory is closed")
	}
	if desc.Executable == "" {
		return nil, model.NewError(model.CodeIncompleteJobDescription, "local", "executable missing")
	}

	cmd := exec.Command(desc.Executable, desc.Arguments...)
	cmd.Dir = desc.WorkingDirectory
	cmd.Env = os.Environ()
	for k, v := range desc.Environment {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	// Own the read ends so cmd.Wait does not close them under a slow reader.
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("job %s: stdout pipe: %w", jobID, err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, fmt.Errorf("job %s: stderr pipe: %w", jobID, err)
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	stdin, err := cmd.StdinPipe()
	if err != nil {
		outR.Close()
		outW.Close()
		errR.Close()
		errW.Close()
		return nil, fmt.Errorf("job %s: stdin pipe: %w", jobID, err)
	}

	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		errR.Close()
		errW.Close()
		return nil, fmt.Errorf("job %s: start %s: %w", jobID, desc.Executable, err)
	}
	outW.Close()
	errW.Close()

	p := &localProcess{
		cmd:  cmd,
		done: make(chan struct{}),
		exit: -1,
		streams: Streams{
			JobID:  jobID,
			Stdin:  stdin,
			Stdout: outR,
			Stderr: errR,
		},
	}
	go p.wait()

	f.logger.Debug("process started", "job_id", jobID, "executable", desc.Executable, "pid", cmd.Process.Pid)
	return p, nil
}

// IsOpen reports whether Close has not been called.
func (f *LocalFactory) IsOpen() bool {
	return !f.closed.Load()
}

// Close stops the factory from starting new processes.
func (f *LocalFactory) Close() error {
	f.closed.Store(true)
	return nil
}

type localProcess struct {
	cmd     *exec.Cmd
	streams Streams
	done    chan struct{}
	cleanup sync.Once

	mu   sync.Mutex
	exit int
}

func (p *localProcess) wait() {
	err := p.cmd.Wait()

	code := p.cmd.ProcessState.ExitCode()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) && code == 0 {
		code = -1
	}

	p.mu.Lock()
	p.exit = code
	p.mu.Unlock()
	close(p.done)
}

func (p *localProcess) Streams() Streams {
	return p.streams
}

func (p *localProcess) IsDone() bool {
	select {
	case <-p.done:
		p.cleanup.Do(func() {
			p.streams.Stdin.Close()
		})
		return true
	default:
		return false
	}
}

func (p *localProcess) ExitStatus() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exit
}

func (p *localProcess) Destroy() {
	if p.IsDone() {
		return
	}
	p.cmd.Process.Kill()
	<-p.done
	p.IsDone()
}

package jobqueue

import (
	"context"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"github.com/me/batchgate/internal/filesystem"
	"github.com/me/batchgate/internal/process"
	"github.com/me/batchgate/pkg/model"
)

// streamGrace bounds how long an exited process is still reported running
// while its output is copied. Output of background children that keep the
// streams open is copied after the job is done.
const streamGrace = time.Second

// batchProcess runs a process with its streams redirected to files. It is
// done once the process exited and its output has been written out, or
// streamGrace after the exit, whichever comes first.
type batchProcess struct {
	proc   process.InteractiveProcess
	copied chan struct{}

	mu     sync.Mutex
	exited time.Time // first time proc was seen done
}

// resolveWorkDir returns the absolute working directory of desc.
func resolveWorkDir(fsys filesystem.FileSystem, desc model.JobDescription) string {
	if desc.WorkingDirectory == "" {
		return fsys.EntryPath()
	}
	return fsys.Resolve(desc.WorkingDirectory)
}

func resolveIn(dir, p string) string {
	if path.IsAbs(p) {
		return p
	}
	return path.Join(dir, p)
}

// startBatch opens the redirection files of desc, starts the process and
// wires its streams to them.
func startBatch(ctx context.Context, factory process.Factory, fsys filesystem.FileSystem, desc model.JobDescription, jobID string) (*batchProcess, error) {
	dir := resolveWorkDir(fsys, desc)
	desc.WorkingDirectory = dir

	var (
		stdin          io.ReadCloser
		stdout, stderr io.WriteCloser
		err            error
	)
	closeAll := func() {
		for _, c := range []io.Closer{stdin, stdout, stderr} {
			if c != nil {
				c.Close()
			}
		}
	}
	if desc.Stdin != "" {
		if stdin, err = fsys.Open(ctx, resolveIn(dir, desc.Stdin)); err != nil {
			return nil, fmt.Errorf("redirect stdin: %w", err)
		}
	}
	if desc.Stdout != "" {
		if stdout, err = fsys.Create(ctx, resolveIn(dir, desc.Stdout)); err != nil {
			closeAll()
			return nil, fmt.Errorf("redirect stdout: %w", err)
		}
	}
	if desc.Stderr != "" {
		if stderr, err = fsys.Create(ctx, resolveIn(dir, desc.Stderr)); err != nil {
			closeAll()
			return nil, fmt.Errorf("redirect stderr: %w", err)
		}
	}

	proc, err := factory.CreateInteractiveProcess(desc, jobID)
	if err != nil {
		closeAll()
		return nil, err
	}
	streams := proc.Streams()

	b := &batchProcess{proc: proc, copied: make(chan struct{})}
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		if stdin != nil {
			io.Copy(streams.Stdin, stdin)
			stdin.Close()
		}
		streams.Stdin.Close()
	}()
	go func() {
		defer wg.Done()
		drain(streams.Stdout, stdout)
	}()
	go func() {
		defer wg.Done()
		drain(streams.Stderr, stderr)
	}()
	go func() {
		wg.Wait()
		close(b.copied)
	}()
	return b, nil
}

// drain copies r into w (or discards it) and closes w.
func drain(r io.Reader, w io.WriteCloser) {
	if w == nil {
		io.Copy(io.Discard, r)
		return
	}
	io.Copy(w, r)
	w.Close()
}

func (b *batchProcess) Streams() process.Streams {
	return b.proc.Streams()
}

func (b *batchProcess) IsDone() bool {
	if !b.proc.IsDone() {
		return false
	}
	select {
	case <-b.copied:
		return true
	default:
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.exited.IsZero() {
		b.exited = time.Now()
	}
	return time.Since(b.exited) >= streamGrace
}

func (b *batchProcess) ExitStatus() int {
	return b.proc.ExitStatus()
}

func (b *batchProcess) Destroy() {
	b.proc.Destroy()
}

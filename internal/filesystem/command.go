package filesystem

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/me/batchgate/internal/process"
	"github.com/me/batchgate/pkg/model"
)

// Command is a FileSystem reached by running POSIX utilities (cat, test,
// pwd) through a process factory, typically on a remote host.
type Command struct {
	runner  *process.CommandRunner
	factory process.Factory
	entry   string
}

// NewCommand creates a Command filesystem. An empty entry is replaced by
// the output of pwd on the target.
func NewCommand(ctx context.Context, runner *process.CommandRunner, entry string) (*Command, error) {
	c := &Command{runner: runner, factory: runner.Factory(), entry: entry}
	if entry == "" {
		res, err := runner.Run(ctx, "", "pwd")
		if err != nil {
			return nil, fmt.Errorf("resolve entry path: %w", err)
		}
		if res.ExitCode != 0 {
			return nil, fmt.Errorf("resolve entry path: pwd exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
		}
		c.entry = strings.TrimSpace(res.Stdout)
	}
	return c, nil
}

func (c *Command) EntryPath() string {
	return c.entry
}

func (c *Command) Resolve(p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join(c.entry, p)
}

func (c *Command) Exists(ctx context.Context, p string) (bool, error) {
	res, err := c.runner.Run(ctx, "", "test", "-e", c.Resolve(p))
	if err != nil {
		return false, err
	}
	switch res.ExitCode {
	case 0:
		return true, nil
	case 1:
		return false, nil
	default:
		return false, fmt.Errorf("test -e %s exited %d: %s", p, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
}

func (c *Command) ReadText(ctx context.Context, p string) (string, error) {
	res, err := c.runner.Run(ctx, "", "cat", c.Resolve(p))
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("read %s: %s", p, strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, nil
}

func (c *Command) WriteText(ctx context.Context, p, text string) error {
	res, err := c.runner.Run(ctx, text, "sh", "-c", `cat > "$1"`, "sh", c.Resolve(p))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("write %s: %s", p, strings.TrimSpace(res.Stderr))
	}
	return nil
}

func (c *Command) Create(_ context.Context, p string) (io.WriteCloser, error) {
	desc := model.JobDescription{Executable: "sh", Arguments: []string{"-c", `cat > "$1"`, "sh", c.Resolve(p)}}
	proc, err := c.factory.CreateInteractiveProcess(desc, "create")
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", p, err)
	}
	go io.Copy(io.Discard, proc.Streams().Stdout)
	go io.Copy(io.Discard, proc.Streams().Stderr)
	return &processWriter{proc: proc, name: p}, nil
}

func (c *Command) Open(_ context.Context, p string) (io.ReadCloser, error) {
	desc := model.JobDescription{Executable: "cat", Arguments: []string{c.Resolve(p)}}
	proc, err := c.factory.CreateInteractiveProcess(desc, "open")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	proc.Streams().Stdin.Close()
	go io.Copy(io.Discard, proc.Streams().Stderr)
	return &processReader{proc: proc}, nil
}

// processWriter writes into the stdin of a "cat > file" process. Close
// waits for the process so the file is complete when Close returns.
type processWriter struct {
	proc process.InteractiveProcess
	name string
}

func (w *processWriter) Write(b []byte) (int, error) {
	return w.proc.Streams().Stdin.Write(b)
}

func (w *processWriter) Close() error {
	if err := w.proc.Streams().Stdin.Close(); err != nil {
		return err
	}
	waitProcess(w.proc)
	if code := w.proc.ExitStatus(); code != 0 {
		return fmt.Errorf("write %s: exit status %d", w.name, code)
	}
	return nil
}

type processReader struct {
	proc process.InteractiveProcess
}

func (r *processReader) Read(b []byte) (int, error) {
	return r.proc.Streams().Stdout.Read(b)
}

func (r *processReader) Close() error {
	r.proc.Destroy()
	return r.proc.Streams().Stdout.Close()
}

func waitProcess(p process.InteractiveProcess) {
	for !p.IsDone() {
		time.Sleep(5 * time.Millisecond)
	}
}

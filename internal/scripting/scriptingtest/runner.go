// Package scriptingtest provides a scripted command runner for testing
// scheduler flavors without a batch system.
package scriptingtest

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/me/batchgate/internal/filesystem"
	"github.com/me/batchgate/internal/process"
	"github.com/me/batchgate/internal/scripting"
)

// Call is one recorded command.
type Call struct {
	Stdin string
	Line  string // executable and arguments joined by spaces
}

// Runner answers commands from a table keyed by the command line.
// Commands not in the table exit 127.
type Runner struct {
	mu        sync.Mutex
	responses map[string][]process.CommandResult
	calls     []Call
}

// NewRunner creates an empty Runner.
func NewRunner() *Runner {
	return &Runner{responses: make(map[string][]process.CommandResult)}
}

// On queues a result for line. Several results for the same line are
// returned in order; the last one repeats.
func (r *Runner) On(line string, exitCode int, stdout, stderr string) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[line] = append(r.responses[line], process.CommandResult{ExitCode: exitCode, Stdout: stdout, Stderr: stderr})
	return r
}

// OK queues a successful result with stdout for line.
func (r *Runner) OK(line, stdout string) *Runner {
	return r.On(line, 0, stdout, "")
}

// Run implements scripting.Runner.
func (r *Runner) Run(_ context.Context, stdin, executable string, args ...string) (*process.CommandResult, error) {
	line := strings.Join(append([]string{executable}, args...), " ")
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Stdin: stdin, Line: line})

	queue, ok := r.responses[line]
	if !ok {
		for prefix, q := range r.responses {
			if strings.HasSuffix(prefix, "*") && strings.HasPrefix(line, strings.TrimSuffix(prefix, "*")) {
				queue, ok = q, true
				line = prefix
				break
			}
		}
	}
	if !ok || len(queue) == 0 {
		return &process.CommandResult{ExitCode: 127, Stderr: executable + ": command not found\n"}, nil
	}
	res := queue[0]
	if len(queue) > 1 {
		r.responses[line] = queue[1:]
	}
	return &res, nil
}

// Calls returns the recorded commands.
func (r *Runner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Lines returns the recorded command lines.
func (r *Runner) Lines() []string {
	var out []string
	for _, c := range r.Calls() {
		out = append(out, c.Line)
	}
	return out
}

// Connection returns a Connection named name over r and a local
// filesystem rooted in a temp directory.
func Connection(t *testing.T, name string, r *Runner) *scripting.Connection {
	t.Helper()
	fsys, err := filesystem.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	cfg := scripting.DefaultConfig()
	cfg.PollingDelay = scripting.MinPollingDelay
	conn, err := scripting.NewConnection(name, r, fsys, nil, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}
	return conn
}

// Package scripting holds what the script-based batch schedulers share: a
// connection that runs scheduler commands and stages job scripts on the
// target filesystem, checked command execution, the polling wait loops,
// and helpers to write job scripts and parse scheduler output.
package scripting

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/me/batchgate/internal/adaptor"
	"github.com/me/batchgate/internal/filesystem"
	"github.com/me/batchgate/internal/process"
	"github.com/me/batchgate/pkg/model"
)

// Polling delay bounds and default for remote wait loops.
const (
	MinPollingDelay     = 100 * time.Millisecond
	MaxPollingDelay     = 60 * time.Second
	DefaultPollingDelay = time.Second
)

// Config holds connection configuration.
type Config struct {
	Location      string        // "local://", "ssh://user@host:port/path", ...
	PollingDelay  time.Duration // wait loop period
	IgnoreVersion bool          // accept unknown scheduler versions
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{PollingDelay: DefaultPollingDelay}
}

// Runner runs one command to completion.
type Runner interface {
	Run(ctx context.Context, stdin, executable string, args ...string) (*process.CommandResult, error)
}

// Connection runs scheduler commands through a sub-scheduler and stages
// files through a sub-filesystem.
type Connection struct {
	name   string
	runner Runner
	fsys   filesystem.FileSystem
	closer io.Closer
	config Config
	logger *slog.Logger
}

// Open resolves cfg.Location through registry and connects to it.
func Open(ctx context.Context, registry *adaptor.Registry, name string, cfg Config, logger *slog.Logger) (*Connection, error) {
	if err := cfg.validate(name); err != nil {
		return nil, err
	}
	backend, err := registry.Resolve(ctx, cfg.Location)
	if err != nil {
		return nil, err
	}
	return NewConnection(name, backend.Runner, backend.FileSystem, backend, cfg, logger)
}

// NewConnection creates a Connection over explicit collaborators. closer,
// if not nil, is closed by Close.
func NewConnection(name string, runner Runner, fsys filesystem.FileSystem, closer io.Closer, cfg Config, logger *slog.Logger) (*Connection, error) {
	if err := cfg.validate(name); err != nil {
		return nil, err
	}
	return &Connection{
		name:   name,
		runner: runner,
		fsys:   fsys,
		closer: closer,
		config: cfg,
		logger: logger.With("component", "scheduler-connection", "scheduler", name),
	}, nil
}

func (c Config) validate(name string) error {
	if c.PollingDelay < MinPollingDelay || c.PollingDelay > MaxPollingDelay {
		return model.NewError(model.CodeBadParameter, name, "polling delay %s outside [%s, %s]", c.PollingDelay, MinPollingDelay, MaxPollingDelay)
	}
	return nil
}

// Name returns the scheduler identity stamped on jobs.
func (c *Connection) Name() string { return c.name }

// FileSystem returns the sub-filesystem.
func (c *Connection) FileSystem() filesystem.FileSystem { return c.fsys }

// Config returns the connection configuration.
func (c *Connection) Config() Config { return c.config }

// Logger returns the connection logger.
func (c *Connection) Logger() *slog.Logger { return c.logger }

// Close releases the sub-scheduler.
func (c *Connection) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// RunCommand runs executable and returns its outcome. Only a failure to run
// the command at all is an error.
func (c *Connection) RunCommand(ctx context.Context, stdin, executable string, args ...string) (*process.CommandResult, error) {
	res, err := c.runner.Run(ctx, stdin, executable, args...)
	if err != nil {
		return nil, model.WrapError(model.CodeCommandFailed, c.name, err, "run %s", executable)
	}
	c.logger.Debug("command executed", "executable", executable, "args", args, "exit_code", res.ExitCode)
	return res, nil
}

// RunCheckedCommand runs executable and returns its stdout. A non-zero
// exit code or any stderr output yields a *CommandError.
func (c *Connection) RunCheckedCommand(ctx context.Context, stdin, executable string, args ...string) (string, error) {
	res, err := c.RunCommand(ctx, stdin, executable, args...)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 || res.Stderr != "" {
		return "", &CommandError{
			Adaptor:    c.name,
			Executable: executable,
			Args:       args,
			Stdin:      stdin,
			ExitCode:   res.ExitCode,
			Stdout:     res.Stdout,
			Stderr:     res.Stderr,
		}
	}
	return res.Stdout, nil
}

// CheckVersion runs a version command and rejects output accept does not
// recognize, unless the connection ignores versions.
func (c *Connection) CheckVersion(ctx context.Context, accept func(string) bool, executable string, args ...string) error {
	res, err := c.RunCommand(ctx, "", executable, args...)
	if err != nil {
		return err
	}
	out := strings.TrimSpace(res.Stdout + "\n" + res.Stderr)
	if accept(out) {
		return nil
	}
	if c.config.IgnoreVersion {
		c.logger.Warn("unsupported scheduler version ignored", "output", firstLine(out))
		return nil
	}
	return model.NewError(model.CodeSchedulerFailure, c.name, "unsupported scheduler version %q (set ignore_version to override)", firstLine(out))
}

// CheckQueueNames fails with NO_SUCH_QUEUE naming every given queue that
// is not in known.
func (c *Connection) CheckQueueNames(known []string, given ...string) error {
	var missing []string
	for _, name := range given {
		if !slices.Contains(known, name) && !slices.Contains(missing, name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return model.NewError(model.CodeNoSuchQueue, c.name, "queues do not exist: %s", strings.Join(missing, ", "))
	}
	return nil
}

// VerifyJobInfo checks that a parsed job record belongs to job and has
// every mandatory field.
func (c *Connection) VerifyJobInfo(info map[string]string, job *model.Job, idField string, mandatory ...string) error {
	id, ok := info[idField]
	if !ok {
		return model.NewError(model.CodeSchedulerFailure, c.name, "job info missing field %q", idField)
	}
	if id != job.Identifier() {
		return model.NewError(model.CodeSchedulerFailure, c.name, "job info for %s reports %s %q", job.Identifier(), idField, id)
	}
	for _, f := range mandatory {
		if _, ok := info[f]; !ok {
			return model.NewError(model.CodeSchedulerFailure, c.name, "job info for %s missing field %q", job.Identifier(), f)
		}
	}
	return nil
}

// CheckJob rejects jobs submitted through another scheduler.
func (c *Connection) CheckJob(job *model.Job) error {
	if job == nil {
		return model.NewError(model.CodeBadParameter, c.name, "job is nil")
	}
	if job.Scheduler() != c.name {
		return model.NewError(model.CodeNoSuchJob, c.name, "job %s belongs to scheduler %q", job.Identifier(), job.Scheduler())
	}
	return nil
}

// WorkingDirectory returns the absolute working directory of desc.
func (c *Connection) WorkingDirectory(desc model.JobDescription) string {
	if desc.WorkingDirectory == "" {
		return c.fsys.EntryPath()
	}
	return c.fsys.Resolve(desc.WorkingDirectory)
}

// StageScript writes script into dir under a unique name and returns its
// absolute path.
func (c *Connection) StageScript(ctx context.Context, dir, script string) (string, error) {
	p := path.Join(dir, "batchgate-"+uuid.New().String()+".sh")
	if err := c.fsys.WriteText(ctx, p, script); err != nil {
		return "", model.WrapError(model.CodeSchedulerFailure, c.name, err, "stage job script")
	}
	c.logger.Debug("job script staged", "path", p)
	return p, nil
}

// ScriptPath returns the absolute path of a job.script option value.
func (c *Connection) ScriptPath(desc model.JobDescription, script string) string {
	if path.IsAbs(script) {
		return script
	}
	return path.Join(c.WorkingDirectory(desc), script)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

// Canceled builds the status of a job removed by cancellation.
func (c *Connection) Canceled(job *model.Job, state string) *model.JobStatus {
	err := model.NewError(model.CodeJobCanceled, c.name, "job %s cancelled", job.Identifier())
	return model.NewJobStatus(job, state, nil, err, false, true, nil)
}

// NoSuchJob builds the error for a job the scheduler does not know.
func (c *Connection) NoSuchJob(job *model.Job) error {
	return model.NewError(model.CodeNoSuchJob, c.name, "job %s not known to the scheduler", job.Identifier())
}

// Failure wraps scheduler-reported failure text.
func (c *Connection) Failure(format string, args ...any) error {
	return model.NewError(model.CodeSchedulerFailure, c.name, format, args...)
}

// ParseFailure reports scheduler output that could not be understood.
func (c *Connection) ParseFailure(what, output string, err error) error {
	return model.WrapError(model.CodeSchedulerFailure, c.name, err, "cannot parse %s output %q", what, truncate(output, 200))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + fmt.Sprintf("... (%d bytes)", len(s))
}

// SortIDs orders numeric job identifiers numerically and others lexically.
func SortIDs(ids []string) {
	slices.SortFunc(ids, func(a, b string) int {
		if len(a) != len(b) {
			return len(a) - len(b)
		}
		return strings.Compare(a, b)
	})
}

package process

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/me/batchgate/pkg/model"
)

// CommandResult is the outcome of one synchronous command.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// CommandRunner runs single commands to completion through a Factory and
// captures their output.
type CommandRunner struct {
	factory Factory
	poll    time.Duration
	logger  *slog.Logger
}

// NewCommandRunner creates a CommandRunner on top of factory.
func NewCommandRunner(factory Factory, logger *slog.Logger) *CommandRunner {
	return &CommandRunner{
		factory: factory,
		poll:    5 * time.Millisecond,
		logger:  logger.With("component", "command-runner"),
	}
}

// Factory returns the factory commands are started with.
func (r *CommandRunner) Factory() Factory {
	return r.factory
}

// Run starts executable with args, feeds it stdin, and waits for it to exit.
// A non-zero exit code is not an error; callers inspect the result. If ctx
// ends first the process is destroyed and ctx.Err() is returned.
func (r *CommandRunner) Run(ctx context.Context, stdin, executable string, args ...string) (*CommandResult, error) {
	desc := model.JobDescription{Executable: executable, Arguments: args}
	p, err := r.factory.CreateInteractiveProcess(desc, "command")
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", executable, err)
	}
	streams := p.Streams()

	var stdout, stderr bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		if stdin != "" {
			io.Copy(streams.Stdin, strings.NewReader(stdin))
		}
		streams.Stdin.Close()
	}()
	go func() {
		defer wg.Done()
		io.Copy(&stdout, streams.Stdout)
	}()
	go func() {
		defer wg.Done()
		io.Copy(&stderr, streams.Stderr)
	}()

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()

	select {
	case <-ctx.Done():
		p.Destroy()
		<-drained
		return nil, ctx.Err()
	case <-drained:
	}

	for !p.IsDone() {
		select {
		case <-ctx.Done():
			p.Destroy()
			return nil, ctx.Err()
		case <-time.After(r.poll):
		}
	}

	res := &CommandResult{
		ExitCode: p.ExitStatus(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
	r.logger.Debug("command finished",
		"executable", executable,
		"args", args,
		"exit_code", res.ExitCode,
	)
	return res, nil
}

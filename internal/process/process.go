// Package process abstracts a started executable, local or remote, behind
// one handle exposing its standard streams and completion state.
package process

import (
	"io"

	"github.com/me/batchgate/pkg/model"
)

// Streams are the standard streams of a started process. The caller owns
// them: Stdin must be closed to signal end of input, Stdout and Stderr must
// be drained or the process may block.
type Streams struct {
	JobID  string
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr io.ReadCloser
}

// InteractiveProcess is a started process.
type InteractiveProcess interface {
	// Streams returns the process streams.
	Streams() Streams

	// IsDone reports, without blocking, whether the process has exited.
	// Once it returns true it keeps returning true, and the first such
	// call releases the resources held for the process.
	IsDone() bool

	// ExitStatus returns the exit status, or -1 while the process runs.
	ExitStatus() int

	// Destroy kills the process. It is a no-op once the process is done.
	Destroy()
}

// Factory starts processes on one backend and owns the backend resources
// (a connection, a session) shared by the processes it starts.
type Factory interface {
	// CreateInteractiveProcess starts desc.Executable with desc.Arguments and
	// desc.Environment in desc.WorkingDirectory. Redirection fields are
	// ignored; the caller wires the returned streams.
	CreateInteractiveProcess(desc model.JobDescription, jobID string) (InteractiveProcess, error)

	// IsOpen reports whether the factory can still start processes.
	IsOpen() bool

	// Close releases the backend resources.
	Close() error
}

package scripting

import (
	"fmt"
	"strings"

	"github.com/me/batchgate/pkg/model"
)

// CommandError reports a checked command that exited non-zero or wrote to
// stderr.
type CommandError struct {
	Adaptor    string
	Executable string
	Args       []string
	Stdin      string
	ExitCode   int
	Stdout     string
	Stderr     string
}

func (e *CommandError) Error() string {
	var b strings.Builder
	if e.Adaptor != "" {
		b.WriteString(e.Adaptor + " adaptor: ")
	}
	fmt.Fprintf(&b, "command %q failed: exit code %d", strings.Join(append([]string{e.Executable}, e.Args...), " "), e.ExitCode)
	if e.Stdin != "" {
		fmt.Fprintf(&b, ", stdin %q", e.Stdin)
	}
	fmt.Fprintf(&b, ", stdout %q, stderr %q", strings.TrimSpace(e.Stdout), strings.TrimSpace(e.Stderr))
	return b.String()
}

// Unwrap exposes the COMMAND_FAILED code to errors.Is and model.CodeOf.
func (e *CommandError) Unwrap() error {
	return &model.Error{Code: model.CodeCommandFailed, Adaptor: e.Adaptor}
}

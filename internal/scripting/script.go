package scripting

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/me/batchgate/internal/shell"
	"github.com/me/batchgate/pkg/model"
)

// Options recognized by the script-based schedulers. Each flavor accepts a
// subset.
const (
	OptionJobScript           = "job.script"
	OptionParallelEnvironment = "parallel.environment"
	OptionParallelSlots       = "parallel.slots"
	OptionResources           = "resources"
)

// DefaultJobName is used when a description has no name.
const DefaultJobName = "batchgate"

// CheckOptions rejects options outside allowed.
func CheckOptions(adaptor string, desc model.JobDescription, allowed ...string) error {
	var bad []string
	for k := range desc.Options {
		if !slices.Contains(allowed, k) {
			bad = append(bad, k)
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return model.NewError(model.CodeInvalidJobDescription, adaptor, "unsupported job options: %s", strings.Join(bad, ", "))
	}
	return nil
}

// VerifyDescription applies the checks every script-based flavor shares.
// A job.script option skips everything but the option whitelist.
func VerifyDescription(adaptor string, desc model.JobDescription, allowed ...string) error {
	if err := CheckOptions(adaptor, desc, allowed...); err != nil {
		return err
	}
	if _, ok := desc.Option(OptionJobScript); ok {
		return nil
	}
	if desc.Interactive {
		return model.NewError(model.CodeInvalidJobDescription, adaptor, "interactive jobs are not supported")
	}
	if desc.Executable == "" {
		return model.NewError(model.CodeIncompleteJobDescription, adaptor, "executable missing")
	}
	if desc.NodeCount < 1 {
		return model.NewError(model.CodeInvalidJobDescription, adaptor, "illegal node count: %d", desc.NodeCount)
	}
	if desc.ProcessesPerNode < 1 {
		return model.NewError(model.CodeInvalidJobDescription, adaptor, "illegal processes per node: %d", desc.ProcessesPerNode)
	}
	if desc.MaxTime <= 0 {
		return model.NewError(model.CodeInvalidJobDescription, adaptor, "illegal maximum runtime: %d", desc.MaxTime)
	}
	return nil
}

// Walltime formats minutes as HH:MM:00.
func Walltime(minutes int) string {
	return fmt.Sprintf("%02d:%02d:00", minutes/60, minutes%60)
}

// ScriptWriter builds a job script: a shebang, directive lines carrying a
// scheduler marker, then the shell body.
type ScriptWriter struct {
	marker string
	b      strings.Builder
}

// NewScriptWriter starts a /bin/sh script whose directives begin with marker.
func NewScriptWriter(marker string) *ScriptWriter {
	w := &ScriptWriter{marker: marker}
	w.b.WriteString("#!/bin/sh\n")
	return w
}

// Directive writes "<marker> <text>".
func (w *ScriptWriter) Directive(format string, args ...any) {
	w.b.WriteString(w.marker)
	w.b.WriteByte(' ')
	fmt.Fprintf(&w.b, format, args...)
	w.b.WriteByte('\n')
}

// Line writes one body line.
func (w *ScriptWriter) Line(format string, args ...any) {
	fmt.Fprintf(&w.b, format, args...)
	w.b.WriteByte('\n')
}

// Blank writes an empty line.
func (w *ScriptWriter) Blank() {
	w.b.WriteByte('\n')
}

// Environment writes one export line per variable, sorted by name.
func (w *ScriptWriter) Environment(env map[string]string) {
	if len(env) == 0 {
		return
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	w.Blank()
	for _, k := range keys {
		w.Line("export %s=%s", k, shell.DoubleQuote(env[k]))
	}
}

// Command returns executable and arguments as one escaped command line.
func Command(desc model.JobDescription) string {
	return shell.Join(append([]string{desc.Executable}, desc.Arguments...)...)
}

// String returns the script text.
func (w *ScriptWriter) String() string {
	return w.b.String()
}

// Redirect returns path quoted for a directive, or /dev/null when empty.
func Redirect(path string) string {
	if path == "" {
		return "/dev/null"
	}
	return shell.Quote(path)
}

var inDoubleQuotes = strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`, "`", "\\`")

// SSHFanOut writes the body of a parallel job: command runs processes
// times on every host listed by hostsCmd, over ssh, followed by a wait.
func (w *ScriptWriter) SSHFanOut(hostsCmd string, processes int, command string) {
	w.Line("for host in `%s` ; do", hostsCmd)
	w.Line("  for i in `seq 1 %d` ; do", processes)
	w.Line(`    ssh -o StrictHostKeyChecking=false $host "cd %s && %s" &`, "`pwd`", inDoubleQuotes.Replace(command))
	w.Line("  done")
	w.Line("done")
	w.Blank()
	w.Line("wait")
	w.Line("exit 0")
}

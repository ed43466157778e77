// Package torque drives Torque/PBS through qsub, qstat, qdel and qmgr.
package torque

import (
	"path"

	"github.com/me/batchgate/internal/scripting"
	"github.com/me/batchgate/pkg/model"
)

// Name is the adaptor name.
const Name = "torque"

// Marker starts every PBS directive.
const Marker = "#PBS"

// Options accepted in job descriptions.
var Options = []string{
	scripting.OptionJobScript,
	scripting.OptionResources,
}

// Verify checks desc against the Torque rules.
func Verify(desc model.JobDescription) error {
	if err := scripting.VerifyDescription(Name, desc, Options...); err != nil {
		return err
	}
	if _, ok := desc.Option(scripting.OptionJobScript); ok {
		return nil
	}
	if desc.StartSingleProcess {
		return model.NewError(model.CodeInvalidJobDescription, Name, "start single process is not supported")
	}
	return nil
}

// Generate returns the job script for desc. Relative paths are resolved
// against the working directory, itself resolved against entryPath.
func Generate(desc model.JobDescription, entryPath string) (string, error) {
	if err := Verify(desc); err != nil {
		return "", err
	}
	dir := resolve(entryPath, desc.WorkingDirectory)

	w := scripting.NewScriptWriter(Marker)
	w.Directive("-S /bin/sh")
	name := desc.Name
	if name == "" {
		name = scripting.DefaultJobName
	}
	w.Directive("-N %s", name)
	w.Directive("-d %s", scripting.Redirect(dir))
	if desc.QueueName != "" {
		w.Directive("-q %s", desc.QueueName)
	}
	w.Directive("-l nodes=%d:ppn=%d", desc.NodeCount, desc.ProcessesPerNode)
	w.Directive("-l walltime=%s", scripting.Walltime(desc.MaxTime))
	if res, ok := desc.Option(scripting.OptionResources); ok && res != "" {
		w.Directive("-l %s", res)
	}
	w.Directive("-o %s", redirect(dir, desc.Stdout))
	w.Directive("-e %s", redirect(dir, desc.Stderr))

	w.Environment(desc.Environment)
	w.Blank()

	command := scripting.Command(desc)
	switch {
	case desc.IsParallel():
		w.SSHFanOut("sort -u $PBS_NODEFILE", desc.ProcessesPerNode, command)
	case desc.Stdin != "":
		w.Line("%s < %s", command, scripting.Redirect(resolve(dir, desc.Stdin)))
	default:
		w.Line("%s", command)
	}
	return w.String(), nil
}

func resolve(dir, p string) string {
	if p == "" {
		return dir
	}
	if path.IsAbs(p) {
		return p
	}
	return path.Join(dir, p)
}

// redirect returns the absolute output path for a directive, /dev/null if
// p is empty. qsub resolves relative output paths on the submit host.
func redirect(dir, p string) string {
	if p == "" {
		return "/dev/null"
	}
	return scripting.Redirect(resolve(dir, p))
}

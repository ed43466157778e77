// Package slurm drives Slurm through sbatch, squeue, sacct, scancel and
// sinfo.
package slurm

import (
	"path"

	"github.com/me/batchgate/internal/scripting"
	"github.com/me/batchgate/pkg/model"
)

// Name is the adaptor name.
const Name = "slurm"

// Marker starts every sbatch directive.
const Marker = "#SBATCH"

// Options accepted in job descriptions. The resources value is copied
// verbatim into one directive, e.g. "--gres=gpu:2".
var Options = []string{
	scripting.OptionJobScript,
	scripting.OptionResources,
}

// Verify checks desc against the Slurm rules.
func Verify(desc model.JobDescription) error {
	return scripting.VerifyDescription(Name, desc, Options...)
}

// Generate returns the job script for desc. A relative working directory
// is resolved against entryPath; sbatch resolves the redirections against
// the working directory.
func Generate(desc model.JobDescription, entryPath string) (string, error) {
	if err := Verify(desc); err != nil {
		return "", err
	}
	dir := entryPath
	if desc.WorkingDirectory != "" {
		dir = desc.WorkingDirectory
		if !path.IsAbs(dir) {
			dir = path.Join(entryPath, dir)
		}
	}

	w := scripting.NewScriptWriter(Marker)
	name := desc.Name
	if name == "" {
		name = scripting.DefaultJobName
	}
	w.Directive("--job-name=%s", name)
	w.Directive("--chdir=%s", scripting.Redirect(dir))
	if desc.QueueName != "" {
		w.Directive("--partition=%s", desc.QueueName)
	}
	w.Directive("--nodes=%d", desc.NodeCount)
	w.Directive("--ntasks-per-node=%d", desc.ProcessesPerNode)
	w.Directive("--time=%s", scripting.Walltime(desc.MaxTime))
	if res, ok := desc.Option(scripting.OptionResources); ok && res != "" {
		w.Directive("%s", res)
	}
	if desc.Stdin != "" {
		w.Directive("--input=%s", scripting.Redirect(desc.Stdin))
	}
	w.Directive("--output=%s", scripting.Redirect(desc.Stdout))
	w.Directive("--error=%s", scripting.Redirect(desc.Stderr))

	w.Environment(desc.Environment)
	w.Blank()

	if desc.IsParallel() && !desc.StartSingleProcess {
		w.Line("srun %s", scripting.Command(desc))
	} else {
		w.Line("%s", scripting.Command(desc))
	}
	return w.String(), nil
}

// Package gridengine drives Sun/Oracle/Univa Grid Engine through qsub,
// qstat, qacct, qdel and qconf.
package gridengine

import (
	"path"
	"slices"
	"strconv"

	"github.com/me/batchgate/internal/scripting"
	"github.com/me/batchgate/pkg/model"
)

// Name is the adaptor name.
const Name = "gridengine"

// Marker starts every Grid Engine directive.
const Marker = "#$"

// Options accepted in job descriptions.
var Options = []string{
	scripting.OptionJobScript,
	scripting.OptionParallelEnvironment,
	scripting.OptionParallelSlots,
	scripting.OptionResources,
}

// Setup is what the generator needs to know about the cluster.
type Setup struct {
	Queues               []string
	ParallelEnvironments []string
}

// Verify checks desc against the Grid Engine rules.
func Verify(desc model.JobDescription, setup Setup) error {
	if err := scripting.VerifyDescription(Name, desc, Options...); err != nil {
		return err
	}
	if _, ok := desc.Option(scripting.OptionJobScript); ok {
		return nil
	}
	if !desc.IsParallel() {
		return nil
	}
	pe, ok := desc.Option(scripting.OptionParallelEnvironment)
	if !ok || pe == "" {
		return model.NewError(model.CodeInvalidJobDescription, Name, "parallel job requires option %q", scripting.OptionParallelEnvironment)
	}
	if len(setup.ParallelEnvironments) > 0 && !slices.Contains(setup.ParallelEnvironments, pe) {
		return model.NewError(model.CodeInvalidJobDescription, Name, "parallel environment %q does not exist", pe)
	}
	if _, err := slots(desc); err != nil {
		return err
	}
	return nil
}

// slots returns the slot count requested for a parallel job.
func slots(desc model.JobDescription) (int, error) {
	if v, ok := desc.Option(scripting.OptionParallelSlots); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return 0, model.NewError(model.CodeInvalidJobDescription, Name, "illegal %s value %q", scripting.OptionParallelSlots, v)
		}
		return n, nil
	}
	if desc.QueueName == "" {
		return 0, model.NewError(model.CodeInvalidJobDescription, Name, "parallel job requires a queue name or option %q", scripting.OptionParallelSlots)
	}
	return desc.NodeCount * desc.ProcessesPerNode, nil
}

// Generate returns the job script for desc. A relative working directory
// is resolved against entryPath.
func Generate(desc model.JobDescription, entryPath string, setup Setup) (string, error) {
	if err := Verify(desc, setup); err != nil {
		return "", err
	}
	w := scripting.NewScriptWriter(Marker)
	w.Directive("-S /bin/sh")

	name := desc.Name
	if name == "" {
		name = scripting.DefaultJobName
	}
	w.Directive("-N %s", name)

	dir := entryPath
	if desc.WorkingDirectory != "" {
		dir = desc.WorkingDirectory
		if !path.IsAbs(dir) {
			dir = path.Join(entryPath, dir)
		}
	}
	w.Directive("-wd %s", scripting.Redirect(dir))

	if desc.QueueName != "" {
		w.Directive("-q %s", desc.QueueName)
	}
	if desc.IsParallel() {
		pe, _ := desc.Option(scripting.OptionParallelEnvironment)
		n, _ := slots(desc)
		w.Directive("-pe %s %d", pe, n)
	}
	w.Directive("-l h_rt=%s", scripting.Walltime(desc.MaxTime))
	if res, ok := desc.Option(scripting.OptionResources); ok && res != "" {
		w.Directive("-l %s", res)
	}
	if desc.Stdin != "" {
		w.Directive("-i %s", scripting.Redirect(desc.Stdin))
	}
	w.Directive("-o %s", scripting.Redirect(desc.Stdout))
	w.Directive("-e %s", scripting.Redirect(desc.Stderr))

	w.Environment(desc.Environment)
	w.Blank()

	if desc.IsParallel() && !desc.StartSingleProcess {
		w.SSHFanOut(`cat $PE_HOSTFILE | cut -d " " -f 1`, desc.ProcessesPerNode, scripting.Command(desc))
	} else {
		w.Line("%s", scripting.Command(desc))
	}
	return w.String(), nil
}

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/me/batchgate/pkg/model"
)

// statusView is the JSON form of a job status, shared by the commands
// that talk to a server and those that run a scheduler in process.
type statusView struct {
	JobID         string            `json:"job_id"`
	Scheduler     string            `json:"scheduler"`
	State         string            `json:"state"`
	ExitCode      *int              `json:"exit_code"`
	Error         *model.APIError   `json:"error"`
	Running       bool              `json:"running"`
	Done          bool              `json:"done"`
	SchedulerInfo map[string]string `json:"scheduler_info"`
}

func viewOf(st *model.JobStatus) (statusView, error) {
	var v statusView
	data, err := json.Marshal(st)
	if err != nil {
		return v, fmt.Errorf("marshal status: %w", err)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("parse status: %w", err)
	}
	return v, nil
}

func (v statusView) phase() string {
	switch {
	case v.Done && v.Error != nil:
		return "failed"
	case v.Done:
		return "done"
	case v.Running:
		return "running"
	}
	return "pending"
}

func printStatus(w io.Writer, v statusView) {
	fmt.Fprintf(w, "Job %s/%s\n", v.Scheduler, v.JobID)
	fmt.Fprintf(w, "  State:     %s (%s)\n", v.State, v.phase())
	if v.ExitCode != nil {
		fmt.Fprintf(w, "  Exit code: %d\n", *v.ExitCode)
	}
	if v.Error != nil {
		fmt.Fprintf(w, "  Error:     %s\n", v.Error.Message)
	}
	for _, k := range slices.Sorted(maps.Keys(v.SchedulerInfo)) {
		fmt.Fprintf(w, "  %s: %s\n", k, v.SchedulerInfo[k])
	}
}

// jobDescription reads a job description from file, or builds one from
// args (executable first) when file is empty.
func jobDescription(file, queue string, args []string) (model.JobDescription, error) {
	var desc model.JobDescription
	switch {
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return desc, fmt.Errorf("read job description: %w", err)
		}
		desc, err = model.ParseJobDescription(data)
		if err != nil {
			return desc, err
		}
		if len(args) > 0 {
			return desc, fmt.Errorf("give either a job file or a command, not both")
		}
	case len(args) > 0:
		desc = model.NewJobDescription()
		desc.Executable = args[0]
		desc.Arguments = args[1:]
	default:
		return desc, fmt.Errorf("no job: pass -f job.yaml or a command after --")
	}
	if queue != "" {
		desc.QueueName = queue
	}
	return desc, nil
}

package slurm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/me/batchgate/internal/scripting"
	"github.com/me/batchgate/pkg/model"
)

// Output formats requested from squeue, sacct and sinfo. Fields are
// separated by "|".
const (
	squeueFormat = "%i|%P|%j|%u|%T|%M|%l|%D|%R"
	sacctFormat  = "JobID,JobName,Partition,State,ExitCode"
	sinfoFormat  = "%P|%a|%l|%D|%F"
)

const (
	fieldJobID     = "JOBID"
	fieldPartition = "PARTITION"
	fieldName      = "NAME"
	fieldState     = "STATE"

	fieldAcctJobID    = "JobID"
	fieldAcctState    = "State"
	fieldAcctExitCode = "ExitCode"
)

// ParseJobs parses squeue output into records keyed by job id.
func ParseJobs(output string) (map[string]map[string]string, error) {
	return scripting.ParseTable(output, fieldJobID, "|")
}

// ParseAccounting parses "sacct -X -p" output into records keyed by job id.
func ParseAccounting(output string) (map[string]map[string]string, error) {
	return scripting.ParseTable(output, fieldAcctJobID, "|")
}

// ParsePartitions parses sinfo output into records keyed by partition
// name, and returns the default partition, marked with "*" by sinfo.
func ParsePartitions(output string) (map[string]map[string]string, string, error) {
	table, err := scripting.ParseTable(output, fieldPartition, "|")
	if err != nil {
		return nil, "", err
	}
	out := make(map[string]map[string]string, len(table))
	var def string
	for name, row := range table {
		if trimmed, ok := strings.CutSuffix(name, "*"); ok {
			name = trimmed
			def = trimmed
			row[fieldPartition] = trimmed
		}
		out[name] = row
	}
	return out, def, nil
}

// terminal reports whether a squeue state means the job has ended.
func terminal(state string) bool {
	switch state {
	case "PENDING", "RUNNING", "SUSPENDED", "COMPLETING", "CONFIGURING",
		"REQUEUED", "RESIZING", "STOPPED", "SIGNALING", "STAGE_OUT", "REQUEUE_HOLD", "REQUEUE_FED":
		return false
	}
	return true
}

// statusFromJob converts a squeue record of a job that has not ended.
func statusFromJob(job *model.Job, info map[string]string) *model.JobStatus {
	state := info[fieldState]
	running := state == "RUNNING" || state == "COMPLETING"
	return model.NewJobStatus(job, state, nil, nil, running, false, info)
}

// parseExitCode splits a sacct "code:signal" value.
func parseExitCode(v string) (code, signal int, err error) {
	c, s, ok := strings.Cut(v, ":")
	if !ok {
		return 0, 0, fmt.Errorf("exit code %q is not code:signal", v)
	}
	if code, err = strconv.Atoi(c); err != nil {
		return 0, 0, fmt.Errorf("parse exit code %q: %w", v, err)
	}
	if signal, err = strconv.Atoi(s); err != nil {
		return 0, 0, fmt.Errorf("parse exit signal %q: %w", v, err)
	}
	return code, signal, nil
}

// statusFromAccounting converts a sacct record. A job that is still active
// according to accounting is reported as such. A FAILED job whose
// program exited non-zero is a normal completion with that exit code.
func statusFromAccounting(job *model.Job, info map[string]string) (*model.JobStatus, error) {
	// "CANCELLED by 1000"
	state, _, _ := strings.Cut(info[fieldAcctState], " ")
	if !terminal(state) {
		return model.NewJobStatus(job, state, nil, nil, state == "RUNNING", false, info), nil
	}

	code, signal, err := parseExitCode(info[fieldAcctExitCode])
	if err != nil {
		return nil, err
	}

	var jobErr error
	switch state {
	case "COMPLETED":
	case "CANCELLED":
		jobErr = model.NewError(model.CodeJobCanceled, Name, "job %s was cancelled", job.Identifier())
	case "FAILED":
		if signal != 0 || code == 0 {
			jobErr = model.NewError(model.CodeSchedulerFailure, Name, "job %s failed: exit code %d, signal %d", job.Identifier(), code, signal)
		}
	default:
		jobErr = model.NewError(model.CodeSchedulerFailure, Name, "job %s ended in state %s", job.Identifier(), state)
	}
	return model.NewJobStatus(job, state, &code, jobErr, false, true, info), nil
}

package torque

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/me/batchgate/internal/scripting"
	"github.com/me/batchgate/pkg/model"
)

const (
	fieldJobID      = "Job_Id"
	fieldJobName    = "Job_Name"
	fieldState      = "job_state"
	fieldQueue      = "queue"
	fieldExitStatus = "exit_status"
	fieldQueueName  = "Queue"
)

// exitDeleted is the exit status Torque records for a job killed by qdel
// (256 + SIGTERM).
const exitDeleted = 271

var defaultQueuePattern = regexp.MustCompile(`(?m)^set server default_queue = (\S+)`)

// ParseJobs parses "qstat -x" output into records keyed by job id.
func ParseJobs(output string) (map[string]map[string]string, error) {
	records, err := scripting.ParseXMLRecords([]byte(output), "Job")
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]string, len(records))
	for _, r := range records {
		id, ok := r[fieldJobID]
		if !ok {
			return nil, fmt.Errorf("qstat record without %s", fieldJobID)
		}
		out[id] = r
	}
	return out, nil
}

// ParseQueues parses "qstat -Q" output into records keyed by queue name.
func ParseQueues(output string) (map[string]map[string]string, error) {
	return scripting.ParseTable(output, fieldQueueName, "")
}

// ParseDefaultQueue extracts the default queue from "qmgr -c 'print
// server'" output. It returns "" if none is set.
func ParseDefaultQueue(output string) string {
	m := defaultQueuePattern.FindStringSubmatch(output)
	if m == nil {
		return ""
	}
	return m[1]
}

// statusFromJob converts a qstat record. State C is complete; an exit
// status of 271 means the job was deleted and a negative one that Torque
// could not run it.
func statusFromJob(job *model.Job, info map[string]string) (*model.JobStatus, error) {
	state := info[fieldState]
	switch state {
	case "R", "E":
		return model.NewJobStatus(job, state, nil, nil, true, false, info), nil
	case "C":
	default:
		return model.NewJobStatus(job, state, nil, nil, false, false, info), nil
	}

	raw, ok := info[fieldExitStatus]
	if !ok {
		err := model.NewError(model.CodeJobCanceled, Name, "job %s completed without running", job.Identifier())
		return model.NewJobStatus(job, state, nil, err, false, true, info), nil
	}
	exit, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", fieldExitStatus, err)
	}
	var jobErr error
	switch {
	case exit == exitDeleted:
		jobErr = model.NewError(model.CodeJobCanceled, Name, "job %s was deleted", job.Identifier())
	case exit < 0:
		jobErr = model.NewError(model.CodeSchedulerFailure, Name, "job %s could not be run: exit status %d", job.Identifier(), exit)
	}
	return model.NewJobStatus(job, state, &exit, jobErr, false, true, info), nil
}

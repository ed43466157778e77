package gridengine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/me/batchgate/internal/scripting"
	"github.com/me/batchgate/pkg/model"
)

// Fields of the parsed records.
const (
	fieldJobNumber  = "JB_job_number"
	fieldState      = "state"
	fieldQueueName  = "queue_name"
	fieldAcctNumber = "jobnumber"
	fieldExitStatus = "exit_status"
	fieldFailed     = "failed"
	fieldQueue      = "CLUSTER_QUEUE"
)

// ParseJobs parses "qstat -xml" output into records keyed by job number.
func ParseJobs(output string) (map[string]map[string]string, error) {
	records, err := scripting.ParseXMLRecords([]byte(output), "job_list")
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]string, len(records))
	for _, r := range records {
		id, ok := r[fieldJobNumber]
		if !ok {
			return nil, fmt.Errorf("job_list without %s", fieldJobNumber)
		}
		out[id] = r
	}
	return out, nil
}

// ParseAccounting parses "qacct -j <id>" output into one record.
func ParseAccounting(output string) map[string]string {
	return scripting.ParseKeyValue(output, "")
}

// ParseQueues parses "qstat -g c" output into records keyed by queue name.
func ParseQueues(output string) (map[string]map[string]string, error) {
	return scripting.ParseTable(strings.Replace(output, "CLUSTER QUEUE", fieldQueue, 1), fieldQueue, "")
}

// statusFromJob converts a qstat record. A state containing "E" is an error
// state and ends the job.
func statusFromJob(job *model.Job, info map[string]string) *model.JobStatus {
	state := info[fieldState]
	if strings.Contains(state, "E") {
		err := model.NewError(model.CodeSchedulerFailure, Name, "job reports error state %q", state)
		return model.NewJobStatus(job, state, nil, err, false, true, info)
	}
	running := strings.Contains(state, "r") || strings.Contains(state, "t")
	return model.NewJobStatus(job, state, nil, nil, running, false, info)
}

// statusFromAccounting converts a qacct record. A failed value starting
// with 100 means the job was deleted; any other non-zero value is a
// failure.
func statusFromAccounting(job *model.Job, info map[string]string) (*model.JobStatus, error) {
	raw := strings.Fields(info[fieldExitStatus])
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty %s", fieldExitStatus)
	}
	exit, err := strconv.Atoi(raw[0])
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", fieldExitStatus, err)
	}

	var jobErr error
	failed := info[fieldFailed]
	switch {
	case strings.HasPrefix(failed, "100"):
		jobErr = model.NewError(model.CodeJobCanceled, Name, "job %s was deleted: %s", job.Identifier(), failed)
	case failed != "0":
		jobErr = model.NewError(model.CodeSchedulerFailure, Name, "job %s failed: %s", job.Identifier(), failed)
	}
	return model.NewJobStatus(job, "done", &exit, jobErr, false, true, info), nil
}

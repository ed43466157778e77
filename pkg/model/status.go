package model

import (
	"encoding/json"
	"errors"
	"maps"
)

// JobStatus is a snapshot of a job's state at the time it was taken.
//
// Done is authoritative: a status that is done never reports Running, and a
// status carrying an exit code or an error is always done.
type JobStatus struct {
	Job           *Job
	State         string
	ExitCode      *int
	Err           error
	Running       bool
	Done          bool
	SchedulerInfo map[string]string
}

// NewJobStatus builds a status and enforces the done/running invariants.
func NewJobStatus(job *Job, state string, exitCode *int, err error, running, done bool, info map[string]string) *JobStatus {
	if exitCode != nil || err != nil {
		done = true
	}
	if done {
		running = false
	}
	var code *int
	if exitCode != nil {
		v := *exitCode
		code = &v
	}
	return &JobStatus{
		Job:           job,
		State:         state,
		ExitCode:      code,
		Err:           err,
		Running:       running,
		Done:          done,
		SchedulerInfo: maps.Clone(info),
	}
}

// IsDone reports whether the job reached a terminal state.
func (s *JobStatus) IsDone() bool { return s.Done }

// IsRunning reports whether the job is executing.
func (s *JobStatus) IsRunning() bool { return s.Running }

// HasException reports whether the job ended abnormally or the query failed.
func (s *JobStatus) HasException() bool { return s.Err != nil }

// IsCanceled reports whether the job ended because it was cancelled.
func (s *JobStatus) IsCanceled() bool { return errors.Is(s.Err, ErrJobCanceled) }

// Clone returns a copy that shares no mutable state with s.
func (s *JobStatus) Clone() *JobStatus {
	if s == nil {
		return nil
	}
	return NewJobStatus(s.Job, s.State, s.ExitCode, s.Err, s.Running, s.Done, s.SchedulerInfo)
}

type jobStatusJSON struct {
	JobID         string            `json:"job_id"`
	Scheduler     string            `json:"scheduler"`
	State         string            `json:"state"`
	ExitCode      *int              `json:"exit_code"`
	Error         *APIError         `json:"error,omitempty"`
	Running       bool              `json:"running"`
	Done          bool              `json:"done"`
	SchedulerInfo map[string]string `json:"scheduler_info,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (s *JobStatus) MarshalJSON() ([]byte, error) {
	v := jobStatusJSON{
		State:         s.State,
		ExitCode:      s.ExitCode,
		Running:       s.Running,
		Done:          s.Done,
		SchedulerInfo: s.SchedulerInfo,
	}
	if s.Job != nil {
		v.JobID = s.Job.Identifier()
		v.Scheduler = s.Job.Scheduler()
	}
	if s.Err != nil {
		v.Error = NewAPIError(s.Err)
	}
	return json.Marshal(v)
}

// QueueStatus is a snapshot of one queue.
type QueueStatus struct {
	Scheduler     string            `json:"scheduler"`
	Name          string            `json:"name"`
	Err           error             `json:"-"`
	SchedulerInfo map[string]string `json:"scheduler_info,omitempty"`
}

// HasException reports whether the queue query failed.
func (q *QueueStatus) HasException() bool { return q.Err != nil }

type queueStatusJSON struct {
	Scheduler     string            `json:"scheduler"`
	Name          string            `json:"name"`
	Error         *APIError         `json:"error,omitempty"`
	SchedulerInfo map[string]string `json:"scheduler_info,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (q *QueueStatus) MarshalJSON() ([]byte, error) {
	v := queueStatusJSON{Scheduler: q.Scheduler, Name: q.Name, SchedulerInfo: q.SchedulerInfo}
	if q.Err != nil {
		v.Error = NewAPIError(q.Err)
	}
	return json.Marshal(v)
}

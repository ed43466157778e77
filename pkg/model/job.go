package model

import "encoding/json"

// Job is a submitted unit of work: the description it was submitted with,
// the scheduler that owns it and the identifier that scheduler assigned.
// Identifiers are unique per scheduler instance only.
type Job struct {
	description JobDescription
	scheduler   string
	id          string
}

// NewJob creates a Job. The description is copied so later changes by the
// caller are not visible through the Job.
func NewJob(desc JobDescription, scheduler, id string) *Job {
	return &Job{description: desc.Clone(), scheduler: scheduler, id: id}
}

// Identifier returns the scheduler-assigned job identifier.
func (j *Job) Identifier() string { return j.id }

// Scheduler returns the identity of the owning scheduler instance.
func (j *Job) Scheduler() string { return j.scheduler }

// Description returns a copy of the submitted description.
func (j *Job) Description() JobDescription { return j.description.Clone() }

// IsInteractive reports whether the job was submitted interactively.
func (j *Job) IsInteractive() bool { return j.description.Interactive }

func (j *Job) String() string { return j.scheduler + "/" + j.id }

type jobJSON struct {
	ID          string         `json:"id"`
	Scheduler   string         `json:"scheduler"`
	Description JobDescription `json:"description"`
}

// MarshalJSON implements json.Marshaler.
func (j *Job) MarshalJSON() ([]byte, error) {
	return json.Marshal(jobJSON{ID: j.id, Scheduler: j.scheduler, Description: j.description})
}

// UnmarshalJSON implements json.Unmarshaler.
func (j *Job) UnmarshalJSON(data []byte) error {
	var v jobJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	j.id, j.scheduler, j.description = v.ID, v.Scheduler, v.Description
	return nil
}

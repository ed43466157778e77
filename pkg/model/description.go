package model

import (
	"fmt"
	"maps"
	"slices"

	"gopkg.in/yaml.v3"
)

// Default values applied by NewJobDescription.
const (
	DefaultStdout  = "stdout.txt"
	DefaultStderr  = "stderr.txt"
	DefaultMaxTime = 15
)

// JobDescription describes what to run and with which resource shape.
// Stdin, Stdout and Stderr name files relative to the working directory;
// an empty value means no redirection.
type JobDescription struct {
	Name               string            `json:"name,omitempty" yaml:"name,omitempty"`
	Executable         string            `json:"executable" yaml:"executable"`
	Arguments          []string          `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	Environment        map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`
	WorkingDirectory   string            `json:"working_directory,omitempty" yaml:"working_directory,omitempty"`
	Stdin              string            `json:"stdin,omitempty" yaml:"stdin,omitempty"`
	Stdout             string            `json:"stdout,omitempty" yaml:"stdout,omitempty"`
	Stderr             string            `json:"stderr,omitempty" yaml:"stderr,omitempty"`
	QueueName          string            `json:"queue_name,omitempty" yaml:"queue_name,omitempty"`
	NodeCount          int               `json:"node_count" yaml:"node_count"`
	ProcessesPerNode   int               `json:"processes_per_node" yaml:"processes_per_node"`
	MaxTime            int               `json:"max_time" yaml:"max_time"` // minutes
	Interactive        bool              `json:"interactive,omitempty" yaml:"interactive,omitempty"`
	StartSingleProcess bool              `json:"start_single_process,omitempty" yaml:"start_single_process,omitempty"`
	Options            map[string]string `json:"options,omitempty" yaml:"options,omitempty"`
}

// NewJobDescription returns a description with the default resource shape
// (one node, one process, 15 minutes) and stdout.txt/stderr.txt redirection.
// Interactive jobs must clear Stdout and Stderr before submission.
func NewJobDescription() JobDescription {
	return JobDescription{
		Stdout:           DefaultStdout,
		Stderr:           DefaultStderr,
		NodeCount:        1,
		ProcessesPerNode: 1,
		MaxTime:          DefaultMaxTime,
	}
}

// ParseJobDescription decodes a YAML (or JSON) job description on top of the defaults.
func ParseJobDescription(data []byte) (JobDescription, error) {
	desc := NewJobDescription()
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return JobDescription{}, fmt.Errorf("parse job description: %w", err)
	}
	return desc, nil
}

// Clone returns a deep copy.
func (d JobDescription) Clone() JobDescription {
	c := d
	c.Arguments = slices.Clone(d.Arguments)
	c.Environment = maps.Clone(d.Environment)
	c.Options = maps.Clone(d.Options)
	return c
}

// Option returns the value of a scheduler-specific option.
func (d JobDescription) Option(key string) (string, bool) {
	v, ok := d.Options[key]
	return v, ok
}

// IsParallel reports whether the job spans more than one process.
func (d JobDescription) IsParallel() bool {
	return d.NodeCount > 1 || d.ProcessesPerNode > 1
}

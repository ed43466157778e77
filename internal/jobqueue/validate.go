package jobqueue

import (
	"sort"

	"github.com/me/batchgate/pkg/model"
)

// verifyDescription rejects descriptions the engine cannot run. It never
// modifies desc.
func (q *JobQueues) verifyDescription(desc model.JobDescription) error {
	name := q.config.Name
	if desc.Executable == "" {
		return model.NewError(model.CodeIncompleteJobDescription, name, "executable missing")
	}
	if desc.NodeCount < 1 {
		return model.NewError(model.CodeInvalidJobDescription, name, "illegal node count: %d", desc.NodeCount)
	}
	if desc.NodeCount > 1 {
		return model.NewError(model.CodeInvalidJobDescription, name, "illegal node count: %d (local jobs run on one node)", desc.NodeCount)
	}
	if desc.ProcessesPerNode < 1 {
		return model.NewError(model.CodeInvalidJobDescription, name, "illegal processes per node: %d", desc.ProcessesPerNode)
	}
	if desc.ProcessesPerNode > 1 && !desc.StartSingleProcess {
		return model.NewError(model.CodeInvalidJobDescription, name, "illegal processes per node: %d (set start_single_process)", desc.ProcessesPerNode)
	}
	if desc.MaxTime <= 0 {
		return model.NewError(model.CodeInvalidJobDescription, name, "illegal maximum runtime: %d", desc.MaxTime)
	}
	if len(desc.Options) > 0 {
		keys := make([]string, 0, len(desc.Options))
		for k := range desc.Options {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return model.NewError(model.CodeInvalidJobDescription, name, "unsupported job options: %v", keys)
	}
	if desc.Interactive {
		switch {
		case desc.Stdin != "":
			return model.NewError(model.CodeInvalidJobDescription, name, "illegal stdin redirect for interactive job")
		case desc.Stdout != "":
			return model.NewError(model.CodeInvalidJobDescription, name, "illegal stdout redirect for interactive job")
		case desc.Stderr != "":
			return model.NewError(model.CodeInvalidJobDescription, name, "illegal stderr redirect for interactive job")
		}
	}
	return nil
}

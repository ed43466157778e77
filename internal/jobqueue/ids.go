package jobqueue

import (
	"strconv"
	"sync/atomic"
)

// IDGenerator hands out job identifiers. Identifiers must be unique within
// one JobQueues instance.
type IDGenerator interface {
	Next() string
}

// Sequence generates "<prefix>-1", "<prefix>-2", ...
type Sequence struct {
	prefix string
	n      atomic.Int64
}

// NewSequence creates a Sequence with the given prefix.
func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

func (s *Sequence) Next() string {
	return s.prefix + "-" + strconv.FormatInt(s.n.Add(1), 10)
}

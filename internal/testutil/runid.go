package testutil

import (
	"fmt"
	"sync"
)

// RunIDSequence hands out predetermined run ids in order, so journal
// contents and JSON output are reproducible.
//
// Thread-safety: safe for concurrent use via internal mutex.
type RunIDSequence struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewRunIDSequence returns a generator yielding ids in order. With no ids
// it yields "run-1", "run-2", ...
func NewRunIDSequence(ids ...string) *RunIDSequence {
	return &RunIDSequence{ids: ids}
}

// Generate returns the next id. Panics once a non-empty list is exhausted,
// which means a test started more runs than it planned for.
func (s *RunIDSequence) Generate() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.idx++
	if len(s.ids) == 0 {
		return fmt.Sprintf("run-%d", s.idx)
	}
	if s.idx > len(s.ids) {
		panic("RunIDSequence: all ids exhausted")
	}
	return s.ids[s.idx-1]
}

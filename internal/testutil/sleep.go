package testutil

import (
	"context"
	"sync"
	"time"
)

// SleepRecorder is a no-op sleeper that remembers every requested pause.
type SleepRecorder struct {
	mu     sync.Mutex
	pauses []time.Duration
}

// Sleep records d and returns immediately. Its method value satisfies
// lms.Sleeper.
func (s *SleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauses = append(s.pauses, d)
	return ctx.Err()
}

// Pauses returns the recorded pauses in call order.
func (s *SleepRecorder) Pauses() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.pauses...)
}

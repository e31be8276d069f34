package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Sleep waits for Duration, then succeeds (or fails when Fail is set).
// Cancellation of ctx aborts the wait with the context error.
type Sleep struct {
	Duration time.Duration
	Fail     bool

	rollbacks atomic.Int32
}

func (s *Sleep) Execute(ctx context.Context) error {
	if s.Duration > 0 {
		t := time.NewTimer(s.Duration)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	if s.Fail {
		return fmt.Errorf("sleep %s: %w", s.Duration, ErrForcedFailure)
	}
	return nil
}

// Rollback has nothing to undo.
func (s *Sleep) Rollback(ctx context.Context) error {
	s.rollbacks.Add(1)
	return nil
}

func (s *Sleep) Rollbacks() int { return int(s.rollbacks.Load()) }

package control

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/omnilaser/internal/timeutil"
)

// Scheduler paces the loop on a fixed grid of deadlines. Each deadline is
// the previous deadline plus the period, never "now plus period", so
// compute time does not accumulate as drift. When the loop body overruns
// one or more deadlines the scheduler re-anchors to the latest deadline
// already passed, returns immediately and reports how many were skipped
// instead of running them back to back.
type Scheduler struct {
	clock    timeutil.Clock
	period   time.Duration
	deadline time.Time
}

// NewScheduler returns a Scheduler ticking every period on clock.
func NewScheduler(clock timeutil.Clock, period time.Duration) (*Scheduler, error) {
	if period <= 0 {
		return nil, fmt.Errorf("tick period must be positive, got %v", period)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Scheduler{clock: clock, period: period}, nil
}

// Period returns the tick period.
func (s *Scheduler) Period() time.Duration { return s.period }

// Start anchors the deadline grid at the current time and returns it.
func (s *Scheduler) Start() time.Time {
	s.deadline = s.clock.Now()
	return s.deadline
}

// Deadline returns the deadline of the current tick.
func (s *Scheduler) Deadline() time.Time { return s.deadline }

// Wait blocks until the next deadline. It returns the number of deadlines
// skipped because the previous tick overran, or the context error.
func (s *Scheduler) Wait(ctx context.Context) (int, error) {
	next := s.deadline.Add(s.period)
	now := s.clock.Now()

	if now.Before(next) {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-s.clock.After(next.Sub(now)):
		}
		s.deadline = next
		return 0, nil
	}

	skipped := int(now.Sub(next) / s.period)
	s.deadline = next.Add(time.Duration(skipped) * s.period)
	return skipped, ctx.Err()
}

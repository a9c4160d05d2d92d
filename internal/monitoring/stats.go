package monitoring

import (
	"sync"
	"time"

	"github.com/banshee-data/omnilaser/internal/publish"
)

// TickStatus is the outcome of one control-loop iteration.
type TickStatus string

const (
	// TickOK means a scan was fused (delivery may still have failed).
	TickOK TickStatus = "ok"
	// TickFailed means sensor capture or fusion failed; no scan was produced.
	TickFailed TickStatus = "failed"
)

// TickReport is what the loop hands to observers after every tick.
type TickReport struct {
	Seq      uint64
	Start    time.Time
	Duration time.Duration
	Status   TickStatus
	// Missed counts deadlines skipped before this tick started.
	Missed int
	Laser  publish.Result
	State  publish.Result
	RGBD   publish.Result
	Err    error
	// Distances is the fused scan in millimetres, nil on failure.
	Distances []int32
}

// Observer receives tick reports. Implementations must not block the loop
// for long.
type Observer interface {
	ObserveTick(TickReport)
}

// TickStats aggregates tick reports in memory.
type TickStats struct {
	mu sync.Mutex

	ticks           uint64
	failures        uint64
	publishFailures uint64
	missed          uint64
	last            time.Duration
	max             time.Duration
	total           time.Duration
	lastErr         string
	lastPublishErr  string
	recent          []TickPoint
	recentCap       int
}

// TickPoint is one entry of the recent tick-duration history.
type TickPoint struct {
	Seq      uint64        `json:"seq"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration_ns"`
	Status   TickStatus    `json:"status"`
}

// NewTickStats keeps up to history recent ticks for charts.
func NewTickStats(history int) *TickStats {
	if history <= 0 {
		history = 1
	}
	return &TickStats{recentCap: history}
}

// ObserveTick implements Observer.
func (s *TickStats) ObserveTick(r TickReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticks++
	s.missed += uint64(r.Missed)
	s.last = r.Duration
	s.total += r.Duration
	if r.Duration > s.max {
		s.max = r.Duration
	}
	if r.Status == TickFailed {
		s.failures++
		if r.Err != nil {
			s.lastErr = r.Err.Error()
		}
	}
	for _, res := range []publish.Result{r.Laser, r.State, r.RGBD} {
		if res.Status == publish.StatusTransportFailure {
			s.publishFailures++
			s.lastPublishErr = res.Sink + ": " + res.Reason
		}
	}

	if len(s.recent) == s.recentCap {
		copy(s.recent, s.recent[1:])
		s.recent = s.recent[:len(s.recent)-1]
	}
	s.recent = append(s.recent, TickPoint{Seq: r.Seq, Start: r.Start, Duration: r.Duration, Status: r.Status})
}

// StatsSnapshot is a point-in-time copy of TickStats.
type StatsSnapshot struct {
	Ticks           uint64        `json:"ticks"`
	Failures        uint64        `json:"failures"`
	PublishFailures uint64        `json:"publish_failures"`
	MissedDeadlines uint64        `json:"missed_deadlines"`
	LastDuration    time.Duration `json:"last_duration_ns"`
	MeanDuration    time.Duration `json:"mean_duration_ns"`
	MaxDuration     time.Duration `json:"max_duration_ns"`
	LastError       string        `json:"last_error,omitempty"`
	LastPublishErr  string        `json:"last_publish_error,omitempty"`
}

// Snapshot returns the current counters.
func (s *TickStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := StatsSnapshot{
		Ticks:           s.ticks,
		Failures:        s.failures,
		PublishFailures: s.publishFailures,
		MissedDeadlines: s.missed,
		LastDuration:    s.last,
		MaxDuration:     s.max,
		LastError:       s.lastErr,
		LastPublishErr:  s.lastPublishErr,
	}
	if s.ticks > 0 {
		snap.MeanDuration = s.total / time.Duration(s.ticks)
	}
	return snap
}

// Recent returns the recent tick history, oldest first.
func (s *TickStats) Recent() []TickPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TickPoint, len(s.recent))
	copy(out, s.recent)
	return out
}

package monitoring

import (
	"errors"
	"testing"
	"time"

	"github.com/banshee-data/omnilaser/internal/publish"
	"github.com/stretchr/testify/assert"
)

func TestTickStats(t *testing.T) {
	s := NewTickStats(3)

	s.ObserveTick(TickReport{Seq: 1, Duration: 10 * time.Millisecond, Status: TickOK, Laser: publish.Delivered("laser")})
	s.ObserveTick(TickReport{Seq: 2, Duration: 30 * time.Millisecond, Status: TickFailed, Err: errors.New("capture failed"), Missed: 2})
	s.ObserveTick(TickReport{Seq: 3, Duration: 20 * time.Millisecond, Status: TickOK,
		Laser: publish.Failed("laser", errors.New("queue full"))})

	snap := s.Snapshot()
	assert.Equal(t, uint64(3), snap.Ticks)
	assert.Equal(t, uint64(1), snap.Failures)
	assert.Equal(t, uint64(1), snap.PublishFailures)
	assert.Equal(t, uint64(2), snap.MissedDeadlines)
	assert.Equal(t, 20*time.Millisecond, snap.LastDuration)
	assert.Equal(t, 30*time.Millisecond, snap.MaxDuration)
	assert.Equal(t, 20*time.Millisecond, snap.MeanDuration)
	assert.Equal(t, "capture failed", snap.LastError)
	assert.Equal(t, "laser: queue full", snap.LastPublishErr)
}

func TestTickStats_RecentIsBounded(t *testing.T) {
	s := NewTickStats(2)
	for i := uint64(1); i <= 5; i++ {
		s.ObserveTick(TickReport{Seq: i, Status: TickOK})
	}
	recent := s.Recent()
	if assert.Len(t, recent, 2) {
		assert.Equal(t, uint64(4), recent[0].Seq)
		assert.Equal(t, uint64(5), recent[1].Seq)
	}
}

func TestTickStats_EmptySnapshot(t *testing.T) {
	snap := NewTickStats(0).Snapshot()
	assert.Zero(t, snap.Ticks)
	assert.Zero(t, snap.MeanDuration)
}

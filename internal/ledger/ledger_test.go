package ledger

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestRecordActivity(t *testing.T) {
	l := New(0, 0)

	l.RecordActivity("alice", "j1", "docking", 1500, t0)
	l.RecordActivity("alice", "j2", "docking", 500, t0.Add(time.Minute))

	s, ok := l.Get("alice")
	require.True(t, ok)
	assert.Equal(t, 2, s.JobsSubmitted)
	assert.Equal(t, 0, s.JobsVerified)
	assert.Equal(t, int64(2000), s.ComputeTimeMs)
	assert.Equal(t, 0.0, s.Points)
	assert.Equal(t, t0.Add(time.Minute), s.LastActive)
	assert.Len(t, s.History, 2)
}

func TestRecordVerified_Points(t *testing.T) {
	l := New(60, 10)

	l.RecordActivity("alice", "j1", "docking", 2500, t0)
	award := l.RecordVerified("alice", "j1", "docking", 15, 2500, t0)

	assert.InDelta(t, 37.5, award, 1e-9)
	s, _ := l.Get("alice")
	assert.Equal(t, 1, s.JobsVerified)
	assert.InDelta(t, 37.5, s.Points, 1e-9)
	assert.True(t, s.History[0].Verified)
	assert.InDelta(t, 37.5, s.History[0].Points, 1e-9)
}

func TestPoints_CapsReportedComputeTime(t *testing.T) {
	l := New(60, 10)

	assert.Equal(t, 10.0*60, l.Points(10, 3_600_000))
	assert.Equal(t, 0.0, l.Points(10, -5))
	assert.Equal(t, 10.0, l.Points(10, 1000))
}

func TestHistoryIsBounded(t *testing.T) {
	l := New(0, 3)
	for i := 0; i < 5; i++ {
		l.RecordActivity("alice", fmt.Sprintf("j%d", i), "t", 1, t0)
	}

	s, _ := l.Get("alice")
	require.Len(t, s.History, 3)
	assert.Equal(t, "j2", s.History[0].JobID)
	assert.Equal(t, 5, s.JobsSubmitted)
}

func TestLeaderboard_TieBreak(t *testing.T) {
	l := New(1000, 0)

	// A: 50 points.
	l.RecordVerified("A", "a", "t", 50, 1000, t0)
	// B: 80 points over 10 verified jobs.
	for i := 0; i < 10; i++ {
		l.RecordVerified("B", fmt.Sprint(i), "t", 8, 1000, t0)
	}
	// C: 80 points over 5 verified jobs.
	for i := 0; i < 5; i++ {
		l.RecordVerified("C", fmt.Sprint(i), "t", 16, 1000, t0)
	}

	board := l.Leaderboard(10)
	require.Len(t, board, 3)
	assert.Equal(t, "B", board[0].ContributorID)
	assert.Equal(t, "C", board[1].ContributorID)
	assert.Equal(t, "A", board[2].ContributorID)
	assert.Equal(t, 3, board[2].Rank)

	assert.Len(t, l.Leaderboard(2), 2)
}

func TestLeaderboard_EarlierActivityWinsTie(t *testing.T) {
	l := New(1000, 0)
	l.RecordVerified("late", "j", "t", 10, 1000, t0.Add(time.Hour))
	l.RecordVerified("early", "j", "t", 10, 1000, t0)

	board := l.Leaderboard(0)
	assert.Equal(t, "early", board[0].ContributorID)
}

func TestRank(t *testing.T) {
	l := New(1000, 0)
	l.RecordVerified("a", "j", "t", 10, 1000, t0)
	l.RecordVerified("b", "j", "t", 20, 1000, t0)

	rank, ok := l.Rank("a")
	require.True(t, ok)
	assert.Equal(t, 2, rank)

	_, ok = l.Rank("ghost")
	assert.False(t, ok)

	s, _ := l.Get("b")
	assert.Equal(t, 1, s.Rank)
}

func TestEvictInactive(t *testing.T) {
	l := New(0, 0)
	l.Touch("old", t0)
	l.Touch("fresh", t0.Add(2*time.Hour))

	evicted := l.EvictInactive(t0.Add(time.Hour))

	assert.Equal(t, []string{"old"}, evicted)
	_, ok := l.Get("old")
	assert.False(t, ok)
	assert.Equal(t, 1, l.Len())
}

func TestTotals(t *testing.T) {
	l := New(1000, 0)
	l.RecordActivity("a", "j1", "t", 1000, t0)
	l.RecordActivity("b", "j1", "t", 3000, t0)
	l.RecordVerified("a", "j1", "t", 2, 1000, t0)

	totals := l.Totals()
	assert.Equal(t, 2, totals.Contributors)
	assert.Equal(t, int64(4000), totals.ComputeTimeMs)
	assert.Equal(t, 2.0, totals.Points)
}

func TestConcurrentActivity(t *testing.T) {
	l := New(0, 0)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.RecordActivity("alice", "j", "t", 10, t0)
		}()
	}
	wg.Wait()

	s, _ := l.Get("alice")
	assert.Equal(t, 100, s.JobsSubmitted)
	assert.Equal(t, int64(1000), s.ComputeTimeMs)
}

func TestEvictInactive_FlagsDroppedRecord(t *testing.T) {
	l := New(0, 0)
	l.Touch("old", t0)
	stale, ok := l.lookup("old")
	require.True(t, ok)

	l.EvictInactive(t0.Add(time.Hour))
	assert.True(t, stale.evicted)

	l.RecordVerified("old", "j1", "t", 10, 2000, t0.Add(2*time.Hour))
	live, ok := l.lookup("old")
	require.True(t, ok)
	assert.NotSame(t, stale, live)
	s, _ := l.Get("old")
	assert.Equal(t, 20.0, s.Points)
	assert.Zero(t, stale.points, "evicted record must not be written")
}

// A submission racing the sweep either lands before it, refreshing the
// activity time so the record survives, or after it on a fresh record.
func TestActivityRacingEviction(t *testing.T) {
	l := New(0, 0)
	cutoff := t0.Add(time.Hour)

	for i := 0; i < 2000; i++ {
		id := fmt.Sprintf("c%d", i)
		l.Touch(id, t0)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			l.EvictInactive(cutoff)
		}()
		go func() {
			defer wg.Done()
			l.RecordActivity(id, "j", "t", 1000, cutoff.Add(time.Minute))
		}()
		wg.Wait()

		s, ok := l.Get(id)
		require.True(t, ok, "activity on %s was lost to eviction", id)
		require.Equal(t, 1, s.JobsSubmitted)
	}
}

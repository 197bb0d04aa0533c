// Package ledger keeps per-contributor statistics and contribution points.
package ledger

import (
	"sort"
	"sync"
	"time"
)

const (
	DefaultPointsCap   = 3600.0
	DefaultHistorySize = 50
)

type Submission struct {
	JobID         string    `json:"job_id"`
	JobType       string    `json:"job_type"`
	ComputeTimeMs int64     `json:"compute_time_ms"`
	Verified      bool      `json:"verified"`
	Points        float64   `json:"points"`
	At            time.Time `json:"at"`
}

type Contributor struct {
	mu      sync.Mutex
	evicted bool

	id            string
	jobsSubmitted int
	jobsVerified  int
	computeTimeMs int64
	points        float64
	firstSeen     time.Time
	lastActive    time.Time
	history       []Submission
}

// Summary is a point-in-time copy of a contributor record.
type Summary struct {
	ID            string       `json:"id"`
	JobsSubmitted int          `json:"jobs_submitted"`
	JobsVerified  int          `json:"jobs_verified"`
	ComputeTimeMs int64        `json:"compute_time_ms"`
	Points        float64      `json:"points"`
	FirstSeen     time.Time    `json:"first_seen"`
	LastActive    time.Time    `json:"last_active"`
	Rank          int          `json:"rank,omitempty"`
	History       []Submission `json:"history,omitempty"`
}

type LeaderboardEntry struct {
	Rank          int       `json:"rank"`
	ContributorID string    `json:"contributor_id"`
	Points        float64   `json:"points"`
	JobsVerified  int       `json:"jobs_verified"`
	JobsSubmitted int       `json:"jobs_submitted"`
	LastActive    time.Time `json:"last_active"`
}

type Totals struct {
	Contributors  int
	ComputeTimeMs int64
	Points        float64
}

type Ledger struct {
	mu           sync.RWMutex
	contributors map[string]*Contributor

	pointsCap   float64
	historySize int
}

func New(pointsCap float64, historySize int) *Ledger {
	if pointsCap <= 0 {
		pointsCap = DefaultPointsCap
	}
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Ledger{
		contributors: make(map[string]*Contributor),
		pointsCap:    pointsCap,
		historySize:  historySize,
	}
}

func (l *Ledger) lookup(id string) (*Contributor, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.contributors[id]
	return c, ok
}

func (l *Ledger) getOrCreate(id string, at time.Time) *Contributor {
	if c, ok := l.lookup(id); ok {
		return c
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.contributors[id]; ok {
		return c
	}
	c := &Contributor{id: id, firstSeen: at, lastActive: at}
	l.contributors[id] = c
	return c
}

// acquire returns the live record for id with its lock held. A record
// evicted between lookup and locking is no longer in the map, so the lookup
// is repeated and creates a fresh one.
func (l *Ledger) acquire(id string, at time.Time) *Contributor {
	for {
		c := l.getOrCreate(id, at)
		c.mu.Lock()
		if !c.evicted {
			return c
		}
		c.mu.Unlock()
	}
}

// Touch creates the record on first contact and refreshes its activity time.
func (l *Ledger) Touch(id string, at time.Time) {
	c := l.acquire(id, at)
	if at.After(c.lastActive) {
		c.lastActive = at
	}
	c.mu.Unlock()
}

// RecordActivity counts a submission whether or not it is ever verified.
func (l *Ledger) RecordActivity(id, jobID, jobType string, computeTimeMs int64, at time.Time) {
	c := l.acquire(id, at)
	defer c.mu.Unlock()

	c.jobsSubmitted++
	c.computeTimeMs += computeTimeMs
	if at.After(c.lastActive) {
		c.lastActive = at
	}
	c.history = append(c.history, Submission{
		JobID:         jobID,
		JobType:       jobType,
		ComputeTimeMs: computeTimeMs,
		At:            at,
	})
	if over := len(c.history) - l.historySize; over > 0 {
		c.history = append(c.history[:0:0], c.history[over:]...)
	}
}

// Points is the award for one verified replica. Reported compute time is
// capped so a contributor can not inflate it.
func (l *Ledger) Points(basePoints float64, computeTimeMs int64) float64 {
	seconds := float64(computeTimeMs) / 1000
	if seconds < 0 {
		seconds = 0
	}
	if seconds > l.pointsCap {
		seconds = l.pointsCap
	}
	return basePoints * seconds
}

// RecordVerified credits a contributor whose replica was part of a verified
// job and returns the points awarded.
func (l *Ledger) RecordVerified(id, jobID, jobType string, basePoints float64, computeTimeMs int64, at time.Time) float64 {
	award := l.Points(basePoints, computeTimeMs)

	c := l.acquire(id, at)
	defer c.mu.Unlock()

	c.jobsVerified++
	c.points += award
	for i := len(c.history) - 1; i >= 0; i-- {
		if c.history[i].JobID == jobID {
			c.history[i].Verified = true
			c.history[i].Points = award
			break
		}
	}
	return award
}

func (c *Contributor) summary(withHistory bool) Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Summary{
		ID:            c.id,
		JobsSubmitted: c.jobsSubmitted,
		JobsVerified:  c.jobsVerified,
		ComputeTimeMs: c.computeTimeMs,
		Points:        c.points,
		FirstSeen:     c.firstSeen,
		LastActive:    c.lastActive,
	}
	if withHistory {
		s.History = append([]Submission(nil), c.history...)
	}
	return s
}

func (l *Ledger) snapshot() []Summary {
	l.mu.RLock()
	all := make([]*Contributor, 0, len(l.contributors))
	for _, c := range l.contributors {
		all = append(all, c)
	}
	l.mu.RUnlock()

	out := make([]Summary, 0, len(all))
	for _, c := range all {
		out = append(out, c.summary(false))
	}
	return out
}

// ranked orders by points, then verified jobs, then the longest-standing
// last activity; the id keeps the order total.
func ranked(all []Summary) []Summary {
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.Points != b.Points {
			return a.Points > b.Points
		}
		if a.JobsVerified != b.JobsVerified {
			return a.JobsVerified > b.JobsVerified
		}
		if !a.LastActive.Equal(b.LastActive) {
			return a.LastActive.Before(b.LastActive)
		}
		return a.ID < b.ID
	})
	return all
}

func (l *Ledger) Leaderboard(limit int) []LeaderboardEntry {
	all := ranked(l.snapshot())
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	out := make([]LeaderboardEntry, len(all))
	for i, s := range all {
		out[i] = LeaderboardEntry{
			Rank:          i + 1,
			ContributorID: s.ID,
			Points:        s.Points,
			JobsVerified:  s.JobsVerified,
			JobsSubmitted: s.JobsSubmitted,
			LastActive:    s.LastActive,
		}
	}
	return out
}

// Rank is the 1-indexed leaderboard position.
func (l *Ledger) Rank(id string) (int, bool) {
	if _, ok := l.lookup(id); !ok {
		return 0, false
	}
	for i, s := range ranked(l.snapshot()) {
		if s.ID == id {
			return i + 1, true
		}
	}
	return 0, false
}

func (l *Ledger) Get(id string) (Summary, bool) {
	c, ok := l.lookup(id)
	if !ok {
		return Summary{}, false
	}
	s := c.summary(true)
	if rank, ok := l.Rank(id); ok {
		s.Rank = rank
	}
	return s, true
}

// EvictInactive drops contributors whose last activity is before cutoff.
func (l *Ledger) EvictInactive(cutoff time.Time) []string {
	var stale []string
	for _, s := range l.snapshot() {
		if s.LastActive.Before(cutoff) {
			stale = append(stale, s.ID)
		}
	}

	var evicted []string
	for _, id := range stale {
		l.mu.Lock()
		c, ok := l.contributors[id]
		if ok {
			c.mu.Lock()
			if c.lastActive.Before(cutoff) {
				c.evicted = true
				delete(l.contributors, id)
				evicted = append(evicted, id)
			}
			c.mu.Unlock()
		}
		l.mu.Unlock()
	}
	return evicted
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.contributors)
}

func (l *Ledger) Totals() Totals {
	var t Totals
	for _, s := range l.snapshot() {
		t.Contributors++
		t.ComputeTimeMs += s.ComputeTimeMs
		t.Points += s.Points
	}
	return t
}

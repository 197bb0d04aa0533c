// Package coordinator hands replicated jobs to contributors, collects their
// results and runs consensus once a job holds enough replicas.
//
// Every operation on a single job runs under that job's lock in the job
// store, so slot accounting and the verification trigger can not race.
// Operations on different jobs never wait on each other.
package coordinator

import (
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zerverless/coordinator/internal/catalog"
	"github.com/zerverless/coordinator/internal/consensus"
	"github.com/zerverless/coordinator/internal/events"
	"github.com/zerverless/coordinator/internal/job"
	"github.com/zerverless/coordinator/internal/ledger"
	"github.com/zerverless/coordinator/internal/metrics"
	"github.com/zerverless/coordinator/internal/volunteer"
)

type Options struct {
	Replication          int
	MaxReplicasAttempted int
	PairThreshold        float64
	JobThreshold         float64
	PointsCap            float64
	HistorySize          int
	JobRetention         time.Duration
	ContributorRetention time.Duration
	AbandonAfter         time.Duration
	DefaultListLimit     int
	TargetPending        int
}

func DefaultOptions() Options {
	return Options{
		Replication:          3,
		MaxReplicasAttempted: 5,
		PairThreshold:        consensus.DefaultPairThreshold,
		JobThreshold:         consensus.DefaultJobThreshold,
		PointsCap:            ledger.DefaultPointsCap,
		HistorySize:          ledger.DefaultHistorySize,
		JobRetention:         24 * time.Hour,
		ContributorRetention: 24 * time.Hour,
		AbandonAfter:         7 * 24 * time.Hour,
		DefaultListLimit:     10,
	}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.Replication <= 0 {
		o.Replication = d.Replication
	}
	if o.MaxReplicasAttempted < o.Replication {
		o.MaxReplicasAttempted = o.Replication
	}
	if o.PairThreshold <= 0 {
		o.PairThreshold = d.PairThreshold
	}
	if o.JobThreshold <= 0 {
		o.JobThreshold = d.JobThreshold
	}
	if o.JobRetention <= 0 {
		o.JobRetention = d.JobRetention
	}
	if o.ContributorRetention <= 0 {
		o.ContributorRetention = o.JobRetention
	}
	if o.AbandonAfter <= 0 {
		o.AbandonAfter = d.AbandonAfter
	}
	if o.DefaultListLimit <= 0 {
		o.DefaultListLimit = d.DefaultListLimit
	}
	return o
}

type SubmitOutcome struct {
	Accepted            bool       `json:"accepted"`
	VerificationPending bool       `json:"verification_pending"`
	Status              job.Status `json:"status"`
}

type Statistics struct {
	TotalVerifiedJobs       int     `json:"total_verified_jobs"`
	TotalFailedJobs         int     `json:"total_failed_jobs"`
	TotalComputeTimeMs      int64   `json:"total_compute_time_ms"`
	TotalContributors       int     `json:"total_contributors"`
	TotalPointsHeld         float64 `json:"total_points_held"`
	AverageVerificationRate float64 `json:"average_verification_rate"`
	ActiveJobCount          int     `json:"active_job_count"`
	PendingJobs             int     `json:"pending_jobs"`
	AssignedJobs            int     `json:"assigned_jobs"`
}

type Coordinator struct {
	opts     Options
	catalog  *catalog.Catalog
	factory  *job.Factory
	store    *job.Store
	ledger   *ledger.Ledger
	verifier *consensus.Verifier
	bus      *events.Bus
	now      func() time.Time

	statsMu        sync.Mutex
	verifiedTotal  int
	failedTotal    int
	computeTotalMs int64
	rounds         int
	rateSum        float64

	rrMu   sync.Mutex
	rrNext int
}

func New(c *catalog.Catalog, opts Options, bus *events.Bus) *Coordinator {
	opts = opts.normalized()
	if bus == nil {
		bus = events.NewBus(0)
	}
	return &Coordinator{
		opts:     opts,
		catalog:  c,
		factory:  job.NewFactory(c, opts.Replication),
		store:    job.NewStore(),
		ledger:   ledger.New(opts.PointsCap, opts.HistorySize),
		verifier: consensus.NewVerifier(opts.PairThreshold, opts.JobThreshold),
		bus:      bus,
		now:      time.Now,
	}
}

// WithClock replaces the time source, for tests and replay.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	c.factory.WithClock(now)
	return c
}

func (c *Coordinator) Options() Options { return c.opts }

func (c *Coordinator) Catalog() *catalog.Catalog { return c.catalog }

func (c *Coordinator) Ledger() *ledger.Ledger { return c.ledger }

// GenerateJob creates a job from the catalog and stores it as pending.
func (c *Coordinator) GenerateJob(jobTypeID string, priority job.Priority) (*job.Job, error) {
	j, err := c.factory.Generate(jobTypeID, priority)
	if err != nil {
		return nil, err
	}
	if err := c.store.Add(j); err != nil {
		return nil, err
	}
	metrics.JobsGeneratedTotal.WithLabelValues(j.JobType).Inc()
	log.WithFields(log.Fields{"job": j.ID, "job_type": j.JobType, "priority": j.Priority}).Debug("Job generated")
	snap := j.Clone()
	c.bus.Publish(events.Event{Kind: events.KindGenerated, Job: snap, At: c.now().UTC()})
	return snap, nil
}

func (c *Coordinator) GetJob(id string) (*job.Job, error) {
	return c.store.Get(id)
}

// ListAvailableJobs returns jobs the contributor could be assigned right now,
// high priority first and oldest first within a class. It has no side effects.
func (c *Coordinator) ListAvailableJobs(contributorID string, caps volunteer.Capabilities, limit int) []job.Summary {
	return c.ListRunnableJobs(contributorID, caps, limit, nil)
}

// ListRunnableJobs is ListAvailableJobs with an extra job-type filter applied
// before the limit. A nil keep accepts every type.
func (c *Coordinator) ListRunnableJobs(contributorID string, caps volunteer.Capabilities, limit int, keep func(catalog.JobType) bool) []job.Summary {
	if limit <= 0 {
		limit = c.opts.DefaultListLimit
	}

	var out []job.Summary
	c.store.Each(func(j *job.Job) {
		if j.OpenSlots() <= 0 || j.IsAssigned(contributorID) {
			return
		}
		jt, ok := c.catalog.Get(j.JobType)
		if !ok || !caps.Satisfies(jt.Requirements) {
			return
		}
		if keep != nil && !keep(jt) {
			return
		}
		out = append(out, j.Summary())
	})

	sort.SliceStable(out, func(a, b int) bool {
		if ra, rb := out[a].Priority.Rank(), out[b].Priority.Rank(); ra != rb {
			return ra < rb
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// AssignJob gives the contributor one replica slot on the job.
func (c *Coordinator) AssignJob(jobID, contributorID string, caps volunteer.Capabilities) (*job.Job, error) {
	var snap *job.Job
	err := c.store.With(jobID, func(j *job.Job) error {
		if j.Status.Terminal() {
			return fmt.Errorf("%w: job %s is %s", job.ErrJobNotAvailable, j.ID, j.Status)
		}
		jt, ok := c.catalog.Get(j.JobType)
		if !ok {
			return fmt.Errorf("%w: %s", job.ErrInvalidJobType, j.JobType)
		}
		if !caps.Satisfies(jt.Requirements) {
			return fmt.Errorf("%w: job %s needs %+v", job.ErrCapabilityMismatch, j.ID, jt.Requirements)
		}
		if err := j.Assign(contributorID, c.now()); err != nil {
			return err
		}
		snap = j.Clone()
		return nil
	})
	if err != nil {
		metrics.RejectedRequestsTotal.WithLabelValues("assign", reason(err)).Inc()
		return nil, err
	}

	c.ledger.Touch(contributorID, c.now().UTC())
	metrics.AssignmentsTotal.WithLabelValues(snap.JobType).Inc()
	log.WithFields(log.Fields{"job": jobID, "contributor": contributorID}).Debug("Job assigned")
	return snap, nil
}

// SubmitResult records a replica result. Activity counters move on every
// accepted submission; points only move when the job verifies.
func (c *Coordinator) SubmitResult(jobID, contributorID string, payload map[string]float64, computeTimeMs int64) (SubmitOutcome, error) {
	if computeTimeMs < 0 {
		computeTimeMs = 0
	}
	now := c.now().UTC()

	var (
		outcome SubmitOutcome
		ev      *events.Event
		jobType string
	)
	err := c.store.With(jobID, func(j *job.Job) error {
		ready, err := j.AddResult(job.Result{
			ContributorID: contributorID,
			Payload:       copyPayload(payload),
			ComputeTimeMs: computeTimeMs,
			SubmittedAt:   now,
		})
		if err != nil {
			return err
		}
		jobType = j.JobType
		c.ledger.RecordActivity(contributorID, j.ID, j.JobType, computeTimeMs, now)

		outcome.Accepted = true
		if ready {
			ev = c.evaluate(j, now)
		}
		outcome.Status = j.Status
		outcome.VerificationPending = !j.Status.Terminal()
		return nil
	})
	if err != nil {
		metrics.RejectedRequestsTotal.WithLabelValues("submit", reason(err)).Inc()
		return SubmitOutcome{}, err
	}

	metrics.ResultsSubmittedTotal.WithLabelValues(jobType).Inc()
	metrics.ReportedComputeSeconds.WithLabelValues(jobType).Observe(float64(computeTimeMs) / 1000)

	c.statsMu.Lock()
	c.computeTotalMs += computeTimeMs
	c.statsMu.Unlock()

	if ev != nil {
		c.record(*ev)
		c.bus.Publish(*ev)
	}
	return outcome, nil
}

// evaluate runs consensus over the job's results. The caller holds the job
// lock, which makes this the single verification trigger for the round.
func (c *Coordinator) evaluate(j *job.Job, now time.Time) *events.Event {
	d := c.verifier.Evaluate(j.Envelope, j.Results)
	ev := &events.Event{Rate: d.Rate, At: now}

	switch {
	case d.Verdict == consensus.VerdictAccept:
		j.MarkVerified(d.Rate, now)
		jt, _ := c.catalog.Get(j.JobType)
		ev.Kind = events.KindVerified
		ev.Awards = make(map[string]float64, len(j.Results))
		for _, r := range j.Results {
			award := c.ledger.RecordVerified(r.ContributorID, j.ID, j.JobType, jt.BasePoints, r.ComputeTimeMs, now)
			ev.Awards[r.ContributorID] = award
			metrics.PointsAwardedTotal.WithLabelValues(j.JobType).Add(award)
		}
	case j.Replicas < c.opts.MaxReplicasAttempted:
		j.Reopen(d.Rate)
		ev.Kind = events.KindReopened
	default:
		j.MarkFailed(d.Rate, now)
		ev.Kind = events.KindFailed
	}

	ev.Job = j.Clone()
	return ev
}

func (c *Coordinator) record(ev events.Event) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.rounds++
	c.rateSum += ev.Rate
	outcome := "reopened"
	switch ev.Kind {
	case events.KindVerified:
		c.verifiedTotal++
		outcome = "verified"
	case events.KindFailed:
		c.failedTotal++
		outcome = "failed"
	}
	metrics.VerificationsTotal.WithLabelValues(ev.Job.JobType, outcome).Inc()
	metrics.VerificationRate.WithLabelValues(ev.Job.JobType).Observe(ev.Rate)
}

func (c *Coordinator) GetContribution(contributorID string) (ledger.Summary, bool) {
	return c.ledger.Get(contributorID)
}

func (c *Coordinator) GetLeaderboard(limit int) []ledger.LeaderboardEntry {
	return c.ledger.Leaderboard(limit)
}

func (c *Coordinator) GetStatistics() Statistics {
	counts := c.store.Counts()
	totals := c.ledger.Totals()

	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	s := Statistics{
		TotalVerifiedJobs:  c.verifiedTotal,
		TotalFailedJobs:    c.failedTotal,
		TotalComputeTimeMs: c.computeTotalMs,
		TotalContributors:  totals.Contributors,
		TotalPointsHeld:    totals.Points,
		ActiveJobCount:     c.store.Len(),
		PendingJobs:        counts[job.StatusPending],
		AssignedJobs:       counts[job.StatusAssigned],
	}
	if c.rounds > 0 {
		s.AverageVerificationRate = c.rateSum / float64(c.rounds)
	}
	return s
}

func copyPayload(p map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

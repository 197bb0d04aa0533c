package coordinator

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zerverless/coordinator/internal/job"
	"github.com/zerverless/coordinator/internal/metrics"
)

type SweepReport struct {
	JobsEvicted         int `json:"jobs_evicted"`
	JobsAbandoned       int `json:"jobs_abandoned"`
	ContributorsEvicted int `json:"contributors_evicted"`
}

// Sweep evicts terminal jobs older than the job retention window and
// contributors idle longer than the contributor retention window. It works
// from a snapshot of job ids and decides each eviction under the job's lock.
//
// Slots are never retracted early: a job whose contributors stopped
// submitting stays where it is until it has seen no activity for
// AbandonAfter, and is then dropped without credit.
func (c *Coordinator) Sweep(now time.Time) SweepReport {
	var report SweepReport

	jobCutoff := now.Add(-c.opts.JobRetention)
	abandonCutoff := now.Add(-c.opts.AbandonAfter)
	for _, id := range c.store.IDs() {
		abandoned := false
		removed, err := c.store.RemoveIf(id, func(j *job.Job) bool {
			if j.FinishedAt != nil {
				return j.FinishedAt.Before(jobCutoff)
			}
			abandoned = j.UpdatedAt.Before(abandonCutoff)
			return abandoned
		})
		if err != nil || !removed {
			continue
		}
		if abandoned {
			report.JobsAbandoned++
			log.WithField("job", id).Warn("Dropping job that never reached quorum")
		} else {
			report.JobsEvicted++
		}
	}

	evicted := c.ledger.EvictInactive(now.Add(-c.opts.ContributorRetention))
	report.ContributorsEvicted = len(evicted)

	metrics.EvictionsTotal.WithLabelValues("job").Add(float64(report.JobsEvicted))
	metrics.EvictionsTotal.WithLabelValues("abandoned_job").Add(float64(report.JobsAbandoned))
	metrics.EvictionsTotal.WithLabelValues("contributor").Add(float64(report.ContributorsEvicted))
	c.refreshGauges()

	if report.JobsEvicted > 0 || report.JobsAbandoned > 0 || report.ContributorsEvicted > 0 {
		log.WithFields(log.Fields{
			"jobs":         report.JobsEvicted,
			"abandoned":    report.JobsAbandoned,
			"contributors": report.ContributorsEvicted,
		}).Info("Retention sweep evicted records")
	}
	return report
}

// Replenish tops pending work up to the configured target, cycling through
// the catalog's job types.
func (c *Coordinator) Replenish() int {
	if c.opts.TargetPending <= 0 {
		return 0
	}
	missing := c.opts.TargetPending - c.store.Counts()[job.StatusPending]
	ids := c.catalog.IDs()

	created := 0
	for i := 0; i < missing; i++ {
		c.rrMu.Lock()
		typeID := ids[c.rrNext%len(ids)]
		c.rrNext++
		c.rrMu.Unlock()

		if _, err := c.GenerateJob(typeID, job.PriorityNormal); err != nil {
			log.WithError(err).WithField("job_type", typeID).Error("Failed to generate job")
			continue
		}
		created++
	}
	if created > 0 {
		log.WithField("created", created).Debug("Replenished pending jobs")
	}
	return created
}

// DefaultSweepInterval is used when the configured interval is not positive.
const DefaultSweepInterval = 5 * time.Minute

// RunHousekeeper sweeps and replenishes on every tick until ctx is done.
func (c *Coordinator) RunHousekeeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	c.Replenish()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(c.now())
			c.Replenish()
		}
	}
}

func (c *Coordinator) refreshGauges() {
	counts := c.store.Counts()
	for _, s := range []job.Status{job.StatusPending, job.StatusAssigned, job.StatusVerified, job.StatusFailed} {
		metrics.Jobs.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
	metrics.Contributors.Set(float64(c.ledger.Len()))
}

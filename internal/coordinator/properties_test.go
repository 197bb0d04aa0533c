package coordinator

import (
	"errors"
	"testing"

	"pgregory.net/rapid"

	"github.com/zerverless/coordinator/internal/job"
)

// Random interleavings of assignments and submissions across a handful of
// jobs must never overfill a job, accept a result from an unassigned
// contributor, or pay points for a job that did not verify.
func TestProperty_SlotsAndCredit(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		opts := defaultTestOptions()
		opts.Replication = rapid.IntRange(1, 4).Draw(rt, "replication")
		opts.MaxReplicasAttempted = opts.Replication + rapid.IntRange(0, 2).Draw(rt, "extra")
		c, _ := newTestCoordinator(t, opts)

		var ids []string
		for i := 0; i < 3; i++ {
			j, err := c.GenerateJob("plasticity", job.PriorityNormal)
			if err != nil {
				rt.Fatalf("generate: %v", err)
			}
			ids = append(ids, j.ID)
		}
		contributors := []string{"a", "b", "c", "d", "e", "f"}
		assigned := map[string]map[string]bool{}

		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for s := 0; s < steps; s++ {
			jobID := rapid.SampledFrom(ids).Draw(rt, "job")
			who := rapid.SampledFrom(contributors).Draw(rt, "who")

			if rapid.Bool().Draw(rt, "assign") {
				if _, err := c.AssignJob(jobID, who, cpu); err == nil {
					if assigned[jobID] == nil {
						assigned[jobID] = map[string]bool{}
					}
					assigned[jobID][who] = true
				}
				continue
			}

			value := rapid.Float64Range(0, 1).Draw(rt, "value")
			_, err := c.SubmitResult(jobID, who, map[string]float64{"strength_change": value}, 1000)
			if !assigned[jobID][who] && !errors.Is(err, job.ErrContributorNotAssigned) {
				rt.Fatalf("submission from unassigned %s on %s: %v", who, jobID, err)
			}
		}

		verifiedJobs := map[string]int{}
		for _, id := range ids {
			j, err := c.GetJob(id)
			if err != nil {
				rt.Fatalf("get: %v", err)
			}
			if len(j.AssignedTo) > j.Replicas {
				rt.Fatalf("job %s holds %d contributors for %d replicas", id, len(j.AssignedTo), j.Replicas)
			}
			if j.Replicas > opts.MaxReplicasAttempted {
				rt.Fatalf("job %s grew to %d replicas", id, j.Replicas)
			}
			seen := map[string]bool{}
			for _, r := range j.Results {
				if !j.IsAssigned(r.ContributorID) || seen[r.ContributorID] {
					rt.Fatalf("bad result from %s on %s", r.ContributorID, id)
				}
				seen[r.ContributorID] = true
				if r.Verified != (j.Status == job.StatusVerified) {
					rt.Fatalf("result verified flag %v on %s job", r.Verified, j.Status)
				}
				if j.Status == job.StatusVerified {
					verifiedJobs[r.ContributorID]++
				}
			}
		}

		for _, who := range contributors {
			s, ok := c.GetContribution(who)
			if !ok {
				continue
			}
			if s.JobsVerified != verifiedJobs[who] {
				rt.Fatalf("%s: ledger says %d verified jobs, jobs say %d", who, s.JobsVerified, verifiedJobs[who])
			}
			want := float64(verifiedJobs[who]) * 10
			if s.Points != want {
				rt.Fatalf("%s: %v points, want %v", who, s.Points, want)
			}
		}
	})
}

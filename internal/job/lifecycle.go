package job

import (
	"fmt"
	"time"
)

// The methods below are the only place job status changes. Callers hold the
// job's lock (see Store.With).

// Assign hands the contributor one replica slot.
func (j *Job) Assign(contributorID string, at time.Time) error {
	if j.Status.Terminal() {
		return fmt.Errorf("%w: job %s is %s", ErrJobNotAvailable, j.ID, j.Status)
	}
	if j.IsAssigned(contributorID) {
		return fmt.Errorf("%w: %s already holds a slot on %s", ErrJobNotAvailable, contributorID, j.ID)
	}
	if len(j.AssignedTo) >= j.Replicas {
		return fmt.Errorf("%w: job %s has no open slots", ErrJobNotAvailable, j.ID)
	}
	j.AssignedTo = append(j.AssignedTo, contributorID)
	j.UpdatedAt = at.UTC()
	if j.Status == StatusPending {
		j.Status = StatusAssigned
	}
	return nil
}

// AddResult appends a replica result and reports whether the job now holds
// enough replicas to be evaluated.
func (j *Job) AddResult(r Result) (bool, error) {
	if j.Status.Terminal() {
		return false, fmt.Errorf("%w: job %s is %s", ErrJobNotAvailable, j.ID, j.Status)
	}
	if !j.IsAssigned(r.ContributorID) {
		return false, fmt.Errorf("%w: %s on job %s", ErrContributorNotAssigned, r.ContributorID, j.ID)
	}
	if j.HasResultFrom(r.ContributorID) {
		return false, fmt.Errorf("%w: %s on job %s", ErrDuplicateSubmission, r.ContributorID, j.ID)
	}
	r.JobID = j.ID
	r.Verified = false
	j.Results = append(j.Results, r)
	j.UpdatedAt = r.SubmittedAt.UTC()
	return len(j.Results) == j.Replicas, nil
}

func (j *Job) MarkVerified(rate float64, at time.Time) {
	j.Rounds++
	j.VerificationRate = rate
	for i := range j.Results {
		j.Results[i].Verified = true
	}
	j.finish(StatusVerified, at)
}

func (j *Job) MarkFailed(rate float64, at time.Time) {
	j.Rounds++
	j.VerificationRate = rate
	j.finish(StatusFailed, at)
}

// Reopen admits one more replica after a round that missed the threshold.
// Contributors from earlier rounds keep their slots, so they can not fill
// the new one.
func (j *Job) Reopen(rate float64) {
	j.Rounds++
	j.VerificationRate = rate
	j.Replicas++
	j.Status = StatusPending
}

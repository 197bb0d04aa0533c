// Package archive stores settled jobs outside the coordinator's working set.
// Sinks are write-mostly; the coordinator never reads them back.
package archive

import (
	"time"

	"github.com/zerverless/coordinator/internal/events"
	"github.com/zerverless/coordinator/internal/job"
)

// Record is the archived form of a settled job.
type Record struct {
	JobID            string             `json:"job_id"`
	JobType          string             `json:"job_type"`
	Status           job.Status         `json:"status"`
	VerificationRate float64            `json:"verification_rate"`
	Rounds           int                `json:"rounds"`
	Parameters       map[string]float64 `json:"parameters"`
	Results          []job.Result       `json:"results"`
	Awards           map[string]float64 `json:"awards,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	FinishedAt       time.Time          `json:"finished_at"`
}

// FromEvent converts terminal job events into records. Other kinds are not
// archived.
func FromEvent(ev events.Event) (Record, bool) {
	if ev.Kind != events.KindVerified && ev.Kind != events.KindFailed {
		return Record{}, false
	}
	j := ev.Job
	rec := Record{
		JobID:            j.ID,
		JobType:          j.JobType,
		Status:           j.Status,
		VerificationRate: ev.Rate,
		Rounds:           j.Rounds,
		Parameters:       j.Parameters,
		Results:          j.Results,
		Awards:           ev.Awards,
		CreatedAt:        j.CreatedAt,
		FinishedAt:       ev.At,
	}
	if j.FinishedAt != nil {
		rec.FinishedAt = *j.FinishedAt
	}
	return rec, true
}

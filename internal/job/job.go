package job

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusAssigned Status = "assigned"
	StatusVerified Status = "verified"
	StatusFailed   Status = "failed"
)

// Terminal reports whether no further assignment or submission is accepted.
func (s Status) Terminal() bool {
	return s == StatusVerified || s == StatusFailed
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func ParsePriority(s string) Priority {
	switch Priority(s) {
	case PriorityHigh, PriorityLow:
		return Priority(s)
	default:
		return PriorityNormal
	}
}

// Rank orders priority classes; lower runs first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// FieldRange is the expected range and agreement tolerance of one result field.
type FieldRange struct {
	Name      string  `json:"name"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Tolerance float64 `json:"tolerance"`
}

// Envelope is consumed by the verifier's similarity function; it never
// rejects a result on its own.
type Envelope []FieldRange

type Result struct {
	JobID         string             `json:"job_id"`
	ContributorID string             `json:"contributor_id"`
	Payload       map[string]float64 `json:"payload"`
	ComputeTimeMs int64              `json:"compute_time_ms"`
	SubmittedAt   time.Time          `json:"submitted_at"`
	Verified      bool               `json:"verified"`
}

type Job struct {
	ID               string             `json:"id"`
	JobType          string             `json:"job_type"`
	Priority         Priority           `json:"priority"`
	Status           Status             `json:"status"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
	FinishedAt       *time.Time         `json:"finished_at,omitempty"`
	Replicas         int                `json:"replicas"`
	AssignedTo       []string           `json:"assigned_to"`
	Results          []Result           `json:"results"`
	Parameters       map[string]float64 `json:"parameters"`
	Envelope         Envelope           `json:"envelope"`
	Rounds           int                `json:"rounds"`
	VerificationRate float64            `json:"verification_rate"`
}

func New(jobType string, priority Priority, replicas int, params map[string]float64, env Envelope, now time.Time) *Job {
	return &Job{
		ID:         uuid.NewString(),
		JobType:    jobType,
		Priority:   priority,
		Status:     StatusPending,
		CreatedAt:  now.UTC(),
		UpdatedAt:  now.UTC(),
		Replicas:   replicas,
		AssignedTo: make([]string, 0, replicas),
		Parameters: params,
		Envelope:   env,
	}
}

func (j *Job) IsAssigned(contributorID string) bool {
	return slices.Contains(j.AssignedTo, contributorID)
}

func (j *Job) HasResultFrom(contributorID string) bool {
	for _, r := range j.Results {
		if r.ContributorID == contributorID {
			return true
		}
	}
	return false
}

// OpenSlots is the number of contributors that can still be assigned.
func (j *Job) OpenSlots() int {
	if j.Status.Terminal() {
		return 0
	}
	return j.Replicas - len(j.AssignedTo)
}

func (j *Job) finish(status Status, at time.Time) {
	j.Status = status
	t := at.UTC()
	j.FinishedAt = &t
	j.UpdatedAt = t
}

// Clone returns a deep copy that is safe to hand out after the job lock is
// released.
func (j *Job) Clone() *Job {
	c := *j
	c.AssignedTo = slices.Clone(j.AssignedTo)
	c.Results = make([]Result, len(j.Results))
	for i, r := range j.Results {
		r.Payload = cloneFloats(r.Payload)
		c.Results[i] = r
	}
	c.Parameters = cloneFloats(j.Parameters)
	c.Envelope = slices.Clone(j.Envelope)
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// Summary is the listing view handed to contributors looking for work.
type Summary struct {
	ID         string             `json:"id"`
	JobType    string             `json:"job_type"`
	Priority   Priority           `json:"priority"`
	Status     Status             `json:"status"`
	CreatedAt  time.Time          `json:"created_at"`
	OpenSlots  int                `json:"open_slots"`
	Parameters map[string]float64 `json:"parameters"`
}

func (j *Job) Summary() Summary {
	return Summary{
		ID:         j.ID,
		JobType:    j.JobType,
		Priority:   j.Priority,
		Status:     j.Status,
		CreatedAt:  j.CreatedAt,
		OpenSlots:  j.OpenSlots(),
		Parameters: cloneFloats(j.Parameters),
	}
}

func cloneFloats(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

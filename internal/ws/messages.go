package ws

import (
	"time"

	"github.com/zerverless/coordinator/internal/catalog"
	"github.com/zerverless/coordinator/internal/job"
	"github.com/zerverless/coordinator/internal/volunteer"
)

const (
	TypeReady     = "ready"
	TypeResult    = "result"
	TypeError     = "error"
	TypeHeartbeat = "heartbeat"
	TypeQuit      = "quit"
	TypeAck       = "ack"
	TypeJob       = "job"
	TypeVerdict   = "verdict"
	TypeIdle      = "idle"
)

type BaseMessage struct {
	Type string `json:"type"`
}

// Volunteer → coordinator

type ReadyMessage struct {
	Type          string                  `json:"type"`
	ContributorID string                  `json:"contributor_id,omitempty"`
	Capabilities  *volunteer.Capabilities `json:"capabilities,omitempty"`
}

type ResultMessage struct {
	Type          string             `json:"type"`
	JobID         string             `json:"job_id"`
	Result        map[string]float64 `json:"result"`
	ComputeTimeMs int64              `json:"compute_time_ms"`
}

type ErrorMessage struct {
	Type  string `json:"type"`
	JobID string `json:"job_id"`
	Error string `json:"error"`
}

type HeartbeatMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Coordinator → volunteer

type AckMessage struct {
	Type          string `json:"type"`
	VolunteerID   string `json:"volunteer_id"`
	ContributorID string `json:"contributor_id"`
}

type JobMessage struct {
	Type       string             `json:"type"`
	JobID      string             `json:"job_id"`
	JobType    string             `json:"job_type"`
	Parameters map[string]float64 `json:"parameters"`
	Kernel     *catalog.Kernel    `json:"kernel,omitempty"`
}

type VerdictMessage struct {
	Type                string     `json:"type"`
	JobID               string     `json:"job_id"`
	Accepted            bool       `json:"accepted"`
	VerificationPending bool       `json:"verification_pending"`
	Status              job.Status `json:"status,omitempty"`
	Error               string     `json:"error,omitempty"`
}

type IdleMessage struct {
	Type string `json:"type"`
}

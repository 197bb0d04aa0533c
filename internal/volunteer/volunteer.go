package volunteer

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zerverless/coordinator/internal/catalog"
)

type Status string

const (
	StatusIdle         Status = "idle"
	StatusBusy         Status = "busy"
	StatusDisconnected Status = "disconnected"
)

// Capabilities is the hardware/software descriptor a contributor declares
// with each request. It is only used to filter job eligibility.
type Capabilities struct {
	GPU      bool    `json:"gpu"`
	WebGPU   bool    `json:"webgpu"`
	Wasm     bool    `json:"wasm"`
	CPUCores int     `json:"cpuCores"`
	MemoryGB float64 `json:"memoryGB"`
	Lua      bool    `json:"lua,omitempty"`
	JS       bool    `json:"js,omitempty"`
}

// Satisfies checks the declared capabilities against a job type's requirements.
func (c Capabilities) Satisfies(req catalog.Requirements) bool {
	if req.GPU && !c.GPU {
		return false
	}
	if req.WebGPU && !c.WebGPU {
		return false
	}
	if req.Wasm && !c.Wasm {
		return false
	}
	if req.MinCPUCores > 0 && c.CPUCores < req.MinCPUCores {
		return false
	}
	if req.MinMemoryGB > 0 && c.MemoryGB < req.MinMemoryGB {
		return false
	}
	return true
}

// SupportsKernel checks if the volunteer can run a reference kernel runtime
func (c Capabilities) SupportsKernel(runtime string) bool {
	switch runtime {
	case "lua":
		return c.Lua
	case "js", "javascript":
		return c.JS
	case "wasm":
		return c.Wasm
	default:
		return false
	}
}

// Volunteer is one live websocket session. ContributorID is the identity
// used for assignment and points; it outlives the session.
type Volunteer struct {
	mu sync.Mutex

	ID            string       `json:"id"`
	ContributorID string       `json:"contributor_id"`
	ConnectedAt   time.Time    `json:"connected_at"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`
	Status        Status       `json:"status"`
	CurrentJobID  string       `json:"current_job_id,omitempty"`
	JobsSubmitted int          `json:"jobs_submitted"`
	JobsFailed    int          `json:"jobs_failed"`
	Capabilities  Capabilities `json:"capabilities"`
	UserAgent     string       `json:"user_agent,omitempty"`
}

func New() *Volunteer {
	now := time.Now().UTC()
	id := uuid.NewString()
	return &Volunteer{
		ID:            id,
		ContributorID: id,
		ConnectedAt:   now,
		LastHeartbeat: now,
		Status:        StatusIdle,
		Capabilities:  Capabilities{Wasm: true, CPUCores: 1, MemoryGB: 0.5},
	}
}

func (v *Volunteer) UpdateHeartbeat() {
	v.mu.Lock()
	v.LastHeartbeat = time.Now().UTC()
	v.mu.Unlock()
}

// Ready records the capabilities and identity announced by the session.
func (v *Volunteer) Ready(contributorID string, caps *Capabilities) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if contributorID != "" {
		v.ContributorID = contributorID
	}
	if caps != nil {
		v.Capabilities = *caps
	}
	v.Status = StatusIdle
	v.CurrentJobID = ""
}

func (v *Volunteer) SetBusy(jobID string) {
	v.mu.Lock()
	v.Status = StatusBusy
	v.CurrentJobID = jobID
	v.mu.Unlock()
}

func (v *Volunteer) SetIdle() {
	v.mu.Lock()
	v.Status = StatusIdle
	v.CurrentJobID = ""
	v.mu.Unlock()
}

func (v *Volunteer) Submitted() {
	v.mu.Lock()
	v.JobsSubmitted++
	v.mu.Unlock()
}

func (v *Volunteer) Failed() {
	v.mu.Lock()
	v.JobsFailed++
	v.mu.Unlock()
}

// Identity returns the contributor id and a copy of the capabilities.
func (v *Volunteer) Identity() (string, Capabilities) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ContributorID, v.Capabilities
}

func (v *Volunteer) CurrentStatus() Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.Status
}

// Claim moves an idle session to busy. Only one dispatcher wins a session.
func (v *Volunteer) Claim() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.Status != StatusIdle {
		return false
	}
	v.Status = StatusBusy
	return true
}

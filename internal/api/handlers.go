package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/zerverless/coordinator/internal/archive"
	"github.com/zerverless/coordinator/internal/config"
	"github.com/zerverless/coordinator/internal/coordinator"
	"github.com/zerverless/coordinator/internal/job"
	"github.com/zerverless/coordinator/internal/volunteer"
)

var startTime = time.Now()

// Archive is the read side of the settled-job archive.
type Archive interface {
	Get(jobID string) (archive.Record, error)
	List(limit int) ([]string, error)
}

type Handlers struct {
	cfg     *config.Config
	coord   *coordinator.Coordinator
	vm      *volunteer.Manager
	archive Archive
}

func NewHandlers(cfg *config.Config, coord *coordinator.Coordinator, vm *volunteer.Manager) *Handlers {
	return &Handlers{cfg: cfg, coord: coord, vm: vm}
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handlers) Info(w http.ResponseWriter, r *http.Request) {
	opts := h.coord.Options()
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id":                h.cfg.NodeID,
		"version":                "0.2.0",
		"uptime_seconds":         int(time.Since(startTime).Seconds()),
		"replication_factor":     opts.Replication,
		"max_replicas_attempted": opts.MaxReplicasAttempted,
		"job_types":              h.coord.Catalog().IDs(),
	})
}

func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id":        h.cfg.NodeID,
		"uptime_seconds": int(time.Since(startTime).Seconds()),
		"volunteers":     h.vm.Stats(),
		"coordinator":    h.coord.GetStatistics(),
	})
}

func (h *Handlers) Catalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.coord.Catalog().List())
}

type GenerateRequest struct {
	JobType  string `json:"job_type"`
	Priority string `json:"priority,omitempty"`
}

func (h *Handlers) GenerateJob(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if !decode(w, r, &req) {
		return
	}

	j, err := h.coord.GenerateJob(req.JobType, job.ParsePriority(req.Priority))
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, j)
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.coord.GetJob(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

type ContributorRequest struct {
	ContributorID string                 `json:"contributor_id"`
	Capabilities  volunteer.Capabilities `json:"capabilities"`
	Limit         int                    `json:"limit,omitempty"`
}

func (h *Handlers) AvailableJobs(w http.ResponseWriter, r *http.Request) {
	var req ContributorRequest
	if !decode(w, r, &req) || !requireContributor(w, req.ContributorID) {
		return
	}

	jobs := h.coord.ListAvailableJobs(req.ContributorID, req.Capabilities, req.Limit)
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func (h *Handlers) AssignJob(w http.ResponseWriter, r *http.Request) {
	var req ContributorRequest
	if !decode(w, r, &req) || !requireContributor(w, req.ContributorID) {
		return
	}

	j, err := h.coord.AssignJob(chi.URLParam(r, "id"), req.ContributorID, req.Capabilities)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

type ResultRequest struct {
	ContributorID string             `json:"contributor_id"`
	Result        map[string]float64 `json:"result"`
	ComputeTimeMs int64              `json:"compute_time_ms"`
}

func (h *Handlers) SubmitResult(w http.ResponseWriter, r *http.Request) {
	var req ResultRequest
	if !decode(w, r, &req) || !requireContributor(w, req.ContributorID) {
		return
	}

	outcome, err := h.coord.SubmitResult(chi.URLParam(r, "id"), req.ContributorID, req.Result, req.ComputeTimeMs)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handlers) GetContribution(w http.ResponseWriter, r *http.Request) {
	summary, ok := h.coord.GetContribution(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "contributor not found")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handlers) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 10
	}
	writeJSON(w, http.StatusOK, h.coord.GetLeaderboard(limit))
}

func (h *Handlers) Sweep(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Admin-Token")
	if h.cfg.AdminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.AdminToken)) != 1 {
		writeError(w, http.StatusForbidden, "admin token required")
		return
	}

	report := h.coord.Sweep(time.Now())
	log.WithField("remote", r.RemoteAddr).Infof("Manual sweep: %+v", report)
	writeJSON(w, http.StatusOK, report)
}

func (h *Handlers) ListArchived(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 100
	}
	ids, err := h.archive.List(limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": ids, "count": len(ids)})
}

func (h *Handlers) GetArchived(w http.ResponseWriter, r *http.Request) {
	rec, err := h.archive.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func requireContributor(w http.ResponseWriter, id string) bool {
	if id == "" {
		writeError(w, http.StatusBadRequest, "contributor_id is required")
		return false
	}
	return true
}

// statusFor maps coordinator errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, job.ErrJobNotFound), errors.Is(err, archive.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, job.ErrInvalidJobType):
		return http.StatusBadRequest
	case errors.Is(err, job.ErrJobNotAvailable), errors.Is(err, job.ErrDuplicateSubmission):
		return http.StatusConflict
	case errors.Is(err, job.ErrCapabilityMismatch), errors.Is(err, job.ErrContributorNotAssigned):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Errorf("Request failed: %v", err)
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

package coordinator

import (
	"errors"

	"github.com/zerverless/coordinator/internal/job"
)

// reason is the metric label for a refused request.
func reason(err error) string {
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		return "not_found"
	case errors.Is(err, job.ErrJobNotAvailable):
		return "not_available"
	case errors.Is(err, job.ErrCapabilityMismatch):
		return "capability_mismatch"
	case errors.Is(err, job.ErrContributorNotAssigned):
		return "not_assigned"
	case errors.Is(err, job.ErrDuplicateSubmission):
		return "duplicate"
	case errors.Is(err, job.ErrInvalidJobType):
		return "invalid_job_type"
	default:
		return "other"
	}
}

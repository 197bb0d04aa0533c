package job

import "errors"

var (
	ErrJobNotFound            = errors.New("job not found")
	ErrInvalidJobType         = errors.New("invalid job type")
	ErrJobNotAvailable        = errors.New("job not available")
	ErrCapabilityMismatch     = errors.New("capability mismatch")
	ErrContributorNotAssigned = errors.New("contributor not assigned")
	ErrDuplicateSubmission    = errors.New("duplicate submission")
)

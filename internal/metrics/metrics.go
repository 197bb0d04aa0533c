package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counters
	JobsGeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coord_jobs_generated_total",
			Help: "Total number of jobs generated from the catalog",
		},
		[]string{"job_type"},
	)

	AssignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coord_assignments_total",
			Help: "Total number of replica slots handed to contributors",
		},
		[]string{"job_type"},
	)

	RejectedRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coord_rejected_requests_total",
			Help: "Assignment and submission requests refused, by reason",
		},
		[]string{"operation", "reason"},
	)

	ResultsSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coord_results_submitted_total",
			Help: "Total number of replica results accepted",
		},
		[]string{"job_type"},
	)

	VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coord_verifications_total",
			Help: "Consensus rounds by outcome",
		},
		[]string{"job_type", "outcome"}, // verified, reopened, failed
	)

	PointsAwardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coord_points_awarded_total",
			Help: "Contribution points credited for verified replicas",
		},
		[]string{"job_type"},
	)

	EvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coord_evictions_total",
			Help: "Records removed by the retention sweep",
		},
		[]string{"kind"}, // job, abandoned_job, contributor
	)

	EventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coord_events_dropped_total",
			Help: "Job events dropped because the event buffer was full",
		},
	)

	ArchiveErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coord_archive_errors_total",
			Help: "Failed archive writes by sink",
		},
		[]string{"sink"},
	)

	// Gauges
	Jobs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coord_jobs",
			Help: "Jobs currently held, by status",
		},
		[]string{"status"},
	)

	Contributors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coord_contributors",
			Help: "Contributor records currently held",
		},
	)

	VolunteersConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coord_volunteers_connected",
			Help: "Live websocket volunteer sessions",
		},
	)

	// Histograms
	VerificationRate = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coord_verification_rate",
			Help:    "Fraction of replica pairs that agreed per consensus round",
			Buckets: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		},
		[]string{"job_type"},
	)

	ReportedComputeSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coord_reported_compute_seconds",
			Help:    "Compute time reported with each submission",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
		},
		[]string{"job_type"},
	)
)

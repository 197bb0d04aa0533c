// Package events carries job state transitions to collaborators (logs,
// archive sinks) after the transition has committed.
package events

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zerverless/coordinator/internal/job"
	"github.com/zerverless/coordinator/internal/metrics"
)

type Kind string

const (
	KindGenerated Kind = "job.generated"
	KindVerified  Kind = "job.verified"
	KindReopened  Kind = "job.reopened"
	KindFailed    Kind = "job.failed"
)

type Event struct {
	Kind   Kind               `json:"kind"`
	Job    *job.Job           `json:"job"`
	Rate   float64            `json:"rate"`
	Awards map[string]float64 `json:"awards,omitempty"`
	At     time.Time          `json:"at"`
}

// Sink consumes events. Errors are logged and counted, never propagated
// back into the coordinator.
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev Event) error
}

type Bus struct {
	ch    chan Event
	sinks []Sink
}

func NewBus(buffer int, sinks ...Sink) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	return &Bus{ch: make(chan Event, buffer), sinks: sinks}
}

func (b *Bus) AddSink(s Sink) {
	b.sinks = append(b.sinks, s)
}

// Publish never blocks; a full buffer drops the event.
func (b *Bus) Publish(ev Event) bool {
	select {
	case b.ch <- ev:
		return true
	default:
		metrics.EventsDroppedTotal.Inc()
		log.WithFields(log.Fields{"kind": ev.Kind, "job": ev.Job.ID}).Warn("Event buffer full, dropping event")
		return false
	}
}

// Run delivers events to every sink until ctx is done. Sinks must be added
// before Run starts.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.ch:
			b.deliver(ctx, ev)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, ev Event) {
	for _, s := range b.sinks {
		if err := s.Handle(ctx, ev); err != nil {
			metrics.ArchiveErrorsTotal.WithLabelValues(s.Name()).Inc()
			log.WithError(err).WithFields(log.Fields{
				"sink": s.Name(),
				"kind": ev.Kind,
				"job":  ev.Job.ID,
			}).Error("Event sink failed")
		}
	}
}

// LogSink writes one structured line per event.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Handle(_ context.Context, ev Event) error {
	entry := log.WithFields(log.Fields{
		"job":      ev.Job.ID,
		"job_type": ev.Job.JobType,
		"status":   ev.Job.Status,
		"replicas": len(ev.Job.Results),
	})
	switch ev.Kind {
	case KindVerified:
		entry.WithField("rate", ev.Rate).Infof("Job verified, %d contributors credited", len(ev.Awards))
	case KindReopened:
		entry.WithField("rate", ev.Rate).Info("Consensus not reached, job reopened for another replica")
	case KindFailed:
		entry.WithField("rate", ev.Rate).Warn("Consensus not reached, job failed")
	default:
		entry.Debug(string(ev.Kind))
	}
	return nil
}

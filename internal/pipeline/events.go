package pipeline

import (
	"io"
	"log/slog"
	"time"
)

// EventType names a step of a run
type EventType string

const (
	EventAgencyStarted     EventType = "agency_started"
	EventUnitStarted       EventType = "unit_started"
	EventUnitConfirmed     EventType = "unit_confirmed"
	EventUnitNotApplicable EventType = "unit_not_applicable"
	EventUnitIgnored       EventType = "unit_ignored"
	EventUnitRetrying      EventType = "unit_retrying"
	EventUnitSkipped       EventType = "unit_skipped"
	EventUnitPersisted     EventType = "unit_persisted"
	EventUnitFailed        EventType = "unit_failed"
	EventAgencyFinished    EventType = "agency_finished"
)

// Event is one progress notification. Fields not relevant to Type are zero.
type Event struct {
	Type    EventType
	Time    time.Time
	Agency  string
	Title   int
	Chapter string
	Label   string
	Count   int // references of an agency
	Attempt int
	Delay   time.Duration // backoff before the next attempt
	Path    string
	Bytes   int
	Reason  string
	Err     error
}

// Observer receives run events in order, on the run's goroutine
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// LogObserver writes events to a structured logger
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver creates an observer logging under component=pipeline
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &LogObserver{logger: logger.With("component", "pipeline")}
}

func (o *LogObserver) Observe(e Event) {
	switch e.Type {
	case EventAgencyStarted:
		o.logger.Info("agency started", "agency", e.Agency, "references", e.Count)
	case EventUnitStarted:
		o.logger.Debug("fetching chapter", "agency", e.Agency, "title", e.Title, "chapter", e.Chapter)
	case EventUnitConfirmed:
		o.logger.Info("chapter confirmed", "agency", e.Agency, "title", e.Title, "chapter", e.Chapter, "label", e.Label)
	case EventUnitNotApplicable:
		o.logger.Info("chapter not found in title hierarchy", "agency", e.Agency, "title", e.Title, "chapter", e.Chapter)
	case EventUnitIgnored:
		o.logger.Debug("reference ignored", "agency", e.Agency, "title", e.Title, "chapter", e.Chapter, "reason", e.Reason)
	case EventUnitRetrying:
		o.logger.Warn("retrying", "agency", e.Agency, "title", e.Title, "chapter", e.Chapter, "attempt", e.Attempt, "backoff", e.Delay, "error", e.Err)
	case EventUnitSkipped:
		o.logger.Info("chapter skipped", "agency", e.Agency, "title", e.Title, "chapter", e.Chapter, "reason", e.Reason)
	case EventUnitPersisted:
		o.logger.Info("chapter saved", "agency", e.Agency, "title", e.Title, "chapter", e.Chapter, "path", e.Path, "bytes", e.Bytes)
	case EventUnitFailed:
		o.logger.Error("unit failed", "agency", e.Agency, "title", e.Title, "chapter", e.Chapter, "attempts", e.Attempt, "error", e.Err)
	case EventAgencyFinished:
		if e.Err != nil {
			o.logger.Error("agency failed", "agency", e.Agency, "error", e.Err)
			return
		}
		o.logger.Info("agency finished", "agency", e.Agency)
	}
}

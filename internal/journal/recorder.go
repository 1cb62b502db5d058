package journal

import (
	"context"
	"time"

	"github.com/nerrad567/mqttprobe/internal/probe"
)

// recordTimeout bounds a single insert so a locked database cannot stall
// the MQTT callbacks that record events.
const recordTimeout = 2 * time.Second

// Logger reports failed inserts.
type Logger interface {
	Warn(msg string, args ...any)
}

// Recorder writes probe events to a Repository. It implements probe.Recorder.
type Recorder struct {
	repo   Repository
	logger Logger
}

var _ probe.Recorder = (*Recorder)(nil)

// NewRecorder returns a probe.Recorder backed by repo. logger may be nil.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger}
}

// RecordConnect implements probe.Recorder.
func (r *Recorder) RecordConnect(ctx context.Context, e probe.ConnectEvent) {
	code := e.ReturnCode
	detail := ""
	if e.Reconnect {
		detail = "reconnect"
	}
	r.record(ctx, &Event{
		RunID:      e.RunID,
		Kind:       KindConnect,
		ClientID:   e.ClientID,
		Broker:     e.Broker,
		ReturnCode: &code,
		Latency:    e.Latency,
		Detail:     detail,
		OccurredAt: e.At,
	})
}

// RecordPublish implements probe.Recorder.
func (r *Recorder) RecordPublish(ctx context.Context, e probe.PublishEvent) {
	r.record(ctx, &Event{
		RunID:       e.RunID,
		Kind:        KindPublish,
		ClientID:    e.ClientID,
		Broker:      e.Broker,
		Topic:       e.Topic,
		QoS:         e.QoS,
		Retained:    e.Retained,
		MessageID:   e.MessageID,
		PayloadSize: e.Size,
		Latency:     e.Latency,
		OccurredAt:  e.At,
	})
}

// RecordMessage implements probe.Recorder.
func (r *Recorder) RecordMessage(ctx context.Context, e probe.MessageEvent) {
	r.record(ctx, &Event{
		RunID:       e.RunID,
		Kind:        KindMessage,
		ClientID:    e.ClientID,
		Broker:      e.Broker,
		Topic:       e.Topic,
		QoS:         e.QoS,
		Retained:    e.Retained,
		MessageID:   e.MessageID,
		PayloadSize: e.Size,
		OccurredAt:  e.At,
	})
}

// RecordError implements probe.Recorder.
func (r *Recorder) RecordError(ctx context.Context, e probe.ErrorEvent) {
	detail := e.Stage
	if e.Err != nil {
		detail += ": " + e.Err.Error()
	}
	r.record(ctx, &Event{
		RunID:      e.RunID,
		Kind:       KindError,
		ClientID:   e.ClientID,
		Broker:     e.Broker,
		Topic:      e.Topic,
		Detail:     detail,
		OccurredAt: e.At,
	})
}

// record inserts e even when ctx is already cancelled, so the final
// events of an interrupted run are kept.
func (r *Recorder) record(ctx context.Context, e *Event) {
	insertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := r.repo.Record(insertCtx, e); err != nil && r.logger != nil {
		r.logger.Warn("journal write failed",
			"kind", string(e.Kind),
			"run_id", e.RunID,
			"error", err,
		)
	}
}

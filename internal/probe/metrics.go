package probe

import (
	"context"
	"time"

	"github.com/nerrad567/mqttprobe/internal/infrastructure/influxdb"
)

// MetricsWriter is the subset of *influxdb.Client used for probe metrics.
type MetricsWriter interface {
	WriteConnect(tags influxdb.Tags, returnCode byte, latency time.Duration, at time.Time)
	WritePublish(tags influxdb.Tags, qos byte, size int, latency time.Duration, at time.Time)
	WriteMessage(tags influxdb.Tags, qos byte, size int, at time.Time)
}

// MetricsRecorder turns probe events into InfluxDB points.
// Errors are not written as points; the journal keeps those.
type MetricsRecorder struct {
	w MetricsWriter
}

// NewMetricsRecorder returns a Recorder writing to w.
func NewMetricsRecorder(w MetricsWriter) *MetricsRecorder {
	return &MetricsRecorder{w: w}
}

// RecordConnect implements Recorder.
func (m *MetricsRecorder) RecordConnect(_ context.Context, e ConnectEvent) {
	m.w.WriteConnect(influxdb.Tags{
		RunID:    e.RunID,
		ClientID: e.ClientID,
		Broker:   e.Broker,
	}, e.ReturnCode, e.Latency, e.At)
}

// RecordPublish implements Recorder.
func (m *MetricsRecorder) RecordPublish(_ context.Context, e PublishEvent) {
	m.w.WritePublish(influxdb.Tags{
		RunID:    e.RunID,
		ClientID: e.ClientID,
		Broker:   e.Broker,
		Topic:    e.Topic,
	}, e.QoS, e.Size, e.Latency, e.At)
}

// RecordMessage implements Recorder.
func (m *MetricsRecorder) RecordMessage(_ context.Context, e MessageEvent) {
	m.w.WriteMessage(influxdb.Tags{
		RunID:    e.RunID,
		ClientID: e.ClientID,
		Broker:   e.Broker,
		Topic:    e.Topic,
	}, e.QoS, e.Size, e.At)
}

// RecordError implements Recorder.
func (m *MetricsRecorder) RecordError(context.Context, ErrorEvent) {}

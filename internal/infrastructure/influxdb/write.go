package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementConnect = "mqtt_connect"
	MeasurementPublish = "mqtt_publish"
	MeasurementMessage = "mqtt_message"
)

// Tags identify the run a point belongs to. Empty tags are omitted.
type Tags struct {
	RunID    string
	ClientID string
	Broker   string
	Topic    string
}

func (t Tags) toMap() map[string]string {
	m := make(map[string]string, 4)
	for k, v := range map[string]string{
		"run_id":    t.RunID,
		"client_id": t.ClientID,
		"broker":    t.Broker,
		"topic":     t.Topic,
	} {
		if v != "" {
			m[k] = v
		}
	}
	return m
}

// WriteConnect records a CONNACK.
//
// Example:
//
//	client.WriteConnect(influxdb.Tags{RunID: id, ClientID: "publisher1"}, 0, 12*time.Millisecond, time.Now())
func (c *Client) WriteConnect(tags Tags, returnCode byte, latency time.Duration, at time.Time) {
	c.writePoint(connectPoint(tags, returnCode, latency, at))
}

// WritePublish records an acknowledged publish.
func (c *Client) WritePublish(tags Tags, qos byte, size int, latency time.Duration, at time.Time) {
	c.writePoint(publishPoint(tags, qos, size, latency, at))
}

// WriteMessage records a received message.
func (c *Client) WriteMessage(tags Tags, qos byte, size int, at time.Time) {
	c.writePoint(messagePoint(tags, qos, size, at))
}

// WritePoint writes a custom point with full control over tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	c.writePoint(write.NewPoint(measurement, tags, fields, at))
}

// writePoint queues p. Points written after Close are dropped.
func (c *Client) writePoint(p *write.Point) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	c.points.Add(1)
	c.writeAPI.WritePoint(p)
}

func connectPoint(tags Tags, returnCode byte, latency time.Duration, at time.Time) *write.Point {
	return write.NewPoint(MeasurementConnect, tags.toMap(), map[string]any{
		"return_code": int64(returnCode),
		"accepted":    returnCode == 0,
		"latency_ms":  durationMillis(latency),
	}, at)
}

func publishPoint(tags Tags, qos byte, size int, latency time.Duration, at time.Time) *write.Point {
	return write.NewPoint(MeasurementPublish, tags.toMap(), map[string]any{
		"qos":        int64(qos),
		"bytes":      int64(size),
		"latency_ms": durationMillis(latency),
	}, at)
}

func messagePoint(tags Tags, qos byte, size int, at time.Time) *write.Point {
	return write.NewPoint(MeasurementMessage, tags.toMap(), map[string]any{
		"qos":   int64(qos),
		"bytes": int64(size),
	}, at)
}

// durationMillis converts d to fractional milliseconds.
func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

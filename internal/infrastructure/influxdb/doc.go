// Package influxdb writes probe metrics to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Three measurements
// are written, each tagged with run_id, client_id, broker and topic:
//   - mqtt_connect: return_code, accepted, latency_ms
//   - mqtt_publish: qos, bytes, latency_ms
//   - mqtt_message: qos, bytes
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.SetOnError(func(err error) { logger.Warn("metrics write failed", "error", err) })
//	client.WritePublish(influxdb.Tags{RunID: id, Topic: "mutual/test"}, 1, 8, latency, time.Now())
//
// Writes are non-blocking and batched (batch_size, flush_interval); write
// errors arrive asynchronously through the SetOnError callback.
package influxdb

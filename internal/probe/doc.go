// Package probe runs the publish and subscribe checks against a broker.
//
// A Publisher connects, publishes the configured message and disconnects.
// A Subscriber connects, subscribes from the connect callback and prints
// each message until it is stopped. Both print the same numbered progress
// lines through a Reporter:
//
//	[1] Creating MQTT client
//	[2] Configuring TLS with client certs
//	[4] Connecting to broker …
//	[3] Connected with result code Connection Accepted
//	[6] Publishing to topic 'mutual/test' …
//	[5] Message published, mid=1
//	[7] Done.
//
// Every step waits on its acknowledgment rather than on a fixed delay, and
// every failure is returned. Events are passed to a Recorder (the SQLite
// journal and InfluxDB metrics in the CLI).
package probe

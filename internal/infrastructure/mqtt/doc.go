// Package mqtt provides MQTT client connectivity for mqttprobe.
//
// This package manages:
//   - Connection to a broker over TCP or mutual TLS
//   - CONNACK reporting (return code, session present, latency)
//   - Message publishing with QoS acknowledgment and per-message callbacks
//   - Topic subscriptions, restored after auto-reconnect
//   - Optional Last Will and Testament and retained online/offline status
//
// The protocol engine (framing, keepalive, in-flight QoS state, reconnect
// scheduling) is eclipse/paho.mqtt.golang; this package configures it and
// turns its tokens into bounded, context-aware calls with sentinel errors.
//
// # Security Considerations
//
//   - Mutual TLS loads ca_file, cert_file and key_file; versions default to TLS 1.2 only
//   - verify_hostname=false skips only the host name check; the broker chain
//     is still verified against ca_file
//   - insecure_skip_verify=true disables verification entirely
//
// # Usage
//
//	client, err := mqtt.New(cfg)
//	if err != nil {
//	    return err
//	}
//	client.SetOnConnect(func(r mqtt.ConnectResult) {
//	    fmt.Println("connected:", r)
//	})
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	res, err := client.Publish(ctx, "mutual/test", []byte("m=random"), 1, false)
package mqtt

package probe

import (
	"fmt"
	"io"
	"sync"
)

// Reporter writes the numbered progress lines a probe run prints, e.g.
//
//	[1] Creating MQTT client
//	[3] Connected with result code Connection Accepted
//
// Lines come from the caller and from MQTT callbacks, so writes are serialised.
type Reporter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewReporter returns a Reporter writing to w. A nil w discards output.
func NewReporter(w io.Writer) *Reporter {
	if w == nil {
		w = io.Discard
	}
	return &Reporter{w: w}
}

// Step writes "[n] " followed by the formatted message and a newline.
// Write errors are ignored; progress output is advisory.
func (r *Reporter) Step(n int, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, "[%d] %s\n", n, fmt.Sprintf(format, args...)) //nolint:errcheck // advisory output
}

// CreatingClient reports step 1.
func (r *Reporter) CreatingClient() { r.Step(1, "Creating MQTT client") }

// ConfiguringTLS reports step 2.
func (r *Reporter) ConfiguringTLS() { r.Step(2, "Configuring TLS with client certs") }

// Connected reports step 3 with the CONNACK description.
func (r *Reporter) Connected(result string) {
	r.Step(3, "Connected with result code %s", result)
}

// Connecting reports the connect step, which is 4 for publishers and 6 for subscribers.
func (r *Reporter) Connecting(step int) { r.Step(step, "Connecting to broker …") }

// Published reports step 5 for an acknowledged publish.
func (r *Reporter) Published(messageID uint16) {
	r.Step(5, "Message published, mid=%d", messageID)
}

// Publishing reports step 6.
func (r *Reporter) Publishing(topic string) {
	r.Step(6, "Publishing to topic '%s' …", topic)
}

// Subscribing reports step 4.
func (r *Reporter) Subscribing(topic string) {
	r.Step(4, "Subscribing to topic '%s' …", topic)
}

// Received reports step 5 for an incoming message.
func (r *Reporter) Received(topic string, payload []byte) {
	r.Step(5, "Received message: topic=%s, payload=%s", topic, payload)
}

// Waiting reports step 7 for subscribers.
func (r *Reporter) Waiting() { r.Step(7, "Waiting for messages …") }

// Done reports step 7 for publishers.
func (r *Reporter) Done() { r.Step(7, "Done.") }

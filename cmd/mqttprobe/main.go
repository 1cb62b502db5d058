// mqttprobe - MQTT broker smoke tests
//
// mqttprobe connects to a broker, optionally over mutual TLS, and either
// publishes a test message (pub) or prints incoming messages (sub). Every
// step is printed as a numbered progress line and every failure ends the
// process with exit code 1.
//
// Runs can be journalled to SQLite (see the history command) and
// written to InfluxDB as metrics.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

func main() {
	// SIGINT/SIGTERM stop a subscriber cleanly and abort a publisher mid-step.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(nil).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1) //nolint:gocritic // cancel called explicitly above
	}
}

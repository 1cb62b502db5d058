package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/mqttprobe/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqttprobe/internal/testutil/broker"
	"github.com/nerrad567/mqttprobe/internal/testutil/certs"
)

// syncBuffer is written by the MQTT router goroutine while tests read it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// writeConfig writes a YAML config pointing at b with the journal in a
// temp directory and returns its path.
func writeConfig(t *testing.T, b *broker.Broker) string {
	t.Helper()
	return writeConfigFor(t, b.Host, b.Port)
}

func writeConfigFor(t *testing.T, host string, port int) string {
	t.Helper()
	dir := t.TempDir()

	content := fmt.Sprintf(`
broker:
  host: %q
  port: %d
  client_id: cli-test
  connect_timeout: 5
reconnect:
  enabled: false
journal:
  path: %q
  wal_mode: false
logging:
  level: debug
`, host, port, filepath.Join(dir, "journal.db"))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// execute runs the CLI with args and returns stdout. Logs are discarded.
func execute(ctx context.Context, out io.Writer, args ...string) error {
	cmd := newRootCmd(io.Discard)
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, execute(testContext(t), &out, "version"))
	assert.Contains(t, out.String(), "mqttprobe "+version)
}

func TestPub(t *testing.T) {
	b := broker.Start(t)
	received := b.Collect(t, "cli/test")
	cfgPath := writeConfig(t, b)

	var out syncBuffer
	err := execute(testContext(t), &out, "pub",
		"--config", cfgPath,
		"--topic", "cli/test",
		"--message", "hello",
		"--qos", "1",
	)
	require.NoError(t, err)

	lines := out.String()
	assert.Contains(t, lines, "[1] Creating MQTT client\n")
	assert.NotContains(t, lines, "[2] Configuring TLS")
	assert.Contains(t, lines, "[6] Publishing to topic 'cli/test' …\n")
	assert.Contains(t, lines, "[5] Message published, mid=")
	assert.True(t, strings.HasSuffix(lines, "[7] Done.\n"), "output:\n%s", lines)

	select {
	case msg := <-received:
		assert.Equal(t, "hello", string(msg.Payload))
	case <-time.After(5 * time.Second):
		t.Fatal("broker did not receive the message")
	}
}

func TestPub_FlagsOverrideConfig(t *testing.T) {
	b := broker.Start(t)
	received := b.Collect(t, "mutual/test")

	// Nothing listens on port 1; --port corrects it.
	cfgPath := writeConfigFor(t, b.Host, 1)

	err := execute(testContext(t), io.Discard, "pub",
		"--config", cfgPath,
		"--port", fmt.Sprint(b.Port),
		"--client-id", "flag-client",
		"--message", "via flags",
	)
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, "via flags", string(msg.Payload))
	case <-time.After(5 * time.Second):
		t.Fatal("broker did not receive the message")
	}
}

func TestPub_Refused(t *testing.T) {
	b := broker.Start(t, broker.WithUsers(map[string]string{"probe": "secret"}))
	cfgPath := writeConfig(t, b)

	var out syncBuffer
	err := execute(testContext(t), &out, "pub", "--config", cfgPath)

	require.Error(t, err)
	assert.ErrorIs(t, err, mqtt.ErrConnectionRefused)
	assert.Contains(t, out.String(), "[3] Connected with result code ")
	assert.NotContains(t, out.String(), "[7] Done.")
}

func TestPub_MutualTLSFlags(t *testing.T) {
	set := certs.Generate(t, certs.Options{})
	b := broker.Start(t, broker.WithTLS(set.ServerTLSConfig(t)))
	received := b.Collect(t, "mutual/test")
	cfgPath := writeConfig(t, b)

	var out syncBuffer
	err := execute(testContext(t), &out, "pub",
		"--config", cfgPath,
		"--tls",
		"--ca", set.CAFile,
		"--cert", set.ClientCertFile,
		"--key", set.ClientKeyFile,
		"--message", "m=random",
	)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "[2] Configuring TLS with client certs\n")

	select {
	case msg := <-received:
		assert.Equal(t, "m=random", string(msg.Payload))
	case <-time.After(5 * time.Second):
		t.Fatal("broker did not receive the message")
	}
}

func TestPub_MissingCertificates(t *testing.T) {
	b := broker.Start(t)
	cfgPath := writeConfig(t, b)

	dir := t.TempDir()
	err := execute(testContext(t), io.Discard, "pub",
		"--config", cfgPath,
		"--tls",
		"--ca", filepath.Join(dir, "ca.crt"),
		"--cert", filepath.Join(dir, "client.crt"),
		"--key", filepath.Join(dir, "client.key"),
	)
	assert.ErrorIs(t, err, mqtt.ErrInvalidCA)
}

func TestSub_MaxMessages(t *testing.T) {
	b := broker.Start(t)
	cfgPath := writeConfig(t, b)

	var out syncBuffer
	errCh := make(chan error, 1)
	go func() {
		errCh <- execute(testContext(t), &out, "sub",
			"--config", cfgPath,
			"--topic", "sensors/#",
			"--max-messages", "1",
		)
	}()

	b.WaitSubscribed(t, "sensors/#", 5*time.Second)
	b.Publish(t, "sensors/temp", []byte("21.5"), 0, false)

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("sub did not stop after --max-messages")
	}

	lines := out.String()
	assert.Contains(t, lines, "[4] Subscribing to topic 'sensors/#' …\n")
	assert.Contains(t, lines, "[5] Received message: topic=sensors/temp, payload=21.5\n")
	assert.Contains(t, lines, "[7] Waiting for messages …\n")
}

func TestSub_StopsOnCancel(t *testing.T) {
	b := broker.Start(t)
	cfgPath := writeConfig(t, b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- execute(ctx, io.Discard, "sub", "--config", cfgPath)
	}()

	b.WaitSubscribed(t, "mutual/test", 5*time.Second)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err, "an interrupted subscriber exits cleanly")
	case <-time.After(10 * time.Second):
		t.Fatal("sub did not stop on cancel")
	}
}

func TestHistory(t *testing.T) {
	b := broker.Start(t)
	cfgPath := writeConfig(t, b)
	ctx := testContext(t)

	require.NoError(t, execute(ctx, io.Discard, "pub",
		"--config", cfgPath,
		"--journal",
		"--topic", "journal/test",
		"--count", "2",
	))

	var out bytes.Buffer
	require.NoError(t, execute(ctx, &out, "history", "--config", cfgPath, "--kind", "publish"))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4, "header, two events, count line:\n%s", out.String())
	assert.True(t, strings.HasPrefix(lines[0], "TIME"))
	assert.Contains(t, lines[1], "journal/test")
	assert.Contains(t, lines[1], "cli-test")
	assert.Equal(t, "2 of 2 events", lines[3])

	out.Reset()
	require.NoError(t, execute(ctx, &out, "history", "--config", cfgPath, "--limit", "1"))
	assert.Contains(t, out.String(), "1 of 3 events")
}

func TestHistory_Reset(t *testing.T) {
	b := broker.Start(t)
	cfgPath := writeConfig(t, b)
	ctx := testContext(t)

	require.NoError(t, execute(ctx, io.Discard, "pub",
		"--config", cfgPath,
		"--journal",
		"--topic", "journal/test",
	))

	var out bytes.Buffer
	require.NoError(t, execute(ctx, &out, "history", "--config", cfgPath, "--reset"))
	assert.Contains(t, out.String(), "cleared")

	out.Reset()
	require.NoError(t, execute(ctx, &out, "history", "--config", cfgPath))
	assert.Contains(t, out.String(), "0 of 0 events")

	// The journal stays usable after a reset.
	require.NoError(t, execute(ctx, io.Discard, "pub",
		"--config", cfgPath,
		"--journal",
		"--topic", "journal/test",
	))
	out.Reset()
	require.NoError(t, execute(ctx, &out, "history", "--config", cfgPath, "--kind", "publish"))
	assert.Contains(t, out.String(), "1 of 1 events")
}

func TestHistory_InvalidKind(t *testing.T) {
	err := execute(testContext(t), io.Discard, "history", "--kind", "subscribe")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestUnknownProfile(t *testing.T) {
	err := execute(testContext(t), io.Discard, "pub", "--profile", "nope", "--config", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown profile")
}

func TestInvalidConfigPath(t *testing.T) {
	err := execute(testContext(t), io.Discard, "pub", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config")
}

package broker

import (
	"net"
	"strconv"
	"testing"
	"time"
)

// Dial-and-drop cycles used to race mochi's client WaitGroup against
// Server.Close in cleanup; run with -race.
func TestStart_CleanupAfterDroppedConnections(t *testing.T) {
	for i := 0; i < 20; i++ {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			b := Start(t)
			conn, err := net.DialTimeout("tcp", net.JoinHostPort(b.Host, strconv.Itoa(b.Port)), time.Second)
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			_ = conn.Close()
		})
	}
}

func TestTrackingListener_WaitIdle(t *testing.T) {
	inner, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	l := &trackingListener{Listener: inner}
	defer l.Close() //nolint:errcheck // test cleanup

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := l.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	client, err := net.Dial("tcp", inner.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close() //nolint:errcheck // test cleanup

	var server net.Conn
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("accept timed out")
	}
	if got := l.open.Load(); got != 1 {
		t.Fatalf("open = %d, want 1", got)
	}

	start := time.Now()
	l.waitIdle(50 * time.Millisecond)
	if time.Since(start) < 50*time.Millisecond {
		t.Error("waitIdle returned before timeout with a connection open")
	}

	_ = server.Close()
	_ = server.Close()
	if got := l.open.Load(); got != 0 {
		t.Errorf("open after double close = %d, want 0", got)
	}

	start = time.Now()
	l.waitIdle(time.Second)
	if time.Since(start) > 500*time.Millisecond {
		t.Error("waitIdle waited with no connection open")
	}
}

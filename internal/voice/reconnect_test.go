package voice

import (
	"log/slog"
	"testing"
	"time"
)

func TestReconnectorDefaults(t *testing.T) {
	t.Parallel()

	r := NewReconnector(Credentials{GuildID: "1"}, slog.Default())
	if r.maxRetries != defaultMaxRetries {
		t.Errorf("maxRetries = %d, want %d", r.maxRetries, defaultMaxRetries)
	}
	if r.backoff != defaultBackoff || r.maxBackoff != defaultMaxBackoff {
		t.Errorf("backoff = %v/%v, want %v/%v", r.backoff, r.maxBackoff, defaultBackoff, defaultMaxBackoff)
	}
	if r.Current() != nil {
		t.Error("fresh reconnector reports a connection")
	}
}

func TestReconnectorStopIsIdempotent(t *testing.T) {
	t.Parallel()

	r := NewReconnector(Credentials{GuildID: "1"}, slog.Default())
	r.Stop()
	r.Stop()
}

func TestReconnectorWatchExitsOnStop(t *testing.T) {
	t.Parallel()

	r := NewReconnector(Credentials{GuildID: "1"}, slog.Default())
	conn := &Connection{done: make(chan struct{})}

	watchDone := make(chan struct{})
	go func() {
		r.watch(conn)
		close(watchDone)
	}()

	r.Stop()
	select {
	case <-watchDone:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not exit after Stop")
	}
}

func TestReconnectorRedialGivesUp(t *testing.T) {
	t.Parallel()

	r := NewReconnector(Credentials{GuildID: "1", Endpoint: "127.0.0.1:1"}, slog.Default())
	r.maxRetries = 2
	r.backoff = time.Millisecond
	r.maxBackoff = time.Millisecond

	r.redial()
	if r.Current() != nil {
		t.Error("connection set after exhausted retries")
	}
}

func TestReconnectorStopDuringBackoff(t *testing.T) {
	t.Parallel()

	r := NewReconnector(Credentials{GuildID: "1", Endpoint: "127.0.0.1:1"}, slog.Default())
	r.maxRetries = 100
	r.backoff = time.Hour
	r.maxBackoff = time.Hour

	redialDone := make(chan struct{})
	go func() {
		r.redial()
		close(redialDone)
	}()

	// Give the first attempt time to fail and enter the backoff wait.
	time.Sleep(100 * time.Millisecond)
	r.Stop()

	select {
	case <-redialDone:
	case <-time.After(5 * time.Second):
		t.Fatal("redial did not exit after Stop")
	}
}

package voice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Default redial parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// Reconnector owns one guild's voice connection and redials it with
// exponential backoff when the gateway drops it. A deliberate Stop never
// triggers a redial.
//
// All methods are safe for concurrent use.
type Reconnector struct {
	creds Credentials
	log   *slog.Logger

	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration

	// OnReconnect is called with the replacement connection after a
	// successful redial. May be nil.
	OnReconnect func(*Connection)

	mu       sync.Mutex
	conn     *Connection
	done     chan struct{}
	stopOnce sync.Once
}

// NewReconnector prepares a reconnector for the given voice server
// assignment. Nothing is dialled until Connect.
func NewReconnector(creds Credentials, log *slog.Logger) *Reconnector {
	return &Reconnector{
		creds:      creds,
		log:        log.With("component", "Voice", "guildId", creds.GuildID),
		maxRetries: defaultMaxRetries,
		backoff:    defaultBackoff,
		maxBackoff: defaultMaxBackoff,
		done:       make(chan struct{}),
	}
}

// Connect performs the initial dial and starts watching the connection for
// unexpected drops.
func (r *Reconnector) Connect(ctx context.Context) (*Connection, error) {
	conn, err := Connect(ctx, r.creds, r.log)
	if err != nil {
		return nil, fmt.Errorf("voice: initial connect: %w", err)
	}

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	go r.watch(conn)
	return conn, nil
}

// Current returns the active connection. May return nil while a redial is
// in progress or after the retry budget is exhausted.
func (r *Reconnector) Current() *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

// Stop halts the watcher and closes the current connection. Safe to call
// more than once.
func (r *Reconnector) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})

	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// watch blocks until conn terminates, then redials unless Stop was called.
func (r *Reconnector) watch(conn *Connection) {
	select {
	case <-r.done:
		return
	case <-conn.Done():
	}

	select {
	case <-r.done:
		return
	default:
	}
	r.redial()
}

// redial attempts reconnection with exponential backoff. On success the new
// connection replaces the dead one and the watcher restarts.
func (r *Reconnector) redial() {
	backoff := r.backoff

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		select {
		case <-r.done:
			return
		default:
		}

		r.log.Info("voice redial",
			"endpoint", r.creds.Endpoint, "attempt", attempt, "maxRetries", r.maxRetries)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, err := Connect(ctx, r.creds, r.log)
		cancel()
		if err == nil {
			r.mu.Lock()
			r.conn = conn
			r.mu.Unlock()

			r.log.Info("voice redial succeeded", "attempt", attempt)
			if r.OnReconnect != nil {
				r.OnReconnect(conn)
			}
			go r.watch(conn)
			return
		}

		r.log.Warn("voice redial failed",
			"endpoint", r.creds.Endpoint, "attempt", attempt, "error", err)

		select {
		case <-r.done:
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > r.maxBackoff {
			backoff = r.maxBackoff
		}
	}

	r.mu.Lock()
	r.conn = nil
	r.mu.Unlock()
	r.log.Error("voice redial gave up", "endpoint", r.creds.Endpoint, "maxRetries", r.maxRetries)
}

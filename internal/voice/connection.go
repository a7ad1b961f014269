package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/metric"

	"github.com/aelira-dev/aelira/internal/observe"
)

// Voice-gateway opcodes.
const (
	opIdentify           = 0
	opSelectProtocol     = 1
	opReady              = 2
	opHeartbeat          = 3
	opSessionDescription = 4
	opSpeaking           = 5
	opHello              = 8
)

// transportMode is the only encryption mode this gateway negotiates.
const transportMode = "aead_aes256_gcm_rtpsize"

// defaultHeartbeatInterval applies until HELLO delivers the real one.
const defaultHeartbeatInterval = 30 * time.Second

// State tracks the voice handshake progress.
type State int

const (
	StateConnecting State = iota
	StateAwaitReady
	StateAwaitSession
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitReady:
		return "await_ready"
	case StateAwaitSession:
		return "await_session"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Credentials identify one guild's voice server assignment, as delivered by
// the controlling client through a player update.
type Credentials struct {
	GuildID   string
	UserID    string
	SessionID string
	Token     string
	Endpoint  string
}

// Connection drives the voice-gateway websocket for one guild: the
// IDENTIFY/READY/SELECT_PROTOCOL/SESSION_DESCRIPTION handshake, heartbeats,
// and SPEAKING signalling. Once the handshake completes, Ready() is closed
// and the UDP channel accepts Opus frames.
type Connection struct {
	creds Credentials
	log   *slog.Logger

	ws      *websocket.Conn
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time

	mu    sync.Mutex
	state State
	ssrc  uint32
	udp   *UDPChannel

	intervalCh chan time.Duration

	ready     chan struct{}
	readyOnce sync.Once

	done      chan struct{}
	closeOnce sync.Once
}

type payloadEnvelope struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type helloPayload struct {
	HeartbeatInterval float64 `json:"heartbeat_interval"`
}

type readyPayload struct {
	SSRC uint32 `json:"ssrc"`
	IP   string `json:"ip"`
	Port uint16 `json:"port"`
}

type sessionDescriptionPayload struct {
	SecretKey []int `json:"secret_key"`
}

// Connect dials the voice gateway, sends IDENTIFY and starts the read and
// heartbeat loops. The handshake continues in the background; callers block
// on WaitReady before transmitting audio.
func Connect(ctx context.Context, creds Credentials, log *slog.Logger) (*Connection, error) {
	url := fmt.Sprintf("wss://%s/?v=8", creds.Endpoint)
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		observe.DefaultMetrics().VoiceConnects.Add(ctx, 1, metricStatus("error"))
		return nil, fmt.Errorf("voice: dial %s: %w", url, err)
	}
	observe.DefaultMetrics().VoiceConnects.Add(ctx, 1, metricStatus("ok"))

	connCtx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		creds:      creds,
		log:        log.With("component", "Voice", "guildId", creds.GuildID),
		ws:         ws,
		ctx:        connCtx,
		cancel:     cancel,
		started:    time.Now(),
		state:      StateConnecting,
		intervalCh: make(chan time.Duration, 1),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}

	identify := map[string]any{
		"op": opIdentify,
		"d": map[string]any{
			"server_id":  creds.GuildID,
			"user_id":    creds.UserID,
			"session_id": creds.SessionID,
			"token":      creds.Token,
		},
	}
	if err := c.writeJSON(identify); err != nil {
		cancel()
		ws.Close(websocket.StatusInternalError, "identify failed")
		return nil, err
	}
	c.setState(StateAwaitReady)

	go c.readLoop()
	go c.heartbeatLoop()
	return c, nil
}

// WaitReady blocks until the handshake completes, the connection dies, or
// ctx expires.
func (c *Connection) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-c.done:
		return fmt.Errorf("voice: connection closed before becoming ready")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready is closed once SESSION_DESCRIPTION has been processed.
func (c *Connection) Ready() <-chan struct{} { return c.ready }

// Done is closed when the connection has terminated for any reason.
func (c *Connection) Done() <-chan struct{} { return c.done }

// State returns the current handshake state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// UDP returns the media transport, or nil before READY.
func (c *Connection) UDP() *UDPChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.udp
}

// SetSpeaking signals the start or end of audio transmission.
func (c *Connection) SetSpeaking(speaking bool) error {
	c.mu.Lock()
	ssrc := c.ssrc
	c.mu.Unlock()

	flag := 0
	if speaking {
		flag = 1
	}
	return c.writeJSON(map[string]any{
		"op": opSpeaking,
		"d": map[string]any{
			"speaking": flag,
			"delay":    0,
			"ssrc":     ssrc,
		},
	})
}

// Close tears the connection down. Safe to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		c.cancel()
		c.ws.Close(websocket.StatusNormalClosure, "")

		c.mu.Lock()
		udp := c.udp
		c.mu.Unlock()
		if udp != nil {
			udp.Close()
		}
		close(c.done)
	})
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Connection) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("voice: marshal payload: %w", err)
	}
	if err := c.ws.Write(c.ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("voice: write payload: %w", err)
	}
	return nil
}

// readLoop dispatches inbound gateway payloads until the socket dies.
func (c *Connection) readLoop() {
	defer c.Close()

	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			if c.State() != StateClosed {
				c.log.Info("voice gateway closed", "error", err)
			}
			return
		}

		var env payloadEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("undecodable voice payload", "error", err)
			continue
		}

		switch env.Op {
		case opHello:
			var hello helloPayload
			if err := json.Unmarshal(env.D, &hello); err != nil {
				c.log.Warn("bad hello payload", "error", err)
				continue
			}
			interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
			if interval > 0 {
				select {
				case c.intervalCh <- interval:
				default:
				}
			}

		case opReady:
			if err := c.handleReady(env.D); err != nil {
				c.log.Error("voice handshake failed", "error", err)
				return
			}

		case opSessionDescription:
			if err := c.handleSessionDescription(env.D); err != nil {
				c.log.Error("voice session setup failed", "error", err)
				return
			}

		default:
			// Heartbeat acks and unknown ops are ignored.
		}
	}
}

// handleReady creates the UDP channel, runs IP discovery and answers with
// SELECT_PROTOCOL. The mutex is never held across the network calls.
func (c *Connection) handleReady(raw json.RawMessage) error {
	var ready readyPayload
	if err := json.Unmarshal(raw, &ready); err != nil {
		return fmt.Errorf("voice: bad ready payload: %w", err)
	}

	udp, err := DialUDP(ready.IP, ready.Port, ready.SSRC)
	if err != nil {
		return err
	}
	externalIP, externalPort, err := udp.Discover()
	if err != nil {
		udp.Close()
		return err
	}

	c.mu.Lock()
	c.ssrc = ready.SSRC
	c.udp = udp
	c.state = StateAwaitSession
	c.mu.Unlock()

	c.log.Debug("voice ready received",
		"ssrc", ready.SSRC, "externalIp", externalIP, "externalPort", externalPort)

	return c.writeJSON(map[string]any{
		"op": opSelectProtocol,
		"d": map[string]any{
			"protocol": "udp",
			"data": map[string]any{
				"address": externalIP,
				"port":    externalPort,
				"mode":    transportMode,
			},
		},
	})
}

// handleSessionDescription installs the AEAD key and marks the connection
// ready for audio.
func (c *Connection) handleSessionDescription(raw json.RawMessage) error {
	var desc sessionDescriptionPayload
	if err := json.Unmarshal(raw, &desc); err != nil {
		return fmt.Errorf("voice: bad session description: %w", err)
	}

	key := make([]byte, len(desc.SecretKey))
	for i, b := range desc.SecretKey {
		key[i] = byte(b)
	}

	c.mu.Lock()
	udp := c.udp
	c.mu.Unlock()
	if udp == nil {
		return fmt.Errorf("voice: session description before ready")
	}
	if err := udp.SetSecretKey(key); err != nil {
		return err
	}

	c.setState(StateReady)
	c.readyOnce.Do(func() {
		if !c.started.IsZero() {
			observe.DefaultMetrics().VoiceHandshakeDuration.Record(
				context.Background(), time.Since(c.started).Seconds())
		}
		close(c.ready)
	})
	c.log.Info("voice connection ready")
	return nil
}

func metricStatus(status string) metric.MeasurementOption {
	return metric.WithAttributes(observe.Attr("status", status))
}

// heartbeatLoop sends op 3 on the interval announced by HELLO, starting
// from the default until HELLO arrives.
func (c *Connection) heartbeatLoop() {
	ticker := time.NewTicker(defaultHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case interval := <-c.intervalCh:
			ticker.Reset(interval)
		case <-ticker.C:
			beat := map[string]any{
				"op": opHeartbeat,
				"d":  time.Now().UnixMilli(),
			}
			if err := c.writeJSON(beat); err != nil {
				c.log.Debug("heartbeat write failed", "error", err)
				return
			}
		}
	}
}

package voice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"
)

// frameInterval is the wall-clock duration of one Opus frame.
const frameInterval = 20 * time.Millisecond

// readyTimeout caps how long a pacer waits for the voice handshake before
// giving up on the track.
const readyTimeout = 5 * time.Second

// silenceFrame is the Opus silence payload sent after a stream ends so the
// receiver's jitter buffer drains cleanly.
var silenceFrame = []byte{0xF8, 0xFF, 0xFE}

// silenceFrameCount is how many trailing silence frames are transmitted.
const silenceFrameCount = 5

// FrameSource yields successive Opus frames and io.EOF at end of stream.
type FrameSource func() ([]byte, error)

// Pacer transmits the frames of one track over a voice connection at the
// 20 ms cadence. A player runs at most one pacer at a time.
type Pacer struct {
	conn *Connection
	next FrameSource
	log  *slog.Logger

	// Paused, when set, suspends frame transmission while it reports true.
	// Must be assigned before Run.
	Paused func() bool
}

// NewPacer binds a frame source to a voice connection.
func NewPacer(conn *Connection, next FrameSource, log *slog.Logger) *Pacer {
	return &Pacer{
		conn: conn,
		next: next,
		log:  log.With("component", "Player"),
	}
}

// Run plays the stream to completion. It waits for the voice handshake
// first, signals SPEAKING around the stream, and finishes with trailing
// silence. It returns nil on a clean end of stream, ctx.Err() when
// cancelled, and the stream or transport error otherwise.
func (p *Pacer) Run(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	err := p.conn.WaitReady(waitCtx)
	cancel()
	if err != nil {
		p.log.Warn("voice connection not ready, abandoning track", "error", err)
		return err
	}
	udp := p.conn.UDP()

	if err := p.conn.SetSpeaking(true); err != nil {
		p.log.Warn("speaking signal failed", "error", err)
	}
	defer func() {
		if err := p.conn.SetSpeaking(false); err != nil {
			p.log.Debug("speaking clear failed", "error", err)
		}
	}()

	// Sends follow a fixed 20 ms deadline grid rather than a ticker: when
	// the loop falls behind, the timer fires immediately until the grid is
	// caught up, so a late wakeup never shifts the cadence of subsequent
	// frames.
	deadline := time.Now().Add(frameInterval)
	timer := time.NewTimer(frameInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.conn.Done():
			return errors.New("voice: connection lost during playback")
		case <-timer.C:
		}
		deadline = deadline.Add(frameInterval)
		timer.Reset(time.Until(deadline))

		if p.Paused != nil && p.Paused() {
			continue
		}

		frame, err := p.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.sendTrailingSilence(ctx, udp)
				return nil
			}
			p.log.Error("stream read failed", "error", err)
			return err
		}
		if err := udp.SendOpus(frame); err != nil {
			p.log.Error("rtp send failed", "error", err)
			return err
		}
	}
}

// sendTrailingSilence transmits the end-of-stream silence frames at the
// normal frame cadence.
func (p *Pacer) sendTrailingSilence(ctx context.Context, udp *UDPChannel) {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for range silenceFrameCount {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := udp.SendOpus(silenceFrame); err != nil {
			p.log.Debug("silence frame send failed", "error", err)
			return
		}
	}
}

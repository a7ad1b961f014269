// Package player holds the per-guild media state: the current track, the
// voice connection, and the pacer that streams the track's audio.
package player

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aelira-dev/aelira/internal/audio"
	"github.com/aelira-dev/aelira/internal/observe"
	"github.com/aelira-dev/aelira/internal/source"
	"github.com/aelira-dev/aelira/internal/track"
	"github.com/aelira-dev/aelira/internal/voice"
)

// ErrTrackResolution marks a PATCH whose track could not be decoded or
// resolved. The API surfaces it as a 400.
var ErrTrackResolution = errors.New("Track resolution failed")

// frameDuration is how much playback position one Opus frame represents.
const frameDuration = 20 * time.Millisecond

// VoiceState mirrors the voice credentials last supplied by the controller.
type VoiceState struct {
	Token     string `json:"token"`
	Endpoint  string `json:"endpoint"`
	SessionID string `json:"sessionId"`
}

// State is the wire shape of a player's playback state.
type State struct {
	Time      int64  `json:"time"`
	Position  uint64 `json:"position"`
	Connected bool   `json:"connected"`
	Ping      int64  `json:"ping"`
}

// Snapshot is the wire shape of a full player.
type Snapshot struct {
	GuildID string         `json:"guildId"`
	Track   *track.Track   `json:"track"`
	Volume  uint16         `json:"volume"`
	Paused  bool           `json:"paused"`
	State   State          `json:"state"`
	Voice   VoiceState     `json:"voice"`
	Filters map[string]any `json:"filters"`
}

// TrackUpdate is the nested track object of a player PATCH.
type TrackUpdate struct {
	// Encoded distinguishes absent (no change), null (stop) and a string.
	Encoded    json.RawMessage `json:"encoded"`
	Identifier *string         `json:"identifier"`
	UserData   map[string]any  `json:"userData"`
}

// Update is the body of PATCH /v4/sessions/{id}/players/{guildId}.
type Update struct {
	Track        *TrackUpdate    `json:"track"`
	EncodedTrack json.RawMessage `json:"encodedTrack"`
	Identifier   *string         `json:"identifier"`
	Volume       *uint16         `json:"volume"`
	Paused       *bool           `json:"paused"`
	Voice        *VoiceState     `json:"voice"`
}

// Player is the per-guild media state. All mutations go through ApplyUpdate
// and are serialized by the player mutex; the mutex is never held across
// network I/O.
type Player struct {
	guildID string
	userID  string
	sources *source.Registry
	log     *slog.Logger

	mu       sync.Mutex
	track    *track.Track
	volume   uint16
	paused   bool
	voice    *VoiceState
	conn     *voice.Connection
	recon    *voice.Reconnector
	stopPlay context.CancelFunc

	framesSent atomic.Uint64
}

// New creates an idle player for a guild.
func New(guildID, userID string, sources *source.Registry, log *slog.Logger) *Player {
	return &Player{
		guildID: guildID,
		userID:  userID,
		sources: sources,
		volume:  100,
		log:     log.With("component", "Player", "guildId", guildID),
	}
}

// GuildID returns the guild this player belongs to.
func (p *Player) GuildID() string { return p.guildID }

// Snapshot returns the player's wire representation.
func (p *Player) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	var vs VoiceState
	if p.voice != nil {
		vs = *p.voice
	}
	return Snapshot{
		GuildID: p.guildID,
		Track:   p.track,
		Volume:  p.volume,
		Paused:  p.paused,
		State:   p.stateLocked(),
		Voice:   vs,
		Filters: map[string]any{},
	}
}

// StateSnapshot returns the playback state for playerUpdate frames.
func (p *Player) StateSnapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked()
}

func (p *Player) stateLocked() State {
	connected := p.conn != nil && p.conn.State() == voice.StateReady
	return State{
		Time:      time.Now().UnixMilli(),
		Position:  p.framesSent.Load() * uint64(frameDuration.Milliseconds()),
		Connected: connected,
		Ping:      -1,
	}
}

// Playing reports whether a track is loaded.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.track != nil
}

// HasTrack is an alias for Playing used by the stats publisher.
func (p *Player) HasTrack() bool { return p.Playing() }

func (p *Player) isPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// ApplyUpdate applies a PATCH body. Voice credential changes rebuild the
// voice connection; a new track replaces any running playback.
func (p *Player) ApplyUpdate(ctx context.Context, upd Update) error {
	if upd.Voice != nil {
		if err := p.applyVoice(ctx, *upd.Voice); err != nil {
			return err
		}
	}

	p.mu.Lock()
	if upd.Volume != nil {
		p.volume = *upd.Volume
	}
	if upd.Paused != nil {
		p.paused = *upd.Paused
	}
	p.mu.Unlock()

	return p.applyTrack(ctx, upd)
}

// applyVoice rebuilds the voice connection when the credentials changed.
func (p *Player) applyVoice(ctx context.Context, vs VoiceState) error {
	p.mu.Lock()
	unchanged := p.voice != nil && *p.voice == vs
	p.voice = &vs
	old := p.recon
	p.mu.Unlock()

	if unchanged && old != nil {
		return nil
	}
	if old != nil {
		old.Stop()
	}

	recon := voice.NewReconnector(voice.Credentials{
		GuildID:   p.guildID,
		UserID:    p.userID,
		SessionID: vs.SessionID,
		Token:     vs.Token,
		Endpoint:  vs.Endpoint,
	}, p.log)
	recon.OnReconnect = func(c *voice.Connection) {
		p.mu.Lock()
		p.conn = c
		p.mu.Unlock()
	}

	conn, err := recon.Connect(ctx)
	if err != nil {
		p.log.Warn("voice connect failed", "endpoint", vs.Endpoint, "error", err)
		return nil
	}

	p.mu.Lock()
	p.recon = recon
	p.conn = conn
	p.mu.Unlock()
	return nil
}

// applyTrack resolves the PATCH's track reference, if any, and starts
// playback.
func (p *Player) applyTrack(ctx context.Context, upd Update) error {
	encoded, stop, identifier := trackReference(upd)

	switch {
	case stop:
		p.stopPlayback()
		p.mu.Lock()
		hadTrack := p.track != nil
		p.track = nil
		p.mu.Unlock()
		if hadTrack {
			observe.DefaultMetrics().ActivePlayers.Add(ctx, -1)
		}
		return nil

	case encoded != "":
		t, err := track.Decode(encoded)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTrackResolution, err)
		}
		if upd.Track != nil && upd.Track.UserData != nil {
			t.UserData = upd.Track.UserData
		}
		return p.play(t)

	case identifier != "":
		res := p.sources.LoadTracks(ctx, identifier)
		if res.LoadType != source.LoadTypeTrack {
			return fmt.Errorf("%w: identifier %q loaded as %s", ErrTrackResolution, identifier, res.LoadType)
		}
		return p.play(res.Data.(track.Track))

	default:
		return nil
	}
}

// trackReference extracts the track change requested by an update: an
// encoded string, an explicit stop (JSON null), or an identifier.
func trackReference(upd Update) (encoded string, stop bool, identifier string) {
	raw := upd.EncodedTrack
	if upd.Track != nil && upd.Track.Encoded != nil {
		raw = upd.Track.Encoded
	}
	if raw != nil {
		if string(raw) == "null" {
			return "", true, ""
		}
		if json.Unmarshal(raw, &encoded) == nil {
			return encoded, false, ""
		}
	}
	if upd.Track != nil && upd.Track.Identifier != nil {
		return "", false, *upd.Track.Identifier
	}
	if upd.Identifier != nil {
		return "", false, *upd.Identifier
	}
	return "", false, ""
}

// play replaces any running playback with the given track.
func (p *Player) play(t track.Track) error {
	p.stopPlayback()

	p.mu.Lock()
	conn := p.conn
	hadTrack := p.track != nil
	p.track = &t
	p.mu.Unlock()
	p.framesSent.Store(0)
	if !hadTrack {
		observe.DefaultMetrics().ActivePlayers.Add(context.Background(), 1)
	}

	if conn == nil {
		p.log.Warn("track set with no voice connection", "title", t.Info.Title)
		return nil
	}

	src, ok := p.sources.Lookup(t.Info.SourceName)
	if !ok {
		return fmt.Errorf("%w: unknown source %q", ErrTrackResolution, t.Info.SourceName)
	}

	playCtx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.stopPlay = cancel
	p.mu.Unlock()

	go p.stream(playCtx, conn, src, t)
	return nil
}

// stream runs one track's media pipeline to completion.
func (p *Player) stream(ctx context.Context, conn *voice.Connection, src source.Source, t track.Track) {
	body, format, err := src.OpenStream(ctx, t.Info.Identifier)
	if err != nil {
		p.log.Error("stream open failed", "identifier", t.Info.Identifier, "error", err)
		return
	}
	defer body.Close()

	proc, err := audio.NewProcessor(body, format)
	if err != nil {
		p.log.Error("processor setup failed", "format", format, "error", err)
		return
	}

	next := func() ([]byte, error) {
		frame, err := proc.NextPacket()
		if err == nil {
			p.framesSent.Add(1)
		}
		return frame, err
	}

	pacer := voice.NewPacer(conn, next, p.log)
	pacer.Paused = p.isPaused
	if err := pacer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		p.log.Info("playback ended with error", "title", t.Info.Title, "error", err)
		return
	}
	p.log.Debug("playback finished", "title", t.Info.Title)
}

// stopPlayback cancels the running pacer, if any.
func (p *Player) stopPlayback() {
	p.mu.Lock()
	cancel := p.stopPlay
	p.stopPlay = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close stops playback and tears down the voice connection.
func (p *Player) Close() {
	p.stopPlayback()

	p.mu.Lock()
	recon := p.recon
	hadTrack := p.track != nil
	p.recon = nil
	p.conn = nil
	p.track = nil
	p.mu.Unlock()
	if hadTrack {
		observe.DefaultMetrics().ActivePlayers.Add(context.Background(), -1)
	}
	if recon != nil {
		recon.Stop()
	}
}

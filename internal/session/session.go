// Package session tracks the control-plane associations between client
// websockets and this gateway: sessions, their players, and the outbound
// event stream.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/aelira-dev/aelira/internal/observe"
	"github.com/aelira-dev/aelira/internal/player"
	"github.com/aelira-dev/aelira/internal/source"
)

// OutboundBuffer is the per-socket frame buffer. Producers that overflow it
// drop their frame instead of blocking the control plane.
const OutboundBuffer = 64

// Session is one client's control-plane state. The outbound channel always
// points at the currently connected socket; resume swaps it.
type Session struct {
	id         string
	userID     string
	clientName string
	sources    *source.Registry
	log        *slog.Logger

	mu       sync.Mutex
	outbound chan []byte
	players  map[string]*player.Player
}

func newSession(id, userID, clientName string, outbound chan []byte, sources *source.Registry, log *slog.Logger) *Session {
	return &Session{
		id:         id,
		userID:     userID,
		clientName: clientName,
		sources:    sources,
		log:        log.With("component", "Socket", "sessionId", id),
		outbound:   outbound,
		players:    make(map[string]*player.Player),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// UserID returns the bot user id the session authenticated with.
func (s *Session) UserID() string { return s.userID }

// attach swaps the outbound channel to a newly connected socket.
func (s *Session) attach(outbound chan []byte) {
	s.mu.Lock()
	s.outbound = outbound
	s.mu.Unlock()
}

// Send marshals a frame onto the outbound channel. Droppable frames are
// discarded when the client stalls; ready frames always go through.
func (s *Session) Send(frame any, droppable bool) {
	data, err := json.Marshal(frame)
	if err != nil {
		s.log.Error("unmarshalable outbound frame", "error", err)
		return
	}

	s.mu.Lock()
	out := s.outbound
	s.mu.Unlock()

	if droppable {
		select {
		case out <- data:
		default:
			observe.DefaultMetrics().FramesDropped.Add(context.Background(), 1)
			s.log.Debug("outbound channel full, frame dropped")
		}
		return
	}
	out <- data
}

// GetOrCreatePlayer returns the player for a guild, creating it lazily.
func (s *Session) GetOrCreatePlayer(guildID string) *player.Player {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.players[guildID]; ok {
		return p
	}
	p := player.New(guildID, s.userID, s.sources, s.log)
	s.players[guildID] = p
	return p
}

// LookupPlayer returns the player for a guild if it exists.
func (s *Session) LookupPlayer(guildID string) (*player.Player, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[guildID]
	return p, ok
}

// RemovePlayer destroys a player and reports whether it existed.
func (s *Session) RemovePlayer(guildID string) bool {
	s.mu.Lock()
	p, ok := s.players[guildID]
	delete(s.players, guildID)
	s.mu.Unlock()

	if ok {
		p.Close()
	}
	return ok
}

// Players returns a stable snapshot of the session's players, ordered by
// guild id.
func (s *Session) Players() []*player.Player {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*player.Player, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GuildID() < out[j].GuildID() })
	return out
}

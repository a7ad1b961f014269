package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/aelira-dev/aelira/internal/player"
)

// publishInterval is the cadence of the stats and playerUpdate broadcast.
const publishInterval = time.Second

// StatsFunc builds the current stats frame, op field included.
type StatsFunc func() any

// playerUpdateFrame is the wire shape of a playerUpdate event.
type playerUpdateFrame struct {
	Op      string       `json:"op"`
	GuildID string       `json:"guildId"`
	State   player.State `json:"state"`
}

// Publisher broadcasts one stats frame per session and one playerUpdate per
// loaded player, once per second.
type Publisher struct {
	registry *Registry
	stats    StatsFunc
	log      *slog.Logger
}

// NewPublisher wires the broadcast loop to a session registry.
func NewPublisher(registry *Registry, stats StatsFunc, log *slog.Logger) *Publisher {
	return &Publisher{
		registry: registry,
		stats:    stats,
		log:      log.With("component", "Server"),
	}
}

// Run broadcasts until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(publishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.publishOnce()
		}
	}
}

func (p *Publisher) publishOnce() {
	stats := p.stats()
	for _, s := range p.registry.All() {
		s.Send(stats, true)
		for _, pl := range s.Players() {
			if !pl.HasTrack() {
				continue
			}
			s.Send(playerUpdateFrame{
				Op:      "playerUpdate",
				GuildID: pl.GuildID(),
				State:   pl.StateSnapshot(),
			}, true)
		}
	}
}

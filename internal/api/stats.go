package api

import (
	"github.com/aelira-dev/aelira/internal/session"
	"github.com/aelira-dev/aelira/internal/sysmon"
)

// BuildStats counts players across all sessions and assembles the stats
// payload.
func BuildStats(sessions *session.Registry, sampler *sysmon.Sampler) sysmon.Stats {
	players, playing := 0, 0
	for _, sess := range sessions.All() {
		for _, p := range sess.Players() {
			players++
			if p.HasTrack() {
				playing++
			}
		}
	}
	return sampler.Snapshot(players, playing)
}

// StatsFrame is the websocket flavour of the stats payload.
type StatsFrame struct {
	Op string `json:"op"`
	sysmon.Stats
}

// BuildStatsFrame assembles a stats frame for the 1 Hz publisher.
func BuildStatsFrame(sessions *session.Registry, sampler *sysmon.Sampler) any {
	return StatsFrame{Op: "stats", Stats: BuildStats(sessions, sampler)}
}

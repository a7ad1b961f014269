// Package sysmon samples system and process load for the stats surface.
package sysmon

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

const sampleInterval = time.Second

// Memory is the stats memory block, in bytes.
type Memory struct {
	Free       uint64 `json:"free"`
	Used       uint64 `json:"used"`
	Allocated  uint64 `json:"allocated"`
	Reservable uint64 `json:"reservable"`
}

// CPU is the stats cpu block. Loads are fractions in [0, 1].
type CPU struct {
	Cores      int     `json:"cores"`
	SystemLoad float64 `json:"systemLoad"`
	AeliraLoad float64 `json:"aeliraLoad"`
}

// Stats is the wire shape served by /v4/stats and the stats websocket frame.
type Stats struct {
	Players        int    `json:"players"`
	PlayingPlayers int    `json:"playingPlayers"`
	Uptime         int64  `json:"uptime"`
	Memory         Memory `json:"memory"`
	CPU            CPU    `json:"cpu"`
	FrameStats     any    `json:"frameStats"`
}

// Sampler keeps a 1 Hz refreshed view of system load. CPU percentages need
// two observation points, so loads read zero until the second sample.
type Sampler struct {
	started time.Time
	proc    *process.Process
	log     *slog.Logger

	mu          sync.Mutex
	systemLoad  float64
	processLoad float64
}

// NewSampler binds a sampler to the current process.
func NewSampler(log *slog.Logger) *Sampler {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warn("process handle unavailable, process load reads zero", "error", err)
	}
	return &Sampler{
		started: time.Now(),
		proc:    proc,
		log:     log.With("component", "Server"),
	}
}

// Run refreshes the load readings once per second until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	s.refresh()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.refresh()
		}
	}
}

// refresh reads CPU usage since the previous call.
func (s *Sampler) refresh() {
	var system, proc float64

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		system = percents[0] / 100
	}
	if s.proc != nil {
		if percent, err := s.proc.Percent(0); err == nil {
			proc = percent / 100 / float64(runtime.NumCPU())
		}
	}

	s.mu.Lock()
	s.systemLoad = system
	s.processLoad = proc
	s.mu.Unlock()
}

// Snapshot assembles a stats payload for the given player counts.
func (s *Sampler) Snapshot(players, playingPlayers int) Stats {
	s.mu.Lock()
	systemLoad := s.systemLoad
	processLoad := s.processLoad
	s.mu.Unlock()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	memory := Memory{Allocated: ms.Sys, Used: ms.HeapInuse}
	if vm, err := mem.VirtualMemory(); err == nil {
		memory.Free = vm.Available
		memory.Reservable = vm.Total
	}

	return Stats{
		Players:        players,
		PlayingPlayers: playingPlayers,
		Uptime:         time.Since(s.started).Milliseconds(),
		Memory:         memory,
		CPU: CPU{
			Cores:      runtime.NumCPU(),
			SystemLoad: systemLoad,
			AeliraLoad: processLoad,
		},
		FrameStats: nil,
	}
}

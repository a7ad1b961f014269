// Package routeplanner tracks source addresses that upstream services have
// rate limited, mirroring the Lavalink route planner surface. This gateway
// ships without IP rotation, so the status endpoint reports absence until a
// planner class is configured, but the failing-address bookkeeping is live.
package routeplanner

import (
	"sync"
	"time"
)

// FailingAddress records one banned address.
type FailingAddress struct {
	Address     string `json:"failingAddress"`
	Timestamp   int64  `json:"failingTimestamp"`
	FailingTime string `json:"failingTime"`
}

// Status is the wire shape of GET /v4/routeplanner/status.
type Status struct {
	Class   *string       `json:"class"`
	Details *StatusDetail `json:"details"`
}

// StatusDetail carries the planner-specific fields.
type StatusDetail struct {
	FailingAddresses []FailingAddress `json:"failingAddresses"`
}

// Planner is the process-wide failing-address table.
type Planner struct {
	mu      sync.Mutex
	class   string
	failing map[string]time.Time
}

// New returns a planner. class is empty when no rotation is configured.
func New(class string) *Planner {
	return &Planner{
		class:   class,
		failing: make(map[string]time.Time),
	}
}

// Configured reports whether a planner class is active.
func (p *Planner) Configured() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.class != ""
}

// Status returns the planner status, or ok=false when no planner is
// configured and the endpoint should answer 204.
func (p *Planner) Status() (Status, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.class == "" {
		return Status{}, false
	}

	addresses := make([]FailingAddress, 0, len(p.failing))
	for addr, when := range p.failing {
		addresses = append(addresses, FailingAddress{
			Address:     addr,
			Timestamp:   when.UnixMilli(),
			FailingTime: when.UTC().Format(time.RFC3339),
		})
	}
	class := p.class
	return Status{Class: &class, Details: &StatusDetail{FailingAddresses: addresses}}, true
}

// MarkFailing records an address as rate limited.
func (p *Planner) MarkFailing(address string) {
	p.mu.Lock()
	p.failing[address] = time.Now()
	p.mu.Unlock()
}

// FreeAddress removes one address from the failing table.
func (p *Planner) FreeAddress(address string) {
	p.mu.Lock()
	delete(p.failing, address)
	p.mu.Unlock()
}

// FreeAll clears the failing table.
func (p *Planner) FreeAll() {
	p.mu.Lock()
	p.failing = make(map[string]time.Time)
	p.mu.Unlock()
}

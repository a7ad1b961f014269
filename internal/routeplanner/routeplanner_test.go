package routeplanner_test

import (
	"testing"

	"github.com/aelira-dev/aelira/internal/routeplanner"
)

func TestUnconfiguredPlannerHasNoStatus(t *testing.T) {
	t.Parallel()

	p := routeplanner.New("")
	if p.Configured() {
		t.Error("empty class reports configured")
	}
	if _, ok := p.Status(); ok {
		t.Error("empty class reports a status")
	}
}

func TestStatusReportsFailingAddresses(t *testing.T) {
	t.Parallel()

	p := routeplanner.New("RotatingIpRoutePlanner")
	p.MarkFailing("203.0.113.7")

	status, ok := p.Status()
	if !ok {
		t.Fatal("configured planner reports no status")
	}
	if status.Class == nil || *status.Class != "RotatingIpRoutePlanner" {
		t.Errorf("class = %v", status.Class)
	}
	if len(status.Details.FailingAddresses) != 1 {
		t.Fatalf("got %d failing addresses, want 1", len(status.Details.FailingAddresses))
	}
	addr := status.Details.FailingAddresses[0]
	if addr.Address != "203.0.113.7" {
		t.Errorf("address = %q", addr.Address)
	}
	if addr.Timestamp == 0 || addr.FailingTime == "" {
		t.Errorf("timestamps not populated: %+v", addr)
	}
}

func TestFreeAddressAndFreeAll(t *testing.T) {
	t.Parallel()

	p := routeplanner.New("RotatingIpRoutePlanner")
	p.MarkFailing("203.0.113.7")
	p.MarkFailing("203.0.113.8")

	p.FreeAddress("203.0.113.7")
	status, _ := p.Status()
	if len(status.Details.FailingAddresses) != 1 {
		t.Fatalf("got %d failing addresses after free, want 1", len(status.Details.FailingAddresses))
	}

	p.FreeAll()
	status, _ = p.Status()
	if len(status.Details.FailingAddresses) != 0 {
		t.Errorf("got %d failing addresses after free all, want 0", len(status.Details.FailingAddresses))
	}
}

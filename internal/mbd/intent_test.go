package mbd

import (
	"testing"

	"github.com/nerrad567/pyde1-core/internal/domain"
)

func TestCoalescesSameTarget(t *testing.T) {
	i := Intent{Current: domain.StateCapturing, Desired: domain.StateCaptured}
	if !i.Coalesces(domain.StateCaptured) {
		t.Fatal("expected second capture() to coalesce with in-flight desired")
	}
}

func TestNeedsCancelOnOppositeTarget(t *testing.T) {
	i := Intent{Current: domain.StateCapturing, Desired: domain.StateCaptured}
	if !i.NeedsCancel(domain.StateReleased) {
		t.Fatal("release() while capturing should require cancelling the in-flight capture")
	}
}

func TestNoCancelWhenAlreadyHeadingThere(t *testing.T) {
	i := Intent{Current: domain.StateReleasing, Desired: domain.StateReleased}
	if i.NeedsCancel(domain.StateReleased) {
		t.Fatal("a second release() should not need to cancel anything")
	}
}

func TestConnectivityMapping(t *testing.T) {
	cases := []struct {
		state domain.LifecycleState
		want  domain.ConnectivityState
	}{
		{domain.StateReleased, domain.ConnNotConnected},
		{domain.StateCapturing, domain.ConnConnecting},
		{domain.StateCaptured, domain.ConnConnected},
		{domain.StateReleasing, domain.ConnDisconnecting},
	}
	for _, c := range cases {
		got := connectivityFor(Intent{Current: c.state})
		if got != c.want {
			t.Errorf("connectivityFor(%v) = %v, want %v", c.state, got, c.want)
		}
	}
}

func TestAvailabilityReadyOnlyWhenCaptured(t *testing.T) {
	a := availabilityFor(domain.RoleScale, Intent{Current: domain.StateCapturing}, true, "AA:BB", "")
	if a.Ready {
		t.Fatal("must not report ready while still capturing")
	}
	a = availabilityFor(domain.RoleScale, Intent{Current: domain.StateCaptured}, true, "AA:BB", "")
	if !a.Ready {
		t.Fatal("expected ready once captured and post-init complete")
	}
}

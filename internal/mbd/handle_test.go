package mbd

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/pyde1-core/internal/ble/sim"
	"github.com/nerrad567/pyde1-core/internal/domain"
	"github.com/nerrad567/pyde1-core/internal/eventbus"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func newTestHandle() (*Handle, *sim.Central) {
	central := sim.NewCentral()
	central.Register(sim.Device{Address: "AA:BB:CC"})
	cfg := DefaultConfig()
	cfg.ConnectTimeout = 200 * time.Millisecond
	cfg.ReconnectGap = 20 * time.Millisecond
	cfg.ReconnectRetryCount = 3
	bus := eventbus.New(nil, nil)
	h := New(domain.RoleScale, central, nil, nil, nil, bus, cfg)
	return h, central
}

func TestCaptureRequiresAddress(t *testing.T) {
	h, _ := newTestHandle()
	h2 := New(domain.RoleScale, nil, nil, nil, nil, nil, DefaultConfig())
	_ = h
	if err := h2.Capture(context.Background()); err != ErrNoAddress {
		t.Fatalf("got %v, want ErrNoAddress", err)
	}
}

func TestAssignSameAddressIsNoOp(t *testing.T) {
	h, _ := newTestHandle()
	addr := "AA:BB:CC"
	if err := h.AssignAddress(context.Background(), &addr); err != nil {
		t.Fatal(err)
	}
	if err := h.AssignAddress(context.Background(), &addr); err != nil {
		t.Fatal(err)
	}
}

func TestCaptureThenReady(t *testing.T) {
	h, _ := newTestHandle()
	addr := "AA:BB:CC"
	if err := h.AssignAddress(context.Background(), &addr); err != nil {
		t.Fatal(err)
	}
	if err := h.Capture(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, h.IsReady)
}

func TestIntentCoalescing(t *testing.T) {
	// spec §8 scenario 4: assign_address(A); capture(); capture(); release()
	h, _ := newTestHandle()
	addr := "AA:BB:CC"
	if err := h.AssignAddress(context.Background(), &addr); err != nil {
		t.Fatal(err)
	}
	if err := h.Capture(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.Capture(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.Release(context.Background()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, time.Second, func() bool {
		return h.Snapshot().Current == domain.StateReleased
	})
}

func TestReleaseDuringCaptureCancelsReconnectLoop(t *testing.T) {
	h, central := newTestHandle()
	central.SetFailConnects("AA:BB:CC", true)
	addr := "AA:BB:CC"
	if err := h.AssignAddress(context.Background(), &addr); err != nil {
		t.Fatal(err)
	}
	if err := h.Capture(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)
	if err := h.Release(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool {
		return h.Snapshot().Current == domain.StateReleased
	})
}

func TestUnexpectedDisconnectReconnects(t *testing.T) {
	h, _ := newTestHandle()
	addr := "AA:BB:CC"
	if err := h.AssignAddress(context.Background(), &addr); err != nil {
		t.Fatal(err)
	}
	if err := h.Capture(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, h.IsReady)

	h.mu.Lock()
	session := h.session.(*sim.Session)
	h.mu.Unlock()

	session.Drop()

	waitFor(t, time.Second, func() bool {
		return h.Snapshot().Current == domain.StateCapturing || h.IsReady()
	})
	waitFor(t, time.Second, h.IsReady)
}

func TestReconnectRetriesIndefinitelyPastRetryCount(t *testing.T) {
	h, central := newTestHandle()
	central.SetFailConnects("AA:BB:CC", true)
	addr := "AA:BB:CC"
	if err := h.AssignAddress(context.Background(), &addr); err != nil {
		t.Fatal(err)
	}
	if err := h.Capture(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Outlast a full ReconnectRetryCount-bounded round: with these settings
	// attempts run at about 0, 200, 600 (then the gap) and 620 ms, so by
	// 750 ms the loop has started its next round. spec §4.B says this
	// repeats indefinitely rather than giving up and releasing.
	time.Sleep(750 * time.Millisecond)
	if h.Snapshot().Current == domain.StateReleased {
		t.Fatal("expected indefinite retry, but handle gave up and released")
	}

	central.SetFailConnects("AA:BB:CC", false)
	waitFor(t, time.Second, h.IsReady)
}

func TestSleepingDE1ReleasesScaleInsteadOfReconnecting(t *testing.T) {
	h, central := newTestHandle()
	central.SetFailConnects("AA:BB:CC", true)
	bus := eventbus.New(nil, nil)
	tracker := NewDE1SleepTracker(bus)
	h.SetDE1SleepChecker(tracker)

	addr := "AA:BB:CC"
	if err := h.AssignAddress(context.Background(), &addr); err != nil {
		t.Fatal(err)
	}
	if err := h.Capture(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)

	bus.Publish(domain.Event{Kind: domain.KindStateUpdate, Sender: "de1",
		Payload: domain.StateUpdatePayload{State: domain.MachineSleep}})

	waitFor(t, time.Second, func() bool {
		return h.Snapshot().Current == domain.StateReleased
	})
}

func TestAssignNilForgetsDevice(t *testing.T) {
	h, _ := newTestHandle()
	addr := "AA:BB:CC"
	if err := h.AssignAddress(context.Background(), &addr); err != nil {
		t.Fatal(err)
	}
	if err := h.Capture(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, h.IsReady)

	if err := h.AssignAddress(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool {
		snap := h.Snapshot()
		return snap.Current == domain.StateReleased && snap.Class == domain.ClassGeneric
	})
}

package mbd

import (
	"sync"

	"github.com/nerrad567/pyde1-core/internal/domain"
	"github.com/nerrad567/pyde1-core/internal/eventbus"
)

// DE1SleepChecker lets a non-DE1 Handle short-circuit its reconnect loop
// when the DE1 itself is Sleeping (spec §4.B).
type DE1SleepChecker interface {
	DE1Sleeping() bool
}

// DE1SleepTracker implements DE1SleepChecker by watching StateUpdate events
// for the DE1's coarse MachineState. One tracker is shared by the Scale and
// Thermometer handles.
type DE1SleepTracker struct {
	mu       sync.Mutex
	sleeping bool
}

// NewDE1SleepTracker subscribes to bus and returns a tracker ready to
// answer DE1Sleeping.
func NewDE1SleepTracker(bus *eventbus.Bus) *DE1SleepTracker {
	t := &DE1SleepTracker{}
	bus.Subscribe(domain.KindStateUpdate, t.handle)
	return t
}

func (t *DE1SleepTracker) handle(ev domain.Event) {
	p, ok := ev.Payload.(domain.StateUpdatePayload)
	if !ok {
		return
	}
	t.mu.Lock()
	t.sleeping = p.State == domain.MachineSleep
	t.mu.Unlock()
}

// DE1Sleeping reports whether the most recently observed DE1 MachineState
// is Sleep.
func (t *DE1SleepTracker) DE1Sleeping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sleeping
}

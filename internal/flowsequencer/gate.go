// Package flowsequencer implements the shot-lifecycle state machine (spec
// §4.D): gate notifications, stop-at-time/volume/weight policy, auto-tare,
// and the sequence watchdog. It is grounded behaviourally on
// flow_sequencer.py's gate/subtask structure, reimplemented with goroutines
// and channel-based gates instead of asyncio.Event and named-task
// cancellation, and structurally on internal/automation/engine.go's
// orchestration-over-registry-and-repo shape.
package flowsequencer

import (
	"sync"

	"github.com/nerrad567/pyde1-core/internal/domain"
)

// gate is a one-shot latch: Set fires exactly once per sequence, and Wait
// returns immediately for any caller after that, mirroring the
// set-once-then-everyone-proceeds semantics of an asyncio.Event without its
// loop-affinity.
type gate struct {
	mu   sync.Mutex
	ch   chan struct{}
	fired bool
}

func newGate() *gate {
	return &gate{ch: make(chan struct{})}
}

// set fires the gate if it has not already fired. Returns true if this call
// did the firing.
func (g *gate) set() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fired {
		return false
	}
	g.fired = true
	close(g.ch)
	return true
}

func (g *gate) isSet() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fired
}

// wait returns a channel that closes when the gate fires.
func (g *gate) wait() <-chan struct{} {
	return g.ch
}

// gateSet bundles the eight per-sequence gates (spec §3 "Gate") in their
// canonical lifecycle order, plus bookkeeping to re-arm a fresh set for each
// new sequence.
type gateSet struct {
	gates map[domain.GateName]*gate
}

func newGateSet() *gateSet {
	gs := &gateSet{gates: make(map[domain.GateName]*gate, len(domain.AllGates()))}
	for _, name := range domain.AllGates() {
		gs.gates[name] = newGate()
	}
	return gs
}

func (gs *gateSet) get(name domain.GateName) *gate { return gs.gates[name] }

// allSet reports whether every gate named in names has fired.
func (gs *gateSet) allSet(names ...domain.GateName) bool {
	for _, n := range names {
		if !gs.get(n).isSet() {
			return false
		}
	}
	return true
}

package flowsequencer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/pyde1-core/internal/domain"
	"github.com/nerrad567/pyde1-core/internal/eventbus"
)

type fakeScale struct {
	mu      sync.Mutex
	ready   bool
	tareErr error
	tareN   int
}

func (f *fakeScale) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeScale) Tare(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tareN++
	return f.tareErr
}

type fakeDE1 struct {
	mu       sync.Mutex
	requests []domain.MachineState
}

func (f *fakeDE1) RequestState(ctx context.Context, state domain.MachineState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, state)
	return nil
}

func (f *fakeDE1) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// collector records every event of a given kind published on a bus.
type collector struct {
	mu     sync.Mutex
	events []domain.Event
}

func (c *collector) handle(ev domain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) snapshot() []domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Event(nil), c.events...)
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func newTestSequencer(t *testing.T, scale *fakeScale, de1 *fakeDE1) (*Sequencer, *eventbus.Bus, *collector, *collector) {
	t.Helper()
	bus := eventbus.New(nil, nil)
	gates := &collector{}
	stops := &collector{}
	bus.Subscribe(domain.KindSequencerGate, gates.handle)
	bus.Subscribe(domain.KindStopAt, stops.handle)

	cfg := map[domain.MachineState]StateConfig{
		domain.MachineEspresso: {
			StopAtTimeSeconds:           floatPtr(1.0),
			FirstDropsThreshold:         0.1,
			LastDropsMinimumTimeSeconds: 0.02,
		},
	}
	s := New(bus, scale, de1, Options{Configs: cfg, WatchdogTimeout: time.Second})
	return s, bus, gates, stops
}

func floatPtr(v float64) *float64 { return &v }

func gateNamed(events []domain.Event, name domain.GateName, state domain.GateState) bool {
	for _, e := range events {
		p, ok := e.Payload.(domain.SequencerGatePayload)
		if ok && p.Gate == name && p.State == state {
			return true
		}
	}
	return false
}

func TestSequenceStartFiresOnEnteringActiveState(t *testing.T) {
	scale := &fakeScale{}
	de1 := &fakeDE1{}
	s, bus, gates, _ := newTestSequencer(t, scale, de1)
	defer s.Close()

	bus.Publish(domain.Event{Kind: domain.KindStateUpdate, Sender: "de1",
		Payload: domain.StateUpdatePayload{State: domain.MachineEspresso, Substate: domain.SubstatePreInfuse}})

	waitUntil(t, func() bool { return gateNamed(gates.snapshot(), domain.GateSequenceStart, domain.GateSet) })
	if s.ActiveSequenceID() == "" {
		t.Fatal("expected an active sequence id")
	}
}

func TestFlowBeginFiresOnFirstQualifyingSample(t *testing.T) {
	scale := &fakeScale{}
	de1 := &fakeDE1{}
	s, bus, gates, _ := newTestSequencer(t, scale, de1)
	defer s.Close()

	bus.Publish(domain.Event{Kind: domain.KindStateUpdate, Sender: "de1",
		Payload: domain.StateUpdatePayload{State: domain.MachineEspresso, Substate: domain.SubstatePreInfuse}})
	waitUntil(t, func() bool { return s.ActiveSequenceID() != "" })

	bus.Publish(domain.Event{Kind: domain.KindShotSample, Sender: "de1",
		Payload: domain.ShotSamplePayload{SampleTime: time.Now(), FlowRate: 0.05}})
	bus.Publish(domain.Event{Kind: domain.KindShotSample, Sender: "de1",
		Payload: domain.ShotSamplePayload{SampleTime: time.Now(), FlowRate: 1.0}})

	waitUntil(t, func() bool { return gateNamed(gates.snapshot(), domain.GateFlowBegin, domain.GateSet) })
	waitUntil(t, func() bool { return gateNamed(gates.snapshot(), domain.GateExpectDrops, domain.GateSet) })
}

func TestStopAtTimeTriggersAndRequestsIdle(t *testing.T) {
	scale := &fakeScale{}
	de1 := &fakeDE1{}
	s, bus, _, stops := newTestSequencer(t, scale, de1)
	defer s.Close()

	bus.Publish(domain.Event{Kind: domain.KindStateUpdate, Sender: "de1",
		Payload: domain.StateUpdatePayload{State: domain.MachineEspresso, Substate: domain.SubstatePreInfuse}})
	waitUntil(t, func() bool { return s.ActiveSequenceID() != "" })

	start := time.Now()
	bus.Publish(domain.Event{Kind: domain.KindShotSample, Sender: "de1",
		Payload: domain.ShotSamplePayload{SampleTime: start, FlowRate: 1.0}})
	bus.Publish(domain.Event{Kind: domain.KindShotSample, Sender: "de1",
		Payload: domain.ShotSamplePayload{SampleTime: start.Add(1500 * time.Millisecond), FlowRate: 1.0}})

	waitUntil(t, func() bool { return len(stops.snapshot()) > 0 })
	waitUntil(t, func() bool { return de1.requestCount() > 0 })
}

func TestCompletesOnFlowStateExitAndLastDrops(t *testing.T) {
	scale := &fakeScale{}
	de1 := &fakeDE1{}
	s, bus, gates, _ := newTestSequencer(t, scale, de1)
	defer s.Close()

	bus.Publish(domain.Event{Kind: domain.KindStateUpdate, Sender: "de1",
		Payload: domain.StateUpdatePayload{State: domain.MachineEspresso, Substate: domain.SubstatePreInfuse}})
	waitUntil(t, func() bool { return s.ActiveSequenceID() != "" })

	bus.Publish(domain.Event{Kind: domain.KindStateUpdate, Sender: "de1",
		Payload: domain.StateUpdatePayload{State: domain.MachineEspresso, Substate: domain.SubstateEnding}})
	bus.Publish(domain.Event{Kind: domain.KindStateUpdate, Sender: "de1",
		Payload: domain.StateUpdatePayload{State: domain.MachineIdle, Substate: domain.SubstateIdle}})

	waitUntil(t, func() bool { return gateNamed(gates.snapshot(), domain.GateSequenceComplete, domain.GateSet) })
	waitUntil(t, func() bool { return s.ActiveSequenceID() == "" })
}

func TestAutoTareFiresWhenScaleReady(t *testing.T) {
	scale := &fakeScale{ready: true}
	de1 := &fakeDE1{}
	bus := eventbus.New(nil, nil)
	autotare := &collector{}
	bus.Subscribe(domain.KindAutoTare, autotare.handle)

	s := New(bus, scale, de1, Options{Configs: DefaultStateConfigs()})
	defer s.Close()

	bus.Publish(domain.Event{Kind: domain.KindStateUpdate, Sender: "de1",
		Payload: domain.StateUpdatePayload{State: domain.MachineEspresso}})

	waitUntil(t, func() bool {
		for _, e := range autotare.snapshot() {
			if p, ok := e.Payload.(domain.AutoTarePayload); ok && p.Action == domain.AutoTareEnabled {
				return true
			}
		}
		return false
	})
	waitUntil(t, func() bool {
		scale.mu.Lock()
		defer scale.mu.Unlock()
		return scale.tareN > 0
	})
}

func TestStopAtWeightTriggersAtSpecWorkedExample(t *testing.T) {
	scale := &fakeScale{ready: true}
	de1 := &fakeDE1{}
	bus := eventbus.New(nil, nil)
	stops := &collector{}
	bus.Subscribe(domain.KindStopAt, stops.handle)

	target := 46.0
	cfg := map[domain.MachineState]StateConfig{
		domain.MachineEspresso: {
			StopAtWeightGrams:           &target,
			FirstDropsThreshold:         0.1,
			LastDropsMinimumTimeSeconds: 0.02,
		},
	}
	s := New(bus, scale, de1, Options{Configs: cfg, StopAtWeightAdjustSecs: -0.07, WatchdogTimeout: time.Second})
	defer s.Close()

	bus.Publish(domain.Event{Kind: domain.KindStateUpdate, Sender: "de1",
		Payload: domain.StateUpdatePayload{State: domain.MachineEspresso, Substate: domain.SubstatePreInfuse}})
	waitUntil(t, func() bool { return s.ActiveSequenceID() != "" })

	bus.Publish(domain.Event{Kind: domain.KindShotSample, Sender: "de1",
		Payload: domain.ShotSamplePayload{SampleTime: time.Now(), FlowRate: 1.0}})
	waitUntil(t, func() bool { return len(stops.snapshot()) == 0 })

	// spec.md §8 scenario 2: target 46.0g, STOP_AT_WEIGHT_ADJUST -0.07s, flow
	// 2.0 mL/s trigger at current_weight 45.86g, not before.
	bus.Publish(domain.Event{Kind: domain.KindWeightAndFlow, Sender: "scale",
		Payload: domain.WeightAndFlowPayload{Weight: 45.85, FlowRate: 2.0}})
	time.Sleep(20 * time.Millisecond)
	if len(stops.snapshot()) != 0 {
		t.Fatal("expected no stop-at-weight trigger below 45.86g")
	}

	bus.Publish(domain.Event{Kind: domain.KindWeightAndFlow, Sender: "scale",
		Payload: domain.WeightAndFlowPayload{Weight: 45.86, FlowRate: 2.0}})
	waitUntil(t, func() bool { return len(stops.snapshot()) == 1 })

	ev := stops.snapshot()[0]
	p, ok := ev.Payload.(domain.StopAtPayload)
	if !ok {
		t.Fatalf("expected StopAtPayload, got %T", ev.Payload)
	}
	if p.Kind != domain.StopWeight || p.Target != 46.0 {
		t.Fatalf("got %+v", p)
	}
	waitUntil(t, func() bool { return de1.requestCount() > 0 })

	// A second qualifying sample must not fire a second trigger.
	bus.Publish(domain.Event{Kind: domain.KindWeightAndFlow, Sender: "scale",
		Payload: domain.WeightAndFlowPayload{Weight: 46.5, FlowRate: 2.0}})
	time.Sleep(20 * time.Millisecond)
	if len(stops.snapshot()) != 1 {
		t.Fatal("expected stop-at-weight to trigger exactly once per sequence")
	}
}

func TestDeviceLostClosesSequence(t *testing.T) {
	scale := &fakeScale{}
	de1 := &fakeDE1{}
	s, bus, gates, _ := newTestSequencer(t, scale, de1)
	defer s.Close()

	bus.Publish(domain.Event{Kind: domain.KindStateUpdate, Sender: "de1",
		Payload: domain.StateUpdatePayload{State: domain.MachineEspresso}})
	waitUntil(t, func() bool { return s.ActiveSequenceID() != "" })

	bus.Publish(domain.Event{Kind: domain.KindDeviceAvailability, Sender: "mbd",
		Payload: domain.DeviceAvailability{Role: domain.RoleDE1, State: domain.StateReleased}})

	waitUntil(t, func() bool {
		for _, e := range gates.snapshot() {
			if p, ok := e.Payload.(domain.SequencerGatePayload); ok &&
				p.Gate == domain.GateSequenceComplete && p.Reason == "device_lost" {
				return true
			}
		}
		return false
	})
}

package flowsequencer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/pyde1-core/internal/domain"
	"github.com/nerrad567/pyde1-core/internal/eventbus"
)

// ErrGHCActive and ErrUnsupportedNonGHCState are returned by
// RequestNonGHCStart.
var (
	// ErrGHCActive is returned when an API-initiated start is requested
	// but the DE1 has a Group-Head-Controller: the DE1 itself is the
	// trigger in that mode, and the FlowSequencer is a pure observer
	// (spec §4.D "Non-GHC start").
	ErrGHCActive = errors.New("flowsequencer: DE1 has a group-head controller, API-initiated start is not permitted")
	// ErrUnsupportedNonGHCState is returned when the requested state is
	// not one of the states spec §4.D names as eligible for an
	// API-initiated trigger.
	ErrUnsupportedNonGHCState = errors.New("flowsequencer: state is not eligible for an API-initiated start")
)

// Bus is the narrow seam Sequencer depends on; *eventbus.Bus satisfies it.
type Bus interface {
	Subscribe(kind domain.EventKind, handler eventbus.Handler) eventbus.Subscription
	Unsubscribe(eventbus.Subscription)
	Publish(domain.Event)
}

// Scale is the narrow seam for the auto-tare action and SAW readiness
// check; internal/mbd.Handle (role Scale) satisfies the readiness half,
// with Tare wired in by the caller that owns the scale's GATT session.
type Scale interface {
	IsReady() bool
	Tare(ctx context.Context) error
}

// DE1 is the narrow seam for issuing a state request in response to a stop
// condition firing.
type DE1 interface {
	RequestState(ctx context.Context, state domain.MachineState) error
}

// Logger is the narrow logging interface, following this codebase's
// per-package Logger + noopLogger convention.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Sequencer beyond its per-state table.
type Options struct {
	Configs                map[domain.MachineState]StateConfig
	WatchdogTimeout        time.Duration // spec §4.D SEQUENCE_WATCHDOG_TIMEOUT, default 270s
	StopAtWeightAdjustSecs float64       // spec §4.D STOP_AT_WEIGHT_ADJUST
	GHCActive              bool          // spec §4.D "Non-GHC start"
	Clock                  domain.Clock
}

func (o Options) withDefaults() Options {
	if o.Configs == nil {
		o.Configs = DefaultStateConfigs()
	}
	if o.WatchdogTimeout == 0 {
		o.WatchdogTimeout = 270 * time.Second
	}
	if o.Clock == nil {
		o.Clock = domain.RealClock{}
	}
	return o
}

// activeSequence holds the mutable state of the one in-flight sequence, if
// any. Sequencer holds at most one at a time (spec §4.D is explicit that a
// sequence spans a single admission of an active_state).
type activeSequence struct {
	id          string
	activeState domain.MachineState
	cfg         StateConfig
	gates       *gateSet

	startSeq, startFlow, endFlow, endSeq time.Time
	lastSubstate                         domain.Substate
	flowBegan                            bool
	volumePour                           float64

	stopTimeTriggered, stopVolumeTriggered, stopWeightTriggered bool
	sawDisabledWarned                                           bool

	watchdogTimer  *time.Timer
	lastDropsTimer *time.Timer
}

// Sequencer is the FlowSequencer component (spec §4.D). It subscribes to
// StateUpdate, ShotSample, WeightAndFlow and DeviceAvailability events,
// drives the gate lifecycle, enforces stop-at policy, and publishes its own
// gate/stop-at/auto-tare events back onto the bus.
type Sequencer struct {
	bus    Bus
	scale  Scale
	de1    DE1
	logger Logger
	opts   Options

	mu     sync.Mutex
	active *activeSequence

	subs []eventbus.Subscription
}

// New constructs a Sequencer and subscribes it to the bus. Call Close to
// unsubscribe.
func New(bus Bus, scale Scale, de1 DE1, opts Options) *Sequencer {
	s := &Sequencer{
		bus:    bus,
		scale:  scale,
		de1:    de1,
		logger: noopLogger{},
		opts:   opts.withDefaults(),
	}
	s.subs = append(s.subs,
		bus.Subscribe(domain.KindStateUpdate, s.handleStateUpdate),
		bus.Subscribe(domain.KindShotSample, s.handleShotSample),
		bus.Subscribe(domain.KindWeightAndFlow, s.handleWeightAndFlow),
		bus.Subscribe(domain.KindDeviceAvailability, s.handleDeviceAvailability),
	)
	return s
}

func (s *Sequencer) SetLogger(l Logger) { s.logger = l }

// Close unsubscribes from the bus. It does not force-close an in-flight
// sequence.
func (s *Sequencer) Close() {
	for _, sub := range s.subs {
		s.bus.Unsubscribe(sub)
	}
}

// ActiveSequenceID returns the id of the in-flight sequence, or "" if none.
func (s *Sequencer) ActiveSequenceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ""
	}
	return s.active.id
}

func (s *Sequencer) now() time.Time { return s.opts.Clock.Now() }

func (s *Sequencer) publish(kind domain.EventKind, seqID string, payload any) {
	s.bus.Publish(domain.Event{
		Kind:       kind,
		Sender:     "flowsequencer",
		Version:    "1.0.0",
		CreateTime: s.now(),
		SequenceID: seqID,
		Payload:    payload,
	})
}

// handleStateUpdate implements the gate lifecycle's state-driven steps 1-2
// and 4-7 (spec §4.D). Step 3 (FlowBegin/ExpectDrops on first sample) lives
// in handleShotSample.
func (s *Sequencer) handleStateUpdate(ev domain.Event) {
	payload, ok := ev.Payload.(domain.StateUpdatePayload)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	active := domain.IsActiveState(payload.State)

	if active {
		if s.active == nil {
			s.startSequence(payload.State)
		}
		if s.active != nil {
			s.observeSubstate(s.active, payload.Substate)
		}
		return
	}

	if s.active != nil {
		s.onActiveStateExit(s.active)
	}
}

// startSequence implements gate-lifecycle steps 1-2 and the auto-tare
// decision.
func (s *Sequencer) startSequence(state domain.MachineState) {
	cfg := s.opts.Configs[state]
	seq := &activeSequence{
		id:          uuid.NewString(),
		activeState: state,
		cfg:         cfg,
		gates:       newGateSet(),
		startSeq:    s.now(),
	}
	s.active = seq

	seq.gates.get(domain.GateSequenceStart).set()
	s.publish(domain.KindSequencerGate, seq.id, domain.SequencerGatePayload{
		Gate: domain.GateSequenceStart, State: domain.GateSet, ActiveState: state,
	})
	for _, name := range domain.AllGates() {
		if name == domain.GateSequenceStart {
			continue
		}
		s.publish(domain.KindSequencerGate, seq.id, domain.SequencerGatePayload{
			Gate: name, State: domain.GateCleared, ActiveState: state,
		})
	}

	s.runAutoTare(seq)

	seq.watchdogTimer = time.AfterFunc(s.opts.WatchdogTimeout, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.active == seq {
			s.forceComplete(seq, "watchdog")
		}
	})
}

func (s *Sequencer) runAutoTare(seq *activeSequence) {
	if seq.cfg.DisableAutoTare || s.scale == nil || !s.scale.IsReady() {
		s.publish(domain.KindAutoTare, seq.id, domain.AutoTarePayload{Action: domain.AutoTareDisabled})
		return
	}
	s.publish(domain.KindAutoTare, seq.id, domain.AutoTarePayload{Action: domain.AutoTareEnabled})
	go func() {
		if err := s.scale.Tare(context.Background()); err != nil {
			s.logger.Warn("auto-tare failed", "sequence_id", seq.id, "error", err)
		}
	}()
}

// observeSubstate implements gate-lifecycle steps 4-5.
func (s *Sequencer) observeSubstate(seq *activeSequence, sub domain.Substate) {
	if seq.lastSubstate == domain.SubstatePreInfuse && sub != domain.SubstatePreInfuse {
		s.setGate(seq, domain.GateExitPreinfuse)
	}
	if sub == domain.SubstateEnding && seq.lastSubstate != domain.SubstateEnding {
		seq.endFlow = s.now()
		s.setGate(seq, domain.GateFlowEnd)
		delay := time.Duration(seq.cfg.LastDropsMinimumTimeSeconds * float64(time.Second))
		seq.lastDropsTimer = time.AfterFunc(delay, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.active == seq {
				s.setGate(seq, domain.GateLastDrops)
				s.checkSequenceComplete(seq)
			}
		})
	}
	seq.lastSubstate = sub
}

// onActiveStateExit implements gate-lifecycle step 6's FlowStateExit half.
func (s *Sequencer) onActiveStateExit(seq *activeSequence) {
	s.setGate(seq, domain.GateFlowStateExit)
	s.checkSequenceComplete(seq)
}

func (s *Sequencer) setGate(seq *activeSequence, name domain.GateName) {
	if !seq.gates.get(name).set() {
		return
	}
	s.publish(domain.KindSequencerGate, seq.id, domain.SequencerGatePayload{
		Gate: name, State: domain.GateSet, ActiveState: seq.activeState,
	})
}

// checkSequenceComplete implements gate-lifecycle step 7.
func (s *Sequencer) checkSequenceComplete(seq *activeSequence) {
	if seq.gates.allSet(domain.GateFlowStateExit, domain.GateLastDrops) {
		s.completeSequence(seq, "")
	}
}

func (s *Sequencer) completeSequence(seq *activeSequence, reason string) {
	if !seq.gates.get(domain.GateSequenceComplete).set() {
		return
	}
	seq.endSeq = s.now()
	if seq.watchdogTimer != nil {
		seq.watchdogTimer.Stop()
	}
	s.publish(domain.KindSequencerGate, seq.id, domain.SequencerGatePayload{
		Gate: domain.GateSequenceComplete, State: domain.GateSet,
		ActiveState: seq.activeState, Reason: reason,
	})
	if s.active == seq {
		s.active = nil
	}
}

// forceComplete is used by the watchdog and device-lost paths, which close
// a sequence without having seen the normal FlowStateExit/LastDrops pair.
func (s *Sequencer) forceComplete(seq *activeSequence, reason string) {
	if seq.lastDropsTimer != nil {
		seq.lastDropsTimer.Stop()
	}
	s.completeSequence(seq, reason)
	if reason == "watchdog" && s.de1 != nil {
		go func() {
			_ = s.de1.RequestState(context.Background(), domain.MachineIdle)
		}()
	}
}

// handleShotSample implements gate-lifecycle step 3 and the time/volume
// stop-at policy (spec §4.D).
func (s *Sequencer) handleShotSample(ev domain.Event) {
	payload, ok := ev.Payload.(domain.ShotSamplePayload)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.active
	if seq == nil {
		return
	}

	if !seq.flowBegan {
		if payload.FlowRate < seq.cfg.FirstDropsThreshold {
			return
		}
		seq.flowBegan = true
		seq.startFlow = payload.SampleTime
		s.setGate(seq, domain.GateFlowBegin)
		s.setGate(seq, domain.GateExpectDrops)
	}

	seq.volumePour = payload.VolumePour

	if seq.cfg.StopAtTimeSeconds != nil && !seq.stopTimeTriggered {
		elapsed := payload.SampleTime.Sub(seq.startFlow).Seconds()
		if elapsed >= *seq.cfg.StopAtTimeSeconds {
			seq.stopTimeTriggered = true
			s.triggerStop(seq, domain.StopTime, *seq.cfg.StopAtTimeSeconds, elapsed)
		}
	}
	if seq.cfg.StopAtVolumeML != nil && !seq.stopVolumeTriggered {
		if payload.VolumePour >= *seq.cfg.StopAtVolumeML {
			seq.stopVolumeTriggered = true
			s.triggerStop(seq, domain.StopVolume, *seq.cfg.StopAtVolumeML, payload.VolumePour)
		}
	}
}

// handleWeightAndFlow implements the weight stop-at policy, which projects
// the scale's current_weight forward by the in-flight mass still falling
// into the cup (spec §4.D: "current_weight, minus a configurable fall-time
// offset of STOP_AT_WEIGHT_ADJUST seconds × current flow rate") so the stop
// fires before the scale itself would read the target. Per spec.md §8
// scenario 2 (target 46.0g, STOP_AT_WEIGHT_ADJUST -0.07s, flow 2.0 mL/s),
// this triggers at current_weight == 45.86g.
func (s *Sequencer) handleWeightAndFlow(ev domain.Event) {
	payload, ok := ev.Payload.(domain.WeightAndFlowPayload)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.active
	if seq == nil || !seq.flowBegan || seq.cfg.StopAtWeightGrams == nil || seq.stopWeightTriggered {
		return
	}
	if seq.sawDisabledWarned {
		return
	}
	if s.scale == nil || !s.scale.IsReady() {
		seq.sawDisabledWarned = true
		s.logger.Warn("scale not ready, disabling stop-at-weight for this sequence", "sequence_id", seq.id)
		return
	}

	fallTimeOffset := s.opts.StopAtWeightAdjustSecs * payload.FlowRate
	projected := payload.Weight - fallTimeOffset
	if projected >= *seq.cfg.StopAtWeightGrams {
		seq.stopWeightTriggered = true
		s.triggerStop(seq, domain.StopWeight, *seq.cfg.StopAtWeightGrams, projected)
	}
}

func (s *Sequencer) triggerStop(seq *activeSequence, kind domain.StopKind, target, current float64) {
	s.publish(domain.KindStopAt, seq.id, domain.StopAtPayload{
		Kind: kind, Action: domain.StopTriggered, Target: target, Current: current,
	})
	if s.de1 != nil {
		go func() {
			_ = s.de1.RequestState(context.Background(), domain.MachineIdle)
		}()
	}
}

// handleDeviceAvailability watches for the DE1 going away mid-sequence
// (spec §4.D "DE1 disconnect mid-sequence: emit SequenceComplete.Set{reason:
// device_lost}, close the sequence cleanly").
func (s *Sequencer) handleDeviceAvailability(ev domain.Event) {
	payload, ok := ev.Payload.(domain.DeviceAvailability)
	if !ok || payload.Role != domain.RoleDE1 {
		return
	}
	if payload.State == domain.StateReleased || payload.State == domain.StateReleasing {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.active != nil {
			s.forceComplete(s.active, "device_lost")
		}
	}
}

// GHCActive reports whether the group-head control start mode is active
// (spec §4.D "Non-GHC start"), surfaced for the feature-flags endpoint.
func (s *Sequencer) GHCActive() bool { return s.opts.GHCActive }

// RequestNonGHCStart implements spec §4.D "Non-GHC start": when the DE1
// lacks a Group-Head-Controller, an API-initiated state change to one of
// the brewing states is itself the sequence trigger (there is no physical
// button to generate it). The actual trigger still flows through the
// DE1's normal StateUpdate notification once RequestState's GATT write
// lands; this just gates who is allowed to ask for it.
func (s *Sequencer) RequestNonGHCStart(ctx context.Context, state domain.MachineState) error {
	if s.opts.GHCActive {
		return ErrGHCActive
	}
	switch state {
	case domain.MachineEspresso, domain.MachineSteam, domain.MachineHotWater, domain.MachineHotWaterRinse:
	default:
		return ErrUnsupportedNonGHCState
	}
	if s.de1 == nil {
		return nil
	}
	return s.de1.RequestState(ctx, state)
}

// StateConfigFor returns a copy of the per-mode configuration for state and
// whether one is defined, for the control-mode read endpoint (spec §6
// "GET/PATCH /de1/control/{mode}").
func (s *Sequencer) StateConfigFor(state domain.MachineState) (StateConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.opts.Configs[state]
	return cfg, ok
}

// SetStateConfigFor replaces the per-mode configuration for state, for the
// control-mode write endpoint. A sequence already in flight for state keeps
// the configuration it started with; only subsequent sequences observe the
// change.
func (s *Sequencer) SetStateConfigFor(state domain.MachineState, cfg StateConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.Configs[state] = cfg
}

// ApplyProfileOverride implements spec §4.D "Profile override": if the
// just-loaded profile carries non-null target weight/volume and the active
// state's config permits overriding, those values replace the user-set
// limits stored for that state. Callers invoke this between profile
// selection and the next active-state transition. The replaced limits stay
// in the state's configuration for later sequences too, until the
// configuration is changed again; the earlier user-set limits are not
// restored when the sequence ends.
func (s *Sequencer) ApplyProfileOverride(state domain.MachineState, targetWeight, targetVolume *float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.opts.Configs[state]
	if !ok || !cfg.ProfileCanOverrideStopLimits {
		return
	}
	if targetWeight != nil {
		cfg.StopAtWeightGrams = targetWeight
	}
	if targetVolume != nil {
		cfg.StopAtVolumeML = targetVolume
	}
	s.opts.Configs[state] = cfg
}

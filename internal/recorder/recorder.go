// Package recorder implements the Sequence Recorder component (spec §4.E):
// a pre-sequence ring buffer that continuously absorbs every capturable
// event kind, and a streaming mode entered on SequenceStart that persists
// events directly under the new sequence id. The per-kind ring depths
// mirror write_notifications.py's ROLLING_BUFFER_SIZE table and its switch
// between ring-buffer and streaming mode.
package recorder

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/pyde1-core/internal/domain"
	"github.com/nerrad567/pyde1-core/internal/eventbus"
)

// Bus is the narrow seam Recorder depends on.
type Bus interface {
	Subscribe(kind domain.EventKind, handler eventbus.Handler) eventbus.Subscription
	Unsubscribe(eventbus.Subscription)
}

// Store is the persistence seam; internal/store's transactional SQLite
// store implements it.
type Store interface {
	CreateSequence(ctx context.Context, seq domain.Sequence) error
	InsertEvent(ctx context.Context, ev domain.Event) error
	SetStartFlow(ctx context.Context, id string, at time.Time) error
	CloseSequence(ctx context.Context, id string, endFlow *time.Time, endSequence time.Time, reason string) error
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

// capacities is the per-kind ring-buffer depth, sized for roughly one
// second of data at each kind's typical arrival rate (write_notifications.py
// ROLLING_BUFFER_SIZE, adapted to this repository's EventKind taxonomy).
var capacities = map[domain.EventKind]int{
	domain.KindShotSample:         5,
	domain.KindWeightAndFlow:      10,
	domain.KindStateUpdate:        7,
	domain.KindSequencerGate:      16,
	domain.KindStopAt:             1,
	domain.KindWaterLevel:         3,
	domain.KindScaleTare:          3,
	domain.KindAutoTare:           3,
	domain.KindScaleButton:        3,
	domain.KindConnectivity:       8,
	domain.KindDeviceAvailability: 4,
	domain.KindDeviceChanged:      2,
	domain.KindBlueDotUpdate:      3,
}

type bufItem struct {
	event   domain.Event
	arrival time.Time
}

// SequenceFactory builds the Sequence row to create at SequenceStart. The
// caller supplies this so Recorder never reads DE1 state off the wire
// itself (spec §4.E step 1: "fetched synchronously from cached state").
type SequenceFactory func(ev domain.Event) domain.Sequence

// Recorder is the Sequence Recorder component. Construct with New, which
// subscribes it to the bus; call Close to unsubscribe.
type Recorder struct {
	bus     Bus
	store   Store
	clock   domain.Clock
	logger  Logger
	factory SequenceFactory

	preSequenceWindow time.Duration

	mu         sync.Mutex
	rings      map[domain.EventKind][]bufItem
	streaming  bool
	currentSeq string
	endFlowAt  *time.Time

	subs []eventbus.Subscription
}

// Options configures a Recorder.
type Options struct {
	PreSequenceWindow time.Duration // spec §4.E "pre_sequence_window", default 5s
	Clock             domain.Clock
}

func (o Options) withDefaults() Options {
	if o.PreSequenceWindow == 0 {
		o.PreSequenceWindow = 5 * time.Second
	}
	if o.Clock == nil {
		o.Clock = domain.RealClock{}
	}
	return o
}

// New constructs a Recorder, subscribes it to every capturable event kind
// plus the gate-transition kind it watches for SequenceStart/Complete, and
// returns it ready to run.
func New(bus Bus, store Store, factory SequenceFactory, opts Options) *Recorder {
	r := &Recorder{
		bus:               bus,
		store:             store,
		clock:             opts.withDefaults().Clock,
		logger:            noopLogger{},
		factory:           factory,
		preSequenceWindow: opts.withDefaults().PreSequenceWindow,
		rings:             make(map[domain.EventKind][]bufItem, len(capacities)),
	}
	for kind := range capacities {
		r.subs = append(r.subs, bus.Subscribe(kind, r.handleEvent))
	}
	r.subs = append(r.subs, bus.Subscribe(domain.KindSequencerGate, r.handleGate))
	return r
}

func (r *Recorder) SetLogger(l Logger) { r.logger = l }

// Close unsubscribes from the bus.
func (r *Recorder) Close() {
	for _, sub := range r.subs {
		r.bus.Unsubscribe(sub)
	}
}

// IsStreaming reports whether the recorder is currently bound to an
// in-flight sequence (for tests and health checks).
func (r *Recorder) IsStreaming() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streaming
}

// handleEvent absorbs every subscribed event kind: persisted immediately
// under the current sequence id in streaming mode, or pushed onto its
// kind's ring buffer with the sentinel pre-sequence id otherwise.
func (r *Recorder) handleEvent(ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.streaming {
		ev.SequenceID = r.currentSeq
		if err := r.store.InsertEvent(context.Background(), ev); err != nil {
			r.logger.Error("failed to persist streamed event", "kind", ev.Kind, "error", err)
		}
		return
	}

	ev.SequenceID = domain.NoSequence
	cap := capacities[ev.Kind]
	if cap <= 0 {
		return
	}
	buf := r.rings[ev.Kind]
	buf = append(buf, bufItem{event: ev, arrival: r.clock.Now()})
	if len(buf) > cap {
		buf = buf[len(buf)-cap:]
	}
	r.rings[ev.Kind] = buf
}

// handleGate watches SequenceStart/FlowBegin/FlowEnd/SequenceComplete gate
// transitions: the first and last switch the recorder between ring-buffer
// and streaming mode, the middle two capture the shot's actual pour window
// for the sequence row (spec §4.E, §3 "Sequence.start_flow/end_flow").
func (r *Recorder) handleGate(ev domain.Event) {
	p, ok := ev.Payload.(domain.SequencerGatePayload)
	if !ok || p.State != domain.GateSet {
		return
	}
	switch p.Gate {
	case domain.GateSequenceStart:
		r.onSequenceStart(ev)
	case domain.GateFlowBegin:
		r.onFlowBegin(ev)
	case domain.GateFlowEnd:
		r.onFlowEnd(ev)
	case domain.GateSequenceComplete:
		r.onSequenceComplete(ev, p.Reason)
	}
}

// onSequenceStart implements spec §4.E steps 1-3: create the Sequence row,
// re-label and flush in-window ring-buffer items, then switch to streaming.
func (r *Recorder) onSequenceStart(ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seq := r.factory(ev)
	if err := r.store.CreateSequence(context.Background(), seq); err != nil {
		r.logger.Error("failed to create sequence row", "sequence_id", ev.SequenceID, "error", err)
	}

	cutoff := ev.CreateTime.Add(-r.preSequenceWindow)
	for kind, buf := range r.rings {
		for _, item := range buf {
			if item.arrival.Before(cutoff) {
				continue
			}
			item.event.SequenceID = ev.SequenceID
			if err := r.store.InsertEvent(context.Background(), item.event); err != nil {
				r.logger.Error("failed to flush pre-sequence event", "kind", kind, "error", err)
			}
		}
		r.rings[kind] = nil
	}

	r.streaming = true
	r.currentSeq = ev.SequenceID
	r.endFlowAt = nil
}

// onFlowBegin persists the shot's actual pour-start timestamp against the
// already-created sequence row, once it's known (spec §3
// "Sequence.start_flow").
func (r *Recorder) onFlowBegin(ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.SetStartFlow(context.Background(), ev.SequenceID, ev.CreateTime); err != nil {
		r.logger.Error("failed to record start_flow", "sequence_id", ev.SequenceID, "error", err)
	}
}

// onFlowEnd records the shot's actual pour-end timestamp for onSequenceComplete
// to persist once the sequence closes (spec §3 "Sequence.end_flow").
func (r *Recorder) onFlowEnd(ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	at := ev.CreateTime
	r.endFlowAt = &at
}

// onSequenceComplete implements spec §4.E "On SequenceComplete.Set": update
// the sequence row's end timestamps and return to ring-buffer mode. endFlow
// stays nil when the sequence closed before FlowBegin ever fired.
func (r *Recorder) onSequenceComplete(ev domain.Event, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.CloseSequence(context.Background(), ev.SequenceID, r.endFlowAt, r.clock.Now(), reason); err != nil {
		r.logger.Error("failed to close sequence row", "sequence_id", ev.SequenceID, "error", err)
	}

	r.streaming = false
	r.currentSeq = ""
	r.endFlowAt = nil
}

package domain

import "time"

// EventKind tags an Event's payload type. The set matches spec §3's
// enumeration plus the supplemented Scan/Advertisement kind from
// SPEC_FULL.md §10.
type EventKind string

const (
	KindStateUpdate         EventKind = "state_update"
	KindShotSample          EventKind = "shot_sample"
	KindWeightAndFlow       EventKind = "weight_and_flow"
	KindWaterLevel          EventKind = "water_level"
	KindSequencerGate       EventKind = "sequencer_gate"
	KindStopAt              EventKind = "stop_at"
	KindScaleTare           EventKind = "scale_tare"
	KindAutoTare            EventKind = "auto_tare"
	KindScaleButton         EventKind = "scale_button"
	KindConnectivity        EventKind = "connectivity"
	KindDeviceAvailability  EventKind = "device_availability"
	KindDeviceChanged       EventKind = "device_changed"
	KindBlueDotUpdate       EventKind = "bluedot_update"
	KindAdvertisementSeen   EventKind = "advertisement_seen"
)

// NoSequence is the sentinel sequence id attached to events that arrive
// outside any open sequence (pre-sequence ring-buffer items before their
// window is bound, and events with no sequence context at all).
const NoSequence = ""

// Event is the immutable envelope every bus payload travels in. ArrivalTime
// is when the triggering action was observed; CreateTime is wall-clock time
// the payload was constructed; EventTime is stamped by the bus on publish.
// Per spec §8, these three are each preserved independently -- no enforced
// ordering relationship is implied between them.
type Event struct {
	Kind         EventKind
	Sender       string
	Version      string
	ArrivalTime  time.Time
	CreateTime   time.Time
	EventTime    time.Time
	SequenceID   string
	Payload      any
}

// StateUpdatePayload carries a DE1 machine/substate transition.
type StateUpdatePayload struct {
	State    MachineState
	Substate Substate
}

// ShotSamplePayload carries a single DE1 shot-sample tick.
type ShotSamplePayload struct {
	SampleTime  time.Time
	FlowRate    float64 // mL/s, as measured at the group head
	VolumePour  float64 // accumulated mL since flow began
	Pressure    float64
	Temperature float64
}

// WeightAndFlowPayload carries a scale reading plus the flow rate derived
// from it.
type WeightAndFlowPayload struct {
	Weight       float64 // grams
	FlowRate     float64 // g/s
	ScaleTime    time.Time
}

// WaterLevelPayload carries the DE1's tank level reading.
type WaterLevelPayload struct {
	LevelMM    float64
	StartOfFill bool
}

// GateName enumerates the eight sequence gates (spec §3 "Gate").
type GateName string

const (
	GateSequenceStart   GateName = "sequence_start"
	GateFlowBegin       GateName = "flow_begin"
	GateExpectDrops     GateName = "expect_drops"
	GateExitPreinfuse   GateName = "exit_preinfuse"
	GateFlowEnd         GateName = "flow_end"
	GateFlowStateExit   GateName = "flow_state_exit"
	GateLastDrops       GateName = "last_drops"
	GateSequenceComplete GateName = "sequence_complete"
)

// AllGates lists the eight gates in their canonical lifecycle order.
func AllGates() []GateName {
	return []GateName{
		GateSequenceStart, GateFlowBegin, GateExpectDrops, GateExitPreinfuse,
		GateFlowEnd, GateFlowStateExit, GateLastDrops, GateSequenceComplete,
	}
}

// GateState is the three-state latch value (spec §3 "Gate").
type GateState string

const (
	GateUnset   GateState = "unset"
	GateSet     GateState = "set"
	GateCleared GateState = "cleared"
)

// SequencerGatePayload records a single gate transition, the event kind
// every gate set/clear publishes (spec §4.D).
type SequencerGatePayload struct {
	Gate        GateName
	State       GateState
	ActiveState MachineState
	Reason      string // set on forced closes, e.g. "watchdog", "device_lost"
}

// StopKind enumerates the three stop-at trigger types.
type StopKind string

const (
	StopTime   StopKind = "time"
	StopVolume StopKind = "volume"
	StopWeight StopKind = "weight"
)

// StopAction distinguishes an armed-but-not-yet-fired notification from the
// one that actually fires the stop.
type StopAction string

const (
	StopArmed     StopAction = "armed"
	StopTriggered StopAction = "triggered"
)

// StopAtPayload is published whenever a stop condition arms or triggers.
type StopAtPayload struct {
	Kind    StopKind
	Action  StopAction
	Target  float64
	Current float64
}

// ScaleTarePayload records a tare request or completion seen on the scale.
type ScaleTarePayload struct {
	RequestedBy string
}

// AutoTareAction enumerates whether auto-tare fired for a sequence.
type AutoTareAction string

const (
	AutoTareEnabled  AutoTareAction = "enabled"
	AutoTareDisabled AutoTareAction = "disabled"
)

// AutoTarePayload announces the auto-tare decision made at SequenceStart.
type AutoTarePayload struct {
	Action AutoTareAction
}

// ScaleButtonPayload carries a physical button press reported by the scale.
type ScaleButtonPayload struct {
	Button string
}

// ConnectivityPayload announces a coarse connectivity transition for a role.
type ConnectivityPayload struct {
	Role  DeviceRole
	State ConnectivityState
}

// DeviceChangedPayload announces a device's class specialising or
// reverting to generic (spec §4.B "Class specialisation").
type DeviceChangedPayload struct {
	Role      DeviceRole
	Class     DeviceClass
	ModelName string
}

// BlueDotUpdatePayload carries the DE1's "blue dot" pour indicator state,
// a minor telemetry channel original_source exposes alongside shot samples.
type BlueDotUpdatePayload struct {
	Active bool
}

// AdvertisementSeenPayload is published for each BLE advertisement observed
// during a scan, so the class-specialisation registry can react uniformly
// whether the advertisement arrived via scan or via a live connection
// (SPEC_FULL.md §10).
type AdvertisementSeenPayload struct {
	Address       string
	NamePrefix    string
	RSSI          int
}

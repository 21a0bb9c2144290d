// Package domain holds the data model shared by every core component:
// devices, profiles, sequences, events, gates and stop conditions.
package domain

import "time"

// DeviceRole identifies the logical role a managed device fills. Exactly one
// ManagedDevice exists per role at a time.
type DeviceRole string

const (
	RoleDE1         DeviceRole = "de1"
	RoleScale       DeviceRole = "scale"
	RoleThermometer DeviceRole = "thermometer"
	RoleOther       DeviceRole = "other"
)

// LifecycleState is the coarse connection state of a ManagedDevice.
type LifecycleState string

const (
	StateInitial   LifecycleState = "initial"
	StateCapturing LifecycleState = "capturing"
	StateCaptured  LifecycleState = "captured"
	StateReleasing LifecycleState = "releasing"
	StateReleased  LifecycleState = "released"
)

// DeviceClass distinguishes a generic role handler from a model-specific one.
// A device starts generic and specialises once an advertisement identifies
// its model; it reverts to generic when the device is forgotten.
type DeviceClass string

const (
	ClassGeneric  DeviceClass = "generic"
	ClassSpecific DeviceClass = "specific"
)

// ManagedDevice is the per-role record described in spec §3. Address and
// Class mutate; Role is stable for the process lifetime.
type ManagedDevice struct {
	Role      DeviceRole
	Address   string // empty when unassigned
	Current   LifecycleState
	Desired   LifecycleState
	Class     DeviceClass
	ModelName string // set when Class == ClassSpecific
	Ready     bool   // post-connect init completion, refines Captured
}

// Clone returns a value copy; ManagedDevice has no reference fields so a
// plain copy suffices, but the method documents the DeepCopy-on-read
// convention followed by the rest of the repository's caches.
func (m ManagedDevice) Clone() ManagedDevice {
	return m
}

// DeviceAvailability is the observable snapshot published on every
// lifecycle transition (spec §4.B).
type DeviceAvailability struct {
	Role    DeviceRole
	State   LifecycleState
	Ready   bool
	Address string
	Reason  string // failure reason, empty on success
}

// ConnectivityState mirrors the four-way state a capture-queue produces:
// it is coarser than LifecycleState and is what the notification bus calls
// "Connectivity". Kept distinct because the capture queue's pure mapping
// functions (spec §4.B "two-deep intent queue") are defined in terms of it.
type ConnectivityState string

const (
	ConnNotConnected ConnectivityState = "not_connected"
	ConnConnecting   ConnectivityState = "connecting"
	ConnConnected    ConnectivityState = "connected"
	ConnDisconnecting ConnectivityState = "disconnecting"
)

// MachineState is the DE1's coarse operating state.
type MachineState string

const (
	MachineSleep         MachineState = "sleep"
	MachineIdle          MachineState = "idle"
	MachineEspresso      MachineState = "espresso"
	MachineSteam         MachineState = "steam"
	MachineHotWater      MachineState = "hot_water"
	MachineHotWaterRinse MachineState = "hot_water_rinse"
	MachineClean         MachineState = "clean"
	MachineDescale       MachineState = "descale"
	MachineTransport     MachineState = "transport"
)

// Substate is the DE1's finer-grained operating state within a MachineState.
type Substate string

const (
	SubstatePreInfuse Substate = "preinfuse"
	SubstatePour      Substate = "pour"
	SubstatePouring   Substate = "pouring"
	SubstateFlush     Substate = "flush"
	SubstateEnding    Substate = "ending"
	SubstateIdle      Substate = "idle"
)

// ActiveStates is the set of MachineStates that admit a flow sequence.
func ActiveStates() map[MachineState]struct{} {
	return map[MachineState]struct{}{
		MachineEspresso:      {},
		MachineSteam:         {},
		MachineHotWater:      {},
		MachineHotWaterRinse: {},
	}
}

// IsActiveState reports whether state admits a flow sequence.
func IsActiveState(s MachineState) bool {
	_, ok := ActiveStates()[s]
	return ok
}

// Clock abstracts time so tests can inject deterministic values; production
// code uses RealClock. Kept narrow (two methods) so components depend only
// on what they use.
type Clock interface {
	Now() time.Time
	Monotonic() time.Time
}

// RealClock is the production Clock backed by time.Now.
type RealClock struct{}

func (RealClock) Now() time.Time       { return time.Now() }
func (RealClock) Monotonic() time.Time { return time.Now() }

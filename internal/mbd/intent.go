package mbd

import "github.com/nerrad567/pyde1-core/internal/domain"

// Intent is the two-deep queue from spec §4.B: Current is the in-flight (or
// settled) lifecycle state, Desired is the terminal target. A new request
// only ever updates Desired; if it differs from Current's eventual terminal
// state, the in-flight operation is cancelled where possible. Subsequent
// identical requests coalesce because they just overwrite Desired with the
// value it already holds.
type Intent struct {
	Current domain.LifecycleState
	Desired domain.LifecycleState
}

// terminalOf reports the terminal lifecycle state a given state is heading
// towards, used to decide whether a new Desired differs from what's already
// in flight.
func terminalOf(s domain.LifecycleState) domain.LifecycleState {
	switch s {
	case domain.StateCapturing, domain.StateCaptured:
		return domain.StateCaptured
	case domain.StateReleasing, domain.StateReleased, domain.StateInitial:
		return domain.StateReleased
	default:
		return s
	}
}

// NeedsCancel reports whether setting Desired to target should cancel the
// in-flight operation represented by Current, per spec §4.B: "if [desired]
// differs from current's terminal state, the in-flight op is cancelled
// where possible."
func (i Intent) NeedsCancel(target domain.LifecycleState) bool {
	return terminalOf(i.Current) != terminalOf(target)
}

// Coalesces reports whether a request for target is a no-op given the
// current Desired (spec §8 "Boundary behaviours": "Subsequent identical
// requests coalesce").
func (i Intent) Coalesces(target domain.LifecycleState) bool {
	return terminalOf(i.Desired) == terminalOf(target)
}

// connectivityFor is the pure function mapping an Intent to the coarse
// ConnectivityState the bus publishes, mirroring original_source's
// cq_to_cs() (CaptureQueue-to-ConnectivityState).
func connectivityFor(i Intent) domain.ConnectivityState {
	switch i.Current {
	case domain.StateInitial, domain.StateReleased:
		return domain.ConnNotConnected
	case domain.StateCapturing:
		return domain.ConnConnecting
	case domain.StateCaptured:
		return domain.ConnConnected
	case domain.StateReleasing:
		return domain.ConnDisconnecting
	default:
		return domain.ConnNotConnected
	}
}

// availabilityFor is the pure function mapping an Intent (plus the Ready
// refinement and any failure reason) to the DeviceAvailability snapshot
// published on every transition, mirroring original_source's cq_to_das()
// (CaptureQueue-to-DeviceAvailabilityState).
func availabilityFor(role domain.DeviceRole, i Intent, ready bool, address, reason string) domain.DeviceAvailability {
	return domain.DeviceAvailability{
		Role:    role,
		State:   i.Current,
		Ready:   ready && i.Current == domain.StateCaptured,
		Address: address,
		Reason:  reason,
	}
}

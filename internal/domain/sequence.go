package domain

import "time"

// Sequence is one record per shot (spec §3). Per REDESIGN FLAG (a), ProfileID
// is a nullable reference rather than a sentinel dummy row: when no profile
// had ever been uploaded before the sequence began, ProfileID is nil and
// ProfileAssumed records that the caller should not treat the sequence as
// profile-less, only as "best guess unavailable".
type Sequence struct {
	ID              string
	ActiveState     MachineState
	StartSequence   time.Time
	StartFlow       *time.Time
	EndFlow         *time.Time
	EndSequence     *time.Time
	ProfileID       *string
	ProfileAssumed  bool

	// Snapshot fields captured synchronously from cached state at
	// SequenceStart (spec §4.E step 1) -- never read from the wire on the
	// critical path.
	Snapshot SequenceSnapshot

	// CloseReason records why the sequence ended when it did not end via
	// the normal gate sequence (e.g. "watchdog", "device_lost").
	CloseReason string
}

// SequenceSnapshot holds the DE1 settings/control/calibration/version
// fields and scale identity captured at sequence start.
type SequenceSnapshot struct {
	DE1SettingsJSON    string
	DE1ControlJSON     string
	DE1CalibrationJSON string
	DE1FirmwareVersion string
	ScaleID            string
}

// Valid reports whether the sequence's timestamps satisfy the ordering
// invariant from spec §3 and §8: when EndSequence is non-nil,
// StartSequence <= StartFlow <= EndFlow <= EndSequence (only for the
// timestamps that are non-nil; missing ones are permitted only for
// abnormally terminated sequences).
func (s Sequence) Valid() bool {
	if s.EndSequence == nil {
		return true
	}
	ordered := []time.Time{s.StartSequence}
	if s.StartFlow != nil {
		ordered = append(ordered, *s.StartFlow)
	}
	if s.EndFlow != nil {
		ordered = append(ordered, *s.EndFlow)
	}
	ordered = append(ordered, *s.EndSequence)
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Before(ordered[i-1]) {
			return false
		}
	}
	return true
}

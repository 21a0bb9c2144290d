package domain

import "time"

// Profile is a content-addressed espresso shot program (spec §3).
//
// Two independent hashes identify it: ID is a hash of the original source
// bytes (bit-identical sources share an ID); Fingerprint is a hash of the
// canonical on-wire frame sequence (machine programs that compile to the
// same instructions share a Fingerprint even if their source metadata --
// title, notes -- differs).
type Profile struct {
	ID          string
	Fingerprint string
	Source      []byte
	SourceFormat string // e.g. "json-v2", "legacy-txt"
	Title       string
	Author      string
	Notes       string
	Beverage    string
	DateAdded   time.Time

	// TargetWeight and TargetVolume are optional stop-at overrides a
	// profile may carry; FlowSequencer applies them only for states whose
	// configuration sets ProfileCanOverrideStopLimits.
	TargetWeight *float64
	TargetVolume *float64

	// TankTemperature is an optional override a profile may carry when the
	// per-state configuration allows profile override of tank temperature.
	TankTemperature *float64
}

// StopCondition is the `{kind, enabled, target, applicability}` record from
// spec §3, plus the armed/triggered flag it carries at runtime.
type StopCondition struct {
	Kind      StopKind
	Enabled   bool
	Target    float64
	Armed     bool
	Triggered bool
}

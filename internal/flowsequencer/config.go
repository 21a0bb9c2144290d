package flowsequencer

import "github.com/nerrad567/pyde1-core/internal/domain"

// StateConfig is the per-active-state configuration record spec §4.D names:
// which stop conditions apply, first-drops/last-drops timing, and whether a
// profile may override the user-set stop limits and tank temperature.
type StateConfig struct {
	DisableAutoTare bool

	// nil means that stop condition does not apply in this state.
	StopAtTimeSeconds   *float64
	StopAtVolumeML      *float64
	StopAtWeightGrams   *float64

	FirstDropsThreshold              float64
	LastDropsMinimumTimeSeconds      float64
	ProfileCanOverrideStopLimits     bool
	ProfileCanOverrideTankTemperature bool
}

// DefaultStateConfigs returns the per-state table spec §4.D describes:
// "Espresso uses all; Steam uses only time; HotWater and HotWaterRinse are
// a proper subset."
func DefaultStateConfigs() map[domain.MachineState]StateConfig {
	espressoTime := 40.0
	espressoVolume := 0.0 // disabled by default; volume stop is opt-in
	hotWaterVolume := 300.0
	steamTime := 30.0
	rinseTime := 10.0

	return map[domain.MachineState]StateConfig{
		domain.MachineEspresso: {
			StopAtTimeSeconds:            &espressoTime,
			StopAtVolumeML:               nilIfZero(espressoVolume),
			FirstDropsThreshold:          0.5,
			LastDropsMinimumTimeSeconds:  3.0,
			ProfileCanOverrideStopLimits: true,
		},
		domain.MachineSteam: {
			StopAtTimeSeconds:           &steamTime,
			FirstDropsThreshold:         0,
			LastDropsMinimumTimeSeconds: 0,
			DisableAutoTare:             true,
		},
		domain.MachineHotWater: {
			StopAtVolumeML:               &hotWaterVolume,
			FirstDropsThreshold:          0.5,
			LastDropsMinimumTimeSeconds:  1.0,
			ProfileCanOverrideStopLimits: true,
		},
		domain.MachineHotWaterRinse: {
			StopAtTimeSeconds:   &rinseTime,
			FirstDropsThreshold: 0,
			DisableAutoTare:     true,
		},
	}
}

func nilIfZero(v float64) *float64 {
	if v == 0 {
		return nil
	}
	return &v
}

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/pyde1-core/internal/apierror"
	"github.com/nerrad567/pyde1-core/internal/domain"
	"github.com/nerrad567/pyde1-core/internal/flowsequencer"
)

// de1StateResponse is the body GET /de1/state returns: the last observed
// machine state/substate plus the managed-device's lifecycle snapshot.
type de1StateResponse struct {
	State    domain.MachineState `json:"state"`
	Substate domain.Substate     `json:"substate"`
	Device   *domain.ManagedDevice `json:"device,omitempty"`
}

// handleDE1State serves GET /de1/state (spec §6).
func (s *Server) handleDE1State(w http.ResponseWriter, _ *http.Request) {
	state, substate := s.cachedState()
	resp := de1StateResponse{State: state, Substate: substate}
	if h, ok := s.devices[domain.RoleDE1]; ok && h != nil {
		snap := h.Snapshot()
		resp.Device = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

// de1StateRequest is the PATCH /de1/state body.
type de1StateRequest struct {
	State domain.MachineState `json:"state"`
}

// handleRequestDE1State serves PATCH /de1/state (spec §4.D "Non-GHC
// start"): on a DE1 without a Group-Head-Controller, this is how an API
// client triggers a sequence, since there is no physical button to do it.
func (s *Server) handleRequestDE1State(w http.ResponseWriter, r *http.Request) {
	var req de1StateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if s.seq == nil {
		writeAPIError(w, apierror.New(apierror.KindFatal, "flow sequencer not available"))
		return
	}
	if err := s.seq.RequestNonGHCStart(r.Context(), req.State); err != nil {
		writeAPIError(w, apierror.New(apierror.KindUnsupportedStateTransition, err.Error()))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"requested_state": req.State})
}

// featureFlagsResponse is the body GET /de1/feature_flags returns (spec §6
// "Feature bitmap including ghc_active, rinse_control, firmware version").
type featureFlagsResponse struct {
	GHCActive    bool   `json:"ghc_active"`
	RinseControl bool   `json:"rinse_control"`
	FirmwareVersion string `json:"firmware_version"`
}

// handleFeatureFlags serves GET /de1/feature_flags.
func (s *Server) handleFeatureFlags(w http.ResponseWriter, _ *http.Request) {
	resp := featureFlagsResponse{RinseControl: true}
	if s.seq != nil {
		resp.GHCActive = s.seq.GHCActive()
	}
	if h, ok := s.devices[domain.RoleDE1]; ok && h != nil {
		resp.FirmwareVersion = h.Snapshot().ModelName
	}
	writeJSON(w, http.StatusOK, resp)
}

// controlModeRequest is the PATCH /de1/control/{mode} body: any subset of
// StateConfig's fields the caller wants to change.
type controlModeRequest struct {
	DisableAutoTare                   *bool    `json:"disable_auto_tare,omitempty"`
	StopAtTimeSeconds                 *float64 `json:"stop_at_time_seconds,omitempty"`
	StopAtVolumeML                    *float64 `json:"stop_at_volume_ml,omitempty"`
	StopAtWeightGrams                 *float64 `json:"stop_at_weight_grams,omitempty"`
	FirstDropsThreshold                *float64 `json:"first_drops_threshold,omitempty"`
	LastDropsMinimumTimeSeconds        *float64 `json:"last_drops_minimum_time_seconds,omitempty"`
	ProfileCanOverrideStopLimits       *bool    `json:"profile_can_override_stop_limits,omitempty"`
	ProfileCanOverrideTankTemperature  *bool    `json:"profile_can_override_tank_temperature,omitempty"`
}

func parseMachineState(raw string) (domain.MachineState, bool) {
	switch domain.MachineState(raw) {
	case domain.MachineSleep, domain.MachineIdle, domain.MachineEspresso, domain.MachineSteam,
		domain.MachineHotWater, domain.MachineHotWaterRinse, domain.MachineClean,
		domain.MachineDescale, domain.MachineTransport:
		return domain.MachineState(raw), true
	default:
		return "", false
	}
}

// handleGetControlMode serves GET /de1/control/{mode} (spec §6 "Read ...
// per-mode stop-at limits, first-drops threshold, override flags").
func (s *Server) handleGetControlMode(w http.ResponseWriter, r *http.Request) {
	mode, ok := parseMachineState(chi.URLParam(r, "mode"))
	if !ok {
		writeBadRequest(w, "unknown control mode")
		return
	}
	if s.seq == nil {
		writeAPIError(w, apierror.New(apierror.KindFatal, "flow sequencer not available"))
		return
	}
	cfg, ok := s.seq.StateConfigFor(mode)
	if !ok {
		writeAPIError(w, apierror.New(apierror.KindUnsupportedStateTransition, "no configuration for mode "+string(mode)))
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handleSetControlMode serves PATCH /de1/control/{mode}, applying any
// provided fields on top of the mode's existing configuration and
// returning the per-setter result array spec §6 describes.
func (s *Server) handleSetControlMode(w http.ResponseWriter, r *http.Request) {
	mode, ok := parseMachineState(chi.URLParam(r, "mode"))
	if !ok {
		writeBadRequest(w, "unknown control mode")
		return
	}
	if s.seq == nil {
		writeAPIError(w, apierror.New(apierror.KindFatal, "flow sequencer not available"))
		return
	}

	var req controlModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	cfg, _ := s.seq.StateConfigFor(mode)
	results := applyControlModeRequest(&cfg, req)
	s.seq.SetStateConfigFor(mode, cfg)
	writeJSON(w, http.StatusOK, results)
}

func applyControlModeRequest(cfg *flowsequencer.StateConfig, req controlModeRequest) []setterResult {
	var results []setterResult
	if req.DisableAutoTare != nil {
		cfg.DisableAutoTare = *req.DisableAutoTare
		results = append(results, okResult("disable_auto_tare"))
	}
	if req.StopAtTimeSeconds != nil {
		cfg.StopAtTimeSeconds = req.StopAtTimeSeconds
		results = append(results, okResult("stop_at_time_seconds"))
	}
	if req.StopAtVolumeML != nil {
		cfg.StopAtVolumeML = req.StopAtVolumeML
		results = append(results, okResult("stop_at_volume_ml"))
	}
	if req.StopAtWeightGrams != nil {
		cfg.StopAtWeightGrams = req.StopAtWeightGrams
		results = append(results, okResult("stop_at_weight_grams"))
	}
	if req.FirstDropsThreshold != nil {
		cfg.FirstDropsThreshold = *req.FirstDropsThreshold
		results = append(results, okResult("first_drops_threshold"))
	}
	if req.LastDropsMinimumTimeSeconds != nil {
		cfg.LastDropsMinimumTimeSeconds = *req.LastDropsMinimumTimeSeconds
		results = append(results, okResult("last_drops_minimum_time_seconds"))
	}
	if req.ProfileCanOverrideStopLimits != nil {
		cfg.ProfileCanOverrideStopLimits = *req.ProfileCanOverrideStopLimits
		results = append(results, okResult("profile_can_override_stop_limits"))
	}
	if req.ProfileCanOverrideTankTemperature != nil {
		cfg.ProfileCanOverrideTankTemperature = *req.ProfileCanOverrideTankTemperature
		results = append(results, okResult("profile_can_override_tank_temperature"))
	}
	return results
}

package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/pyde1-core/internal/apierror"
	"github.com/nerrad567/pyde1-core/internal/domain"
)

// availabilityRequest is the PATCH /de1/availability body: exactly one
// action against a role's managed-device handle (spec §6 "{assign_address|
// capture|release|forget} request on a role").
type availabilityRequest struct {
	Role         domain.DeviceRole `json:"role"`
	AssignAddress *string          `json:"assign_address,omitempty"`
	Capture      bool              `json:"capture,omitempty"`
	Release      bool              `json:"release,omitempty"`
	Forget       bool              `json:"forget,omitempty"`
}

// handleAvailability serves PATCH /de1/availability.
func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Role == "" {
		req.Role = domain.RoleDE1
	}

	h, ok := s.devices[req.Role]
	if !ok || h == nil {
		writeAPIError(w, apierror.New(apierror.KindDeviceNotConnected, "no managed device for role "+string(req.Role)))
		return
	}

	ctx := r.Context()
	var results []setterResult

	switch {
	case req.AssignAddress != nil:
		addr := *req.AssignAddress
		err := h.AssignAddress(ctx, &addr)
		results = append(results, resultFor("assign_address", err))
	case req.Forget:
		err := h.AssignAddress(ctx, nil)
		results = append(results, resultFor("forget", err))
	case req.Capture:
		err := h.Capture(ctx)
		results = append(results, resultFor("capture", err))
	case req.Release:
		err := h.Release(ctx)
		results = append(results, resultFor("release", err))
	default:
		writeBadRequest(w, "no availability action requested")
		return
	}

	writeJSON(w, http.StatusOK, results)
}

func resultFor(name string, err error) setterResult {
	if err != nil {
		return errResult(name, err)
	}
	return okResult(name)
}

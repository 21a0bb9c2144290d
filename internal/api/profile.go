package api

import (
	"io"
	"net/http"

	"github.com/nerrad567/pyde1-core/internal/apierror"
	"github.com/nerrad567/pyde1-core/internal/profile"
)

const maxProfileUploadSize = 1 << 20 // 1MiB

// handleUploadProfile serves PUT /de1/profile (spec §6 "Upload profile
// source bytes verbatim. Returns list of setter results.").
//
// The upload format is taken from the X-Profile-Format header; it defaults
// to "json-v2" when absent.
func (s *Server) handleUploadProfile(w http.ResponseWriter, r *http.Request) {
	if s.profile == nil {
		writeAPIError(w, apierror.New(apierror.KindFatal, "profile registry not available"))
		return
	}

	source, err := io.ReadAll(io.LimitReader(r.Body, maxProfileUploadSize+1))
	if err != nil {
		writeBadRequest(w, "failed to read request body")
		return
	}
	if len(source) > maxProfileUploadSize {
		writeBadRequest(w, "profile source too large")
		return
	}

	format := r.Header.Get("X-Profile-Format")
	if format == "" {
		format = "json-v2"
	}

	id, err := s.profile.Insert(r.Context(), source, format, profile.Metadata{})
	if err != nil {
		writeAPIError(w, apierror.Wrap(apierror.KindInvalid, "profile upload rejected", err))
		return
	}

	writeJSON(w, http.StatusOK, []setterResult{okResult("profile:" + id)})
}

// selectProfileRequest is the PUT /de1/profile/id body (spec §6 "Select a
// previously-stored profile by id").
type selectProfileRequest struct {
	ID string `json:"id"`
}

// handleSelectProfile serves PUT /de1/profile/id.
func (s *Server) handleSelectProfile(w http.ResponseWriter, r *http.Request) {
	if s.profile == nil {
		writeAPIError(w, apierror.New(apierror.KindFatal, "profile registry not available"))
		return
	}

	var req selectProfileRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.ID == "" {
		writeBadRequest(w, "id is required")
		return
	}

	if _, err := s.profile.SelectExisting(r.Context(), req.ID); err != nil {
		writeAPIError(w, apierror.Wrap(apierror.KindInvalid, "unknown profile id", err))
		return
	}

	writeJSON(w, http.StatusOK, []setterResult{okResult("profile:" + req.ID)})
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/pyde1-core/internal/apierror"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // best-effort write; connection may already be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeAPIError maps err to the fixed status codes spec §6/§7 specify and
// writes a plain-text body naming the error kind and message. Errors that
// are not an *apierror.Error are treated as unexpected and reported as
// KindFatal.
func writeAPIError(w http.ResponseWriter, err error) {
	var apiErr *apierror.Error
	if !errors.As(err, &apiErr) {
		apiErr = apierror.Wrap(apierror.KindFatal, "unexpected error", err)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(apiErr.HTTPStatus())
	//nolint:errcheck // best-effort write; connection may already be closed
	w.Write([]byte(string(apiErr.Kind) + ": " + apiErr.Message))
}

// writeBadRequest reports a malformed or invalid request body (spec §7
// "TypeError / ValueError").
func writeBadRequest(w http.ResponseWriter, message string) {
	writeAPIError(w, apierror.New(apierror.KindInvalid, message))
}

// writeNotFound reports a missing resource as KindInvalid (400); pyde1-core
// has no dedicated 404 kind in its error taxonomy (spec §7).
func writeNotFound(w http.ResponseWriter, message string) {
	writeAPIError(w, apierror.New(apierror.KindInvalid, message))
}

// writeInternalError reports a recovered panic or other unclassified
// server failure as KindFatal.
func writeInternalError(w http.ResponseWriter, message string) {
	writeAPIError(w, apierror.New(apierror.KindFatal, message))
}

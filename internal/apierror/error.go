// Package apierror models the error taxonomy from spec §7 as a single
// tagged-variant type, serialisable across the pipe boundary described in
// spec §9 ("Exceptions across process boundaries") and mappable directly to
// the HTTP status codes spec §6 fixes.
package apierror

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Kind enumerates the error taxonomy from spec §7.
type Kind string

const (
	KindDeviceNotConnected         Kind = "device_not_connected"
	KindUnsupportedStateTransition Kind = "unsupported_state_transition"
	KindUnsupportedFeature         Kind = "unsupported_feature"
	KindInvalid                    Kind = "invalid"
	KindTimeout                    Kind = "timeout"
	KindIncompleteSequenceRecord   Kind = "incomplete_sequence_record"
	KindTransport                  Kind = "transport"
	KindFatal                      Kind = "fatal"
)

// Error is the taxonomy's concrete type. It implements error and Unwrap so
// callers can use errors.Is/As against Cause, and MarshalJSON/UnmarshalJSON
// so it survives the length-prefixed pipe boundary (spec §9) as a plain
// tagged struct rather than an opaque runtime object.
type Error struct {
	Kind       Kind
	Message    string
	Traceback  string // optional, attached for request responses only
	Cause      error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus maps Kind to the fixed status codes spec §6 specifies.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindInvalid:
		return http.StatusBadRequest
	case KindUnsupportedStateTransition, KindDeviceNotConnected:
		return http.StatusConflict
	case KindUnsupportedFeature:
		return http.StatusTeapot
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindIncompleteSequenceRecord:
		return http.StatusConflict
	case KindTransport:
		return http.StatusBadGateway
	case KindFatal:
		return http.StatusInternalServerError
	default:
		return http.StatusNotImplemented
	}
}

// wireError is the JSON shape used to cross the pipe boundary (HTTP error
// bodies are plain "kind: message" text, not this shape); Cause is flattened to its string form since arbitrary
// language-runtime error objects must never cross the boundary (spec §9).
type wireError struct {
	Kind      Kind   `json:"kind"`
	Message   string `json:"message"`
	Traceback string `json:"traceback,omitempty"`
	Cause     string `json:"cause,omitempty"`
}

func (e *Error) MarshalJSON() ([]byte, error) {
	w := wireError{Kind: e.Kind, Message: e.Message, Traceback: e.Traceback}
	if e.Cause != nil {
		w.Cause = e.Cause.Error()
	}
	return json.Marshal(w)
}

func (e *Error) UnmarshalJSON(data []byte) error {
	var w wireError
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.Kind, e.Message, e.Traceback = w.Kind, w.Message, w.Traceback
	if w.Cause != "" {
		e.Cause = fmt.Errorf("%s", w.Cause)
	}
	return nil
}

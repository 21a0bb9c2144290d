package api

import (
	"encoding/json"
	"net/http"
)

func decodeJSONBody(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// setterResult is one entry in the JSON array every PATCH/PUT endpoint
// returns (spec §6 "PATCH returns a JSON array of per-setter results").
type setterResult struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func okResult(name string) setterResult { return setterResult{Name: name, OK: true} }

func errResult(name string, err error) setterResult {
	return setterResult{Name: name, OK: false, Error: err.Error()}
}

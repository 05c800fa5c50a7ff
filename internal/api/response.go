// Package api is the thin HTTP adapter over the engine: chi routes,
// request decoding, and the envelope every response shares.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/anima-systems/anima-memory/internal/apperr"
)

// envelope is the shape of every JSON response: success carries data,
// failure carries error. meta rides along on both.
type envelope struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Error   *envelopeError `json:"error,omitempty"`
	Meta    envelopeMeta   `json:"meta"`
}

type envelopeError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type envelopeMeta struct {
	RequestID string `json:"requestId"`
	Timestamp string `json:"timestamp"`
	QueryTime *int64 `json:"queryTime,omitempty"`
}

func newMeta(r *http.Request) envelopeMeta {
	return envelopeMeta{
		RequestID: middleware.GetReqID(r.Context()),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// writeData writes a successful envelope with the given HTTP status.
func writeData(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeEnvelope(w, r, status, envelope{Success: true, Data: data, Meta: newMeta(r)})
}

// writeDataTimed is writeData with a queryTime (ms) attached to meta.
func writeDataTimed(w http.ResponseWriter, r *http.Request, status int, data any, elapsed time.Duration) {
	meta := newMeta(r)
	ms := elapsed.Milliseconds()
	meta.QueryTime = &ms
	writeEnvelope(w, r, status, envelope{Success: true, Data: data, Meta: meta})
}

// writeError maps err to an apperr.Code (defaulting to internal) and
// writes the corresponding error envelope and HTTP status.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.CodeInternal
	message := err.Error()
	var details map[string]any

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		code = appErr.Code
		message = appErr.Message
		details = appErr.Details
	}

	writeEnvelope(w, r, code.HTTPStatus(), envelope{
		Success: false,
		Error:   &envelopeError{Code: string(code), Message: message, Details: details},
		Meta:    newMeta(r),
	})
}

func writeEnvelope(w http.ResponseWriter, r *http.Request, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

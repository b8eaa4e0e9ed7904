package otsapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// envelope is the HTTP surface's standard response wrapper: every response
// body is either {"data": ...} or {"error": "..."}.
type envelope struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// maxRequestBodySize bounds a decoded request body.
const maxRequestBodySize = 1 << 20

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Data: data}); err != nil {
		slog.Error("otsapi: encode json response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Error: msg}); err != nil {
		slog.Error("otsapi: encode json error response failed", "error", err)
	}
}

// writeErrFor maps a Server operation's error to the HTTP status it implies,
// the one place that translates between otsapi's sentinel errors and the
// wire-facing status codes.
func writeErrFor(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownToken):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrPermissionDenied):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrUnknownSession), errors.Is(err, ErrUnknownConnection):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNoFrontend):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// readJSON decodes a JSON request body into dst, rejecting unknown fields
// and bodies over maxRequestBodySize. Returns a user-facing error string, or
// "" on success.
func readJSON(r *http.Request, dst any) string {
	r.Body = http.MaxBytesReader(nil, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		var unmarshalErr *json.UnmarshalTypeError
		var maxBytesErr *http.MaxBytesError

		switch {
		case errors.As(err, &syntaxErr):
			return "malformed json"
		case errors.As(err, &unmarshalErr):
			if unmarshalErr.Field != "" {
				return "invalid value for field " + unmarshalErr.Field
			}
			return "invalid json value"
		case errors.Is(err, io.EOF):
			return "request body must not be empty"
		case errors.As(err, &maxBytesErr):
			return "request body too large"
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			return "unknown field " + strings.TrimPrefix(err.Error(), "json: unknown field ")
		default:
			return "invalid request body"
		}
	}

	if dec.More() {
		return "request body must contain a single json object"
	}
	return ""
}

// tokenFromRequest reads the bearer token every otsapi operation is
// parameterized by, from either the Authorization header or a query
// parameter (ogonsessctl uses the header; ad hoc curl testing often finds
// the query parameter easier).
func tokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

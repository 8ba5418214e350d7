// responses.go -- Package-wide HTTP response helpers.
//
// Shared by all handlers. Bodies are JSON-encoded structs; failure bodies carry
// only a failure kind and a human-readable reason, never tokens or provider output.
package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/franklink/linkd/internal/flow"
)

// errorBody is the shape of every JSON failure response.
type errorBody struct {
	Success          bool   `json:"success"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// InternalServerError logs the error and returns a generic 500 JSON response.
// Never exposes internal error details to prevent information leakage.
func InternalServerError(w http.ResponseWriter, r *http.Request, err error) {
	logError(r, "internal server error", "error", err)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal_error", ErrorDescription: "internal server error"})
}

// BadRequest returns a 400 JSON response with the given message.
// Use for client input validation failures.
func BadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", ErrorDescription: message})
}

// Forbidden returns a 403 JSON response with a generic message.
func Forbidden(w http.ResponseWriter) {
	writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", ErrorDescription: "forbidden"})
}

// NotFound returns a 404 JSON response.
func NotFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", ErrorDescription: "not found"})
}

// TooManyRequests returns a 429 JSON response.
func TooManyRequests(w http.ResponseWriter) {
	writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limited", ErrorDescription: "too many requests, try again later"})
}

// ServiceUnavailable returns a 503 JSON response for features that are not configured.
func ServiceUnavailable(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "unavailable", ErrorDescription: message})
}

// statusForKind maps flow failure kinds to HTTP status codes.
func statusForKind(k flow.Kind) int {
	switch k {
	case flow.KindMissingParameter, flow.KindProviderDenied, flow.KindProviderError:
		return http.StatusBadRequest
	case flow.KindUnknownUser, flow.KindNotFound:
		return http.StatusNotFound
	case flow.KindStateMismatch, flow.KindExchangeFailed:
		return http.StatusUnauthorized
	case flow.KindNoEmail:
		return http.StatusUnprocessableEntity
	case flow.KindDomainRejected:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// FlowFailure writes a JSON failure for err. Non-flow errors become a generic 500.
func FlowFailure(w http.ResponseWriter, r *http.Request, err error) {
	var f *flow.Failure
	if !errors.As(err, &f) {
		InternalServerError(w, r, err)
		return
	}
	status := statusForKind(f.Kind)
	if status >= http.StatusInternalServerError {
		logError(r, "oauth flow failed", "kind", f.Kind, "error", f.Err)
	} else {
		logWarn(r, "oauth flow failed", "kind", f.Kind, "error", f.Err)
	}
	writeJSON(w, status, errorBody{Error: string(f.Kind), ErrorDescription: f.Reason})
}

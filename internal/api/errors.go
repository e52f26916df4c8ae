package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/eglab8306/aquanext-dashboard/internal/telemetry"
)

// ErrorBody is the JSON body of every failed request.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Tank    string `json:"tank,omitempty"`
}

// Error codes the dashboard switches on.
const (
	CodeTankNotFound  = "tank_not_found"
	CodeInvalidMode   = "invalid_mode"
	CodeMalformedBody = "malformed_body"
	CodeBodyTooLarge  = "body_too_large"
	CodeCommandFailed = "command_failed"
	CodeInternal      = "internal"
)

var (
	// errMalformedBody is returned when a command body is not valid JSON.
	errMalformedBody = errors.New("malformed JSON body")

	// errCommandFailed wraps a mode command that failed for a reason other
	// than the requested value.
	errCommandFailed = errors.New("mode command failed")

	// errHandlerPanic is reported when a handler panics.
	errHandlerPanic = errors.New("internal server error")
)

// classifyError maps a request failure to its HTTP status and error code.
func classifyError(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, telemetry.ErrTankNotFound):
		return http.StatusNotFound, CodeTankNotFound
	case errors.Is(err, telemetry.ErrInvalidMode):
		return http.StatusBadRequest, CodeInvalidMode
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, CodeBodyTooLarge
	case errors.Is(err, errMalformedBody):
		return http.StatusBadRequest, CodeMalformedBody
	case errors.Is(err, errCommandFailed):
		return http.StatusInternalServerError, CodeCommandFailed
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeFailure writes err as an ErrorBody. Internal causes are not echoed
// to the client.
func writeFailure(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, ErrorBody{Code: code, Message: msg})
}

// writeTankNotFound writes the 404 for an unknown tank id.
func writeTankNotFound(w http.ResponseWriter, id string) {
	status, code := classifyError(telemetry.ErrTankNotFound)
	writeJSON(w, status, ErrorBody{
		Code:    code,
		Message: telemetry.ErrTankNotFound.Error(),
		Tank:    id,
	})
}

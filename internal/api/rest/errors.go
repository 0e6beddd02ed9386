package rest

import (
	"encoding/json"
	"net/http"

	"github.com/kubently/kubently/internal/model"
	"github.com/kubently/kubently/internal/pkg/logger"
)

// errorEnvelope is the uniform JSON error body for every failed
// request (spec.md §7).
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code      model.ErrorCode `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id,omitempty"`
}

var statusByCode = map[model.ErrorCode]int{
	model.ErrUnauthenticated:   http.StatusUnauthorized,
	model.ErrUnauthorized:      http.StatusForbidden,
	model.ErrInvalidArgument:   http.StatusBadRequest,
	model.ErrNotFound:          http.StatusNotFound,
	model.ErrTimeout:           http.StatusGatewayTimeout,
	model.ErrUnavailable:       http.StatusServiceUnavailable,
	model.ErrResourceExhausted: http.StatusTooManyRequests,
}

func statusForCode(code model.ErrorCode) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// respondError writes the uniform error envelope for err, mapping a
// *model.Error to its designated status code or falling back to 500.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	code := model.ErrUnavailable
	message := err.Error()
	if merr, ok := err.(*model.Error); ok {
		code = merr.Code
		message = merr.Message
	}
	respondErrorCode(w, r, code, message)
}

// respondErrorCode writes the uniform error envelope directly from a
// code/message pair, for handler-local validation failures that never
// constructed a *model.Error.
func respondErrorCode(w http.ResponseWriter, r *http.Request, code model.ErrorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForCode(code))
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: errorBody{
		Code:      code,
		Message:   message,
		RequestID: logger.FromContext(r.Context()),
	}})
}

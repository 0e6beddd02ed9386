package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kubently/kubently/internal/auth"
	"github.com/kubently/kubently/internal/model"
)

type resultRequest struct {
	CommandID       string `json:"command_id"`
	Status          string `json:"status"`
	Output          string `json:"output,omitempty"`
	Truncated       bool   `json:"truncated,omitempty"`
	Error           string `json:"error,omitempty"`
	ExecutionTimeMs int64  `json:"execution_time_ms,omitempty"`
}

// PostResult implements POST /executor/results — an authenticated
// executor delivers the outcome of one previously-dispatched command.
func (h *Handler) PostResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := auth.IdentityFromContext(ctx)

	var req resultRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, int64(h.OutputCapBytes)+4096)).Decode(&req); err != nil {
		respondErrorCode(w, r, model.ErrInvalidArgument, "malformed request body")
		return
	}
	if req.CommandID == "" {
		respondErrorCode(w, r, model.ErrInvalidArgument, "command_id is required")
		return
	}

	status := model.Status(req.Status)
	switch status {
	case model.StatusSuccess, model.StatusFailure, model.StatusTimeout:
	default:
		respondErrorCode(w, r, model.ErrInvalidArgument, "invalid status")
		return
	}

	output := []byte(req.Output)
	truncated := req.Truncated
	if len(output) > h.OutputCapBytes {
		output = output[:h.OutputCapBytes]
		truncated = true
	}

	result := &model.Result{
		CommandID:       req.CommandID,
		ClusterID:       id.ClusterID,
		Status:          status,
		Output:          output,
		Truncated:       truncated,
		Error:           req.Error,
		ExecutionTimeMs: req.ExecutionTimeMs,
		ExecutedAt:      time.Now().UTC().Format(time.RFC3339),
	}
	if err := h.Bus.DeliverResult(ctx, result); err != nil {
		respondError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

package rest

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kubently/kubently/internal/model"
	"github.com/kubently/kubently/internal/pkg/logger"
	"github.com/kubently/kubently/internal/pkg/metrics"
)

type dispatchRequest struct {
	ClusterID      string   `json:"cluster_id"`
	Args           []string `json:"args"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
}

type dispatchResponse struct {
	CommandID       string `json:"command_id"`
	ClusterID       string `json:"cluster_id"`
	Status          string `json:"status"`
	Output          string `json:"output,omitempty"`
	Truncated       bool   `json:"truncated,omitempty"`
	Error           string `json:"error,omitempty"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
}

// Dispatch implements POST /debug/execute — C4's full algorithm:
// validate, check executor registration and capability policy,
// publish, await the result or synthesize a timeout.
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	var req dispatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&req); err != nil {
		respondErrorCode(w, r, model.ErrInvalidArgument, "malformed request body")
		return
	}

	if !model.ValidateClusterID(req.ClusterID) {
		respondErrorCode(w, r, model.ErrInvalidArgument, "invalid cluster_id")
		return
	}
	if err := model.ValidateArgs(req.Args); err != nil {
		respondErrorCode(w, r, model.ErrInvalidArgument, err.Error())
		return
	}

	registered, err := h.Tokens.Exists(ctx, req.ClusterID)
	if err != nil {
		respondErrorCode(w, r, model.ErrUnavailable, "executor registry unavailable")
		return
	}
	if !registered {
		respondErrorCode(w, r, model.ErrNotFound, "no executor registered for cluster")
		return
	}

	// cluster:active is an advisory liveness hint only (spec.md §4.4
	// step 4, §4.6, §9 Open Question #2) — a registered-but-currently-
	// offline cluster still gets published to and waited on, timing
	// out via AwaitResult rather than failing fast here.
	caps, err := h.Capabilities.GetOrDefault(ctx, req.ClusterID)
	if err != nil {
		respondErrorCode(w, r, model.ErrUnavailable, "capability registry unavailable")
		return
	}
	if !caps.AllowsVerb(req.Args[0]) {
		respondErrorCode(w, r, model.ErrUnauthorized, fmt.Sprintf("verb %q is not permitted for this cluster", req.Args[0]))
		return
	}

	commandID, err := newCommandID()
	if err != nil {
		respondErrorCode(w, r, model.ErrUnavailable, "failed to allocate command id")
		return
	}

	timeout := h.CommandTimeoutDefault
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	if timeout > h.CommandTimeoutMax {
		timeout = h.CommandTimeoutMax
	}
	deadline := start.Add(timeout)

	// Best-effort liveness extension; cluster:active is advisory only
	// and never gates the publish below.
	_ = h.Bus.SetActive(ctx, req.ClusterID)

	cmd := &model.Command{
		ID:             commandID,
		ClusterID:      req.ClusterID,
		Args:           req.Args,
		DeadlineUnixMs: deadline.UnixMilli(),
		CorrelationID:  logger.FromContext(ctx),
	}
	if err := h.Bus.MarkPending(ctx, commandID); err != nil {
		respondErrorCode(w, r, model.ErrUnavailable, "failed to register command")
		return
	}
	if err := h.Bus.Publish(ctx, req.ClusterID, cmd); err != nil {
		metrics.CommandsDispatchedTotal.WithLabelValues(req.ClusterID, "publish_error").Inc()
		respondErrorCode(w, r, model.ErrUnavailable, "failed to publish command")
		return
	}

	result, err := h.Bus.AwaitResult(ctx, commandID, deadline)
	elapsed := time.Since(start)
	if err != nil {
		if merr, ok := err.(*model.Error); ok && merr.Code == model.ErrTimeout {
			metrics.CommandTimeoutsTotal.WithLabelValues(req.ClusterID).Inc()
			metrics.CommandsDispatchedTotal.WithLabelValues(req.ClusterID, "timeout").Inc()
			metrics.CommandDispatchDurationSeconds.WithLabelValues(req.ClusterID).Observe(elapsed.Seconds())
			writeDispatchResult(w, &dispatchResponse{
				CommandID:       commandID,
				ClusterID:       req.ClusterID,
				Status:          string(model.StatusTimeout),
				Error:           "Command execution timeout",
				ExecutionTimeMs: elapsed.Milliseconds(),
			})
			return
		}
		metrics.CommandsDispatchedTotal.WithLabelValues(req.ClusterID, "await_error").Inc()
		respondErrorCode(w, r, model.ErrUnavailable, "failed to await result")
		return
	}

	metrics.CommandsDispatchedTotal.WithLabelValues(req.ClusterID, string(result.Status)).Inc()
	metrics.CommandDispatchDurationSeconds.WithLabelValues(req.ClusterID).Observe(elapsed.Seconds())

	writeDispatchResult(w, &dispatchResponse{
		CommandID:       result.CommandID,
		ClusterID:       req.ClusterID,
		Status:          string(result.Status),
		Output:          string(result.Output),
		Truncated:       result.Truncated,
		Error:           result.Error,
		ExecutionTimeMs: elapsed.Milliseconds(),
	})
}

func writeDispatchResult(w http.ResponseWriter, resp *dispatchResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// newCommandID returns a 128-bit, URL-safe base64 opaque token, kept
// visually distinct from uuid.New() (used for stream session IDs) so
// the two ID spaces aren't interchangeable in logs.
func newCommandID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(buf), nil
}

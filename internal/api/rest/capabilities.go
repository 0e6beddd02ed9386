package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/kubently/kubently/internal/auth"
	"github.com/kubently/kubently/internal/model"
	"github.com/kubently/kubently/internal/pkg/metrics"
)

type capabilityRequest struct {
	SecurityMode         string          `json:"security_mode"`
	AllowedVerbs         []string        `json:"allowed_verbs"`
	ResourceRestrictions []string        `json:"resource_restrictions,omitempty"`
	Features             map[string]bool `json:"features,omitempty"`
	ExecutorVersion      string          `json:"executor_version,omitempty"`
}

// PostCapabilities implements POST /executor/capabilities — an
// executor reports its current policy on connect (spec.md §4.6).
func (h *Handler) PostCapabilities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := auth.IdentityFromContext(ctx)

	var req capabilityRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&req); err != nil {
		respondErrorCode(w, r, model.ErrInvalidArgument, "malformed request body")
		return
	}

	rec := &model.CapabilityRecord{
		SecurityMode:         model.SecurityMode(req.SecurityMode),
		AllowedVerbs:         req.AllowedVerbs,
		ResourceRestrictions: req.ResourceRestrictions,
		Features:             req.Features,
		ExecutorVersion:      req.ExecutorVersion,
		Timestamp:            time.Now().UTC().Format(time.RFC3339),
	}
	if err := h.Capabilities.Put(ctx, id.ClusterID, rec); err != nil {
		respondError(w, r, err)
		return
	}
	_ = h.Bus.SetActive(ctx, id.ClusterID)
	metrics.CapabilityWritesTotal.WithLabelValues(id.ClusterID).Inc()

	w.WriteHeader(http.StatusNoContent)
}

// PostHeartbeat implements POST /executor/heartbeat — refreshes the
// active marker and the capability record's TTL without resubmitting
// the full policy.
func (h *Handler) PostHeartbeat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := auth.IdentityFromContext(ctx)

	if err := h.Bus.SetActive(ctx, id.ClusterID); err != nil {
		respondErrorCode(w, r, model.ErrUnavailable, "failed to record heartbeat")
		return
	}

	// Re-store the existing record to extend its TTL; a missing record
	// falls back to the default policy, which is harmless to re-store.
	rec, err := h.Capabilities.GetOrDefault(ctx, id.ClusterID)
	if err == nil {
		_ = h.Capabilities.Put(ctx, id.ClusterID, rec)
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetClusterCapabilities implements GET /clusters/{cluster_id}/capabilities
// — an API-key authenticated caller reads the current policy.
func (h *Handler) GetClusterCapabilities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clusterID := mux.Vars(r)["cluster_id"]
	if !model.ValidateClusterID(clusterID) {
		respondErrorCode(w, r, model.ErrInvalidArgument, "invalid cluster_id")
		return
	}

	rec, err := h.Capabilities.Get(ctx, clusterID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rec)
}

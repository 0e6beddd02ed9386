package rest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kubently/kubently/internal/auth"
	"github.com/kubently/kubently/internal/model"
)

type mintTokenResponse struct {
	ClusterID string `json:"cluster_id"`
	Token     string `json:"token"`
}

type mintTokenRequest struct {
	Token string `json:"token,omitempty"`
}

// PostAdminExecutorToken implements POST /admin/executors/{cluster_id}/token
// — mints (or rotates) clusterID's executor token. Admin-identity gated.
// The request body is optional; when it carries a "token" field, that
// value is stored as-is after validation instead of generating a fresh
// one (spec.md §4.1 "mint_executor_token(cluster_id, token?)", §6
// "optional body provides token").
func (h *Handler) PostAdminExecutorToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clusterID := mux.Vars(r)["cluster_id"]
	if !model.ValidateClusterID(clusterID) {
		respondErrorCode(w, r, model.ErrInvalidArgument, "invalid cluster_id")
		return
	}

	var req mintTokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil && err != io.EOF {
		respondErrorCode(w, r, model.ErrInvalidArgument, "malformed request body")
		return
	}

	caller := auth.IdentityFromContext(ctx)
	token, err := h.Tokens.Mint(ctx, clusterID, req.Token)
	if err != nil {
		h.Auditor.Log(ctx, caller.Name, clusterID, "mint_token", "failure", err.Error())
		if errors.Is(err, auth.ErrMalformedToken) {
			respondErrorCode(w, r, model.ErrInvalidArgument, "malformed token")
			return
		}
		respondErrorCode(w, r, model.ErrUnavailable, "failed to mint executor token")
		return
	}
	h.Auditor.Log(ctx, caller.Name, clusterID, "mint_token", "success", "")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(mintTokenResponse{ClusterID: clusterID, Token: token})
}

// DeleteAdminExecutorToken implements DELETE /admin/executors/{cluster_id}/token
// — revokes clusterID's executor token and retires its capability
// record, matching spec.md §3's revoke-cascades-to-capabilities invariant.
func (h *Handler) DeleteAdminExecutorToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clusterID := mux.Vars(r)["cluster_id"]
	if !model.ValidateClusterID(clusterID) {
		respondErrorCode(w, r, model.ErrInvalidArgument, "invalid cluster_id")
		return
	}

	caller := auth.IdentityFromContext(ctx)
	if err := h.Tokens.Revoke(ctx, clusterID); err != nil {
		h.Auditor.Log(ctx, caller.Name, clusterID, "revoke_token", "failure", err.Error())
		respondErrorCode(w, r, model.ErrUnavailable, "failed to revoke executor token")
		return
	}
	if err := h.Capabilities.Delete(ctx, clusterID); err != nil {
		h.Log.Warn("failed to delete capability record on token revoke", "cluster_id", clusterID, "error", err)
	}
	_ = h.Bus.ClearActive(ctx, clusterID)
	h.Auditor.Log(ctx, caller.Name, clusterID, "revoke_token", "success", "")

	w.WriteHeader(http.StatusNoContent)
}

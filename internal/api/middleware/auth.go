package middleware

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/kubently/kubently/internal/auth"
	"github.com/kubently/kubently/internal/model"
	"github.com/kubently/kubently/internal/pkg/metrics"
)

func writeAuthError(w http.ResponseWriter, status int, code model.ErrorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":{"code":"` + string(code) + `","message":"` + message + `"}}`))
}

func extractBearer(r *http.Request) string {
	s := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(s) > len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return strings.TrimSpace(s[len(prefix):])
	}
	return ""
}

// APIKeyAuth authenticates caller-facing endpoints (/debug/execute,
// /admin/*, capability reads) against the static service API key set,
// per spec.md §4.1: the caller presents only the key, and its identity
// is derived from a server-side reverse lookup. Populates auth.Identity
// on success.
func APIKeyAuth(keys *auth.APIKeySet, admins map[string]bool, auditor *auth.Auditor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = extractBearer(r)
			}
			identity, ok := keys.Verify(key)
			if key == "" || !ok {
				metrics.AuthFailuresTotal.WithLabelValues("api_key").Inc()
				auditor.Log(r.Context(), "", "", "verify_api_key", "failure", "missing or invalid API key")
				writeAuthError(w, http.StatusUnauthorized, model.ErrUnauthenticated, "missing or invalid API key")
				return
			}
			auditor.Log(r.Context(), identity, "", "verify_api_key", "success", "")
			ctx := auth.WithIdentity(r.Context(), &auth.Identity{
				Name:    identity,
				IsAdmin: admins[identity],
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects requests whose authenticated identity is not in
// the admin set, for /admin/* endpoints (spec.md §4.1 open question,
// resolved: admin scope is a configured identity allow-list).
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := auth.IdentityFromContext(r.Context())
		if id == nil || !id.IsAdmin {
			writeAuthError(w, http.StatusForbidden, model.ErrUnauthorized, "admin privilege required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ExecutorTokenAuth authenticates executor-facing endpoints
// (/executor/*) against the per-cluster executor token store. The
// cluster_id route variable and the bearer token must match.
func ExecutorTokenAuth(tokens *auth.ExecutorTokens, auditor *auth.Auditor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clusterID := mux.Vars(r)["cluster_id"]
			token := extractBearer(r)
			if clusterID == "" {
				clusterID = r.Header.Get("X-Cluster-ID")
			}
			if clusterID == "" {
				clusterID = r.URL.Query().Get("cluster_id")
			}
			if clusterID == "" || !model.ValidateClusterID(clusterID) {
				writeAuthError(w, http.StatusBadRequest, model.ErrInvalidArgument, "invalid cluster_id")
				return
			}
			if token == "" || !tokens.Verify(r.Context(), clusterID, token) {
				metrics.AuthFailuresTotal.WithLabelValues("executor_token").Inc()
				auditor.Log(r.Context(), "", clusterID, "verify_executor", "failure", "missing or invalid executor token")
				// Same response regardless of whether clusterID is known,
				// so "unknown cluster" and "wrong token" are indistinguishable.
				writeAuthError(w, http.StatusUnauthorized, model.ErrUnauthenticated, "missing or invalid executor token")
				return
			}
			auditor.Log(r.Context(), "executor:"+clusterID, clusterID, "verify_executor", "success", "")
			ctx := auth.WithIdentity(r.Context(), &auth.Identity{
				Name:      "executor:" + clusterID,
				ClusterID: clusterID,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// MetricsAuth optionally protects /metrics with the same API key set
// used for the dispatch API, when enabled (defaults to open, matching
// the expectation that a Prometheus scraper has no key).
func MetricsAuth(enabled bool, keys *auth.APIKeySet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("X-API-Key")
			if _, ok := keys.Verify(key); key == "" || !ok {
				writeAuthError(w, http.StatusUnauthorized, model.ErrUnauthenticated, "authentication required for metrics endpoint")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

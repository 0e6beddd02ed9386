package rest

import (
	"github.com/gorilla/mux"
)

// SetupRoutes registers the API-key authenticated caller-facing
// routes (dispatch and capability reads). Admin routes are registered
// separately by the caller under their own RequireAdmin-gated
// subrouter; executor routes via SetupExecutorRoutes.
func SetupRoutes(router *mux.Router, h *Handler) {
	router.HandleFunc("/debug/execute", h.Dispatch).Methods("POST")
	router.HandleFunc("/clusters/{cluster_id}/capabilities", h.GetClusterCapabilities).Methods("GET")
}

// SetupAdminRoutes registers the admin-identity gated executor
// credential management routes, relative to the subrouter's own
// path prefix (e.g. mounted at "/admin").
func SetupAdminRoutes(router *mux.Router, h *Handler) {
	router.HandleFunc("/executors/{cluster_id}/token", h.PostAdminExecutorToken).Methods("POST")
	router.HandleFunc("/executors/{cluster_id}/token", h.DeleteAdminExecutorToken).Methods("DELETE")
}

// SetupExecutorRoutes registers the routes an authenticated executor
// calls, relative to the subrouter's own path prefix (e.g. mounted at
// "/executor").
func SetupExecutorRoutes(router *mux.Router, h *Handler) {
	router.HandleFunc("/results", h.PostResult).Methods("POST")
	router.HandleFunc("/capabilities", h.PostCapabilities).Methods("POST")
	router.HandleFunc("/heartbeat", h.PostHeartbeat).Methods("POST")
}

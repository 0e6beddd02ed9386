// Command fabric runs the dispatch fabric's control plane: the HTTP
// API callers use to dispatch commands and the SSE endpoint executors
// connect to, all coordinated through Redis.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"github.com/kubently/kubently/internal/api/middleware"
	"github.com/kubently/kubently/internal/api/rest"
	"github.com/kubently/kubently/internal/api/stream"
	"github.com/kubently/kubently/internal/auth"
	"github.com/kubently/kubently/internal/bus"
	"github.com/kubently/kubently/internal/capability"
	"github.com/kubently/kubently/internal/config"
	"github.com/kubently/kubently/internal/pkg/logger"
	"github.com/kubently/kubently/internal/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	log.Info("fabric starting", "port", cfg.Port)

	tracingEndpoint := cfg.TracingEndpoint
	if !cfg.TracingEnabled {
		tracingEndpoint = ""
	}
	shutdownTracing, err := tracing.Init(cfg.TracingServiceName, tracingEndpoint, cfg.TracingSamplingRate)
	if err != nil {
		log.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing()

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: cfg.RedisPoolSize,
	})
	defer rdb.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Error("failed to reach redis at startup", "error", err)
	}
	cancel()

	b := bus.New(rdb)
	apiKeys := auth.NewAPIKeySet(config.ParseServiceIdentities(cfg.APIKeys))
	tokens := auth.NewExecutorTokens(rdb)
	admins := config.AdminIdentitySet(cfg.AdminIdentities)
	caps := capability.New(rdb)
	auditor := auth.NewAuditor(rdb)

	handler := rest.NewHandler(
		b, apiKeys, tokens, caps, auditor, log,
		time.Duration(cfg.CommandTimeoutDefaultSeconds)*time.Second,
		time.Duration(cfg.CommandTimeoutMaxSeconds)*time.Second,
		cfg.CommandOutputCapBytes,
	)
	streamHandler := stream.NewHandler(b, log, time.Duration(cfg.SSEKeepaliveSeconds)*time.Second)

	router := mux.NewRouter()

	router.HandleFunc("/healthz", handler.Healthz).Methods("GET")
	router.Handle("/metrics", middleware.MetricsAuth(cfg.MetricsAuthEnabled, apiKeys)(promhttp.Handler())).Methods("GET")

	callerRouter := router.PathPrefix("/").Subrouter()
	callerRouter.Use(middleware.APIKeyAuth(apiKeys, admins, auditor))
	rest.SetupRoutes(callerRouter, handler)

	adminRouter := callerRouter.PathPrefix("/admin").Subrouter()
	adminRouter.Use(middleware.RequireAdmin)
	rest.SetupAdminRoutes(adminRouter, handler)

	executorRouter := router.PathPrefix("/executor").Subrouter()
	executorRouter.Use(middleware.ExecutorTokenAuth(tokens, auditor))
	rest.SetupExecutorRoutes(executorRouter, handler)
	executorRouter.HandleFunc("/stream", streamHandler.Serve).Methods("GET")

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "not found"})
	})

	router.Use(middleware.SecureHeaders)
	router.Use(middleware.RequestID)
	router.Use(middleware.Tracing)
	router.Use(middleware.StructuredLog(log))
	router.Use(middleware.Recover(log))
	router.Use(middleware.CORSValidation(cfg.AllowedOrigins, log))
	router.Use(middleware.RateLimit(identityKeyFunc))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-API-Key", "X-Cluster-ID"},
		AllowCredentials: true,
	}).Handler(router)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      corsHandler,
		ReadTimeout:  time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		WriteTimeout: 0, // SSE streams are long-lived; bounded by client/server context instead.
		IdleTimeout:  90 * time.Second,
	}

	go func() {
		log.Info("fabric listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("fabric shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced to shutdown", "error", err)
	}
	log.Info("fabric exited")
}

// identityKeyFunc extracts the rate-limit bucketing key. Rate limiting
// runs before auth in this chain (outermost Use calls wrap innermost),
// so there is no resolved auth.Identity yet to key on; the presented
// credential itself (API key, bearer token, or executor token) is used
// instead, falling back to client IP when the request carries none.
func identityKeyFunc(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if bearer := r.Header.Get("Authorization"); bearer != "" {
		return bearer
	}
	return r.RemoteAddr
}

// Package stream implements the executor-facing Server-Sent Events
// endpoint (spec.md §4.3 / C3). No SSE server framework exists
// anywhere in the retrieved corpus, so this writes the event stream
// directly against http.ResponseWriter/http.Flusher the same way
// kubilitics-backend's overview_stream.go hand-rolls its own push
// channel (there on gorilla/websocket; here on bare net/http, since
// the wire contract is a one-way SSE push, not a socket).
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kubently/kubently/internal/auth"
	"github.com/kubently/kubently/internal/bus"
	"github.com/kubently/kubently/internal/model"
	"github.com/kubently/kubently/internal/pkg/metrics"
)

// Handler serves GET /executor/stream.
type Handler struct {
	Bus              *bus.Bus
	Log              *slog.Logger
	KeepaliveInterval time.Duration
}

// NewHandler constructs a stream Handler.
func NewHandler(b *bus.Bus, log *slog.Logger, keepalive time.Duration) *Handler {
	return &Handler{Bus: b, Log: log, KeepaliveInterval: keepalive}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, kind model.StreamEventKind, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", kind, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// Serve implements the executor stream's connect/subscribe/push loop.
// Auth is expected to have run already (middleware.ExecutorTokenAuth),
// populating auth.Identity in the request context.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	id := auth.IdentityFromContext(r.Context())
	clusterID := id.ClusterID

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	sub, err := h.Bus.Subscribe(ctx, clusterID)
	if err != nil {
		metrics.ExecutorStreamConnectsTotal.WithLabelValues("subscribe_error").Inc()
		h.Log.Error("stream: subscribe failed", "cluster_id", clusterID, "error", err)
		return
	}
	defer sub.Close()

	_ = h.Bus.SetActive(ctx, clusterID)
	metrics.ExecutorStreamsActive.Inc()
	defer metrics.ExecutorStreamsActive.Dec()
	metrics.ExecutorStreamConnectsTotal.WithLabelValues("ok").Inc()

	sessionID := uuid.New().String()
	if err := writeEvent(w, flusher, model.StreamConnected, model.ConnectedPayload{SessionID: sessionID}); err != nil {
		return
	}
	h.Log.Info("stream: connected", "cluster_id", clusterID, "session_id", sessionID)

	ticker := time.NewTicker(h.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = h.Bus.ClearActive(context.Background(), clusterID)
			return
		case <-ticker.C:
			_ = h.Bus.SetActive(ctx, clusterID)
			if err := writeEvent(w, flusher, model.StreamKeepalive, struct{}{}); err != nil {
				return
			}
		case cmd, ok := <-sub.Commands():
			if !ok {
				return
			}
			if err := writeEvent(w, flusher, model.StreamCommand, cmd); err != nil {
				return
			}
		}
	}
}

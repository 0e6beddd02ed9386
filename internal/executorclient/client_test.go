package executorclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStreamReturnsErrUnauthorizedOn401(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := &Config{ClusterID: "a", Token: "bad", FabricBaseURL: srv.URL, KubectlPath: "kubectl", CommandTimeout: time.Second, HeartbeatInterval: time.Minute}
	c := NewClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := c.openStream(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errUnauthorized)
}

func TestRunExitsImmediatelyWhenUnauthorized(t *testing.T) {
	var capabilityCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/executor/capabilities":
			capabilityCalls.Add(1)
			w.WriteHeader(http.StatusNoContent)
		case "/executor/stream":
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	cfg := &Config{ClusterID: "a", Token: "bad", FabricBaseURL: srv.URL, KubectlPath: "kubectl", CommandTimeout: time.Second, HeartbeatInterval: time.Minute}
	c := NewClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errUnauthorized)
	assert.Equal(t, int32(1), capabilityCalls.Load())
}

func TestConsumeStreamDispatchesCommandAndReportsResult(t *testing.T) {
	resultReceived := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/executor/results":
			body, _ := io.ReadAll(r.Body)
			resultReceived <- string(body)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	cfg := &Config{ClusterID: "a", Token: "tok", FabricBaseURL: srv.URL, KubectlPath: "echo", CommandTimeout: time.Second, OutputCapBytes: 1024, HeartbeatInterval: time.Minute}
	c := NewClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	sseBody := "event: connected\ndata: {\"session_id\":\"s1\"}\n\n" +
		fmt.Sprintf("event: command\ndata: {\"id\":\"c1\",\"args\":[\"get\",\"pods\"]}\n\n")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := c.consumeStream(ctx, strings.NewReader(sseBody))
	assert.Error(t, err) // reader is exhausted, reported as stream-closed

	select {
	case body := <-resultReceived:
		assert.Contains(t, body, `"command_id":"c1"`)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result report")
	}
}

package stream

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubently/kubently/internal/auth"
	"github.com/kubently/kubently/internal/bus"
	"github.com/kubently/kubently/internal/model"
)

// flushRecorder adapts httptest.ResponseRecorder to http.Flusher by
// also satisfying the interface it already implements via embedding.
type flushRecorder struct {
	*httptest.ResponseRecorder
}

func (f *flushRecorder) Flush() {}

func TestServeWritesConnectedThenCommandEvent(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	b := bus.New(rdb)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := NewHandler(b, log, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/executor/stream", nil)
	req = req.WithContext(auth.WithIdentity(ctx, &auth.Identity{Name: "executor:cluster-a", ClusterID: "cluster-a"}))
	rr := &flushRecorder{httptest.NewRecorder()}

	done := make(chan struct{})
	go func() {
		h.Serve(rr, req)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Publish(context.Background(), "cluster-a", &model.Command{ID: "c1", Args: []string{"get", "pods"}}))

	<-done

	body := rr.Body.String()
	reader := bufio.NewReader(strings.NewReader(body))
	firstLine, _ := reader.ReadString('\n')
	assert.Contains(t, firstLine, "event: connected")
	assert.Contains(t, body, "event: command")
	assert.Contains(t, body, `"id":"c1"`)
}

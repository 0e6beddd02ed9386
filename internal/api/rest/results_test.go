package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostResultRejectsUnknownCommandID(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body, _ := json.Marshal(resultRequest{CommandID: "never-dispatched", Status: "success"})
	req := httptest.NewRequest(http.MethodPost, "/executor/results", bytes.NewReader(body))
	req = withExecutorIdentity(req, "cluster-a")
	rr := httptest.NewRecorder()

	h.PostResult(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPostResultRejectsDuplicateDelivery(t *testing.T) {
	h, b, _ := newTestHandler(t)
	ctx := context.Background()
	require.NoError(t, b.MarkPending(ctx, "c1"))

	body, _ := json.Marshal(resultRequest{CommandID: "c1", Status: "success", Output: "ok"})

	first := httptest.NewRequest(http.MethodPost, "/executor/results", bytes.NewReader(body))
	first = withExecutorIdentity(first, "cluster-a")
	rr1 := httptest.NewRecorder()
	h.PostResult(rr1, first)
	assert.Equal(t, http.StatusNoContent, rr1.Code)

	second := httptest.NewRequest(http.MethodPost, "/executor/results", bytes.NewReader(body))
	second = withExecutorIdentity(second, "cluster-a")
	rr2 := httptest.NewRecorder()
	h.PostResult(rr2, second)
	assert.Equal(t, http.StatusNotFound, rr2.Code)
}

func TestPostResultAcceptsPendingCommand(t *testing.T) {
	h, b, _ := newTestHandler(t)
	ctx := context.Background()
	require.NoError(t, b.MarkPending(ctx, "c2"))

	body, _ := json.Marshal(resultRequest{CommandID: "c2", Status: "success", Output: "pod/x is Running"})
	req := httptest.NewRequest(http.MethodPost, "/executor/results", bytes.NewReader(body))
	req = withExecutorIdentity(req, "cluster-a")
	rr := httptest.NewRecorder()

	h.PostResult(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
}

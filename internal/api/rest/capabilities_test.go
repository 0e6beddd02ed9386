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

	"github.com/kubently/kubently/internal/auth"
	"github.com/kubently/kubently/internal/model"
)

func withExecutorIdentity(r *http.Request, clusterID string) *http.Request {
	return r.WithContext(auth.WithIdentity(r.Context(), &auth.Identity{Name: "executor:" + clusterID, ClusterID: clusterID}))
}

func TestPostCapabilitiesStoresRecord(t *testing.T) {
	h, _, _ := newTestHandler(t)
	body, _ := json.Marshal(capabilityRequest{SecurityMode: "readOnly", AllowedVerbs: []string{"get", "logs"}})
	req := httptest.NewRequest(http.MethodPost, "/executor/capabilities", bytes.NewReader(body))
	req = withExecutorIdentity(req, "cluster-a")
	rr := httptest.NewRecorder()

	h.PostCapabilities(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rec, err := h.Capabilities.Get(req.Context(), "cluster-a")
	require.NoError(t, err)
	assert.True(t, rec.AllowsVerb("logs"))
}

func TestGetClusterCapabilitiesReturnsNotFoundWhenUnset(t *testing.T) {
	h, _, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/clusters/cluster-a/capabilities", nil)
	req = withClusterVar(req, "cluster-a")
	rr := httptest.NewRecorder()

	h.GetClusterCapabilities(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetClusterCapabilitiesReturnsRecordWhenSet(t *testing.T) {
	h, _, _ := newTestHandler(t)
	require.NoError(t, h.Capabilities.Put(context.Background(), "cluster-a", &model.CapabilityRecord{
		SecurityMode: model.SecurityExtendedReadOnly,
		AllowedVerbs: []string{"get", "top"},
	}))

	req := httptest.NewRequest(http.MethodGet, "/clusters/cluster-a/capabilities", nil)
	req = withClusterVar(req, "cluster-a")
	rr := httptest.NewRecorder()

	h.GetClusterCapabilities(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	var rec model.CapabilityRecord
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&rec))
	assert.Equal(t, model.SecurityExtendedReadOnly, rec.SecurityMode)
}

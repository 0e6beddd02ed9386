package capability

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubently/kubently/internal/model"
)

func newTestRegistry(t *testing.T) (*Registry, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb), mr
}

func TestGetReturnsNotFoundWhenAbsent(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.Get(context.Background(), "cluster-a")
	require.Error(t, err)
	merr, ok := err.(*model.Error)
	require.True(t, ok)
	assert.Equal(t, model.ErrNotFound, merr.Code)
}

func TestGetOrDefaultReturnsDefaultWhenAbsent(t *testing.T) {
	reg, _ := newTestRegistry(t)
	rec, err := reg.GetOrDefault(context.Background(), "cluster-a")
	require.NoError(t, err)
	assert.Equal(t, model.SecurityReadOnly, rec.SecurityMode)
	assert.True(t, rec.AllowsVerb("get"))
	assert.False(t, rec.AllowsVerb("delete"))
}

func TestPutThenGetRoundTrips(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	rec := &model.CapabilityRecord{
		SecurityMode: model.SecurityExtendedReadOnly,
		AllowedVerbs: []string{"get", "describe", "top"},
	}
	require.NoError(t, reg.Put(ctx, "cluster-a", rec))

	got, err := reg.Get(ctx, "cluster-a")
	require.NoError(t, err)
	assert.Equal(t, model.SecurityExtendedReadOnly, got.SecurityMode)
	assert.True(t, got.AllowsVerb("describe"))
}

func TestPutRejectsOversizedRecord(t *testing.T) {
	reg, _ := newTestRegistry(t)
	verbs := make([]string, model.MaxCapabilityEntries+1)
	for i := range verbs {
		verbs[i] = "verb"
	}
	err := reg.Put(context.Background(), "cluster-a", &model.CapabilityRecord{AllowedVerbs: verbs})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "exceeds"))
}

func TestDeleteRemovesRecordFallsBackToDefault(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Put(ctx, "cluster-a", &model.CapabilityRecord{SecurityMode: model.SecurityReadWrite}))
	require.NoError(t, reg.Delete(ctx, "cluster-a"))

	rec, err := reg.GetOrDefault(ctx, "cluster-a")
	require.NoError(t, err)
	assert.Equal(t, model.SecurityReadOnly, rec.SecurityMode)
}

func TestRecordExpiresAfterTTL(t *testing.T) {
	reg, mr := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Put(ctx, "cluster-a", &model.CapabilityRecord{SecurityMode: model.SecurityReadWrite}))
	mr.FastForward(recordTTL + 1)

	rec, err := reg.GetOrDefault(ctx, "cluster-a")
	require.NoError(t, err)
	assert.Equal(t, model.SecurityReadOnly, rec.SecurityMode)
}

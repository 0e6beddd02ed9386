package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubently/kubently/internal/model"
)

func newTestBus(t *testing.T) (*Bus, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb), mr
}

func TestPublishSubscribeDelivers(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "cluster-a")
	require.NoError(t, err)
	defer sub.Close()

	cmd := &model.Command{ID: "c1", Args: []string{"get", "pods"}}
	require.NoError(t, b.Publish(ctx, "cluster-a", cmd))

	select {
	case got := <-sub.Commands():
		assert.Equal(t, "c1", got.ID)
		assert.Equal(t, []string{"get", "pods"}, got.Args)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for command delivery")
	}
}

func TestSubscribeIsolatedByCluster(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	subA, err := b.Subscribe(ctx, "cluster-a")
	require.NoError(t, err)
	defer subA.Close()

	require.NoError(t, b.Publish(ctx, "cluster-b", &model.Command{ID: "c2"}))

	select {
	case <-subA.Commands():
		t.Fatal("cluster-a subscription received a command published to cluster-b")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCloseIsIdempotentAndStopsDelivery(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "cluster-a")
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	select {
	case _, ok := <-sub.Commands():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("commands channel not closed after Close")
	}
}

func TestAwaitResultReceivesPublishedResult(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()
	require.NoError(t, b.MarkPending(ctx, "c3"))

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = b.DeliverResult(ctx, &model.Result{CommandID: "c3", Status: model.StatusSuccess, Output: []byte("ok")})
	}()

	res, err := b.AwaitResult(ctx, "c3", time.Now().Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, res.Status)
	assert.Equal(t, []byte("ok"), res.Output)
}

func TestAwaitResultClosesLostWakeupWindow(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()
	require.NoError(t, b.MarkPending(ctx, "c4"))

	// Result delivered before AwaitResult subscribes: must still be
	// observed via the resultKey fallback, not missed.
	require.NoError(t, b.DeliverResult(ctx, &model.Result{CommandID: "c4", Status: model.StatusSuccess}))

	res, err := b.AwaitResult(ctx, "c4", time.Now().Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, res.Status)
}

func TestDeliverResultRejectsUnknownCommandID(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	err := b.DeliverResult(ctx, &model.Result{CommandID: "never-dispatched", Status: model.StatusSuccess})
	require.Error(t, err)
	assert.Same(t, ErrUnknownCommand, err)
}

func TestDeliverResultRejectsDuplicateDelivery(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()
	require.NoError(t, b.MarkPending(ctx, "c5"))

	require.NoError(t, b.DeliverResult(ctx, &model.Result{CommandID: "c5", Status: model.StatusSuccess}))
	err := b.DeliverResult(ctx, &model.Result{CommandID: "c5", Status: model.StatusSuccess})
	require.Error(t, err)
	assert.Same(t, ErrUnknownCommand, err)
}

func TestAwaitResultTimesOut(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	_, err := b.AwaitResult(ctx, "never-arrives", time.Now().Add(50*time.Millisecond))
	require.Error(t, err)
	var modelErr *model.Error
	require.ErrorAs(t, err, &modelErr)
	assert.Equal(t, model.ErrTimeout, modelErr.Code)
}

func TestActiveMarkerLifecycle(t *testing.T) {
	b, mr := newTestBus(t)
	ctx := context.Background()

	active, err := b.IsActive(ctx, "cluster-a")
	require.NoError(t, err)
	assert.False(t, active)

	require.NoError(t, b.SetActive(ctx, "cluster-a"))
	active, err = b.IsActive(ctx, "cluster-a")
	require.NoError(t, err)
	assert.True(t, active)

	mr.FastForward(activeTTL + time.Second)
	active, err = b.IsActive(ctx, "cluster-a")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestClearActive(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	require.NoError(t, b.SetActive(ctx, "cluster-a"))
	require.NoError(t, b.ClearActive(ctx, "cluster-a"))

	active, err := b.IsActive(ctx, "cluster-a")
	require.NoError(t, err)
	assert.False(t, active)
}

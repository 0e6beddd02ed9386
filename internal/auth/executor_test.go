package auth

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutorTokens(t *testing.T) *ExecutorTokens {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewExecutorTokens(rdb)
}

func TestMintThenVerify(t *testing.T) {
	tok := newTestExecutorTokens(t)
	ctx := context.Background()

	token, err := tok.Mint(ctx, "cluster-a", "")
	require.NoError(t, err)
	assert.True(t, tok.Verify(ctx, "cluster-a", token))
	assert.False(t, tok.Verify(ctx, "cluster-a", "wrong-token"))
	assert.False(t, tok.Verify(ctx, "cluster-unknown", token))
}

func TestRevokeInvalidatesToken(t *testing.T) {
	tok := newTestExecutorTokens(t)
	ctx := context.Background()

	token, err := tok.Mint(ctx, "cluster-a", "")
	require.NoError(t, err)
	require.NoError(t, tok.Revoke(ctx, "cluster-a"))

	assert.False(t, tok.Verify(ctx, "cluster-a", token))
}

func TestMintOverwritesPreviousToken(t *testing.T) {
	tok := newTestExecutorTokens(t)
	ctx := context.Background()

	first, err := tok.Mint(ctx, "cluster-a", "")
	require.NoError(t, err)
	second, err := tok.Mint(ctx, "cluster-a", "")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.False(t, tok.Verify(ctx, "cluster-a", first))
	assert.True(t, tok.Verify(ctx, "cluster-a", second))
}

func TestMintAcceptsCallerSuppliedToken(t *testing.T) {
	tok := newTestExecutorTokens(t)
	ctx := context.Background()

	supplied := "caller-supplied-token-0123456789abcdef"
	token, err := tok.Mint(ctx, "cluster-a", supplied)
	require.NoError(t, err)
	assert.Equal(t, supplied, token)
	assert.True(t, tok.Verify(ctx, "cluster-a", supplied))
}

func TestMintRejectsMalformedToken(t *testing.T) {
	tok := newTestExecutorTokens(t)
	ctx := context.Background()

	_, err := tok.Mint(ctx, "cluster-a", "too-short")
	assert.ErrorIs(t, err, ErrMalformedToken)
}

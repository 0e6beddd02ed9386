package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"regexp"

	"github.com/redis/go-redis/v9"
)

// executorTokenKey matches spec.md §6's Redis schema literally.
func executorTokenKey(clusterID string) string { return "executor:token:" + clusterID }

// tokenPattern is spec.md §3's executor token grammar: 32-128 chars,
// alphanumeric plus "-_".
var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{32,128}$`)

// ValidateToken reports whether token matches the caller-supplied
// executor token grammar (spec.md §3, §6's 400 "malformed token").
func ValidateToken(token string) bool {
	return tokenPattern.MatchString(token)
}

// ExecutorTokens is the Redis-backed store of per-cluster executor
// bearer tokens (spec.md §3: executor:token:{cluster_id} -> string).
// Tokens are stored as plaintext rather than hashed: spec.md requires
// the Redis value to be the literal token so an operator can read it
// back for distribution, which rules out a one-way hash like the
// teacher's bcrypt-based API key store.
type ExecutorTokens struct {
	rdb *redis.Client
}

// NewExecutorTokens wraps an existing Redis client.
func NewExecutorTokens(rdb *redis.Client) *ExecutorTokens {
	return &ExecutorTokens{rdb: rdb}
}

// ErrMalformedToken is returned by Mint when a caller-supplied token
// does not match the executor token grammar (spec.md §6's 400
// "malformed token").
var ErrMalformedToken = fmt.Errorf("auth: token does not match the required grammar")

// Mint stores a token for clusterID, overwriting any existing token
// (spec.md §4.1 admin mint/rotate operation). If token is empty, one
// is generated; otherwise the caller-supplied token is validated and
// stored as-is (spec.md §6: "optional body provides token").
func (t *ExecutorTokens) Mint(ctx context.Context, clusterID, token string) (string, error) {
	if token == "" {
		generated, err := GenerateKey()
		if err != nil {
			return "", err
		}
		token = generated
	} else if !ValidateToken(token) {
		return "", ErrMalformedToken
	}
	if err := t.rdb.Set(ctx, executorTokenKey(clusterID), token, 0).Err(); err != nil {
		return "", fmt.Errorf("auth: store executor token: %w", err)
	}
	return token, nil
}

// Revoke deletes clusterID's executor token, immediately invalidating
// any connected executor's ability to reconnect (spec.md §4.1 admin
// revoke operation).
func (t *ExecutorTokens) Revoke(ctx context.Context, clusterID string) error {
	return t.rdb.Del(ctx, executorTokenKey(clusterID)).Err()
}

// Exists reports whether clusterID has a registered executor token at
// all, used by the dispatcher to distinguish "unknown cluster" before
// it ever reaches the bus (spec.md §4.4 step 2).
func (t *ExecutorTokens) Exists(ctx context.Context, clusterID string) (bool, error) {
	n, err := t.rdb.Exists(ctx, executorTokenKey(clusterID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Verify reports whether token is the current executor token for
// clusterID. The comparison always runs against a fixed-shape
// candidate value (the real token, or a sentinel when none is
// configured) and always completes the same constant-time compare, so
// that "unknown cluster" and "wrong token" are not distinguishable by
// timing (spec.md invariant #4).
func (t *ExecutorTokens) Verify(ctx context.Context, clusterID, token string) bool {
	want, err := t.rdb.Get(ctx, executorTokenKey(clusterID)).Result()
	found := err == nil
	if !found {
		want = unknownIdentitySentinel
	}
	match := subtle.ConstantTimeCompare([]byte(want), []byte(token)) == 1
	return found && match
}

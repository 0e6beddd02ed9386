package auth

import "context"

type contextKey string

const identityKey contextKey = "identity"

// Identity is the authenticated caller attached to a request's context
// by the auth middleware.
type Identity struct {
	// Name is the service identity (API key auth) or "executor:{cluster_id}"
	// (executor token auth).
	Name string
	// ClusterID is set only for executor-token-authenticated requests.
	ClusterID string
	// IsAdmin reports whether Name is in the configured admin identity set.
	IsAdmin bool
}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the authenticated identity, or nil if
// the request was never authenticated (should not happen downstream
// of the auth middleware).
func IdentityFromContext(ctx context.Context) *Identity {
	v := ctx.Value(identityKey)
	if v == nil {
		return nil
	}
	id, _ := v.(*Identity)
	return id
}

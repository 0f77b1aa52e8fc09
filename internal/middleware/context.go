// Package middleware carries the HTTP cross-cutting concerns: bearer-token
// identity resolution, request logging, panic recovery, and rate limiting.
package middleware

import "context"

// Identity is the authenticated caller. The engine trusts it; token issuance
// lives outside this service.
type Identity struct {
	UserID string `json:"user_id"`
	OrgID  string `json:"org_id"`
}

type ctxKey int

const identityKey ctxKey = iota

// WithIdentity returns ctx carrying the identity.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom extracts the identity placed by Auth.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

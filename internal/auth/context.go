package auth

import "context"

type claimsKey struct{}

// WithClaims stores verified access token claims on the context. Only the
// HTTP middleware writes this; handlers read it back.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the verified claims, or nil for an
// unauthenticated request.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey{}).(*Claims)
	return claims
}

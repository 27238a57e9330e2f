package guard

import "context"

var claimsCtxKey = &contextKey{"claims"}
var entityCtxKey = &contextKey{"entity"}

type contextKey struct {
	name string
}

// WithClaimsContext sets the authenticated Claims in the given context.
func WithClaimsContext(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimsCtxKey, claims)
}

// ClaimsFromContext finds the authenticated Claims in the context.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	raw, ok := ctx.Value(claimsCtxKey).(Claims)
	return raw, ok
}

// WithEntityContext sets the resolved owning entity in the given context.
func WithEntityContext(ctx context.Context, entity any) context.Context {
	return context.WithValue(ctx, entityCtxKey, entity)
}

// EntityFromContext finds the resolved owning entity in the context.
func EntityFromContext(ctx context.Context) (any, bool) {
	raw := ctx.Value(entityCtxKey)
	return raw, raw != nil
}

package tiergate

import "context"

type identityContextKey struct{}
type gateResultContextKey struct{}

// WithIdentity attaches the resolved caller to ctx. The HTTP middleware stores the
// identity here so handlers do not resolve it a second time.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext returns the identity stored by [WithIdentity].
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return nil, false
	}
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok && id != nil
}

// UserFromContext returns the authenticated user stored in ctx, if any.
func UserFromContext(ctx context.Context) (AuthenticatedUser, bool) {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return AuthenticatedUser{}, false
	}
	user, ok := id.(AuthenticatedUser)
	return user, ok
}

// WithGateResult attaches the admission outcome to ctx.
func WithGateResult(ctx context.Context, res GateResult) context.Context {
	return context.WithValue(ctx, gateResultContextKey{}, res)
}

// GateResultFromContext returns the result stored by [WithGateResult].
func GateResultFromContext(ctx context.Context) (GateResult, bool) {
	if ctx == nil {
		return GateResult{}, false
	}
	res, ok := ctx.Value(gateResultContextKey{}).(GateResult)
	return res, ok
}

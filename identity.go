package tiergate

import (
	"context"
	"fmt"
	"strings"
)

// ResolveIdentity resolves the caller for the rate gate. A valid bearer token wins
// over an API key; an invalid token falls through to the API key; callers with
// neither resolve to an [AnonymousCaller]. Only directory failures are returned, as
// ErrStoreUnavailable.
//
// ResolveIdentity performs lookups only and never writes.
func (e *Engine) ResolveIdentity(ctx context.Context, creds Credentials) (Identity, error) {
	if e == nil || e.directory == nil {
		return nil, ErrEngineNotReady
	}

	user, ok, err := e.resolveUser(ctx, creds)
	if err != nil {
		return nil, err
	}
	if ok {
		return user, nil
	}

	e.metricInc(MetricIdentityAnonymous)
	return AnonymousCaller{ClientAddress: clientAddress(creds.ClientAddress)}, nil
}

// Authenticate resolves the caller in an auth-required context. It returns
// ErrUnauthenticated instead of an anonymous identity.
func (e *Engine) Authenticate(ctx context.Context, creds Credentials) (AuthenticatedUser, error) {
	if e == nil || e.directory == nil {
		return AuthenticatedUser{}, ErrEngineNotReady
	}

	user, ok, err := e.resolveUser(ctx, creds)
	if err != nil {
		return AuthenticatedUser{}, err
	}
	if !ok {
		e.metricInc(MetricAuthUnauthenticated)
		anon := AnonymousCaller{ClientAddress: clientAddress(creds.ClientAddress)}
		e.emitAudit(ctx, auditEventAuthRejected, anon, "", false, ErrUnauthenticated, nil)
		return AuthenticatedUser{}, ErrUnauthenticated
	}
	return user, nil
}

// AuthenticateSuperuser is [Engine.Authenticate] followed by a superuser check that
// fails with ErrForbidden.
func (e *Engine) AuthenticateSuperuser(ctx context.Context, creds Credentials) (AuthenticatedUser, error) {
	user, err := e.Authenticate(ctx, creds)
	if err != nil {
		return AuthenticatedUser{}, err
	}
	if !user.IsSuperuser {
		e.metricInc(MetricAuthForbidden)
		e.emitAudit(ctx, auditEventAuthForbidden, user, "", false, ErrForbidden, nil)
		return AuthenticatedUser{}, ErrForbidden
	}
	return user, nil
}

func (e *Engine) resolveUser(ctx context.Context, creds Credentials) (AuthenticatedUser, bool, error) {
	if token := strings.TrimSpace(creds.BearerToken); token != "" {
		user, ok, err := e.userFromToken(ctx, token)
		if err != nil {
			return AuthenticatedUser{}, false, err
		}
		if ok {
			e.metricInc(MetricIdentityToken)
			return user, true, nil
		}
	}

	if key := strings.TrimSpace(creds.APIKey); key != "" {
		user, ok, err := e.userFromAPIKey(ctx, key)
		if err != nil {
			return AuthenticatedUser{}, false, err
		}
		if ok {
			e.metricInc(MetricIdentityAPIKey)
			return user, true, nil
		}
	}

	return AuthenticatedUser{}, false, nil
}

func (e *Engine) userFromToken(ctx context.Context, token string) (AuthenticatedUser, bool, error) {
	if e.verifier == nil {
		e.metricInc(MetricAuthTokenInvalid)
		return AuthenticatedUser{}, false, nil
	}

	subject, err := e.verifier.VerifyAccess(token)
	if err != nil || subject == "" {
		e.metricInc(MetricAuthTokenInvalid)
		e.logger.DebugContext(ctx, "bearer token rejected", "error", err)
		return AuthenticatedUser{}, false, nil
	}

	if e.config.Identity.CheckRevocation {
		lctx, cancel := e.lookupContext(ctx)
		revoked, err := e.directory.IsTokenRevoked(lctx, token)
		cancel()
		if err != nil {
			return AuthenticatedUser{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if revoked {
			e.metricInc(MetricAuthTokenRevoked)
			e.emitAudit(ctx, auditEventTokenRevoked, nil, "", false, ErrUnauthenticated, map[string]string{"subject": subject})
			return AuthenticatedUser{}, false, nil
		}
	}

	lookup := UserLookup{Field: LookupUsername, Value: subject, Deleted: ExcludeDeleted}
	if strings.Contains(subject, "@") {
		lookup.Field = LookupEmail
	}

	user, ok, err := e.lookupUser(ctx, lookup, AuthMethodToken)
	if err != nil {
		return AuthenticatedUser{}, false, err
	}
	if !ok {
		e.metricInc(MetricAuthTokenInvalid)
	}
	return user, ok, nil
}

func (e *Engine) userFromAPIKey(ctx context.Context, key string) (AuthenticatedUser, bool, error) {
	user, ok, err := e.lookupUser(ctx, UserLookup{
		Field:   LookupAPIKeyHash,
		Value:   HashAPIKey(key),
		Deleted: ExcludeDeleted,
	}, AuthMethodAPIKey)
	if err != nil {
		return AuthenticatedUser{}, false, err
	}
	if !ok {
		e.metricInc(MetricAuthAPIKeyInvalid)
	}
	return user, ok, nil
}

func (e *Engine) lookupUser(ctx context.Context, lookup UserLookup, method AuthMethod) (AuthenticatedUser, bool, error) {
	lctx, cancel := e.lookupContext(ctx)
	defer cancel()

	rec, found, err := e.directory.GetUser(lctx, lookup)
	if err != nil {
		return AuthenticatedUser{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	// A directory that ignores the filter must not leak deleted users.
	if !found || (rec.IsDeleted && lookup.Deleted == ExcludeDeleted) {
		return AuthenticatedUser{}, false, nil
	}

	return AuthenticatedUser{
		ID:          rec.ID,
		Username:    rec.Username,
		Email:       rec.Email,
		TierID:      rec.TierID,
		IsSuperuser: rec.IsSuperuser,
		Method:      method,
	}, true, nil
}

func clientAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return UnknownAddress
	}
	return addr
}

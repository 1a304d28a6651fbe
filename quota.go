package tiergate

import (
	"context"
	"fmt"
)

// ResolveQuota returns the effective quota for id on the canonical path. Anonymous
// callers and users without a usable tier rule get the default quota. Authenticated
// users cost at most two point lookups: the tier, then the (tier, path) rule.
func (e *Engine) ResolveQuota(ctx context.Context, id Identity, path string) (Quota, error) {
	if e == nil || e.directory == nil {
		return Quota{}, ErrEngineNotReady
	}

	user, ok := id.(AuthenticatedUser)
	if !ok {
		e.metricInc(MetricQuotaDefault)
		return e.DefaultQuota(), nil
	}

	if user.TierID == nil {
		return e.fallbackQuota(ctx, "user has no tier", user, path), nil
	}

	lctx, cancel := e.lookupContext(ctx)
	defer cancel()

	tier, found, err := e.directory.GetTier(lctx, *user.TierID)
	if err != nil {
		return Quota{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !found {
		return e.fallbackQuota(ctx, "tier not found", user, path), nil
	}

	rule, found, err := e.directory.GetRateLimit(lctx, tier.ID, path)
	if err != nil {
		return Quota{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !found {
		return e.fallbackQuota(ctx, "no rate limit rule for tier and path", user, path, "tier", tier.Name), nil
	}
	if rule.Limit <= 0 || rule.Period <= 0 {
		return Quota{}, fmt.Errorf("%w: rule %d for tier %d on %s", ErrInvalidQuota, rule.ID, tier.ID, path)
	}

	e.metricInc(MetricQuotaTierRule)
	return Quota{
		Limit:  rule.Limit,
		Period: rule.Period,
		Source: QuotaTierRule,
	}, nil
}

func (e *Engine) fallbackQuota(ctx context.Context, reason string, user AuthenticatedUser, path string, attrs ...any) Quota {
	q := e.DefaultQuota()
	args := append([]any{
		"reason", reason,
		"user_id", user.ID,
		"path", path,
		"limit", q.Limit,
		"period", q.Period,
	}, attrs...)
	e.logger.WarnContext(ctx, "using default rate limit", args...)
	e.metricInc(MetricQuotaDefault)
	return q
}

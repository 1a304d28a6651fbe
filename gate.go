package tiergate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Admit counts one request for (identityKey, path) and compares the post-increment
// count with q.Limit. The increment and the first-hit expiry run as one atomic
// script, so concurrent callers sharing a key are admitted exactly q.Limit times per
// window.
//
// Windows are fixed: a burst of up to 2*q.Limit can straddle a window boundary.
// Rejected requests still count. A counter store failure is returned as
// ErrStoreUnavailable and never turned into an admit or a reject here.
func (e *Engine) Admit(ctx context.Context, identityKey, path string, q Quota) (Decision, error) {
	if e == nil || e.counter == nil {
		return Decision{}, ErrEngineNotReady
	}
	if q.Limit <= 0 || q.Period < time.Millisecond {
		return Decision{}, ErrInvalidQuota
	}

	start := time.Now()
	w, err := e.counter.Increment(ctx, identityKey, path, q.Period)
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricAdmitLatency, time.Since(start))
	}
	if err != nil {
		e.metricInc(MetricGateStoreError)
		return Decision{Limit: q.Limit}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	d := Decision{
		Admitted:   w.Count <= q.Limit,
		Count:      w.Count,
		Limit:      q.Limit,
		Remaining:  q.Limit - w.Count,
		ResetAfter: w.ResetAfter,
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}

	if d.Admitted {
		e.metricInc(MetricGateAdmitted)
	} else {
		e.metricInc(MetricGateRejected)
	}
	return d, nil
}

// Check runs the whole gate for one request: normalize the path, resolve the
// identity, resolve the quota, admit, then apply the configured failure policy.
//
// A rejected request returns the populated result together with ErrRateLimited.
// Directory failures are returned as ErrStoreUnavailable regardless of policy; the
// failure policy only governs counter store outages.
func (e *Engine) Check(ctx context.Context, creds Credentials, rawPath string) (GateResult, error) {
	if e == nil {
		return GateResult{}, ErrEngineNotReady
	}

	res := GateResult{Path: e.routes.Normalize(rawPath)}

	id, err := e.ResolveIdentity(ctx, creds)
	if err != nil {
		return res, err
	}
	res.Identity = id

	q, err := e.ResolveQuota(ctx, id, res.Path)
	if err != nil {
		return res, err
	}
	res.Quota = q

	d, err := e.Admit(ctx, id.Key(), res.Path, q)
	if err != nil {
		if !errors.Is(err, ErrStoreUnavailable) {
			return res, err
		}
		if e.config.Gate.FailurePolicy == FailClosed {
			e.emitAudit(ctx, auditEventGateStoreError, id, res.Path, false, err, nil)
			return res, err
		}

		res.Decision = Decision{
			Admitted:  true,
			Limit:     q.Limit,
			Remaining: q.Limit,
			Degraded:  true,
		}
		e.metricInc(MetricGateFailOpen)
		e.logger.ErrorContext(ctx, "counter store unavailable, admitting request",
			"identity", id.Key(),
			"path", res.Path,
			"policy", e.config.Gate.FailurePolicy.String(),
			"error", err,
		)
		e.emitAudit(ctx, auditEventGateFailOpen, id, res.Path, true, err, nil)
		return res, nil
	}
	res.Decision = d

	if !d.Admitted {
		if e.config.Gate.AuditRejections {
			e.emitAudit(ctx, auditEventGateRejected, id, res.Path, false, ErrRateLimited, map[string]string{
				"count": strconv.FormatInt(d.Count, 10),
				"limit": strconv.FormatInt(d.Limit, 10),
			})
		}
		return res, ErrRateLimited
	}
	return res, nil
}

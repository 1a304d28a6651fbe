package internaldefs

import (
	"math"
	"strconv"

	"github.com/MrEthical07/tiergate"
)

// Member is one engine counter inside a [Family], identified by its label value.
type Member struct {
	ID    tiergate.MetricID
	Value string
}

// Family is a set of engine counters that count the same kind of event and differ
// only in one label. A family with an empty Label has exactly one member.
type Family struct {
	Name     string
	OTelName string
	Help     string
	Label    string
	Members  []Member
}

// Families lists every exported counter family in render order. Each engine counter
// appears in exactly one family.
var Families = []Family{
	{
		Name:     "tiergate_gate_decisions_total",
		OTelName: "tiergate.gate.decisions",
		Help:     "Gate decisions by outcome. fail_open admits without counting; store_error is a counter store failure.",
		Label:    "outcome",
		Members: []Member{
			{ID: tiergate.MetricGateAdmitted, Value: "admitted"},
			{ID: tiergate.MetricGateRejected, Value: "rejected"},
			{ID: tiergate.MetricGateFailOpen, Value: "fail_open"},
			{ID: tiergate.MetricGateStoreError, Value: "store_error"},
		},
	},
	{
		Name:     "tiergate_identity_resolutions_total",
		OTelName: "tiergate.identity.resolutions",
		Help:     "Callers identified, by the credential that identified them.",
		Label:    "method",
		Members: []Member{
			{ID: tiergate.MetricIdentityToken, Value: "token"},
			{ID: tiergate.MetricIdentityAPIKey, Value: "api_key"},
			{ID: tiergate.MetricIdentityAnonymous, Value: "anonymous"},
		},
	},
	{
		Name:     "tiergate_auth_failures_total",
		OTelName: "tiergate.auth.failures",
		Help:     "Rejected or ignored credentials by reason.",
		Label:    "reason",
		Members: []Member{
			{ID: tiergate.MetricAuthTokenInvalid, Value: "token_invalid"},
			{ID: tiergate.MetricAuthTokenRevoked, Value: "token_revoked"},
			{ID: tiergate.MetricAuthAPIKeyInvalid, Value: "api_key_invalid"},
			{ID: tiergate.MetricAuthUnauthenticated, Value: "unauthenticated"},
			{ID: tiergate.MetricAuthForbidden, Value: "forbidden"},
		},
	},
	{
		Name:     "tiergate_quota_resolutions_total",
		OTelName: "tiergate.quota.resolutions",
		Help:     "Quota lookups by the source that answered them.",
		Label:    "source",
		Members: []Member{
			{ID: tiergate.MetricQuotaDefault, Value: "default"},
			{ID: tiergate.MetricQuotaTierRule, Value: "tier_rule"},
		},
	},
	{
		Name:     "tiergate_health_degraded_total",
		OTelName: "tiergate.health.degraded",
		Help:     "Health checks with at least one unhealthy dependency.",
		Members: []Member{
			{ID: tiergate.MetricHealthDegraded},
		},
	},
}

// AdmitLatency describes the counter store round-trip histogram.
var AdmitLatency = struct {
	ID       tiergate.MetricID
	Name     string
	OTelName string
	Help     string
}{
	ID:       tiergate.MetricAdmitLatency,
	Name:     "tiergate_admit_latency_seconds",
	OTelName: "tiergate.admit.latency",
	Help:     "Counter store round-trip latency.",
}

// AuditDropped describes the shed audit event counter, which is read from the
// dispatcher rather than the metrics snapshot.
var AuditDropped = struct {
	Name     string
	OTelName string
	Help     string
}{
	Name:     "tiergate_audit_dropped_total",
	OTelName: "tiergate.audit.dropped",
	Help:     "Audit events shed under dispatcher backpressure.",
}

// LatencyBounds are the upper bounds, in seconds, of the eight engine latency
// buckets. The last bound is +Inf.
var LatencyBounds = [8]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, math.Inf(1)}

// FormatBound renders a bucket bound as a Prometheus "le" label value.
func FormatBound(b float64) string {
	if math.IsInf(b, 1) {
		return "+Inf"
	}
	return strconv.FormatFloat(b, 'f', -1, 64)
}

// CumulativeBuckets pads or truncates raw to eight buckets and converts the
// per-bucket counts to running totals.
func CumulativeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := range out {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}

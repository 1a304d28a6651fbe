package tiergate

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter or histogram.
type MetricID uint16

const (
	// MetricGateAdmitted counts requests admitted inside their window.
	MetricGateAdmitted MetricID = iota
	// MetricGateRejected counts requests rejected because the window was exhausted.
	MetricGateRejected
	// MetricGateFailOpen counts requests admitted by the fail-open policy while the
	// counter store was down.
	MetricGateFailOpen
	// MetricGateStoreError counts counter store failures seen by Admit.
	MetricGateStoreError
	// MetricIdentityToken counts identities resolved from bearer tokens.
	MetricIdentityToken
	// MetricIdentityAPIKey counts identities resolved from API keys.
	MetricIdentityAPIKey
	// MetricIdentityAnonymous counts requests resolved to an anonymous caller.
	MetricIdentityAnonymous
	// MetricAuthTokenInvalid counts bearer tokens that failed verification or named no
	// active user.
	MetricAuthTokenInvalid
	// MetricAuthTokenRevoked counts verified bearer tokens found on the revocation list.
	MetricAuthTokenRevoked
	// MetricAuthAPIKeyInvalid counts API keys that matched no active user.
	MetricAuthAPIKeyInvalid
	// MetricAuthUnauthenticated counts auth-required calls that ended in ErrUnauthenticated.
	MetricAuthUnauthenticated
	// MetricAuthForbidden counts superuser checks that ended in ErrForbidden.
	MetricAuthForbidden
	// MetricQuotaDefault counts quota resolutions that fell back to the default.
	MetricQuotaDefault
	// MetricQuotaTierRule counts quota resolutions served by a tier rule.
	MetricQuotaTierRule
	// MetricHealthDegraded counts health checks with at least one unhealthy dependency.
	MetricHealthDegraded
	// MetricAdmitLatency is the latency histogram of counter store round trips.
	MetricAdmitLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed set of lock-free counters. Each counter sits on its own cache
// line so hot gate counters do not contend.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all metrics. Histogram slices hold
// non-cumulative bucket counts.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns metrics configured by cfg. Disabled metrics ignore every update.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to the counter id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the histogram id. Only MetricAdmitLatency has a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricAdmitLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current value of counter id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter, and the latency histogram when enabled.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricAdmitLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricAdmitLatency].buckets[i])
		}
		s.Histograms[MetricAdmitLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}

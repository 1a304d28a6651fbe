package otel

import (
	"sort"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// Point is one collected int64 data point.
type Point struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Value      int64             `json:"value"`
}

// Points flattens the int64 sums and gauges in rm, sorted by name and then by
// attributes. Other aggregations are skipped; this exporter emits none.
func Points(rm *metricdata.ResourceMetrics) []Point {
	var out []Point
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			var dps []metricdata.DataPoint[int64]
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				dps = data.DataPoints
			case metricdata.Gauge[int64]:
				dps = data.DataPoints
			default:
				continue
			}
			for _, dp := range dps {
				p := Point{Name: m.Name, Value: dp.Value}
				if dp.Attributes.Len() > 0 {
					p.Attributes = make(map[string]string, dp.Attributes.Len())
					for _, kv := range dp.Attributes.ToSlice() {
						p.Attributes[string(kv.Key)] = kv.Value.Emit()
					}
				}
				out = append(out, p)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return attrKey(out[i].Attributes) < attrKey(out[j].Attributes)
	})
	return out
}

// Value returns the value of the point named name whose attributes include attrs.
func Value(points []Point, name string, attrs map[string]string) (int64, bool) {
next:
	for _, p := range points {
		if p.Name != name {
			continue
		}
		for k, v := range attrs {
			if p.Attributes[k] != v {
				continue next
			}
		}
		return p.Value, true
	}
	return 0, false
}

func attrKey(attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var s string
	for _, k := range keys {
		s += k + "=" + attrs[k] + ","
	}
	return s
}

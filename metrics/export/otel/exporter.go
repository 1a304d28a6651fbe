package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/tiergate"
	"github.com/MrEthical07/tiergate/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrNilMeter is returned when no meter is supplied.
	ErrNilMeter = errors.New("nil meter")
	// ErrNilSource is returned when no metrics source is supplied.
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() tiergate.MetricsSnapshot
	AuditDropped() uint64
}

// series is one engine counter bound to its instrument and attribute set.
type series struct {
	id   tiergate.MetricID
	inst metric.Int64ObservableCounter
	attr metric.ObserveOption
}

// OTelExporter publishes engine metrics as observable OpenTelemetry instruments. Each
// counter family is one instrument; its members are told apart by attribute.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration

	series       []series
	latency      metric.Int64ObservableGauge
	latencyCount metric.Int64ObservableCounter
	latencyLE    [8]metric.ObserveOption
	auditDropped metric.Int64ObservableCounter
}

// NewOTelExporter registers instruments on meter that read from engine.
func NewOTelExporter(meter metric.Meter, engine *tiergate.Engine) (*OTelExporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return NewOTelExporterFromSource(meter, engine)
}

// NewOTelExporterFromSource is [NewOTelExporter] for any snapshot provider.
func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{source: source}
	var observables []metric.Observable

	for _, f := range internaldefs.Families {
		inst, err := meter.Int64ObservableCounter(f.OTelName, metric.WithDescription(f.Help))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", f.OTelName, err)
		}
		observables = append(observables, inst)
		for _, m := range f.Members {
			set := attribute.NewSet()
			if f.Label != "" {
				set = attribute.NewSet(attribute.String(f.Label, m.Value))
			}
			e.series = append(e.series, series{id: m.ID, inst: inst, attr: metric.WithAttributeSet(set)})
		}
	}

	var err error
	lat := internaldefs.AdmitLatency
	if e.latency, err = meter.Int64ObservableGauge(lat.OTelName+".bucket",
		metric.WithDescription(lat.Help+" Cumulative count of round trips at or below le seconds.")); err != nil {
		return nil, fmt.Errorf("create gauge %s.bucket: %w", lat.OTelName, err)
	}
	if e.latencyCount, err = meter.Int64ObservableCounter(lat.OTelName+".count",
		metric.WithDescription(lat.Help+" Total round trips observed.")); err != nil {
		return nil, fmt.Errorf("create counter %s.count: %w", lat.OTelName, err)
	}
	for i, b := range internaldefs.LatencyBounds {
		e.latencyLE[i] = metric.WithAttributeSet(attribute.NewSet(attribute.String("le", internaldefs.FormatBound(b))))
	}

	if e.auditDropped, err = meter.Int64ObservableCounter(internaldefs.AuditDropped.OTelName,
		metric.WithDescription(internaldefs.AuditDropped.Help), metric.WithUnit("{event}")); err != nil {
		return nil, fmt.Errorf("create counter %s: %w", internaldefs.AuditDropped.OTelName, err)
	}
	observables = append(observables, e.latency, e.latencyCount, e.auditDropped)

	if e.registration, err = meter.RegisterCallback(e.observe, observables...); err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, s := range e.series {
		o.ObserveInt64(s.inst, int64(snapshot.Counters[s.id]), s.attr)
	}
	if raw, ok := snapshot.Histograms[internaldefs.AdmitLatency.ID]; ok {
		cumulative := internaldefs.CumulativeBuckets(raw)
		for i, v := range cumulative {
			o.ObserveInt64(e.latency, int64(v), e.latencyLE[i])
		}
		o.ObserveInt64(e.latencyCount, int64(cumulative[len(cumulative)-1]))
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}

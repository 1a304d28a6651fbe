package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrEthical07/tiergate"
	otelexport "github.com/MrEthical07/tiergate/metrics/export/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newOTelHandler publishes engine metrics on a private MeterProvider and returns a
// handler that collects it on every request and writes the points as JSON. The
// returned func unregisters the exporter and shuts the provider down.
func newOTelHandler(engine *tiergate.Engine, scope string, logger *slog.Logger) (http.Handler, func(), error) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	exp, err := otelexport.NewOTelExporter(provider.Meter(scope), engine)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, nil, err
	}
	closeFn := func() {
		if err := errors.Join(exp.Close(), provider.Shutdown(context.Background())); err != nil {
			logger.Warn("close otel metrics", "error", err)
		}
	}

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var rm metricdata.ResourceMetrics
		if err := reader.Collect(r.Context(), &rm); err != nil {
			logger.Error("collect otel metrics", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "collect failed"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"scope":  scope,
			"points": otelexport.Points(&rm),
		})
	})
	return h, closeFn, nil
}

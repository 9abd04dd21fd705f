package otel

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// LogExporter writes each collection as one structured log record with a
// value per int64 sum or gauge series.
type LogExporter struct {
	logger   *slog.Logger
	shutdown atomic.Bool
}

var _ sdkmetric.Exporter = (*LogExporter)(nil)

func NewLogExporter(logger *slog.Logger) *LogExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogExporter{logger: logger}
}

// NewLogMeterProvider returns a MeterProvider that hands its series to a
// LogExporter every interval. Callers must Shutdown it.
func NewLogMeterProvider(logger *slog.Logger, interval time.Duration) *sdkmetric.MeterProvider {
	if interval <= 0 {
		interval = time.Minute
	}
	reader := sdkmetric.NewPeriodicReader(NewLogExporter(logger), sdkmetric.WithInterval(interval))
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func (e *LogExporter) Temporality(kind sdkmetric.InstrumentKind) metricdata.Temporality {
	return sdkmetric.DefaultTemporalitySelector(kind)
}

func (e *LogExporter) Aggregation(kind sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return sdkmetric.DefaultAggregationSelector(kind)
}

func (e *LogExporter) Export(ctx context.Context, rm *metricdata.ResourceMetrics) error {
	if e.shutdown.Load() || rm == nil {
		return nil
	}
	attrs := make([]slog.Attr, 0, 64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				attrs = appendPoints(attrs, m.Name, data.DataPoints)
			case metricdata.Gauge[int64]:
				attrs = appendPoints(attrs, m.Name, data.DataPoints)
			}
		}
	}
	if len(attrs) == 0 {
		return nil
	}
	e.logger.LogAttrs(ctx, slog.LevelInfo, "metrics", slog.Attr{Key: "series", Value: slog.GroupValue(attrs...)})
	return nil
}

func appendPoints(attrs []slog.Attr, name string, points []metricdata.DataPoint[int64]) []slog.Attr {
	var total int64
	for _, p := range points {
		total += p.Value
	}
	return append(attrs, slog.Int64(name, total))
}

func (e *LogExporter) ForceFlush(context.Context) error { return nil }

func (e *LogExporter) Shutdown(context.Context) error {
	e.shutdown.Store(true)
	return nil
}

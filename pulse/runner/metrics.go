package runner

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/teranos/nexus/errors"
)

const meterName = "github.com/teranos/nexus/pulse/runner"

// metrics are the runner's RED instruments
type metrics struct {
	runs     metric.Int64Counter
	duration metric.Float64Histogram
	active   metric.Int64UpDownCounter
}

func newMetrics(provider metric.MeterProvider) (*metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	runs, err := meter.Int64Counter("nexus.runner.runs",
		metric.WithDescription("Completed engine runs by outcome"),
		metric.WithUnit("{run}"))
	if err != nil {
		return nil, errors.Wrap(err, "create runs counter")
	}
	duration, err := meter.Float64Histogram("nexus.runner.run.duration",
		metric.WithDescription("Engine run wall time"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, errors.Wrap(err, "create duration histogram")
	}
	active, err := meter.Int64UpDownCounter("nexus.runner.active",
		metric.WithDescription("Engine runs in flight"),
		metric.WithUnit("{run}"))
	if err != nil {
		return nil, errors.Wrap(err, "create active counter")
	}
	return &metrics{runs: runs, duration: duration, active: active}, nil
}

func (m *metrics) started(ctx context.Context, engine string) {
	m.active.Add(ctx, 1, metric.WithAttributes(attribute.String("engine", engine)))
}

func (m *metrics) finished(ctx context.Context, run JobRun) {
	engine := attribute.String("engine", run.Engine)
	m.active.Add(ctx, -1, metric.WithAttributes(engine))
	m.runs.Add(ctx, 1, metric.WithAttributes(engine, attribute.String("outcome", string(run.Outcome))))
	m.duration.Record(ctx, float64(run.Duration().Microseconds())/1000, metric.WithAttributes(engine))
}

package bridge

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/agentuity/design-bridge/bridge"

type instruments struct {
	tracer    trace.Tracer
	commands  metric.Int64Counter
	failures  metric.Int64Counter
	timeouts  metric.Int64Counter
	evictions metric.Int64Counter
	inflight  metric.Int64UpDownCounter
}

// newInstruments binds to the global providers installed by telemetry.New.
// Instruments that fail to register fall back to no-ops and the combined
// error is returned so the caller can report it once.
func newInstruments() (*instruments, error) {
	meter := otel.Meter(instrumentationName)
	i := &instruments{tracer: otel.Tracer(instrumentationName)}
	var errs error
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "creating %s", name))
			c, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter(name)
		}
		return c
	}
	i.commands = counter("bridge.commands", "commands sent to the plugin")
	i.failures = counter("bridge.command.failures", "commands that did not succeed")
	i.timeouts = counter("bridge.timeouts", "commands and pings that hit their deadline")
	i.evictions = counter("bridge.evictions", "plugin connections terminated by the heartbeat")
	inflight, err := meter.Int64UpDownCounter("bridge.pending", metric.WithDescription("requests awaiting a response"))
	if err != nil {
		errs = errors.CombineErrors(errs, errors.Wrap(err, "creating bridge.pending"))
		inflight, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64UpDownCounter("bridge.pending")
	}
	i.inflight = inflight
	return i, errs
}

func (i *instruments) record(ctx context.Context, kind string, action string, err error) {
	attrs := metric.WithAttributes(attribute.String("kind", kind), attribute.String("action", action))
	i.commands.Add(ctx, 1, attrs)
	if err != nil {
		i.failures.Add(ctx, 1, attrs)
		if IsTimeout(err) {
			i.timeouts.Add(ctx, 1, attrs)
		}
	}
}

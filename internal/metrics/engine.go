package metrics

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// engineInstruments holds the routing-engine instruments. Swapped atomically
// by SetupMetrics so recording helpers stay cheap no-ops until setup runs.
type engineInstruments struct {
	resolves           metric.Int64Counter
	circuitTransitions metric.Int64Counter
	openCircuits       metric.Int64UpDownCounter
	rateRejections     metric.Int64Counter
}

var instruments atomic.Pointer[engineInstruments]

// SetupMetrics installs the provider as the global meter provider and creates
// the engine instruments.
func SetupMetrics(provider *sdkmetric.MeterProvider, name string) error {
	otel.SetMeterProvider(provider)

	meter := otel.Meter(name)

	resolves, err := meter.Int64Counter("switchyard.resolve.total",
		metric.WithDescription("Resolutions by outcome"),
	)
	if err != nil {
		return err
	}

	transitions, err := meter.Int64Counter("switchyard.circuit.transitions.total",
		metric.WithDescription("Circuit breaker transitions by event"),
	)
	if err != nil {
		return err
	}

	open, err := meter.Int64UpDownCounter("switchyard.circuit.open",
		metric.WithDescription("Currently open circuit breakers"),
	)
	if err != nil {
		return err
	}

	rejections, err := meter.Int64Counter("switchyard.rate.rejections.total",
		metric.WithDescription("Rate admission rejections by mode"),
	)
	if err != nil {
		return err
	}

	instruments.Store(&engineInstruments{
		resolves:           resolves,
		circuitTransitions: transitions,
		openCircuits:       open,
		rateRejections:     rejections,
	})

	return nil
}

// ResolveRecorded counts one resolution. Outcome is "ok" or the reason code
// of an empty result.
func ResolveRecorded(ctx context.Context, outcome string) {
	ins := instruments.Load()
	if ins == nil {
		return
	}

	ins.resolves.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// CircuitTransition counts one breaker transition event.
func CircuitTransition(ctx context.Context, event string) {
	ins := instruments.Load()
	if ins == nil {
		return
	}

	ins.circuitTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// OpenCircuitsAdd moves the open-circuit gauge by delta (+1 on open, -1 on close).
func OpenCircuitsAdd(ctx context.Context, delta int64) {
	ins := instruments.Load()
	if ins == nil {
		return
	}

	ins.openCircuits.Add(ctx, delta)
}

// RateRejection counts one admission rejection. Mode is "redis" or "memory".
func RateRejection(ctx context.Context, mode string) {
	ins := instruments.Load()
	if ins == nil {
		return
	}

	ins.rateRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

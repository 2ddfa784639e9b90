package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Exporter names accepted by Config.Exporter.
const (
	ExporterStdout   = "stdout"
	ExporterOTLPGRPC = "otlp-grpc"
	ExporterOTLPHTTP = "otlp-http"
)

type Config struct {
	Enabled  bool   `conf:"enabled" yaml:"enabled" json:"enabled"`
	Exporter string `conf:"exporter" yaml:"exporter" json:"exporter"`

	// Endpoint is the OTLP collector endpoint, host:port. Ignored by the
	// stdout exporter.
	Endpoint string `conf:"endpoint" yaml:"endpoint" json:"endpoint"`
	Insecure bool   `conf:"insecure" yaml:"insecure" json:"insecure"`

	// Interval is the periodic reader export interval.
	Interval time.Duration `conf:"interval" yaml:"interval" json:"interval"`
}

// NewProvider builds the meter provider from the config. Returns nil when
// metrics are disabled; callers must tolerate a nil provider.
func NewProvider(cfg Config) (*sdkmetric.MeterProvider, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}

	exporter, err := newExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval)),
		),
	)

	return provider, nil
}

func newExporter(cfg Config) (sdkmetric.Exporter, error) {
	ctx := context.Background()

	switch cfg.Exporter {
	case ExporterOTLPGRPC:
		opts := []otlpmetricgrpc.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.Endpoint))
		}

		if cfg.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}

		return otlpmetricgrpc.New(ctx, opts...)
	case ExporterOTLPHTTP:
		opts := []otlpmetrichttp.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.Endpoint))
		}

		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}

		return otlpmetrichttp.New(ctx, opts...)
	case ExporterStdout, "":
		return stdoutmetric.New()
	default:
		return nil, fmt.Errorf("unsupported metric exporter: %s", cfg.Exporter)
	}
}

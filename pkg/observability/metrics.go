// Package observability wires the OTLP metric pipeline and the governance
// counters recorded by the loop orchestrator.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/custodian-labs/custodian/pkg/contracts"
)

const meterName = "github.com/custodian-labs/custodian"

// Metrics exposes the governance instruments. The zero value records into
// whatever global meter provider is installed, which is a no-op by default.
type Metrics struct {
	stageDecisions metric.Int64Counter
	applyAttempts  metric.Int64Counter
}

// Setup installs an OTLP/gRPC metric exporter when endpoint is non-empty and
// returns the instrument set plus a shutdown function. With an empty
// endpoint the global (no-op) provider is used and shutdown does nothing.
func Setup(ctx context.Context, endpoint string) (*Metrics, func(context.Context) error, error) {
	shutdown := func(context.Context) error { return nil }

	if endpoint != "" {
		exporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: otlp metric exporter: %v", contracts.ErrConfig, err)
		}
		res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName("custodian"),
		))
		if err != nil {
			return nil, nil, fmt.Errorf("%w: otlp resource: %v", contracts.ErrConfig, err)
		}
		provider := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(provider)
		shutdown = provider.Shutdown
	}

	m, err := newMetrics()
	if err != nil {
		return nil, nil, err
	}
	return m, shutdown, nil
}

func newMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	stageDecisions, err := meter.Int64Counter("custodian.stage.decisions",
		metric.WithDescription("Governance decisions per pipeline stage"))
	if err != nil {
		return nil, fmt.Errorf("%w: create counter: %v", contracts.ErrConfig, err)
	}
	applyAttempts, err := meter.Int64Counter("custodian.apply.attempts",
		metric.WithDescription("Adapter apply attempts by outcome"))
	if err != nil {
		return nil, fmt.Errorf("%w: create counter: %v", contracts.ErrConfig, err)
	}
	return &Metrics{stageDecisions: stageDecisions, applyAttempts: applyAttempts}, nil
}

// RecordStageDecision counts one stage decision.
func (m *Metrics) RecordStageDecision(ctx context.Context, stage, decision string) {
	if m == nil || m.stageDecisions == nil {
		return
	}
	m.stageDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("decision", decision),
	))
}

// RecordApplyAttempt counts one adapter apply attempt.
func (m *Metrics) RecordApplyAttempt(ctx context.Context, result string, blocked bool) {
	if m == nil || m.applyAttempts == nil {
		return
	}
	m.applyAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
		attribute.Bool("blocked", blocked),
	))
}

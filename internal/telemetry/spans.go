package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the tracer and meter name of the engine
const InstrumentationName = "tenant-order-engine"

// Tracer returns the engine tracer from the global provider
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// Meter returns the engine meter from the global provider
func Meter() metric.Meter {
	return otel.Meter(InstrumentationName)
}

// StartOrderSpan cria o span de um pedido
func StartOrderSpan(ctx context.Context, tenantID, actor string) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, "checkout.place_order")

	span.SetAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("order.actor", actor),
		attribute.String("component", "order-coordinator"),
	)

	return ctx, span
}

// StartVerifySpan cria o span de uma verificação de nota
func StartVerifySpan(ctx context.Context) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, "billing.verify")

	span.SetAttributes(
		attribute.String("component", "bill-verifier"),
	)

	return ctx, span
}

// StartInventorySpan cria o span de um ajuste de estoque
func StartInventorySpan(ctx context.Context, operation, tenantID, productID string) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, "inventory."+operation)

	span.SetAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("product.id", productID),
		attribute.String("component", "inventory"),
	)

	return ctx, span
}

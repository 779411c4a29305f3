package checkout

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/matheusmosca/tenant-order-engine/internal/domain"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func histogramCount(t *testing.T, data metricdata.Aggregation) uint64 {
	t.Helper()
	h, ok := data.(metricdata.Histogram[float64])
	require.True(t, ok, "orders.duration is not a float histogram")
	var total uint64
	for _, dp := range h.DataPoints {
		total += dp.Count
	}
	return total
}

func TestPlaceOrder_DurationRecordedOnEveryOutcome(t *testing.T) {
	// Arrange
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	h := newHandle(t)
	a := seed(t, h, "A", "1.00", 1)
	c := newCoordinator(new(MockDispatcher))
	c.metrics = newOrderMetrics(provider.Meter("checkout-test"))
	ctx := context.Background()

	// Act
	_, err := c.PlaceOrder(ctx, h, Request{Actor: "u1"})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	_, err = c.PlaceOrder(ctx, h, Request{Actor: "u1", Items: []ItemRequest{{ProductID: a.ID, Quantity: 5}}})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	_, err = c.PlaceOrder(ctx, h, Request{Actor: "u1", Items: []ItemRequest{{ProductID: a.ID, Quantity: 1}}})
	require.NoError(t, err)

	// Assert
	metrics := collect(t, reader)
	require.Contains(t, metrics, "orders.duration")
	assert.Equal(t, uint64(3), histogramCount(t, metrics["orders.duration"]))
}

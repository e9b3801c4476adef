package distribution

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const MeterName = "distribution-engine"

// Metrics holds the engine's OpenTelemetry instruments. Exporter
// wiring is the host application's concern.
type Metrics struct {
	Downloads    metric.Int64Counter
	TokensIssued metric.Int64Counter
	TokensSwept  metric.Int64Counter
}

// NewMetrics creates the engine instruments on the global meter
// provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(MeterName)

	downloads, err := meter.Int64Counter("smliser.downloads",
		metric.WithDescription("Download authorization outcomes"))
	if err != nil {
		return nil, fmt.Errorf("failed to create downloads counter: %w", err)
	}
	issued, err := meter.Int64Counter("smliser.tokens.issued",
		metric.WithDescription("Download tokens issued"))
	if err != nil {
		return nil, fmt.Errorf("failed to create issued counter: %w", err)
	}
	swept, err := meter.Int64Counter("smliser.tokens.swept",
		metric.WithDescription("Expired download tokens removed by the sweeper"))
	if err != nil {
		return nil, fmt.Errorf("failed to create swept counter: %w", err)
	}

	return &Metrics{
		Downloads:    downloads,
		TokensIssued: issued,
		TokensSwept:  swept,
	}, nil
}

package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	TracerName = "license-reconciler"
	MeterName  = "license-reconciler"
)

// Metrics holds the OpenTelemetry instruments for license reconciliation.
type Metrics struct {
	ReconcileCycles    metric.Int64Counter
	ReconcileFallbacks metric.Int64Counter
	ReconcileDuration  metric.Float64Histogram

	AuthorityRequests metric.Int64Counter
	AuthorityFailures metric.Int64Counter
	AuthorityLatency  metric.Float64Histogram

	CacheHits   metric.Int64Counter
	CacheMisses metric.Int64Counter

	UnauthorizedUsage metric.Int64Counter
	PersistFailures   metric.Int64Counter
}

// NewMetrics creates the reconciler's metric instruments on the global
// meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(MeterName)
	m := &Metrics{}
	var err error

	m.ReconcileCycles, err = meter.Int64Counter(
		"license_reconcile_cycles_total",
		metric.WithDescription("Total number of reconciliation cycles by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reconcile cycles counter: %w", err)
	}

	m.ReconcileFallbacks, err = meter.Int64Counter(
		"license_reconcile_fallbacks_total",
		metric.WithDescription("Total number of cycles that fell back to the cached state"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reconcile fallbacks counter: %w", err)
	}

	m.ReconcileDuration, err = meter.Float64Histogram(
		"license_reconcile_duration_seconds",
		metric.WithDescription("Reconciliation cycle duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reconcile duration histogram: %w", err)
	}

	m.AuthorityRequests, err = meter.Int64Counter(
		"license_authority_requests_total",
		metric.WithDescription("Total number of requests to the license authority"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authority requests counter: %w", err)
	}

	m.AuthorityFailures, err = meter.Int64Counter(
		"license_authority_failures_total",
		metric.WithDescription("Total number of failed license authority requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authority failures counter: %w", err)
	}

	m.AuthorityLatency, err = meter.Float64Histogram(
		"license_authority_latency_seconds",
		metric.WithDescription("License authority request latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authority latency histogram: %w", err)
	}

	m.CacheHits, err = meter.Int64Counter(
		"license_cache_hits_total",
		metric.WithDescription("Total number of in-memory license state reads served"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}

	m.CacheMisses, err = meter.Int64Counter(
		"license_cache_misses_total",
		metric.WithDescription("Total number of reads that fell through to the durable file"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}

	m.UnauthorizedUsage, err = meter.Int64Counter(
		"license_unauthorized_usage_total",
		metric.WithDescription("Total number of cycles that detected unauthorized flag usage"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create unauthorized usage counter: %w", err)
	}

	m.PersistFailures, err = meter.Int64Counter(
		"license_persist_failures_total",
		metric.WithDescription("Total number of failed durable cache writes"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create persist failures counter: %w", err)
	}

	return m, nil
}

// recordCycle records the outcome of one reconciliation cycle.
func (m *Metrics) recordCycle(ctx context.Context, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.ReconcileCycles.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.ReconcileDuration.Record(ctx, time.Since(start).Seconds())
}

func (m *Metrics) recordAuthority(ctx context.Context, start time.Time, err error) {
	if m == nil {
		return
	}
	m.AuthorityRequests.Add(ctx, 1)
	m.AuthorityLatency.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		m.AuthorityFailures.Add(ctx, 1)
	}
}

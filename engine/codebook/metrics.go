package codebook

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "codebook"

var (
	metricsOnce          sync.Once
	metricsMu            sync.Mutex
	metricsInitErr       error
	ingestDurationHist   metric.Float64Histogram
	chunkCounter         metric.Int64Counter
	sectionFailure       metric.Int64Counter
	statusProbeCounter   metric.Int64Counter
	queryLatencyHist     metric.Float64Histogram
	expandedChunkCounter metric.Int64Counter
)

func RecordIngestDuration(ctx context.Context, collection string, d time.Duration) {
	if err := ensureMetrics(); err != nil || ingestDurationHist == nil {
		return
	}
	ingestDurationHist.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("collection", collection)))
}

func RecordIngestChunks(ctx context.Context, collection string, chunks int) {
	if chunks <= 0 {
		return
	}
	if err := ensureMetrics(); err != nil || chunkCounter == nil {
		return
	}
	chunkCounter.Add(ctx, int64(chunks), metric.WithAttributes(attribute.String("collection", collection)))
}

func RecordSectionFailure(ctx context.Context, collection string, stage string) {
	if err := ensureMetrics(); err != nil || sectionFailure == nil {
		return
	}
	sectionFailure.Add(ctx, 1, metric.WithAttributes(
		attribute.String("collection", collection),
		attribute.String("stage", stage),
	))
}

func RecordStatusProbe(ctx context.Context, collection string, status Status) {
	if err := ensureMetrics(); err != nil || statusProbeCounter == nil {
		return
	}
	statusProbeCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("collection", collection),
		attribute.String("status", status.String()),
	))
}

func RecordQueryLatency(ctx context.Context, collection string, model string, d time.Duration) {
	if err := ensureMetrics(); err != nil || queryLatencyHist == nil {
		return
	}
	queryLatencyHist.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("collection", collection),
		attribute.String("model", model),
	))
}

func RecordExpandedChunks(ctx context.Context, collection string, n int) {
	if err := ensureMetrics(); err != nil || expandedChunkCounter == nil {
		return
	}
	expandedChunkCounter.Add(ctx, int64(n), metric.WithAttributes(attribute.String("collection", collection)))
}

func ResetMetricsForTesting() {
	metricsMu.Lock()
	metricsOnce = sync.Once{}
	metricsInitErr = nil
	ingestDurationHist = nil
	chunkCounter = nil
	sectionFailure = nil
	statusProbeCounter = nil
	queryLatencyHist = nil
	expandedChunkCounter = nil
	metricsMu.Unlock()
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter(meterName)
		if err := initIngestMetrics(meter); err != nil {
			metricsInitErr = err
			return
		}
		if err := initQueryMetrics(meter); err != nil {
			metricsInitErr = err
		}
	})
	return metricsInitErr
}

func initIngestMetrics(meter metric.Meter) error {
	var err error
	ingestDurationHist, err = meter.Float64Histogram(
		"codebook_ingest_duration_seconds",
		metric.WithDescription("Latency of document ingestion runs"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 1800),
	)
	if err != nil {
		return err
	}
	chunkCounter, err = meter.Int64Counter(
		"codebook_chunks_total",
		metric.WithDescription("Number of chunks persisted per collection"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	sectionFailure, err = meter.Int64Counter(
		"codebook_section_failures_total",
		metric.WithDescription("Sections that contributed no chunks, by failing stage"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	statusProbeCounter, err = meter.Int64Counter(
		"codebook_status_probes_total",
		metric.WithDescription("Collection status probes by resulting status"),
		metric.WithUnit("1"),
	)
	return err
}

func initQueryMetrics(meter metric.Meter) error {
	var err error
	queryLatencyHist, err = meter.Float64Histogram(
		"codebook_query_latency_seconds",
		metric.WithDescription("Latency of answered queries including retrieval"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(.5, 1, 2.5, 5, 10, 20, 30, 60, 120),
	)
	if err != nil {
		return err
	}
	expandedChunkCounter, err = meter.Int64Counter(
		"codebook_expanded_chunks_total",
		metric.WithDescription("Chunks added to query context by section expansion"),
		metric.WithUnit("1"),
	)
	return err
}

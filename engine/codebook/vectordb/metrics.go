package vectordb

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	vectorMetricsOnce sync.Once
	vectorMetricsErr  error
	vectorOpLatency   metric.Float64Histogram
	vectorErrorsTotal metric.Int64Counter
	vectorResultCount metric.Float64Histogram
)

func ensureVectorMetrics() error {
	vectorMetricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("codebook.vectordb")
		var err error
		vectorOpLatency, err = meter.Float64Histogram(
			"codebook_vectordb_operation_seconds",
			metric.WithDescription("Vector store operation latency"),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5),
		)
		if err != nil {
			vectorMetricsErr = err
			return
		}
		vectorResultCount, err = meter.Float64Histogram(
			"codebook_vectordb_results_per_search",
			metric.WithDescription("Number of results returned per search"),
			metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100),
		)
		if err != nil {
			vectorMetricsErr = err
			return
		}
		vectorErrorsTotal, err = meter.Int64Counter(
			"codebook_vectordb_errors_total",
			metric.WithDescription("Vector store operation failures"),
			metric.WithUnit("1"),
		)
		vectorMetricsErr = err
	})
	return vectorMetricsErr
}

func recordOperation(ctx context.Context, provider Provider, op string, started time.Time, err error) {
	if ensureVectorMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", string(provider)),
		attribute.String("operation", op),
	)
	vectorOpLatency.Record(ctx, time.Since(started).Seconds(), attrs)
	if err != nil {
		kind := "permanent"
		if IsTransient(err) {
			kind = "transient"
		}
		vectorErrorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", string(provider)),
			attribute.String("operation", op),
			attribute.String("kind", kind),
		))
	}
}

// instrumentedStore records latency and failures for every call.
type instrumentedStore struct {
	next     Store
	provider Provider
}

func instrument(store Store, provider Provider) Store {
	return &instrumentedStore{next: store, provider: provider}
}

func (s *instrumentedStore) CollectionExists(ctx context.Context, collection string) (ok bool, err error) {
	defer func(start time.Time) { recordOperation(ctx, s.provider, "collection_exists", start, err) }(time.Now())
	return s.next.CollectionExists(ctx, collection)
}

func (s *instrumentedStore) CreateCollection(ctx context.Context, collection string, spec CollectionSpec) (err error) {
	defer func(start time.Time) { recordOperation(ctx, s.provider, "create_collection", start, err) }(time.Now())
	return s.next.CreateCollection(ctx, collection, spec)
}

func (s *instrumentedStore) DeleteCollection(ctx context.Context, collection string) (err error) {
	defer func(start time.Time) { recordOperation(ctx, s.provider, "delete_collection", start, err) }(time.Now())
	return s.next.DeleteCollection(ctx, collection)
}

func (s *instrumentedStore) ListCollections(ctx context.Context) (names []string, err error) {
	defer func(start time.Time) { recordOperation(ctx, s.provider, "list_collections", start, err) }(time.Now())
	return s.next.ListCollections(ctx)
}

func (s *instrumentedStore) Count(ctx context.Context, collection string) (n int, err error) {
	defer func(start time.Time) { recordOperation(ctx, s.provider, "count", start, err) }(time.Now())
	return s.next.Count(ctx, collection)
}

func (s *instrumentedStore) Upsert(ctx context.Context, collection string, points []Point) (err error) {
	defer func(start time.Time) { recordOperation(ctx, s.provider, "upsert", start, err) }(time.Now())
	return s.next.Upsert(ctx, collection, points)
}

func (s *instrumentedStore) Search(
	ctx context.Context,
	collection string,
	query []float32,
	opts SearchOptions,
) (matches []Match, err error) {
	defer func(start time.Time) {
		recordOperation(ctx, s.provider, "search", start, err)
		if err == nil && vectorResultCount != nil {
			vectorResultCount.Record(ctx, float64(len(matches)), metric.WithAttributes(
				attribute.String("provider", string(s.provider)),
			))
		}
	}(time.Now())
	return s.next.Search(ctx, collection, query, opts)
}

func (s *instrumentedStore) Retrieve(ctx context.Context, collection string, ids []string) (points []Point, err error) {
	defer func(start time.Time) { recordOperation(ctx, s.provider, "retrieve", start, err) }(time.Now())
	return s.next.Retrieve(ctx, collection, ids)
}

func (s *instrumentedStore) Scroll(ctx context.Context, collection string, req ScrollRequest) (page ScrollPage, err error) {
	defer func(start time.Time) { recordOperation(ctx, s.provider, "scroll", start, err) }(time.Now())
	return s.next.Scroll(ctx, collection, req)
}

func (s *instrumentedStore) Delete(ctx context.Context, collection string, filter Filter) (err error) {
	defer func(start time.Time) { recordOperation(ctx, s.provider, "delete", start, err) }(time.Now())
	return s.next.Delete(ctx, collection, filter)
}

func (s *instrumentedStore) Close(ctx context.Context) error {
	return s.next.Close(ctx)
}

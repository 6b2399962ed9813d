package vectordb

import (
	"context"
	"time"
)

// Provider enumerates supported vector database backends.
type Provider string

const (
	ProviderQdrant   Provider = "qdrant"
	ProviderPGVector Provider = "pgvector"
	// ProviderLocal keeps collections in memory and snapshots them to a JSON file.
	ProviderLocal Provider = "local"
	// ProviderMemory is ProviderLocal without persistence.
	ProviderMemory Provider = "memory"
)

// Point is a vector with its payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// CollectionSpec fixes the vector shape of a collection at creation time.
type CollectionSpec struct {
	Dimension int
	Metric    string
}

// SearchOptions controls similarity search execution.
type SearchOptions struct {
	TopK     int
	MinScore float64
	Filters  map[string]string
}

// Match captures a similarity search result.
type Match struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// ScrollRequest pages through points matching all Filters.
type ScrollRequest struct {
	Filters map[string]string
	Limit   int
	Offset  string
}

// ScrollPage holds one page of points. NextOffset is empty on the last page.
type ScrollPage struct {
	Points     []Point
	NextOffset string
}

// Filter specifies delete criteria. All removes every point and ignores the other fields.
type Filter struct {
	IDs      []string
	Metadata map[string]string
	All      bool
}

func (f Filter) empty() bool {
	return !f.All && len(f.IDs) == 0 && len(f.Metadata) == 0
}

// Store is the storage contract shared by ingestion and retrieval.
// Metadata filters use must-match-all semantics on exact field equality.
type Store interface {
	CollectionExists(ctx context.Context, collection string) (bool, error)
	CreateCollection(ctx context.Context, collection string, spec CollectionSpec) error
	DeleteCollection(ctx context.Context, collection string) error
	ListCollections(ctx context.Context) ([]string, error)
	Count(ctx context.Context, collection string) (int, error)
	Upsert(ctx context.Context, collection string, points []Point) error
	Search(ctx context.Context, collection string, query []float32, opts SearchOptions) ([]Match, error)
	Retrieve(ctx context.Context, collection string, ids []string) ([]Point, error)
	Scroll(ctx context.Context, collection string, req ScrollRequest) (ScrollPage, error)
	Delete(ctx context.Context, collection string, filter Filter) error
	Close(ctx context.Context) error
}

// Config captures normalized connection details for a vector database.
type Config struct {
	ID        string
	Provider  Provider
	URL       string
	APIKey    string
	DSN       string
	Path      string
	Dimension int
	Metric    string
	Timeout   time.Duration
}

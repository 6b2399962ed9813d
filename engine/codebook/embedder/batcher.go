package embedder

import (
	"context"
	"errors"
	"fmt"

	"github.com/compozy/codebook/pkg/logger"
)

// DocumentEmbedder is the provider call the batcher drives.
type DocumentEmbedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Batcher embeds arbitrarily many texts in fixed-size provider calls.
type Batcher struct {
	provider  DocumentEmbedder
	batchSize int
	dimension int
}

func NewBatcher(provider DocumentEmbedder, batchSize int, dimension int) (*Batcher, error) {
	if provider == nil {
		return nil, errors.New("embedder: batcher provider is required")
	}
	if batchSize <= 0 {
		return nil, errInvalidBatchSize
	}
	if dimension <= 0 {
		return nil, errInvalidDimension
	}
	return &Batcher{provider: provider, batchSize: batchSize, dimension: dimension}, nil
}

// NewBatcherFor uses the batch size and dimension configured on e.
func NewBatcherFor(e *Embedder) (*Batcher, error) {
	return NewBatcher(e, e.BatchSize(), e.Dimension())
}

// EmbedAll returns one vector per text in input order. Batches are sent one
// after another; any provider failure aborts the whole call.
func (b *Batcher) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	log := logger.FromContext(ctx)
	for start := 0; start < len(texts); start += b.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+b.batchSize, len(texts))
		batch := texts[start:end]
		vectors, err := b.provider.EmbedDocuments(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("embed batch %d-%d: received %d embeddings for %d texts", start, end, len(vectors), len(batch))
		}
		for i, vec := range vectors {
			if len(vec) != b.dimension {
				return nil, fmt.Errorf(
					"embed batch %d-%d: vector %d has dimension %d, expected %d",
					start, end, start+i, len(vec), b.dimension,
				)
			}
		}
		out = append(out, vectors...)
		log.Debug("embedded batch", "from", start, "to", end, "total", len(texts))
	}
	return out, nil
}

package status

import (
	"context"
	"errors"
	"fmt"

	"github.com/compozy/codebook/engine/codebook"
	"github.com/compozy/codebook/engine/codebook/retry"
	"github.com/compozy/codebook/engine/codebook/vectordb"
	"github.com/compozy/codebook/pkg/config"
	"github.com/compozy/codebook/pkg/logger"
)

const DefaultThreshold = 10

// Probe derives a collection's status from the vector store on every call.
type Probe struct {
	store     vectordb.Store
	threshold int
	policy    retry.Policy
}

// New builds a probe. Collections holding fewer than threshold points are
// reported as under-chunked. Only transient store errors are retried.
func New(store vectordb.Store, threshold int, policy retry.Policy) (*Probe, error) {
	if store == nil {
		return nil, errors.New("status: vector store is required")
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Probe{
		store:     store,
		threshold: threshold,
		policy:    policy.WithRetryable(vectordb.IsTransient),
	}, nil
}

// FromConfig builds a probe with the configured threshold and status policy.
func FromConfig(store vectordb.Store, cfg *config.Config) (*Probe, error) {
	return New(
		store,
		cfg.Ingest.UnderChunkedThreshold,
		retry.StatusPolicy(cfg, vectordb.IsTransient),
	)
}

func (p *Probe) Threshold() int {
	return p.threshold
}

// Status reports NOT_EXISTS, EMPTY, UNDER_CHUNKED or INDEXED. A missing
// collection is a status, not an error.
func (p *Probe) Status(ctx context.Context, documentID string) (codebook.Status, error) {
	status, err := retry.DoValue(ctx, p.policy, func(ctx context.Context) (codebook.Status, error) {
		return p.probe(ctx, documentID)
	})
	if err != nil {
		return codebook.StatusNotExists, fmt.Errorf("status of %q: %w", documentID, err)
	}
	logger.FromContext(ctx).Debug("collection status", "collection", documentID, "status", status.String())
	codebook.RecordStatusProbe(ctx, documentID, status)
	return status, nil
}

func (p *Probe) probe(ctx context.Context, documentID string) (codebook.Status, error) {
	exists, err := p.store.CollectionExists(ctx, documentID)
	if err != nil {
		return codebook.StatusNotExists, err
	}
	if !exists {
		return codebook.StatusNotExists, nil
	}
	count, err := p.store.Count(ctx, documentID)
	if errors.Is(err, vectordb.ErrCollectionNotFound) {
		return codebook.StatusNotExists, nil
	}
	if err != nil {
		return codebook.StatusNotExists, err
	}
	return codebook.ClassifyCount(count, p.threshold), nil
}

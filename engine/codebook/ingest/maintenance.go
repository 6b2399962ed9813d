package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/compozy/codebook/engine/codebook"
	"github.com/compozy/codebook/engine/codebook/retry"
	"github.com/compozy/codebook/engine/codebook/vectordb"
	"github.com/compozy/codebook/pkg/logger"
)

// RepopulateSummary reports a purge followed by a full re-ingestion.
type RepopulateSummary struct {
	DocumentID   string          `json:"document_id"`
	PurgeSuccess bool            `json:"purge_success"`
	Total        int             `json:"total"`
	Successful   int             `json:"successful"`
	Failed       int             `json:"failed"`
	Chunks       int             `json:"chunks"`
	Results      []SectionResult `json:"results"`
}

// Maintainer purges and clears collections.
type Maintainer struct {
	ingestor *Ingestor
}

func NewMaintainer(ingestor *Ingestor) (*Maintainer, error) {
	if ingestor == nil {
		return nil, errors.New("ingest: ingestor is required")
	}
	return &Maintainer{ingestor: ingestor}, nil
}

// Purge deletes the document collection. A missing collection is not an error.
// It fails with ErrLocked while another writer holds the document.
func (m *Maintainer) Purge(ctx context.Context, documentID string) error {
	release, err := m.ingestor.acquire(ctx, documentID)
	if err != nil {
		return err
	}
	defer release()
	return m.ingestor.purge(ctx, documentID)
}

// Clear removes every point but keeps the collection.
func (m *Maintainer) Clear(ctx context.Context, documentID string) error {
	i := m.ingestor
	release, err := i.acquire(ctx, documentID)
	if err != nil {
		return err
	}
	defer release()
	err = retry.Do(ctx, i.options.MaintenancePolicy, func(ctx context.Context) error {
		return i.store.Delete(ctx, documentID, vectordb.Filter{All: true})
	})
	if err != nil {
		return fmt.Errorf("clear %q: %w", documentID, err)
	}
	logger.FromContext(ctx).Info("Cleared collection", "collection", documentID)
	return nil
}

// PurgeAll deletes every collection and returns the ones removed.
func (m *Maintainer) PurgeAll(ctx context.Context) ([]string, error) {
	return m.forEachCollection(ctx, m.Purge)
}

// ClearAll empties every collection and returns the ones cleared.
func (m *Maintainer) ClearAll(ctx context.Context) ([]string, error) {
	return m.forEachCollection(ctx, m.Clear)
}

func (m *Maintainer) forEachCollection(
	ctx context.Context,
	fn func(ctx context.Context, documentID string) error,
) ([]string, error) {
	i := m.ingestor
	names, err := retry.DoValue(ctx, i.options.MaintenancePolicy, func(ctx context.Context) ([]string, error) {
		return i.store.ListCollections(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	done := make([]string, 0, len(names))
	var errs []error
	for _, name := range names {
		if err := fn(ctx, name); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return done, ctxErr
			}
			errs = append(errs, err)
			continue
		}
		done = append(done, name)
	}
	return done, errors.Join(errs...)
}

// PurgeAndRepopulate drops the collection, recreates it and ingests every
// section again. Section failures are counted, not returned.
func (m *Maintainer) PurgeAndRepopulate(
	ctx context.Context,
	documentID string,
	sections []codebook.Section,
	extract codebook.ExtractFunc,
) (*RepopulateSummary, error) {
	i := m.ingestor
	summary := &RepopulateSummary{DocumentID: documentID, Total: len(sections)}
	release, err := i.acquire(ctx, documentID)
	if err != nil {
		return summary, err
	}
	defer release()
	if err := i.recreate(ctx, documentID); err != nil {
		return summary, err
	}
	summary.PurgeSuccess = true
	results, err := i.processSections(ctx, documentID, sections, extract)
	summary.Results = results
	for _, r := range results {
		summary.Chunks += r.Chunks
		if r.Chunks > 0 {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}
	if err != nil {
		return summary, err
	}
	logger.FromContext(ctx).Info("Repopulated collection", "collection", documentID,
		"successful", summary.Successful, "failed", summary.Failed, "chunks", summary.Chunks)
	return summary, nil
}

func (i *Ingestor) purge(ctx context.Context, documentID string) error {
	err := retry.Do(ctx, i.options.MaintenancePolicy, func(ctx context.Context) error {
		return i.store.DeleteCollection(ctx, documentID)
	})
	if errors.Is(err, vectordb.ErrCollectionNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("purge %q: %w", documentID, err)
	}
	logger.FromContext(ctx).Info("Purged collection", "collection", documentID)
	return nil
}

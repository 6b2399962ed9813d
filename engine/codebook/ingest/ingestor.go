package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/compozy/codebook/engine/codebook"
	"github.com/compozy/codebook/engine/codebook/chunk"
	"github.com/compozy/codebook/engine/codebook/embedder"
	"github.com/compozy/codebook/engine/codebook/retry"
	"github.com/compozy/codebook/engine/codebook/status"
	"github.com/compozy/codebook/engine/codebook/vectordb"
	"github.com/compozy/codebook/pkg/logger"
)

// Failure stages reported to metrics.
const (
	stageExtract = "extract"
	stageSplit   = "split"
	stageEmbed   = "embed"
	stageUpsert  = "upsert"
)

// Ingestor turns extracted sections into stored chunks.
type Ingestor struct {
	store    vectordb.Store
	splitter *chunk.Splitter
	batcher  *embedder.Batcher
	probe    *status.Probe
	options  Options
	newID    func() string
}

func New(
	store vectordb.Store,
	splitter *chunk.Splitter,
	batcher *embedder.Batcher,
	probe *status.Probe,
	opts Options,
) (*Ingestor, error) {
	if store == nil {
		return nil, errors.New("ingest: vector store is required")
	}
	if splitter == nil {
		return nil, errors.New("ingest: splitter is required")
	}
	if batcher == nil {
		return nil, errors.New("ingest: embedding batcher is required")
	}
	if probe == nil {
		return nil, errors.New("ingest: status probe is required")
	}
	opts.normalize()
	return &Ingestor{
		store:    store,
		splitter: splitter,
		batcher:  batcher,
		probe:    probe,
		options:  opts,
		newID:    uuid.NewString,
	}, nil
}

// CreateEmptyCollection creates the document collection. Any failure,
// including an existing collection, is logged and reported as false.
func (i *Ingestor) CreateEmptyCollection(ctx context.Context, documentID string) bool {
	log := logger.FromContext(ctx)
	if err := i.store.CreateCollection(ctx, documentID, i.options.Collection); err != nil {
		log.Error("Failed to create collection", "collection", documentID, "error", err)
		return false
	}
	log.Info("Created collection", "collection", documentID,
		"dimension", i.options.Collection.Dimension, "metric", i.options.Collection.Metric)
	return true
}

// ProcessSection extracts, splits, embeds and stores one section and returns
// the number of chunks stored. Extraction and embedding failures are logged
// and yield 0. Only a done context is returned as an error.
func (i *Ingestor) ProcessSection(
	ctx context.Context,
	documentID string,
	section codebook.Section,
	extract codebook.ExtractFunc,
) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	log := logger.FromContext(ctx).With("collection", documentID, "section", section.FullNumber())
	if err := section.Validate(); err != nil {
		log.Warn("Skipping invalid section", "error", err)
		codebook.RecordSectionFailure(ctx, documentID, stageExtract)
		return 0, nil
	}
	extracted := extract(ctx, section.FullNumber())
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if extracted.Failed() {
		log.Warn("Section extraction failed", "error", extracted.Err)
		codebook.RecordSectionFailure(ctx, documentID, stageExtract)
		return 0, nil
	}
	texts, err := i.splitter.Split(extracted.Content)
	if err != nil {
		log.Error("Section split failed", "error", err)
		codebook.RecordSectionFailure(ctx, documentID, stageSplit)
		return 0, nil
	}
	if len(texts) == 0 {
		log.Debug("Section produced no chunks")
		return 0, nil
	}
	vectors, err := i.batcher.EmbedAll(ctx, texts)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		log.Error("Section embedding failed", "chunks", len(texts), "error", err)
		codebook.RecordSectionFailure(ctx, documentID, stageEmbed)
		return 0, nil
	}
	points, err := i.buildPoints(section, texts, vectors)
	if err != nil {
		log.Error("Section payload invalid", "error", err)
		codebook.RecordSectionFailure(ctx, documentID, stageSplit)
		return 0, nil
	}
	stored, err := i.upsert(ctx, documentID, points)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stored, ctxErr
		}
		log.Error("Section upsert failed", "stored", stored, "chunks", len(points), "error", err)
		codebook.RecordSectionFailure(ctx, documentID, stageUpsert)
		return stored, nil
	}
	log.Debug("Section processed", "chunks", stored)
	return stored, nil
}

func (i *Ingestor) buildPoints(section codebook.Section, texts []string, vectors [][]float32) ([]vectordb.Point, error) {
	points := make([]vectordb.Point, 0, len(texts))
	for idx, text := range texts {
		payload := codebook.NewChunkPayload(section, text)
		if err := payload.Validate(); err != nil {
			return nil, err
		}
		c := codebook.Chunk{ID: i.newID(), Vector: vectors[idx], Payload: payload}
		points = append(points, vectordb.Point{ID: c.ID, Vector: c.Vector, Payload: c.Payload.ToMap()})
	}
	return points, nil
}

// upsert writes points in sub-batches, each guarded by the upsert policy,
// and returns how many points were stored before any failure.
func (i *Ingestor) upsert(ctx context.Context, documentID string, points []vectordb.Point) (int, error) {
	stored := 0
	size := i.options.UpsertBatchSize
	for start := 0; start < len(points); start += size {
		end := min(start+size, len(points))
		batch := points[start:end]
		err := retry.Do(ctx, i.options.UpsertPolicy, func(ctx context.Context) error {
			return i.store.Upsert(ctx, documentID, batch)
		})
		if err != nil {
			return stored, fmt.Errorf("upsert points %d-%d: %w", start, end, err)
		}
		stored += len(batch)
	}
	return stored, nil
}

// SectionResult is the outcome of one section within a run.
type SectionResult struct {
	Section string `json:"section"`
	Chunks  int    `json:"chunks"`
}

// ProcessAllSections processes every section concurrently and returns the
// total number of chunks stored. A failing section does not stop the others.
// When ctx is cancelled the in-flight sections stop, points already stored
// are kept, and ctx.Err() is returned.
func (i *Ingestor) ProcessAllSections(
	ctx context.Context,
	documentID string,
	sections []codebook.Section,
	extract codebook.ExtractFunc,
) (int, error) {
	results, err := i.processSections(ctx, documentID, sections, extract)
	total := 0
	for _, r := range results {
		total += r.Chunks
	}
	return total, err
}

func (i *Ingestor) processSections(
	ctx context.Context,
	documentID string,
	sections []codebook.Section,
	extract codebook.ExtractFunc,
) ([]SectionResult, error) {
	if extract == nil {
		return nil, errors.New("ingest: extract function is required")
	}
	results := make([]SectionResult, len(sections))
	var done atomic.Int64
	g := &errgroup.Group{}
	if i.options.MaxConcurrency > 0 {
		g.SetLimit(i.options.MaxConcurrency)
	}
	for idx := range sections {
		section := sections[idx]
		results[idx].Section = section.FullNumber()
		g.Go(func() error {
			n, err := i.ProcessSection(ctx, documentID, section, extract)
			results[idx].Chunks = n
			finished := done.Add(1)
			if finished%25 == 0 {
				logger.FromContext(ctx).Info("Ingestion progress",
					"collection", documentID, "sections_done", finished, "sections_total", len(sections))
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/compozy/codebook/engine/codebook"
	"github.com/compozy/codebook/engine/codebook/lock"
	"github.com/compozy/codebook/pkg/logger"
)

var (
	// ErrUnderChunked means a previous run stored too few chunks. Re-run with Force.
	ErrUnderChunked = errors.New("ingest: collection is under-chunked")
	// ErrLocked means another writer is ingesting the same document.
	ErrLocked = errors.New("ingest: document is locked by another writer")
)

// Request asks for one document to be ingested.
type Request struct {
	DocumentID string
	Sections   []codebook.Section
	Extract    codebook.ExtractFunc
	// Force purges an indexed or under-chunked collection before repopulating it.
	Force bool
}

// Report summarizes an ingestion run.
type Report struct {
	DocumentID string          `json:"document_id"`
	Before     codebook.Status `json:"before"`
	After      codebook.Status `json:"after"`
	Chunks     int             `json:"chunks"`
	Skipped    bool            `json:"skipped"`
}

// Ingest decides from the collection status whether to populate, skip or
// refuse, runs the ingestion and re-probes the status afterwards.
func (i *Ingestor) Ingest(ctx context.Context, req Request) (*Report, error) {
	if req.DocumentID == "" {
		return nil, codebook.ErrInvalidDocument
	}
	if req.Extract == nil {
		return nil, errors.New("ingest: extract function is required")
	}
	log := logger.FromContext(ctx).With("collection", req.DocumentID)
	ctx = logger.ContextWithLogger(ctx, log)
	release, err := i.acquire(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	defer release()

	before, err := i.probe.Status(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	report := &Report{DocumentID: req.DocumentID, Before: before, After: before}
	switch before {
	case codebook.StatusIndexed:
		if !req.Force {
			log.Info("Collection already indexed, skipping")
			report.Skipped = true
			return report, nil
		}
		if err := i.recreate(ctx, req.DocumentID); err != nil {
			return nil, err
		}
	case codebook.StatusUnderChunked:
		if !req.Force {
			return nil, fmt.Errorf("%w: %s", ErrUnderChunked, req.DocumentID)
		}
		if err := i.recreate(ctx, req.DocumentID); err != nil {
			return nil, err
		}
	case codebook.StatusEmpty:
	case codebook.StatusNotExists:
		if !i.CreateEmptyCollection(ctx, req.DocumentID) {
			return nil, fmt.Errorf("ingest: could not create collection %q", req.DocumentID)
		}
	}

	start := time.Now()
	log.Info("Ingestion started", "status", before.String(), "sections", len(req.Sections))
	chunks, err := i.ProcessAllSections(ctx, req.DocumentID, req.Sections, req.Extract)
	report.Chunks = chunks
	codebook.RecordIngestDuration(ctx, req.DocumentID, time.Since(start))
	codebook.RecordIngestChunks(ctx, req.DocumentID, chunks)
	if err != nil {
		return report, err
	}
	after, err := i.probe.Status(ctx, req.DocumentID)
	if err != nil {
		return report, err
	}
	report.After = after
	log.Info("Ingestion completed", "chunks", chunks, "status", after.String(), "duration", time.Since(start))
	return report, nil
}

// acquire takes the per-document writer lock and refreshes it every third of
// its ttl until the returned release func runs.
func (i *Ingestor) acquire(ctx context.Context, documentID string) (func(), error) {
	if i.options.Locker == nil {
		return func() {}, nil
	}
	held, err := i.options.Locker.Acquire(ctx, documentID, i.options.LockTTL)
	if errors.Is(err, lock.ErrNotAcquired) {
		return nil, fmt.Errorf("%w: %s", ErrLocked, documentID)
	}
	if err != nil {
		return nil, err
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	go i.keepAlive(ctx, held, stop, done)
	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// the run context may already be cancelled
			if err := held.Release(context.WithoutCancel(ctx)); err != nil {
				logger.FromContext(ctx).Warn("Failed to release ingestion lock", "error", err)
			}
		})
	}, nil
}

func (i *Ingestor) keepAlive(ctx context.Context, held lock.Lock, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	log := logger.FromContext(ctx)
	ttl := i.options.LockTTL
	ticker := time.NewTicker(max(ttl/3, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			err := held.Refresh(context.WithoutCancel(ctx), ttl)
			if errors.Is(err, lock.ErrNotHeld) {
				log.Error("Lost ingestion lock", "resource", held.Resource())
				return
			}
			if err != nil {
				log.Warn("Failed to refresh ingestion lock", "resource", held.Resource(), "error", err)
			}
		}
	}
}

// recreate drops the collection and creates it again empty.
func (i *Ingestor) recreate(ctx context.Context, documentID string) error {
	if err := i.purge(ctx, documentID); err != nil {
		return err
	}
	if !i.CreateEmptyCollection(ctx, documentID) {
		return fmt.Errorf("ingest: could not recreate collection %q", documentID)
	}
	return nil
}

package retriever

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/compozy/codebook/engine/codebook"
	"github.com/compozy/codebook/engine/codebook/vectordb"
	"github.com/compozy/codebook/pkg/logger"
)

// SectionExpansion widens the top-k similarity hits to the full sections
// they belong to. Every hit is part of the result and every returned chunk
// shares a section with some hit.
type SectionExpansion struct {
	svc *Service
}

func (s *SectionExpansion) Name() string {
	return StrategySectionExpansion
}

func (s *SectionExpansion) Retrieve(ctx context.Context, req Request) (*codebook.RetrievalResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	svc := s.svc
	ctx, span := svc.tracer.Start(ctx, "codebook.retriever.section_expansion", trace.WithAttributes(
		attribute.String("collection", req.Collection),
	))
	defer span.End()
	log := logger.FromContext(ctx).With("collection", req.Collection, "strategy", s.Name())

	vector, err := svc.embedQuery(ctx, req)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	matches, err := svc.search(ctx, req, vector)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	hits, resolved := s.resolveHits(ctx, req.Collection, matches)
	expanded := s.expandSections(ctx, req.Collection, resolved)

	all := make([]codebook.ChunkRef, 0, len(hits)+len(expanded))
	all = append(all, hits...)
	all = append(all, expanded...)
	result := assemble(all)
	added := len(result.Chunks) - len(hits)
	codebook.RecordExpandedChunks(ctx, req.Collection, added)
	span.SetAttributes(
		attribute.Int("hits", len(hits)),
		attribute.Int("chunks", len(result.Chunks)),
		attribute.Int("sections", len(result.SectionList)),
	)
	log.Debug("Section expansion completed",
		"hits", len(hits), "chunks", len(result.Chunks), "sections", result.SectionList)
	return result, nil
}

// resolveHits loads each hit by ID. A hit whose lookup fails or comes back
// empty falls back to the payload carried by the search match and is left
// out of the returned resolved set, so its section is not expanded.
func (s *SectionExpansion) resolveHits(
	ctx context.Context,
	collection string,
	matches []vectordb.Match,
) (hits, resolved []codebook.ChunkRef) {
	log := logger.FromContext(ctx)
	hits = make([]codebook.ChunkRef, 0, len(matches))
	resolved = make([]codebook.ChunkRef, 0, len(matches))
	for _, m := range matches {
		points, err := s.svc.store.Retrieve(ctx, collection, []string{m.ID})
		switch {
		case err != nil:
			log.Warn("Failed to retrieve hit, using search payload", "id", m.ID, "error", err)
		case len(points) == 0:
			log.Warn("Hit no longer exists, using search payload", "id", m.ID)
		default:
			refs := toChunkRefs(ctx, points[:1])
			hits = append(hits, refs...)
			resolved = append(resolved, refs...)
			continue
		}
		hits = append(hits, toChunkRefs(ctx, []vectordb.Point{{ID: m.ID, Payload: m.Payload}})...)
	}
	return hits, resolved
}

func (s *SectionExpansion) expandSections(
	ctx context.Context,
	collection string,
	hits []codebook.ChunkRef,
) []codebook.ChunkRef {
	log := logger.FromContext(ctx)
	seen := make(map[[2]string]struct{}, len(hits))
	var expanded []codebook.ChunkRef
	for _, hit := range hits {
		pair := [2]string{hit.ChapterNumber, hit.SectionNumber}
		if _, ok := seen[pair]; ok {
			continue
		}
		seen[pair] = struct{}{}
		chunks, err := s.svc.ChunksBySection(ctx, collection, hit.ChapterNumber, hit.SectionNumber, 0)
		if err != nil {
			log.Warn("Failed to expand section", "section", hit.ChapterNumber+"."+hit.SectionNumber, "error", err)
			continue
		}
		expanded = append(expanded, chunks...)
	}
	return expanded
}

// Similarity returns the top-k hits without expansion.
type Similarity struct {
	svc *Service
}

func (s *Similarity) Name() string {
	return StrategySimilarity
}

func (s *Similarity) Retrieve(ctx context.Context, req Request) (*codebook.RetrievalResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	ctx, span := s.svc.tracer.Start(ctx, "codebook.retriever.similarity", trace.WithAttributes(
		attribute.String("collection", req.Collection),
	))
	defer span.End()
	vector, err := s.svc.embedQuery(ctx, req)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	matches, err := s.svc.search(ctx, req, vector)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	points := make([]vectordb.Point, 0, len(matches))
	for _, m := range matches {
		points = append(points, vectordb.Point{ID: m.ID, Payload: m.Payload})
	}
	return assemble(toChunkRefs(ctx, points)), nil
}

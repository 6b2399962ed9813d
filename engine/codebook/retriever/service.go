package retriever

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/compozy/codebook/engine/codebook"
	"github.com/compozy/codebook/engine/codebook/vectordb"
	"github.com/compozy/codebook/pkg/config"
	"github.com/compozy/codebook/pkg/logger"
)

const (
	StrategySectionExpansion = "section_expansion"
	StrategySimilarity       = "similarity"
)

// QueryEmbedder embeds a user question.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Request targets one document collection.
type Request struct {
	Collection string
	Query      string
	// TopK overrides the configured number of similarity hits when positive.
	TopK int
}

// Strategy assembles the context for a question.
type Strategy interface {
	Name() string
	Retrieve(ctx context.Context, req Request) (*codebook.RetrievalResult, error)
}

type Settings struct {
	TopK           int
	SectionLimit   int
	ScrollPageSize int
}

func DefaultSettings() Settings {
	return Settings{TopK: 5, SectionLimit: 10, ScrollPageSize: 100}
}

func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		TopK:           cfg.Retrieval.TopK,
		SectionLimit:   cfg.Retrieval.SectionLimit,
		ScrollPageSize: cfg.Retrieval.ScrollPageSize,
	}
}

// Service reads chunks back from the vector store.
type Service struct {
	embedder QueryEmbedder
	store    vectordb.Store
	settings Settings
	tracer   trace.Tracer
}

func NewService(emb QueryEmbedder, store vectordb.Store, settings Settings) (*Service, error) {
	if emb == nil {
		return nil, errors.New("retriever: query embedder is required")
	}
	if store == nil {
		return nil, errors.New("retriever: vector store is required")
	}
	defaults := DefaultSettings()
	if settings.TopK <= 0 {
		settings.TopK = defaults.TopK
	}
	if settings.SectionLimit <= 0 {
		settings.SectionLimit = defaults.SectionLimit
	}
	if settings.ScrollPageSize <= 0 {
		settings.ScrollPageSize = defaults.ScrollPageSize
	}
	return &Service{
		embedder: emb,
		store:    store,
		settings: settings,
		tracer:   otel.Tracer("codebook.retriever"),
	}, nil
}

// Strategy resolves a strategy by name.
func (s *Service) Strategy(name string) (Strategy, error) {
	switch name {
	case "", StrategySectionExpansion:
		return &SectionExpansion{svc: s}, nil
	case StrategySimilarity:
		return &Similarity{svc: s}, nil
	default:
		return nil, fmt.Errorf("retriever: unknown strategy %q", name)
	}
}

// ChunksBySection returns up to limit chunks of one section.
func (s *Service) ChunksBySection(
	ctx context.Context,
	collection string,
	chapter string,
	section string,
	limit int,
) ([]codebook.ChunkRef, error) {
	if limit <= 0 {
		limit = s.settings.SectionLimit
	}
	page, err := s.store.Scroll(ctx, collection, vectordb.ScrollRequest{
		Filters: sectionFilter(chapter, section),
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("chunks of %s.%s: %w", chapter, section, err)
	}
	return toChunkRefs(ctx, page.Points), nil
}

// ListAllChunks pages through the whole collection.
func (s *Service) ListAllChunks(ctx context.Context, collection string) ([]codebook.ChunkRef, error) {
	var out []codebook.ChunkRef
	offset := ""
	for {
		page, err := s.store.Scroll(ctx, collection, vectordb.ScrollRequest{
			Limit:  s.settings.ScrollPageSize,
			Offset: offset,
		})
		if err != nil {
			return nil, fmt.Errorf("list chunks of %q: %w", collection, err)
		}
		out = append(out, toChunkRefs(ctx, page.Points)...)
		if page.NextOffset == "" {
			return out, nil
		}
		offset = page.NextOffset
	}
}

func (s *Service) embedQuery(ctx context.Context, req Request) ([]float32, error) {
	spanCtx, span := s.tracer.Start(ctx, "codebook.retriever.embed_query")
	defer span.End()
	vector, err := s.embedder.EmbedQuery(spanCtx, req.Query)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return vector, nil
}

func (s *Service) search(ctx context.Context, req Request, vector []float32) ([]vectordb.Match, error) {
	topK := req.TopK
	if topK <= 0 {
		topK = s.settings.TopK
	}
	spanCtx, span := s.tracer.Start(ctx, "codebook.retriever.vector_search", trace.WithAttributes(
		attribute.String("collection", req.Collection),
		attribute.Int("top_k", topK),
	))
	defer span.End()
	matches, err := s.store.Search(spanCtx, req.Collection, vector, vectordb.SearchOptions{TopK: topK})
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	span.SetAttributes(attribute.Int("matches", len(matches)))
	return matches, nil
}

func validateRequest(req Request) error {
	if strings.TrimSpace(req.Collection) == "" {
		return errors.New("retriever: collection is required")
	}
	if strings.TrimSpace(req.Query) == "" {
		return errors.New("retriever: query is required")
	}
	return nil
}

func sectionFilter(chapter, section string) map[string]string {
	return map[string]string{
		codebook.PayloadChapterNumber: chapter,
		codebook.PayloadSectionNumber: section,
	}
}

func toChunkRefs(ctx context.Context, points []vectordb.Point) []codebook.ChunkRef {
	out := make([]codebook.ChunkRef, 0, len(points))
	for _, p := range points {
		payload, err := codebook.PayloadFromMap(p.Payload)
		if err != nil {
			logger.FromContext(ctx).Warn("Skipping chunk with invalid payload", "id", p.ID, "error", err)
			continue
		}
		out = append(out, codebook.NewChunkRef(p.ID, payload))
	}
	return out
}

// assemble dedupes chunks by ID and texts by exact equality, keeping first
// occurrence order.
func assemble(chunks []codebook.ChunkRef) *codebook.RetrievalResult {
	result := &codebook.RetrievalResult{Chunks: []codebook.ChunkRef{}, SectionList: []string{}}
	seenIDs := make(map[string]struct{}, len(chunks))
	seenTexts := make(map[string]struct{}, len(chunks))
	seenSections := make(map[string]struct{})
	texts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if _, ok := seenIDs[c.ID]; ok {
			continue
		}
		seenIDs[c.ID] = struct{}{}
		result.Chunks = append(result.Chunks, c)
		if _, ok := seenTexts[c.Text]; !ok {
			seenTexts[c.Text] = struct{}{}
			texts = append(texts, c.Text)
		}
		key := c.ChapterNumber + "." + c.SectionNumber
		if _, ok := seenSections[key]; !ok {
			seenSections[key] = struct{}{}
			result.SectionList = append(result.SectionList, key)
		}
	}
	sort.Strings(result.SectionList)
	result.RawContent = strings.Join(texts, "\n\n")
	return result
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

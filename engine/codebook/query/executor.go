package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
	"golang.org/x/sync/errgroup"

	"github.com/compozy/codebook/engine/codebook"
	"github.com/compozy/codebook/engine/codebook/retriever"
	"github.com/compozy/codebook/engine/codebook/retry"
	"github.com/compozy/codebook/engine/codebook/vectordb"
	"github.com/compozy/codebook/pkg/config"
	"github.com/compozy/codebook/pkg/logger"
	"github.com/compozy/codebook/pkg/tokens"
)

const answerTemplate = "Answer the question based only on the following context:\n{{.context}}\n\nQuestion: {{.query}}"

const systemTemplate = "You answer questions about a municipality's zoning codebook. " +
	"Respond with a single JSON object and nothing else. The object must conform to this JSON Schema:\n"

// PermittedUsesPrefix steers the model through permitted-use tables.
const PermittedUsesPrefix = `You are a helpful assistant that answers questions about a municipality's codebook.
Tables in the content are formatted in markdown.

<TABLE DIRECTIONS>
- Rely only on the content inside the table.
- Read every row.
- Never invent information.
- When the zone code is a column header, only read cells in that column.
- Ignore columns that do not have the zone code as a header.
- When asked about a specific row or column, rely only on that row or column.
- With several tables, use each table's header row to pick the column.
</TABLE DIRECTIONS>

<INDUSTRY EXPERT HINT>
The answer is always in the context.
Permitted uses and special exceptions usually live in a PERMITTED USES section, a PERMITTED USES TABLE section, or a similar section.
</INDUSTRY EXPERT HINT>

`

// ErrMalformedAnswer is returned when the model output is not JSON.
var ErrMalformedAnswer = errors.New("query: model answer is not valid JSON")

// Result is an answer plus the evidence it was built from.
type Result struct {
	Query       string              `json:"query"`
	Model       string              `json:"model"`
	Answer      json.RawMessage     `json:"answer"`
	SectionList []string            `json:"section_list"`
	Chunks      []codebook.ChunkRef `json:"chunks"`
}

// TypedResult carries the answer decoded into T.
type TypedResult[T any] struct {
	*Result
	Value T
}

type Settings struct {
	Collection    string
	DefaultModel  string
	Temperature   float64
	PermittedUseK int
	Policy        retry.Policy
}

func SettingsFromConfig(cfg *config.Config, collection string) Settings {
	return Settings{
		Collection:    collection,
		DefaultModel:  cfg.Query.DefaultModel,
		Temperature:   cfg.Query.Temperature,
		PermittedUseK: cfg.Retrieval.PermittedUseK,
		Policy:        retry.QueryPolicy(cfg, vectordb.IsTransient),
	}
}

type Option func(*callOptions)

type callOptions struct {
	model         string
	prefix        string
	topK          int
	permittedUses bool
}

// WithModel selects a registered model by name.
func WithModel(name string) Option {
	return func(o *callOptions) { o.model = name }
}

// WithPromptPrefix puts text ahead of the answer template.
func WithPromptPrefix(prefix string) Option {
	return func(o *callOptions) { o.prefix = prefix }
}

func WithTopK(k int) Option {
	return func(o *callOptions) { o.topK = k }
}

// WithPermittedUses applies PermittedUsesPrefix and the permitted-use top-k,
// and prefers the anthropic model when one is registered and no model was
// chosen explicitly.
func WithPermittedUses() Option {
	return func(o *callOptions) { o.permittedUses = true }
}

// Executor answers structured questions against one document collection.
type Executor struct {
	strategy retriever.Strategy
	models   Models
	settings Settings
	counter  tokens.Counter
	prompt   prompts.PromptTemplate
}

// New builds an executor. counter may be nil, in which case prompt sizes are estimated.
func New(strategy retriever.Strategy, models Models, settings Settings, counter tokens.Counter) (*Executor, error) {
	if strategy == nil {
		return nil, errors.New("query: retrieval strategy is required")
	}
	if len(models) == 0 {
		return nil, errors.New("query: at least one model is required")
	}
	if strings.TrimSpace(settings.Collection) == "" {
		return nil, errors.New("query: collection is required")
	}
	if settings.DefaultModel == "" {
		settings.DefaultModel = ModelOpenAI
	}
	if settings.Policy.Attempts == 0 {
		settings.Policy = retry.Policy{Name: "query", Attempts: 1}
	}
	settings.Policy = settings.Policy.WithRetryable(vectordb.IsTransient)
	return &Executor{
		strategy: strategy,
		models:   models,
		settings: settings,
		counter:  counter,
		prompt:   prompts.NewPromptTemplate(answerTemplate, []string{"context", "query"}),
	}, nil
}

func (e *Executor) resolve(opts []Option) callOptions {
	o := callOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.permittedUses {
		if o.prefix == "" {
			o.prefix = PermittedUsesPrefix
		}
		if o.topK == 0 {
			o.topK = e.settings.PermittedUseK
		}
		if _, ok := e.models[ModelAnthropic]; ok && o.model == "" {
			o.model = ModelAnthropic
		}
	}
	if o.model == "" {
		o.model = e.settings.DefaultModel
	}
	return o
}

// Answer retrieves context for query, asks the model for a JSON answer and
// validates it against schema. A non-conforming answer yields *ValidationError.
func (e *Executor) Answer(ctx context.Context, query string, schema *Schema, opts ...Option) (*Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query: question is required")
	}
	if schema == nil {
		return nil, errors.New("query: answer schema is required")
	}
	o := e.resolve(opts)
	model, err := e.models.Get(o.model)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	result, err := retry.DoValue(ctx, e.settings.Policy, func(ctx context.Context) (*Result, error) {
		return e.answerOnce(ctx, query, schema, o, model)
	})
	codebook.RecordQueryLatency(ctx, e.settings.Collection, o.model, time.Since(start))
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Executor) answerOnce(
	ctx context.Context,
	query string,
	schema *Schema,
	o callOptions,
	model llms.Model,
) (*Result, error) {
	log := logger.FromContext(ctx).With("collection", e.settings.Collection, "model", o.model)
	retrieved, err := e.strategy.Retrieve(ctx, retriever.Request{
		Collection: e.settings.Collection,
		Query:      query,
		TopK:       o.topK,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve context: %w", err)
	}
	if len(retrieved.Chunks) == 0 {
		log.Warn("No context retrieved for question", "query", query)
	}
	prompt, err := e.buildPrompt(o.prefix, retrieved.RawContent, query)
	if err != nil {
		return nil, err
	}
	system := systemTemplate + schema.String()
	log.Debug("Prompt prepared",
		"tokens", tokens.Count(ctx, e.counter, system+prompt),
		"chunks", len(retrieved.Chunks),
		"sections", retrieved.SectionList)
	resp, err := model.GenerateContent(ctx,
		[]llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeSystem, system),
			llms.TextParts(llms.ChatMessageTypeHuman, prompt),
		},
		llms.WithTemperature(e.settings.Temperature),
		llms.WithJSONMode(),
	)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.New("generate answer: empty response from model")
	}
	raw := extractJSON(resp.Choices[0].Content)
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAnswer, err)
	}
	if err := schema.Validate(decoded); err != nil {
		return nil, err
	}
	return &Result{
		Query:       query,
		Model:       o.model,
		Answer:      json.RawMessage(raw),
		SectionList: retrieved.SectionList,
		Chunks:      retrieved.Chunks,
	}, nil
}

func (e *Executor) buildPrompt(prefix, content, query string) (string, error) {
	body, err := e.prompt.Format(map[string]any{"context": content, "query": query})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return prefix + body, nil
}

// extractJSON drops markdown code fences some models wrap around JSON.
func extractJSON(content string) []byte {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	return []byte(s)
}

// ExecuteQueriesInParallel answers every question concurrently. Results keep
// the order of questions and the first failure is returned.
func (e *Executor) ExecuteQueriesInParallel(
	ctx context.Context,
	questions []string,
	schema *Schema,
	opts ...Option,
) ([]*Result, error) {
	results := make([]*Result, len(questions))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range questions {
		g.Go(func() error {
			res, err := e.Answer(gctx, q, schema, opts...)
			if err != nil {
				return fmt.Errorf("question %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Ask answers query with a schema reflected from T and decodes the answer.
func Ask[T any](ctx context.Context, e *Executor, query string, opts ...Option) (*TypedResult[T], error) {
	schema, err := SchemaFor[T]()
	if err != nil {
		return nil, err
	}
	res, err := e.Answer(ctx, query, schema, opts...)
	if err != nil {
		return nil, err
	}
	var value T
	if err := json.Unmarshal(res.Answer, &value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAnswer, err)
	}
	return &TypedResult[T]{Result: res, Value: value}, nil
}

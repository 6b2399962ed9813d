package vectordb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

type qdrantStore struct {
	client    *resty.Client
	dimension int
}

type qdrantError struct {
	Status struct {
		Error string `json:"error"`
	} `json:"status"`
}

type qdrantPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score,omitempty"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload"`
}

const qdrantDefaultTimeout = 30 * time.Second

func newQdrantStore(_ context.Context, cfg *Config) (*qdrantStore, error) {
	base := strings.TrimRight(cfg.URL, "/")
	if base == "" {
		return nil, fmt.Errorf("vector_db %q: %w", cfg.ID, errMissingURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = qdrantDefaultTimeout
	}
	client := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("api-key", cfg.APIKey)
	}
	return &qdrantStore{client: client, dimension: cfg.Dimension}, nil
}

func qdrantDistance(metric string) string {
	switch normalizeMetric(metric) {
	case "euclid":
		return "Euclid"
	case "dot":
		return "Dot"
	default:
		return "Cosine"
	}
}

func collectionPath(collection string, suffix string) string {
	return "/collections/" + url.PathEscape(collection) + suffix
}

// buildQdrantFilter builds a must-match-all filter; nil when there is nothing to match.
func buildQdrantFilter(filters map[string]string) map[string]any {
	if len(filters) == 0 {
		return nil
	}
	must := make([]any, 0, len(filters))
	for key, val := range filters {
		must = append(must, map[string]any{
			"key":   key,
			"match": map[string]any{"value": val},
		})
	}
	return map[string]any{"must": must}
}

func (q *qdrantStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	err := q.do(ctx, http.MethodGet, collectionPath(collection, ""), nil, nil, false)
	if errors.Is(err, ErrCollectionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (q *qdrantStore) CreateCollection(ctx context.Context, collection string, spec CollectionSpec) error {
	dim := spec.Dimension
	if dim <= 0 {
		dim = q.dimension
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dim,
			"distance": qdrantDistance(spec.Metric),
		},
	}
	return q.do(ctx, http.MethodPut, collectionPath(collection, ""), body, nil, false)
}

func (q *qdrantStore) DeleteCollection(ctx context.Context, collection string) error {
	return q.do(ctx, http.MethodDelete, collectionPath(collection, ""), nil, nil, false)
}

func (q *qdrantStore) ListCollections(ctx context.Context) ([]string, error) {
	var out struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	if err := q.do(ctx, http.MethodGet, "/collections", nil, &out, false); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.Result.Collections))
	for _, c := range out.Result.Collections {
		names = append(names, c.Name)
	}
	return names, nil
}

func (q *qdrantStore) Count(ctx context.Context, collection string) (int, error) {
	var out struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	body := map[string]any{"exact": true}
	if err := q.do(ctx, http.MethodPost, collectionPath(collection, "/points/count"), body, &out, false); err != nil {
		return 0, err
	}
	return out.Result.Count, nil
}

func (q *qdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	items := make([]qdrantPoint, 0, len(points))
	for i := range points {
		p := points[i]
		if len(p.Vector) != q.dimension {
			return fmt.Errorf("qdrant: point %q dimension mismatch (got %d want %d)", p.ID, len(p.Vector), q.dimension)
		}
		items = append(items, qdrantPoint{ID: p.ID, Vector: p.Vector, Payload: p.Payload})
	}
	body := map[string]any{"points": items}
	return q.do(ctx, http.MethodPut, collectionPath(collection, "/points"), body, nil, true)
}

func (q *qdrantStore) Search(
	ctx context.Context,
	collection string,
	query []float32,
	opts SearchOptions,
) ([]Match, error) {
	if len(query) != q.dimension {
		return nil, fmt.Errorf("qdrant: query dimension mismatch (got %d want %d)", len(query), q.dimension)
	}
	limit := opts.TopK
	if limit <= 0 {
		limit = defaultTopK
	}
	request := map[string]any{
		"vector":       query,
		"limit":        limit,
		"with_payload": true,
	}
	if filter := buildQdrantFilter(opts.Filters); filter != nil {
		request["filter"] = filter
	}
	var out struct {
		Result []qdrantPoint `json:"result"`
	}
	if err := q.do(ctx, http.MethodPost, collectionPath(collection, "/points/search"), request, &out, false); err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(out.Result))
	for _, res := range out.Result {
		if res.Score < opts.MinScore {
			continue
		}
		matches = append(matches, Match{ID: fmt.Sprint(res.ID), Score: res.Score, Payload: res.Payload})
	}
	return matches, nil
}

func (q *qdrantStore) Retrieve(ctx context.Context, collection string, ids []string) ([]Point, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	body := map[string]any{
		"ids":          ids,
		"with_payload": true,
		"with_vector":  false,
	}
	var out struct {
		Result []qdrantPoint `json:"result"`
	}
	if err := q.do(ctx, http.MethodPost, collectionPath(collection, "/points"), body, &out, false); err != nil {
		return nil, err
	}
	return toPoints(out.Result), nil
}

func (q *qdrantStore) Scroll(ctx context.Context, collection string, req ScrollRequest) (ScrollPage, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultScrollLimit
	}
	body := map[string]any{
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
	}
	if filter := buildQdrantFilter(req.Filters); filter != nil {
		body["filter"] = filter
	}
	if req.Offset != "" {
		body["offset"] = req.Offset
	}
	var out struct {
		Result struct {
			Points         []qdrantPoint `json:"points"`
			NextPageOffset any           `json:"next_page_offset"`
		} `json:"result"`
	}
	if err := q.do(ctx, http.MethodPost, collectionPath(collection, "/points/scroll"), body, &out, false); err != nil {
		return ScrollPage{}, err
	}
	page := ScrollPage{Points: toPoints(out.Result.Points)}
	if out.Result.NextPageOffset != nil {
		page.NextOffset = fmt.Sprint(out.Result.NextPageOffset)
	}
	return page, nil
}

func (q *qdrantStore) Delete(ctx context.Context, collection string, filter Filter) error {
	if filter.empty() {
		return nil
	}
	request := map[string]any{}
	switch {
	case filter.All:
		request["filter"] = map[string]any{"must": []any{}}
	case len(filter.IDs) > 0:
		request["points"] = filter.IDs
	default:
		request["filter"] = buildQdrantFilter(filter.Metadata)
	}
	return q.do(ctx, http.MethodPost, collectionPath(collection, "/points/delete"), request, nil, true)
}

func (q *qdrantStore) Close(context.Context) error {
	return nil
}

func toPoints(items []qdrantPoint) []Point {
	points := make([]Point, 0, len(items))
	for _, it := range items {
		points = append(points, Point{ID: fmt.Sprint(it.ID), Vector: it.Vector, Payload: it.Payload})
	}
	return points
}

func (q *qdrantStore) do(ctx context.Context, method, path string, body any, out any, wait bool) error {
	req := q.client.R().SetContext(ctx).SetError(&qdrantError{})
	if wait {
		req.SetQueryParam("wait", "true")
	}
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return transient("qdrant "+method+" "+path, err)
	}
	if !resp.IsError() {
		return nil
	}
	return qdrantStatusError(method, path, resp)
}

func qdrantStatusError(method, path string, resp *resty.Response) error {
	msg := ""
	if apiErr, ok := resp.Error().(*qdrantError); ok && apiErr != nil {
		msg = apiErr.Status.Error
	}
	status := resp.StatusCode()
	base := fmt.Errorf("qdrant: %s %s failed with status %d: %s", method, path, status, msg)
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrCollectionNotFound, base)
	case status == http.StatusConflict:
		return fmt.Errorf("%w: %w", ErrCollectionExists, base)
	case status == http.StatusBadRequest && strings.Contains(msg, "already exists"):
		return fmt.Errorf("%w: %w", ErrCollectionExists, base)
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return transient(method+" "+path, base)
	default:
		return base
	}
}

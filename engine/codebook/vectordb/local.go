package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// localStore keeps collections in memory. When path is set the collections
// are written to a JSON snapshot so a local index survives restarts.
// Creating or dropping a collection writes the snapshot at once; point
// writes only mark it dirty and are flushed on Close.
type localStore struct {
	mu          sync.RWMutex
	path        string
	dimension   int
	collections map[string]*localCollection
	dirty       bool
}

type localCollection struct {
	Dimension int                   `json:"dimension"`
	Metric    string                `json:"metric"`
	Points    map[string]localPoint `json:"points"`
}

type localPoint struct {
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// NewMemoryStore returns a non-persistent store, used by tests and dry runs.
func NewMemoryStore(dimension int) Store {
	return &localStore{dimension: dimension, collections: make(map[string]*localCollection)}
}

func newLocalStore(cfg *Config) (*localStore, error) {
	s := &localStore{dimension: cfg.Dimension, collections: make(map[string]*localCollection)}
	if cfg.Provider == ProviderMemory || cfg.Path == "" {
		return s, nil
	}
	s.path = filepath.Clean(cfg.Path)
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("local: ensure directory %q: %w", dir, err)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *localStore) CollectionExists(_ context.Context, collection string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.collections[collection]
	return ok, nil
}

func (s *localStore) CreateCollection(_ context.Context, collection string, spec CollectionSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[collection]; ok {
		return fmt.Errorf("local: %q: %w", collection, ErrCollectionExists)
	}
	dim := spec.Dimension
	if dim <= 0 {
		dim = s.dimension
	}
	s.collections[collection] = &localCollection{
		Dimension: dim,
		Metric:    normalizeMetric(spec.Metric),
		Points:    make(map[string]localPoint),
	}
	return s.persistLocked()
}

func (s *localStore) DeleteCollection(_ context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[collection]; !ok {
		return fmt.Errorf("local: %q: %w", collection, ErrCollectionNotFound)
	}
	delete(s.collections, collection)
	return s.persistLocked()
}

func (s *localStore) ListCollections(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *localStore) Count(_ context.Context, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.collectionLocked(collection)
	if err != nil {
		return 0, err
	}
	return len(c.Points), nil
}

func (s *localStore) Upsert(_ context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.collectionLocked(collection)
	if err != nil {
		return err
	}
	for i := range points {
		p := points[i]
		if len(p.Vector) != c.Dimension {
			return fmt.Errorf("local: point %q dimension mismatch (got %d want %d)", p.ID, len(p.Vector), c.Dimension)
		}
	}
	for i := range points {
		p := points[i]
		c.Points[p.ID] = localPoint{
			Vector:  append([]float32(nil), p.Vector...),
			Payload: cloneMap(p.Payload),
		}
	}
	s.dirty = true
	return nil
}

func (s *localStore) Search(
	_ context.Context,
	collection string,
	query []float32,
	opts SearchOptions,
) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.collectionLocked(collection)
	if err != nil {
		return nil, err
	}
	if len(query) != c.Dimension {
		return nil, fmt.Errorf("local: query dimension mismatch (got %d want %d)", len(query), c.Dimension)
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	candidates := make([]Match, 0, len(c.Points))
	for id, p := range c.Points {
		if !payloadMatches(p.Payload, opts.Filters) {
			continue
		}
		score := similarity(c.Metric, p.Vector, query)
		if score < opts.MinScore {
			continue
		}
		candidates = append(candidates, Match{ID: id, Score: score, Payload: cloneMap(p.Payload)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score == candidates[j].Score {
			return candidates[i].ID < candidates[j].ID
		}
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}

func (s *localStore) Retrieve(_ context.Context, collection string, ids []string) ([]Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.collectionLocked(collection)
	if err != nil {
		return nil, err
	}
	out := make([]Point, 0, len(ids))
	for _, id := range ids {
		if p, ok := c.Points[id]; ok {
			out = append(out, Point{ID: id, Payload: cloneMap(p.Payload)})
		}
	}
	return out, nil
}

// Scroll pages in ascending ID order; Offset is the first ID of the page.
func (s *localStore) Scroll(_ context.Context, collection string, req ScrollRequest) (ScrollPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.collectionLocked(collection)
	if err != nil {
		return ScrollPage{}, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultScrollLimit
	}
	ids := make([]string, 0, len(c.Points))
	for id, p := range c.Points {
		if id >= req.Offset && payloadMatches(p.Payload, req.Filters) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	page := ScrollPage{}
	for i, id := range ids {
		if i == limit {
			page.NextOffset = id
			break
		}
		page.Points = append(page.Points, Point{ID: id, Payload: cloneMap(c.Points[id].Payload)})
	}
	return page, nil
}

func (s *localStore) Delete(_ context.Context, collection string, filter Filter) error {
	if filter.empty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.collectionLocked(collection)
	if err != nil {
		return err
	}
	switch {
	case filter.All:
		c.Points = make(map[string]localPoint)
	case len(filter.IDs) > 0:
		for _, id := range filter.IDs {
			delete(c.Points, id)
		}
	default:
		for id, p := range c.Points {
			if payloadMatches(p.Payload, filter.Metadata) {
				delete(c.Points, id)
			}
		}
	}
	s.dirty = true
	return nil
}

// Close flushes point writes made since the last snapshot.
func (s *localStore) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	return s.persistLocked()
}

func (s *localStore) collectionLocked(collection string) (*localCollection, error) {
	c, ok := s.collections[collection]
	if !ok {
		return nil, fmt.Errorf("local: %q: %w", collection, ErrCollectionNotFound)
	}
	return c, nil
}

func (s *localStore) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("local: read %q: %w", s.path, err)
	}
	var snapshot map[string]*localCollection
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("local: decode %q: %w", s.path, err)
	}
	for name, c := range snapshot {
		if c.Points == nil {
			c.Points = make(map[string]localPoint)
		}
		s.collections[name] = c
	}
	return nil
}

func (s *localStore) persistLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := json.Marshal(s.collections)
	if err != nil {
		return fmt.Errorf("local: encode snapshot: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("local: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("local: commit snapshot: %w", err)
	}
	s.dirty = false
	return nil
}

func payloadMatches(payload map[string]any, filters map[string]string) bool {
	for key, want := range filters {
		got, ok := payload[key]
		if !ok || fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}

func similarity(metric string, a, b []float32) float64 {
	switch metric {
	case "dot":
		return dot(a, b)
	case "euclid":
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return -math.Sqrt(sum)
	default:
		na := math.Sqrt(dot(a, a))
		nb := math.Sqrt(dot(b, b))
		if na == 0 || nb == 0 {
			return 0
		}
		return dot(a, b) / (na * nb)
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

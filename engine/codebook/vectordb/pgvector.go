package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

const pgTablePrefix = "codebook_"

// pgPool is the subset of *pgxpool.Pool used by the store.
type pgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// pgStore maps every collection to its own table holding id, embedding and payload.
type pgStore struct {
	pool      pgPool
	dimension int
	metric    string
}

func newPGStore(ctx context.Context, cfg *Config) (*pgStore, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("vector_db %q: failed to connect to postgres: %w", cfg.ID, err)
	}
	store := newPGStoreWithPool(pool, cfg.Dimension, cfg.Metric)
	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector: enable extension: %w", classifyPGError("enable extension", err))
	}
	return store, nil
}

func newPGStoreWithPool(pool pgPool, dimension int, metric string) *pgStore {
	return &pgStore{pool: pool, dimension: dimension, metric: normalizeMetric(metric)}
}

func pgTable(collection string) string {
	return pgTablePrefix + collection
}

func pgIdent(collection string) string {
	return pgx.Identifier{pgTable(collection)}.Sanitize()
}

func (p *pgStore) distance() (op string, ops string, score string) {
	switch p.metric {
	case "dot":
		return "<#>", "vector_ip_ops", "-(embedding <#> $1)"
	case "euclid":
		return "<->", "vector_l2_ops", "-(embedding <-> $1)"
	default:
		return "<=>", "vector_cosine_ops", "1 - (embedding <=> $1)"
	}
}

func (p *pgStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1)",
		pgTable(collection),
	).Scan(&exists)
	if err != nil {
		return false, classifyPGError("collection exists", err)
	}
	return exists, nil
}

func (p *pgStore) CreateCollection(ctx context.Context, collection string, spec CollectionSpec) error {
	exists, err := p.CollectionExists(ctx, collection)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("pgvector: %q: %w", collection, ErrCollectionExists)
	}
	dim := spec.Dimension
	if dim <= 0 {
		dim = p.dimension
	}
	ident := pgIdent(collection)
	createTable := fmt.Sprintf(`CREATE TABLE %s (
		id TEXT PRIMARY KEY,
		embedding vector(%d) NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	)`, ident, dim)
	if _, err := p.pool.Exec(ctx, createTable); err != nil {
		return classifyPGError("create table", err)
	}
	_, ops, _ := p.distance()
	index := pgx.Identifier{pgTable(collection) + "_embedding_idx"}.Sanitize()
	createIndex := fmt.Sprintf("CREATE INDEX %s ON %s USING hnsw (embedding %s)", index, ident, ops)
	if _, err := p.pool.Exec(ctx, createIndex); err != nil {
		return classifyPGError("create index", err)
	}
	return nil
}

func (p *pgStore) DeleteCollection(ctx context.Context, collection string) error {
	exists, err := p.CollectionExists(ctx, collection)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("pgvector: %q: %w", collection, ErrCollectionNotFound)
	}
	if _, err := p.pool.Exec(ctx, "DROP TABLE "+pgIdent(collection)); err != nil {
		return classifyPGError("drop table", err)
	}
	return nil
}

func (p *pgStore) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_name LIKE 'codebook\_%' ORDER BY table_name`,
	)
	if err != nil {
		return nil, classifyPGError("list collections", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("pgvector: scan: %w", err)
		}
		names = append(names, strings.TrimPrefix(name, pgTablePrefix))
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPGError("list collections", err)
	}
	return names, nil
}

func (p *pgStore) Count(ctx context.Context, collection string) (int, error) {
	var count int64
	if err := p.pool.QueryRow(ctx, "SELECT count(*) FROM "+pgIdent(collection)).Scan(&count); err != nil {
		return 0, classifyPGError("count", err)
	}
	return int(count), nil
}

func (p *pgStore) Upsert(ctx context.Context, collection string, points []Point) (err error) {
	if len(points) == 0 {
		return nil
	}
	for i := range points {
		if len(points[i].Vector) != p.dimension {
			return fmt.Errorf(
				"pgvector: point %q dimension mismatch (got %d want %d)",
				points[i].ID,
				len(points[i].Vector),
				p.dimension,
			)
		}
	}
	tx, txErr := p.pool.Begin(ctx)
	if txErr != nil {
		return classifyPGError("begin tx", txErr)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = fmt.Errorf("pgvector: rollback failed: %w; original error: %v", rbErr, err)
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = classifyPGError("commit", commitErr)
		}
	}()
	stmt := fmt.Sprintf(`INSERT INTO %s (id, embedding, payload) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET embedding = excluded.embedding, payload = excluded.payload`, pgIdent(collection))
	for i := range points {
		pt := points[i]
		payload, marshalErr := json.Marshal(pt.Payload)
		if marshalErr != nil {
			return fmt.Errorf("pgvector: marshal payload for %q: %w", pt.ID, marshalErr)
		}
		if _, execErr := tx.Exec(ctx, stmt, pt.ID, pgvector.NewVector(pt.Vector), payload); execErr != nil {
			return classifyPGError("upsert "+pt.ID, execErr)
		}
	}
	return nil
}

// appendFilters adds "AND payload ->> key = value" clauses in key order.
func appendFilters(b *strings.Builder, args []any, filters map[string]string) []any {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		pos := len(args) + 1
		fmt.Fprintf(b, " AND payload ->> $%d = $%d", pos, pos+1)
		args = append(args, k, filters[k])
	}
	return args
}

func (p *pgStore) Search(
	ctx context.Context,
	collection string,
	query []float32,
	opts SearchOptions,
) ([]Match, error) {
	if len(query) != p.dimension {
		return nil, fmt.Errorf("pgvector: query dimension mismatch (got %d want %d)", len(query), p.dimension)
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	op, _, score := p.distance()
	b := strings.Builder{}
	fmt.Fprintf(&b, "SELECT id, payload, %s AS score FROM %s WHERE 1=1", score, pgIdent(collection))
	args := appendFilters(&b, []any{pgvector.NewVector(query)}, opts.Filters)
	fmt.Fprintf(&b, " ORDER BY embedding %s $1 ASC LIMIT $%d", op, len(args)+1)
	args = append(args, topK)
	rows, err := p.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, classifyPGError("search", err)
	}
	defer rows.Close()
	results := make([]Match, 0, topK)
	for rows.Next() {
		var (
			id    string
			raw   []byte
			value float64
		)
		if err := rows.Scan(&id, &raw, &value); err != nil {
			return nil, fmt.Errorf("pgvector: scan: %w", err)
		}
		if value < opts.MinScore {
			continue
		}
		payload, err := decodePayload(raw)
		if err != nil {
			return nil, err
		}
		results = append(results, Match{ID: id, Score: value, Payload: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPGError("search", err)
	}
	return results, nil
}

func (p *pgStore) Retrieve(ctx context.Context, collection string, ids []string) ([]Point, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx,
		"SELECT id, payload FROM "+pgIdent(collection)+" WHERE id = ANY($1)",
		ids,
	)
	if err != nil {
		return nil, classifyPGError("retrieve", err)
	}
	return collectPoints(rows, 0)
}

func (p *pgStore) Scroll(ctx context.Context, collection string, req ScrollRequest) (ScrollPage, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultScrollLimit
	}
	b := strings.Builder{}
	b.WriteString("SELECT id, payload FROM ")
	b.WriteString(pgIdent(collection))
	b.WriteString(" WHERE 1=1")
	args := appendFilters(&b, nil, req.Filters)
	if req.Offset != "" {
		fmt.Fprintf(&b, " AND id >= $%d", len(args)+1)
		args = append(args, req.Offset)
	}
	fmt.Fprintf(&b, " ORDER BY id ASC LIMIT $%d", len(args)+1)
	args = append(args, limit+1)
	rows, err := p.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return ScrollPage{}, classifyPGError("scroll", err)
	}
	points, err := collectPoints(rows, limit+1)
	if err != nil {
		return ScrollPage{}, err
	}
	page := ScrollPage{Points: points}
	if len(points) > limit {
		page.NextOffset = points[limit].ID
		page.Points = points[:limit]
	}
	return page, nil
}

func (p *pgStore) Delete(ctx context.Context, collection string, filter Filter) error {
	if filter.empty() {
		return nil
	}
	b := strings.Builder{}
	b.WriteString("DELETE FROM ")
	b.WriteString(pgIdent(collection))
	var args []any
	switch {
	case filter.All:
	case len(filter.IDs) > 0:
		b.WriteString(" WHERE id = ANY($1)")
		args = append(args, filter.IDs)
	default:
		b.WriteString(" WHERE 1=1")
		args = appendFilters(&b, args, filter.Metadata)
	}
	if _, err := p.pool.Exec(ctx, b.String(), args...); err != nil {
		return classifyPGError("delete", err)
	}
	return nil
}

func (p *pgStore) Close(context.Context) error {
	p.pool.Close()
	return nil
}

func collectPoints(rows pgx.Rows, capacity int) ([]Point, error) {
	defer rows.Close()
	points := make([]Point, 0, capacity)
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("pgvector: scan: %w", err)
		}
		payload, err := decodePayload(raw)
		if err != nil {
			return nil, err
		}
		points = append(points, Point{ID: id, Payload: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPGError("read rows", err)
	}
	return points, nil
}

func decodePayload(raw []byte) (map[string]any, error) {
	payload := make(map[string]any)
	if len(raw) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("pgvector: decode payload: %w", err)
	}
	return payload, nil
}

// classifyPGError maps undefined tables to ErrCollectionNotFound and
// connection-level failures to TransientError.
func classifyPGError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42P01":
			return fmt.Errorf("pgvector: %s: %w: %w", op, ErrCollectionNotFound, err)
		case "42P07":
			return fmt.Errorf("pgvector: %s: %w: %w", op, ErrCollectionExists, err)
		}
		if strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "57P01" || pgErr.Code == "40001" {
			return transient("pgvector "+op, err)
		}
		return fmt.Errorf("pgvector: %s: %w", op, err)
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) || IsTransient(err) {
		return transient("pgvector "+op, err)
	}
	return fmt.Errorf("pgvector: %s: %w", op, err)
}

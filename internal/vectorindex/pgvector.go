package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/rotisserie/eris"
)

// Pool is the subset of pgxpool.Pool used by PGVectorIndex. pgxmock's
// PgxPoolIface satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// upsertBatchSize bounds the number of rows written per transaction.
const upsertBatchSize = 100

// ConnectPostgres opens a pgx connection pool.
func ConnectPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, eris.Wrap(err, "vectorindex: connect postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "vectorindex: ping postgres")
	}
	return pool, nil
}

// EnsureSchema creates the pgvector extension and the shared vectors table.
func EnsureSchema(ctx context.Context, pool Pool, table string, dims int) error {
	if !identPattern.MatchString(table) {
		return eris.Errorf("vectorindex: invalid table name %q", table)
	}
	if dims <= 0 {
		return eris.New("vectorindex: dimensions must be positive")
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			corpus TEXT NOT NULL,
			id TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			embedding vector(%d) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (corpus, id)
		)`, table, dims),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_metadata_idx ON %s USING GIN (metadata)`, table, table),
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return eris.Wrap(err, "vectorindex: ensure schema")
		}
	}
	return nil
}

// PGVectorIndex implements Index on a Postgres table with the pgvector
// extension. All corpora share one table, partitioned by the corpus column.
type PGVectorIndex struct {
	pool   Pool
	table  string
	corpus string
}

// NewPGVectorIndex returns the index for corpus in table. The table must
// already exist (see EnsureSchema).
func NewPGVectorIndex(pool Pool, table, corpus string) (*PGVectorIndex, error) {
	if !identPattern.MatchString(table) {
		return nil, eris.Errorf("vectorindex: invalid table name %q", table)
	}
	return &PGVectorIndex{pool: pool, table: table, corpus: corpus}, nil
}

func (ix *PGVectorIndex) Name() string { return "pgvector/" + ix.corpus }

func (ix *PGVectorIndex) Upsert(ctx context.Context, records []Record) error {
	query := fmt.Sprintf(`INSERT INTO %s (corpus, id, content, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (corpus, id) DO UPDATE SET
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding,
			updated_at = now()`, ix.table)

	for start := 0; start < len(records); start += upsertBatchSize {
		batch := records[start:min(start+upsertBatchSize, len(records))]
		if err := ix.upsertBatch(ctx, query, batch); err != nil {
			return err
		}
	}
	return nil
}

func (ix *PGVectorIndex) upsertBatch(ctx context.Context, query string, batch []Record) error {
	tx, err := ix.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "vectorindex: pgvector begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, r := range batch {
		meta, err := json.Marshal(nonNilMetadata(r.Metadata))
		if err != nil {
			return eris.Wrapf(err, "vectorindex: marshal metadata for %s", r.ID)
		}
		if _, err := tx.Exec(ctx, query, ix.corpus, r.ID, r.Text, meta, pgvector.NewVector(r.Vector)); err != nil {
			return eris.Wrapf(err, "vectorindex: pgvector upsert %s", r.ID)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "vectorindex: pgvector commit")
}

func (ix *PGVectorIndex) Query(ctx context.Context, vector []float32, k int, filter Filter) ([]Candidate, error) {
	if k <= 0 {
		return []Candidate{}, nil
	}

	args := []any{pgvector.NewVector(vector), ix.corpus}
	query := fmt.Sprintf(`SELECT id, content, metadata, embedding <=> $1 AS distance
		FROM %s WHERE corpus = $2`, ix.table)
	if len(filter) > 0 {
		f, err := json.Marshal(filter)
		if err != nil {
			return nil, eris.Wrap(err, "vectorindex: marshal filter")
		}
		args = append(args, f)
		query += fmt.Sprintf(` AND metadata @> $%d::jsonb`, len(args))
	}
	args = append(args, k)
	query += fmt.Sprintf(` ORDER BY distance ASC LIMIT $%d`, len(args))

	rows, err := ix.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "vectorindex: pgvector query")
	}
	defer rows.Close()

	out := []Candidate{}
	for rows.Next() {
		var (
			c        Candidate
			meta     []byte
			distance float64
		)
		if err := rows.Scan(&c.ID, &c.Text, &meta, &distance); err != nil {
			return nil, eris.Wrap(err, "vectorindex: pgvector scan")
		}
		c.Metadata = map[string]string{}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &c.Metadata); err != nil {
				return nil, eris.Wrapf(err, "vectorindex: decode metadata for %s", c.ID)
			}
		}
		c.Score = ScoreFromCosineDistance(distance)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "vectorindex: pgvector rows")
	}
	return out, nil
}

func (ix *PGVectorIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := ix.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE corpus = $1 AND id = ANY($2)`, ix.table), ix.corpus, ids)
	return eris.Wrap(err, "vectorindex: pgvector delete")
}

func (ix *PGVectorIndex) Count(ctx context.Context) (int, error) {
	var n int
	err := ix.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE corpus = $1`, ix.table), ix.corpus).Scan(&n)
	return n, eris.Wrap(err, "vectorindex: pgvector count")
}

func nonNilMetadata(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

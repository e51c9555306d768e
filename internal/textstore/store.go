// Package textstore keeps the full text of indexed documents in SQLite,
// keyed by (corpus, id), so vector index metadata only needs a preview.
package textstore

import (
	"context"
	"database/sql"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/lexreview/lexreview/internal/db"
)

// Store provides keyed access to stored document text.
type Store struct {
	db *db.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Put inserts or replaces the texts for the given ids in one transaction.
func (s *Store) Put(ctx context.Context, corpus string, texts map[string]string) error {
	if len(texts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "textstore: begin")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO document_texts (corpus, id, text) VALUES (?, ?, ?)
		ON CONFLICT(corpus, id) DO UPDATE SET text = excluded.text, updated_at = datetime('now')`)
	if err != nil {
		return eris.Wrap(err, "textstore: prepare upsert")
	}
	defer stmt.Close()

	for id, text := range texts {
		if _, err := stmt.ExecContext(ctx, corpus, id, text); err != nil {
			return eris.Wrapf(err, "textstore: upsert %s/%s", corpus, id)
		}
	}
	return eris.Wrap(tx.Commit(), "textstore: commit")
}

// Get returns the stored texts for the given ids. Missing ids are absent
// from the result.
func (s *Store) Get(ctx context.Context, corpus string, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, corpus)
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text FROM document_texts WHERE corpus = ? AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "textstore: query")
	}
	defer rows.Close()

	for rows.Next() {
		var id, text string
		if err := rows.Scan(&id, &text); err != nil {
			return nil, eris.Wrap(err, "textstore: scan")
		}
		out[id] = text
	}
	return out, eris.Wrap(rows.Err(), "textstore: rows")
}

// GetOne returns one stored text, or ok=false when absent.
func (s *Store) GetOne(ctx context.Context, corpus, id string) (string, bool, error) {
	var text string
	err := s.db.QueryRowContext(ctx,
		`SELECT text FROM document_texts WHERE corpus = ? AND id = ?`, corpus, id).Scan(&text)
	if eris.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrap(err, "textstore: get")
	}
	return text, true, nil
}

// Delete removes the texts for the given ids.
func (s *Store) Delete(ctx context.Context, corpus string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, corpus)
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM document_texts WHERE corpus = ? AND id IN (`+placeholders+`)`, args...)
	return eris.Wrap(err, "textstore: delete")
}

// Count returns the number of texts stored for corpus.
func (s *Store) Count(ctx context.Context, corpus string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM document_texts WHERE corpus = ?`, corpus).Scan(&n)
	return n, eris.Wrap(err, "textstore: count")
}

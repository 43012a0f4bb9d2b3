// Package store is a small document store over Postgres: one table of
// (collection, doc_id) -> jsonb. All writes are merge upserts, so fields
// absent from a write are left untouched on the stored document.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

// Collection names.
const (
	CollectionTeachers = "teachers_dir"
	CollectionCatalog  = "courses_catalog"
	CollectionSessions = "course_sessions"
)

// MaxBatchSize is the hard upper bound on rows per batch commit.
const MaxBatchSize = 400

// Document is a write: an id plus any JSON-marshalable payload.
type Document struct {
	ID   string
	Data any
}

// StoredDoc is a read: the id plus the raw stored JSON.
type StoredDoc struct {
	ID   string
	Data json.RawMessage
}

// Store wraps the database handle.
type Store struct {
	DB *sql.DB
}

// New wraps an existing handle (used by tests).
func New(db *sql.DB) *Store { return &Store{DB: db} }

// NewWithDSN opens and pings a Postgres connection.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

const upsertSQL = `INSERT INTO documents (collection, doc_id, data, updated_at) VALUES ($1,$2,$3,now())
ON CONFLICT (collection, doc_id) DO UPDATE SET data = documents.data || EXCLUDED.data, updated_at = now()`

// Upsert writes a single document with merge semantics.
func (s *Store) Upsert(ctx context.Context, collection, id string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal document %s/%s: %w", collection, id, err)
	}
	if _, err := s.DB.ExecContext(ctx, upsertSQL, collection, id, payload); err != nil {
		return fmt.Errorf("upsert %s/%s: %w", collection, id, err)
	}
	return nil
}

// UpsertBatch writes documents in bounded multi-row batches, committed
// sequentially. A failure mid-sequence leaves earlier batches durably
// applied and later ones unattempted; the number of committed batches is
// returned either way. Duplicate ids within the input collapse to the last
// occurrence before batching, since one statement cannot touch the same
// row twice.
func (s *Store) UpsertBatch(ctx context.Context, collection string, docs []Document, batchSize int) (int, error) {
	if batchSize <= 0 || batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}
	docs = dedupeByID(docs)

	committed := 0
	for start := 0; start < len(docs); start += batchSize {
		end := start + batchSize
		if end > len(docs) {
			end = len(docs)
		}
		if err := s.upsertChunk(ctx, collection, docs[start:end]); err != nil {
			return committed, fmt.Errorf("commit batch %d: %w", committed+1, err)
		}
		committed++
	}
	return committed, nil
}

func (s *Store) upsertChunk(ctx context.Context, collection string, chunk []Document) error {
	var sb strings.Builder
	args := make([]any, 0, len(chunk)*2+1)
	args = append(args, collection)

	sb.WriteString("INSERT INTO documents (collection, doc_id, data, updated_at) VALUES ")
	for i, d := range chunk {
		payload, err := json.Marshal(d.Data)
		if err != nil {
			return fmt.Errorf("marshal document %s/%s: %w", collection, d.ID, err)
		}
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, "($1,$%d,$%d,now())", len(args)+1, len(args)+2)
		args = append(args, d.ID, payload)
	}
	sb.WriteString(" ON CONFLICT (collection, doc_id) DO UPDATE SET data = documents.data || EXCLUDED.data, updated_at = now()")

	_, err := s.DB.ExecContext(ctx, sb.String(), args...)
	return err
}

// List returns every document in a collection in doc_id order, so repeated
// reads over unchanged data are byte-identical.
func (s *Store) List(ctx context.Context, collection string) ([]StoredDoc, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT doc_id, data FROM documents WHERE collection=$1 ORDER BY doc_id`, collection)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []StoredDoc
	for rows.Next() {
		var d StoredDoc
		if err := rows.Scan(&d.ID, &d.Data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func dedupeByID(docs []Document) []Document {
	last := make(map[string]int, len(docs))
	for i, d := range docs {
		last[d.ID] = i
	}
	if len(last) == len(docs) {
		return docs
	}
	out := make([]Document, 0, len(last))
	for i, d := range docs {
		if last[d.ID] == i {
			out = append(out, d)
		}
	}
	return out
}

// Package vectordb provides vector index adapters implementing
// ports.VectorIndex.
package vectordb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"docbot/internal/domain/entities"
	"docbot/internal/domain/ports"
)

// SQLiteIndex is a persistent vector index backed by SQLite. Similarity is
// brute-force cosine over all candidate rows, which is fine at the corpus
// sizes this service handles (a handful of manuals).
type SQLiteIndex struct {
	mu sync.RWMutex
	db *sql.DB
}

// NewSQLiteIndex opens (or creates) the index database at path.
func NewSQLiteIndex(path string) (*SQLiteIndex, error) {
	if path == "" {
		path = "./data/docbot.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	idx := &SQLiteIndex{db: db}
	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return idx, nil
}

func (s *SQLiteIndex) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL,
		code TEXT NOT NULL DEFAULT '',
		year TEXT NOT NULL DEFAULT '',
		standard TEXT NOT NULL DEFAULT '',
		chunk_index INTEGER NOT NULL,
		kind TEXT NOT NULL DEFAULT 'text',
		content TEXT NOT NULL,
		embedding BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Store saves chunks with their embeddings.
func (s *SQLiteIndex) Store(ctx context.Context, chunks []entities.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks (id, document_id, source, code, year, standard, chunk_index, kind, content, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		embeddingJSON, err := json.Marshal(chunk.Embedding)
		if err != nil {
			return fmt.Errorf("encoding embedding: %w", err)
		}
		_, err = stmt.ExecContext(ctx,
			chunk.ID, chunk.DocumentID, chunk.Source,
			chunk.Code, chunk.Year, chunk.Standard,
			chunk.Index, string(chunk.Kind), chunk.Content, embeddingJSON,
		)
		if err != nil {
			return fmt.Errorf("inserting chunk: %w", err)
		}
	}
	return tx.Commit()
}

// Search returns the topK most similar passages. A filter restricts results
// to one document, matching the structured key OR the raw source filename so
// untagged documents stay reachable. Ties break by insertion order.
func (s *SQLiteIndex) Search(ctx context.Context, embedding []float32, filter *ports.DocumentFilter, topK int) ([]entities.Passage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT rowid, document_id, source, content, embedding FROM chunks`
	var args []any
	if filter != nil {
		query += ` WHERE document_id = ? OR source = ? OR source = ?`
		args = append(args, filter.DocumentID, filter.DocumentID+".md", filter.DocumentID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	type scored struct {
		passage entities.Passage
		rowid   int64
	}
	var results []scored
	for rows.Next() {
		var (
			rowid         int64
			docID, source string
			content       string
			embeddingJSON []byte
		)
		if err := rows.Scan(&rowid, &docID, &source, &content, &embeddingJSON); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		var vec []float32
		if err := json.Unmarshal(embeddingJSON, &vec); err != nil {
			continue // skip corrupted embeddings
		}
		results = append(results, scored{
			passage: entities.Passage{
				Content:    content,
				DocumentID: docID,
				Source:     source,
				Score:      cosineSimilarity(embedding, vec),
			},
			rowid: rowid,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].passage.Score != results[j].passage.Score {
			return results[i].passage.Score > results[j].passage.Score
		}
		return results[i].rowid < results[j].rowid
	})
	if len(results) > topK {
		results = results[:topK]
	}

	passages := make([]entities.Passage, len(results))
	for i, r := range results {
		r.passage.Ordinal = i
		passages[i] = r.passage
	}
	return passages, nil
}

// Discover enumerates the document catalog from chunk metadata. Rows with a
// structured key use it directly; untagged rows get a descriptor derived
// from the source filename, so plain documents are still listed.
func (s *SQLiteIndex) Discover(ctx context.Context) ([]entities.DocumentDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT document_id, source, code, year, standard FROM chunks
	`)
	if err != nil {
		return nil, fmt.Errorf("querying metadata: %w", err)
	}
	defer rows.Close()

	docs := make(map[string]entities.DocumentDescriptor)
	for rows.Next() {
		var docID, source, code, year, standard string
		if err := rows.Scan(&docID, &source, &code, &year, &standard); err != nil {
			return nil, fmt.Errorf("scanning metadata: %w", err)
		}

		var desc entities.DocumentDescriptor
		if docID != "" {
			desc = entities.DocumentDescriptor{ID: docID, Code: code, Year: year, Standard: standard}
		} else {
			desc = DescriptorFromSource(source)
		}
		if _, seen := docs[desc.ID]; !seen {
			docs[desc.ID] = desc
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	catalog := make([]entities.DocumentDescriptor, len(ids))
	for i, id := range ids {
		catalog[i] = docs[id]
	}
	return catalog, nil
}

// Clear removes all indexed data.
func (s *SQLiteIndex) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM chunks")
	return err
}

// ChunkCount returns the number of stored chunks.
func (s *SQLiteIndex) ChunkCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

// DescriptorFromSource derives catalog metadata for a document that was
// ingested without the structured filename convention.
func DescriptorFromSource(source string) entities.DocumentDescriptor {
	stem := source
	if dot := strings.LastIndexByte(stem, '.'); dot > 0 {
		stem = stem[:dot]
	}

	code := stem
	if under := strings.IndexByte(stem, '_'); under > 0 {
		code = stem[:under]
	}
	year := ""
	for _, part := range strings.Split(stem, "_") {
		if len(part) == 4 && isDigits(part) {
			year = part
			break
		}
	}

	return entities.DocumentDescriptor{
		ID:       stem,
		Code:     code,
		Year:     year,
		Standard: strings.ReplaceAll(stem, "_", " "),
	}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// cosineSimilarity calculates cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Package sqlite implements the per-folder storage engine on SQLite.
// Each folder owns one database file holding its documents, chunks,
// dimension-typed vector collections and file-state table.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/folderd/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/folderd/internal/core/domain"
	"github.com/custodia-labs/folderd/internal/core/ports/driven"
)

// jsonNull is the JSON representation of null.
const jsonNull = "null"

// Store is one folder's SQLite-backed storage engine.
type Store struct {
	db        *sql.DB
	path      string
	model     string
	dimension int
}

var _ driven.FolderStore = (*Store)(nil)

// Open opens (creating if necessary) the store at dbPath and validates it
// against the configured (model, dimension). A store previously bound to
// a different pair fails loudly with domain.ErrDimensionMismatch and the
// existing data is left untouched.
func Open(ctx context.Context, dbPath, model string, dimension int) (*Store, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", domain.ErrDimensionMismatch)
	}

	// WAL mode for better concurrency between the lifecycle writer and
	// search readers.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, path: dbPath, model: model, dimension: dimension}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	if err := s.validateMeta(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// validateMeta records the (model, dimension) pair on first open and
// rejects any later open under a different pair. No silent migration, no
// truncation or padding of vectors.
func (s *Store) validateMeta(ctx context.Context) error {
	var model string
	var dimension int
	err := s.db.QueryRowContext(ctx, "SELECT model, dimension FROM store_meta WHERE id = 1").
		Scan(&model, &dimension)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.ExecContext(ctx,
			"INSERT INTO store_meta (id, model, dimension) VALUES (1, ?, ?)",
			s.model, s.dimension)
		if err != nil {
			return fmt.Errorf("recording store model: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("reading store model: %w", err)
	case model != s.model || dimension != s.dimension:
		return fmt.Errorf("%w: store is bound to %s/%d, configured %s/%d; rebuild the folder to switch models",
			domain.ErrDimensionMismatch, model, dimension, s.model, s.dimension)
	default:
		return nil
	}
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue // Skip files that don't match pattern
		}
		if version <= currentVersion {
			continue // Already applied
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Model returns the (model id, dimension) the store is bound to.
func (s *Store) Model() (string, int) {
	return s.model, s.dimension
}

// checkDimension rejects vectors that do not match the store's declared
// dimension. Mismatches fail, never coerced.
func (s *Store) checkDimension(vec []float32) error {
	if len(vec) != s.dimension {
		return fmt.Errorf("%w: got %d, store dimension is %d", domain.ErrDimensionMismatch, len(vec), s.dimension)
	}
	return nil
}

// CommitDocument atomically replaces a document's indexed state: prior
// chunks and embeddings are removed, the document row is upserted, new
// chunks and their vectors are inserted and the file state is recorded,
// all in one transaction.
func (s *Store) CommitDocument(ctx context.Context, doc *domain.Document, chunks []domain.Chunk, state domain.FileState) error {
	// Validate every vector before touching the database so a bad batch
	// cannot partially commit.
	for i := range chunks {
		if err := s.checkDimension(chunks[i].Embedding); err != nil {
			return fmt.Errorf("chunk %d: %w", i, err)
		}
	}
	if doc.Embedding != nil {
		if err := s.checkDimension(doc.Embedding); err != nil {
			return fmt.Errorf("document embedding: %w", err)
		}
	}
	if len(chunks) > 0 && doc.Embedding == nil {
		return fmt.Errorf("document %s has chunks but no document embedding", doc.RelPath)
	}

	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	keyPhrasesJSON, err := json.Marshal(doc.KeyPhrases)
	if err != nil {
		return fmt.Errorf("marshalling key phrases: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Drop prior derived rows in the explicit cascade order.
	if _, err := tx.ExecContext(ctx, "DELETE FROM chunk_embeddings WHERE document_id = ?", doc.ID); err != nil {
		return fmt.Errorf("clearing chunk embeddings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM document_embeddings WHERE document_id = ?", doc.ID); err != nil {
		return fmt.Errorf("clearing document embedding: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", doc.ID); err != nil {
		return fmt.Errorf("clearing chunks: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (id, rel_path, content_hash, size, modified_at, status, last_error, key_phrases, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			rel_path = excluded.rel_path,
			content_hash = excluded.content_hash,
			size = excluded.size,
			modified_at = excluded.modified_at,
			status = excluded.status,
			last_error = excluded.last_error,
			key_phrases = excluded.key_phrases,
			updated_at = excluded.updated_at
	`, doc.ID, doc.RelPath, doc.ContentHash, doc.Size, doc.ModifiedAt, string(doc.Status),
		doc.LastError, string(keyPhrasesJSON), doc.CreatedAt, doc.UpdatedAt); err != nil {
		return fmt.Errorf("saving document: %w", err)
	}

	chunkStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, position, content, token_count, readability, key_phrases, semantic_processed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing chunk statement: %w", err)
	}
	defer chunkStmt.Close()

	vecStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunk_embeddings (chunk_id, document_id, vector) VALUES (?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing vector statement: %w", err)
	}
	defer vecStmt.Close()

	for _, chunk := range chunks {
		phrasesJSON, err := json.Marshal(chunk.KeyPhrases)
		if err != nil {
			return fmt.Errorf("marshalling chunk key phrases: %w", err)
		}
		if _, err := chunkStmt.ExecContext(ctx, chunk.ID, doc.ID, chunk.Position, chunk.Content,
			chunk.TokenCount, chunk.Readability, string(phrasesJSON), chunk.SemanticProcessed); err != nil {
			return fmt.Errorf("saving chunk: %w", err)
		}
		if _, err := vecStmt.ExecContext(ctx, chunk.ID, doc.ID, float32SliceToBytes(chunk.Embedding)); err != nil {
			return fmt.Errorf("saving chunk embedding: %w", err)
		}
	}

	if doc.Embedding != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO document_embeddings (document_id, vector) VALUES (?, ?)
		`, doc.ID, float32SliceToBytes(doc.Embedding)); err != nil {
			return fmt.Errorf("saving document embedding: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO file_states (rel_path, content_hash, size, modified_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(rel_path) DO UPDATE SET
			content_hash = excluded.content_hash,
			size = excluded.size,
			modified_at = excluded.modified_at
	`, state.RelPath, state.ContentHash, state.Size, state.ModifiedAt); err != nil {
		return fmt.Errorf("saving file state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// MarkDocumentError upserts a document row in errored state without
// touching chunks or embeddings.
func (s *Store) MarkDocumentError(ctx context.Context, relPath, msg string, state domain.FileState) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var id string
	err = tx.QueryRowContext(ctx, "SELECT id FROM documents WHERE rel_path = ?", relPath).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO documents (id, rel_path, content_hash, size, modified_at, status, last_error, key_phrases, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 'null', ?, ?)
		`, uuid.New().String(), relPath, state.ContentHash, state.Size, state.ModifiedAt,
			string(domain.DocumentStatusErrored), msg, now, now); err != nil {
			return fmt.Errorf("inserting errored document: %w", err)
		}
	case err != nil:
		return fmt.Errorf("finding document: %w", err)
	default:
		if _, err := tx.ExecContext(ctx, `
			UPDATE documents SET status = ?, last_error = ?, updated_at = ? WHERE id = ?
		`, string(domain.DocumentStatusErrored), msg, now, id); err != nil {
			return fmt.Errorf("updating errored document: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO file_states (rel_path, content_hash, size, modified_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(rel_path) DO UPDATE SET
			content_hash = excluded.content_hash,
			size = excluded.size,
			modified_at = excluded.modified_at
	`, state.RelPath, state.ContentHash, state.Size, state.ModifiedAt); err != nil {
		return fmt.Errorf("saving file state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by id.
func (s *Store) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	return s.scanDocument(s.db.QueryRowContext(ctx, documentSelect+" WHERE d.id = ?", id))
}

// GetDocumentByPath retrieves a document by relative path.
func (s *Store) GetDocumentByPath(ctx context.Context, relPath string) (*domain.Document, error) {
	return s.scanDocument(s.db.QueryRowContext(ctx, documentSelect+" WHERE d.rel_path = ?", relPath))
}

const documentSelect = `
	SELECT d.id, d.rel_path, d.content_hash, d.size, d.modified_at, d.status,
	       d.last_error, d.key_phrases, d.created_at, d.updated_at, e.vector
	FROM documents d
	LEFT JOIN document_embeddings e ON e.document_id = d.id`

// ListDocuments returns all documents in the store ordered by path.
func (s *Store) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	rows, err := s.db.QueryContext(ctx, documentSelect+" ORDER BY d.rel_path")
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document //nolint:prealloc // size unknown from query
	for rows.Next() {
		doc, err := scanDocumentFields(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

// CountDocuments returns the number of documents.
func (s *Store) CountDocuments(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}

// GetChunks returns a document's chunks with embeddings, ordered by
// position.
func (s *Store) GetChunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, chunkSelect+" WHERE c.document_id = ? ORDER BY c.position", documentID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.Chunk //nolint:prealloc // size unknown from query
	for rows.Next() {
		chunk, err := scanChunkFields(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}
	return chunks, nil
}

const chunkSelect = `
	SELECT c.id, c.document_id, c.position, c.content, c.token_count,
	       c.readability, c.key_phrases, c.semantic_processed, e.vector
	FROM chunks c
	LEFT JOIN chunk_embeddings e ON e.chunk_id = c.id`

// GetChunk retrieves one chunk by id.
func (s *Store) GetChunk(ctx context.Context, id string) (*domain.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, chunkSelect+" WHERE c.id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("querying chunk: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("querying chunk: %w", err)
		}
		return nil, domain.ErrNotFound
	}
	return scanChunkFields(rows)
}

// DeleteDocument removes a document and everything derived from it in
// one explicit ordered transaction: chunk embeddings, then the document
// embedding, then chunk rows, then the document row. The vector
// collections have no cascading constraints; the ordering here is the
// cascade.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunk_embeddings WHERE document_id = ?", id); err != nil {
		return fmt.Errorf("deleting chunk embeddings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM document_embeddings WHERE document_id = ?", id); err != nil {
		return fmt.Errorf("deleting document embedding: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", id); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// FileStates returns the persisted scan state table keyed by path.
func (s *Store) FileStates(ctx context.Context) (map[string]domain.FileState, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT rel_path, content_hash, size, modified_at FROM file_states")
	if err != nil {
		return nil, fmt.Errorf("querying file states: %w", err)
	}
	defer rows.Close()

	states := make(map[string]domain.FileState)
	for rows.Next() {
		var st domain.FileState
		if err := rows.Scan(&st.RelPath, &st.ContentHash, &st.Size, &st.ModifiedAt); err != nil {
			return nil, fmt.Errorf("scanning file state: %w", err)
		}
		st.ModifiedAt = st.ModifiedAt.UTC()
		states[st.RelPath] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating file states: %w", err)
	}
	return states, nil
}

// DeleteFileState removes one file's scan state.
func (s *Store) DeleteFileState(ctx context.Context, relPath string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM file_states WHERE rel_path = ?", relPath); err != nil {
		return fmt.Errorf("deleting file state: %w", err)
	}
	return nil
}

// Stats returns row counts for the store's tables.
func (s *Store) Stats(ctx context.Context) (driven.StoreStats, error) {
	var stats driven.StoreStats
	queries := []struct {
		query string
		dst   *int
	}{
		{"SELECT COUNT(*) FROM documents", &stats.Documents},
		{"SELECT COUNT(*) FROM chunks", &stats.Chunks},
		{"SELECT COUNT(*) FROM chunk_embeddings", &stats.ChunkEmbeddings},
		{"SELECT COUNT(*) FROM document_embeddings", &stats.DocumentEmbeddings},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dst); err != nil {
			return stats, fmt.Errorf("counting rows: %w", err)
		}
	}
	return stats, nil
}

// Vacuum reclaims space after large deletions.
func (s *Store) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

// ==================== Scanning helpers ====================

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanDocument(row *sql.Row) (*domain.Document, error) {
	doc, err := scanDocumentFields(row)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func scanDocumentFields(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var status, keyPhrasesJSON string
	var modifiedAt sql.NullTime
	var vector []byte

	if err := row.Scan(&doc.ID, &doc.RelPath, &doc.ContentHash, &doc.Size, &modifiedAt,
		&status, &doc.LastError, &keyPhrasesJSON, &doc.CreatedAt, &doc.UpdatedAt, &vector); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}

	doc.Status = domain.DocumentStatus(status)
	if modifiedAt.Valid {
		doc.ModifiedAt = modifiedAt.Time.UTC()
	}
	if keyPhrasesJSON != "" && keyPhrasesJSON != jsonNull {
		if err := json.Unmarshal([]byte(keyPhrasesJSON), &doc.KeyPhrases); err != nil {
			return nil, fmt.Errorf("unmarshaling key phrases: %w", err)
		}
	}
	doc.Embedding = bytesToFloat32Slice(vector)
	return &doc, nil
}

func scanChunkFields(row rowScanner) (*domain.Chunk, error) {
	var chunk domain.Chunk
	var keyPhrasesJSON string
	var vector []byte

	if err := row.Scan(&chunk.ID, &chunk.DocumentID, &chunk.Position, &chunk.Content,
		&chunk.TokenCount, &chunk.Readability, &keyPhrasesJSON, &chunk.SemanticProcessed, &vector); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning chunk: %w", err)
	}

	if keyPhrasesJSON != "" && keyPhrasesJSON != jsonNull {
		if err := json.Unmarshal([]byte(keyPhrasesJSON), &chunk.KeyPhrases); err != nil {
			return nil, fmt.Errorf("unmarshaling chunk key phrases: %w", err)
		}
	}
	chunk.Embedding = bytesToFloat32Slice(vector)
	return &chunk, nil
}

// float32SliceToBytes encodes a vector as little-endian float32 bytes.
func float32SliceToBytes(floats []float32) []byte {
	data := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(f))
	}
	return data
}

// bytesToFloat32Slice decodes a little-endian float32 vector.
func bytesToFloat32Slice(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}

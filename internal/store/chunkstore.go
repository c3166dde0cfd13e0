package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tribridrag/tribridrag/internal/chunk"
	apperrors "github.com/tribridrag/tribridrag/internal/errors"
)

// SQLiteChunkStore implements ChunkStore on a SQLite database.
type SQLiteChunkStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

var _ ChunkStore = (*SQLiteChunkStore)(nil)

// NewSQLiteChunkStore opens or creates the chunk database at path.
// An empty path creates an in-memory store for tests.
func NewSQLiteChunkStore(path string) (*SQLiteChunkStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open chunk store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &SQLiteChunkStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize chunk store schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteChunkStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id           TEXT PRIMARY KEY,
		corpus_id    TEXT NOT NULL,
		file_path    TEXT NOT NULL,
		language     TEXT NOT NULL DEFAULT '',
		content      TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		start_line   INTEGER NOT NULL,
		end_line     INTEGER NOT NULL,
		token_count  INTEGER NOT NULL DEFAULT 0,
		truncated    INTEGER NOT NULL DEFAULT 0,
		symbols      TEXT NOT NULL DEFAULT '[]',
		metadata     TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_path, start_line);

	CREATE TABLE IF NOT EXISTS files (
		path         TEXT PRIMARY KEY,
		content_hash TEXT NOT NULL,
		language     TEXT NOT NULL DEFAULT '',
		chunk_count  INTEGER NOT NULL DEFAULT 0,
		indexed_at   INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS embeddings (
		chunk_id  TEXT PRIMARY KEY REFERENCES chunks(id) ON DELETE CASCADE,
		dimension INTEGER NOT NULL,
		vector    BLOB NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveChunks upserts chunks in one transaction.
func (s *SQLiteChunkStore) SaveChunks(ctx context.Context, chunks []*chunk.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("chunk store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks
		(id, corpus_id, file_path, language, content, content_hash,
		 start_line, end_line, token_count, truncated, symbols, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		symbols, err := json.Marshal(c.Symbols)
		if err != nil {
			return fmt.Errorf("marshal symbols for %s: %w", c.ID, err)
		}
		metadata, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", c.ID, err)
		}
		truncated := 0
		if c.Truncated {
			truncated = 1
		}
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.CorpusID, c.FilePath, c.Language, c.Content, c.ContentHash,
			c.StartLine, c.EndLine, c.TokenCount, truncated, string(symbols), string(metadata)); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

const chunkColumns = `id, corpus_id, file_path, language, content, content_hash,
	start_line, end_line, token_count, truncated, symbols, metadata`

func scanChunk(scanner interface{ Scan(...any) error }) (*chunk.Chunk, error) {
	var c chunk.Chunk
	var truncated int
	var symbols, metadata string
	if err := scanner.Scan(&c.ID, &c.CorpusID, &c.FilePath, &c.Language, &c.Content,
		&c.ContentHash, &c.StartLine, &c.EndLine, &c.TokenCount, &truncated,
		&symbols, &metadata); err != nil {
		return nil, err
	}
	c.Truncated = truncated != 0
	if err := json.Unmarshal([]byte(symbols), &c.Symbols); err != nil {
		return nil, fmt.Errorf("unmarshal symbols for %s: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(metadata), &c.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata for %s: %w", c.ID, err)
	}
	return &c, nil
}

// GetChunk fetches one chunk by ID.
func (s *SQLiteChunkStore) GetChunk(ctx context.Context, id string) (*chunk.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("chunk store is closed")
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE id = ?`, id)
	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.Newf(apperrors.KindNotFound, "chunk %s not found", id)
	}
	return c, err
}

// GetChunks fetches chunks by ID. Missing IDs are skipped; order
// follows the input.
func (s *SQLiteChunkStore) GetChunks(ctx context.Context, ids []string) ([]*chunk.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("chunk store is closed")
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*chunk.Chunk, len(ids))
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]*chunk.Chunk, 0, len(byID))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			result = append(result, c)
		}
	}
	return result, nil
}

// GetChunksByFile returns a file's chunks ordered by start line.
func (s *SQLiteChunkStore) GetChunksByFile(ctx context.Context, filePath string) ([]*chunk.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("chunk store is closed")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE file_path = ? ORDER BY start_line`, filePath)
	if err != nil {
		return nil, fmt.Errorf("query chunks by file: %w", err)
	}
	defer rows.Close()

	var result []*chunk.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// DeleteChunksByFile removes a file's chunks and returns their IDs so
// the caller can purge the sparse and vector indexes.
func (s *SQLiteChunkStore) DeleteChunksByFile(ctx context.Context, filePath string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("chunk store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM chunks WHERE file_path = ?`, filePath)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE file_path = ?`, filePath); err != nil {
		return nil, fmt.Errorf("delete chunks for %s: %w", filePath, err)
	}
	return ids, nil
}

// AllChunkIDs lists every chunk ID.
func (s *SQLiteChunkStore) AllChunkIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("chunk store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM chunks ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Neighbors returns same-file chunks within window lines of the given
// chunk, ordered by start line. The chunk itself is excluded.
func (s *SQLiteChunkStore) Neighbors(ctx context.Context, chunkID string, window int) ([]*chunk.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("chunk store is closed")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT file_path, start_line, end_line FROM chunks WHERE id = ?`, chunkID)
	var filePath string
	var startLine, endLine int
	if err := row.Scan(&filePath, &startLine, &endLine); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.Newf(apperrors.KindNotFound, "chunk %s not found", chunkID)
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks
		 WHERE file_path = ? AND id != ? AND end_line >= ? AND start_line <= ?
		 ORDER BY start_line`,
		filePath, chunkID, startLine-window, endLine+window)
	if err != nil {
		return nil, fmt.Errorf("query neighbors: %w", err)
	}
	defer rows.Close()

	var result []*chunk.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// SaveFileRecords upserts file records for delta rebuilds.
func (s *SQLiteChunkStore) SaveFileRecords(ctx context.Context, records []*FileRecord) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("chunk store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, r := range records {
		indexedAt := r.IndexedAt
		if indexedAt == 0 {
			indexedAt = time.Now().Unix()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO files (path, content_hash, language, chunk_count, indexed_at)
			VALUES (?, ?, ?, ?, ?)`,
			r.Path, r.ContentHash, r.Language, r.ChunkCount, indexedAt); err != nil {
			return fmt.Errorf("save file record %s: %w", r.Path, err)
		}
	}
	return tx.Commit()
}

// FileHashes returns path -> content hash for every indexed file.
func (s *SQLiteChunkStore) FileHashes(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("chunk store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT path, content_hash FROM files`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, err
		}
		hashes[path] = hash
	}
	return hashes, rows.Err()
}

// DeleteFileRecord removes one file record.
func (s *SQLiteChunkStore) DeleteFileRecord(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("chunk store is closed")
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path)
	return err
}

// SaveEmbeddings stores vectors for chunks, replacing existing ones.
func (s *SQLiteChunkStore) SaveEmbeddings(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("chunk store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO embeddings (chunk_id, dimension, vector)
			VALUES (?, ?, ?)`,
			id, len(vectors[i]), encodeVector(vectors[i])); err != nil {
			return fmt.Errorf("save embedding for %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// AllEmbeddings returns every stored vector, for rebuilding the HNSW
// index without re-embedding.
func (s *SQLiteChunkStore) AllEmbeddings(ctx context.Context) (map[string][]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("chunk store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT chunk_id, dimension, vector FROM embeddings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]float32)
	for rows.Next() {
		var id string
		var dimension int
		var blob []byte
		if err := rows.Scan(&id, &dimension, &blob); err != nil {
			return nil, err
		}
		vec, err := decodeVector(blob, dimension)
		if err != nil {
			return nil, fmt.Errorf("decode embedding for %s: %w", id, err)
		}
		result[id] = vec
	}
	return result, rows.Err()
}

// Stats summarizes the store.
func (s *SQLiteChunkStore) Stats(ctx context.Context) (*StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("chunk store is closed")
	}

	var stats StoreStats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&stats.FileCount); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&stats.ChunkCount); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&stats.EmbeddingCount); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Close releases the database handle.
func (s *SQLiteChunkStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func encodeVector(vec []float32) []byte {
	data := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return data
}

func decodeVector(data []byte, dimension int) ([]float32, error) {
	if len(data) != dimension*4 {
		return nil, fmt.Errorf("blob size %d does not match dimension %d", len(data), dimension)
	}
	vec := make([]float32, dimension)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}

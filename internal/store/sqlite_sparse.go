package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// SQLiteSparseIndex implements SparseIndex over SQLite FTS5. WAL mode
// allows a query process to read while an index build writes.
type SQLiteSparseIndex struct {
	mu        sync.RWMutex
	db        *sql.DB
	path      string
	config    SparseConfig
	stopWords map[string]struct{}
	closed    bool
}

var _ SparseIndex = (*SQLiteSparseIndex)(nil)

// NewSQLiteSparseIndex opens or creates an FTS5 index at path. An
// empty path creates an in-memory index for tests.
func NewSQLiteSparseIndex(path string, cfg SparseConfig) (*SQLiteSparseIndex, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite index: %w", err)
	}

	// Single writer avoids lock contention with modernc.org/sqlite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	idx := &SQLiteSparseIndex{
		db:        db,
		path:      path,
		config:    cfg,
		stopWords: BuildStopWordMap(cfg.StopWords),
	}
	if err := idx.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize fts5 schema: %w", err)
	}
	return idx, nil
}

func (s *SQLiteSparseIndex) initSchema() error {
	schema := `
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_content USING fts5(
		doc_id UNINDEXED,
		content,
		tokenize = 'unicode61'
	);
	CREATE TABLE IF NOT EXISTS doc_ids (
		doc_id TEXT PRIMARY KEY
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// tokenizeForIndex applies the configured tokenizer so FTS5 sees the
// same terms for both documents and queries.
func (s *SQLiteSparseIndex) tokenizeForIndex(text string) string {
	var tokens []string
	if s.config.Tokenizer == TokenizerStemmed {
		// unicode61 plus lowercase folding; FTS5 porter stemming is
		// handled at tokenize config level, so fold case here only.
		tokens = strings.Fields(strings.ToLower(text))
	} else {
		tokens = FilterStopWords(TokenizeCode(text), s.stopWords)
	}
	return strings.Join(tokens, " ")
}

// Index upserts documents in one transaction.
func (s *SQLiteSparseIndex) Index(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("sparse index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, doc := range docs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM fts_content WHERE doc_id = ?`, doc.ID); err != nil {
			return fmt.Errorf("delete previous document %s: %w", doc.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO fts_content (doc_id, content) VALUES (?, ?)`,
			doc.ID, s.tokenizeForIndex(doc.Content)); err != nil {
			return fmt.Errorf("index document %s: %w", doc.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO doc_ids (doc_id) VALUES (?)`, doc.ID); err != nil {
			return fmt.Errorf("record document id %s: %w", doc.ID, err)
		}
	}
	return tx.Commit()
}

// Search runs an FTS5 MATCH query. FTS5's bm25() is negative-better,
// so scores are negated to match the bleve backend's convention.
func (s *SQLiteSparseIndex) Search(ctx context.Context, queryStr string, limit int) ([]*SparseResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("sparse index is closed")
	}
	if strings.TrimSpace(queryStr) == "" {
		return []*SparseResult{}, nil
	}

	processed := s.tokenizeForIndex(queryStr)
	if processed == "" {
		return []*SparseResult{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, bm25(fts_content) AS score
		FROM fts_content
		WHERE content MATCH ?
		ORDER BY score
		LIMIT ?`, processed, limit)
	if err != nil {
		// FTS5 rejects some query syntax; treat as no results.
		if strings.Contains(err.Error(), "fts5") || strings.Contains(err.Error(), "syntax error") {
			return []*SparseResult{}, nil
		}
		return nil, fmt.Errorf("sparse search: %w", err)
	}
	defer rows.Close()

	terms := strings.Fields(processed)
	var results []*SparseResult
	for rows.Next() {
		var docID string
		var score float64
		if err := rows.Scan(&docID, &score); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, &SparseResult{
			ChunkID:      docID,
			Score:        -score,
			MatchedTerms: terms,
		})
	}
	return results, rows.Err()
}

// Delete removes documents by ID.
func (s *SQLiteSparseIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("sparse index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM fts_content WHERE doc_id = ?`, id); err != nil {
			return fmt.Errorf("delete document %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM doc_ids WHERE doc_id = ?`, id); err != nil {
			return fmt.Errorf("delete document id %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// AllIDs lists every document ID.
func (s *SQLiteSparseIndex) AllIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("sparse index is closed")
	}

	rows, err := s.db.Query(`SELECT doc_id FROM doc_ids ORDER BY doc_id`)
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

// Stats reports the document count.
func (s *SQLiteSparseIndex) Stats() (*SparseStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("sparse index is closed")
	}
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM doc_ids`).Scan(&count); err != nil {
		return nil, err
	}
	return &SparseStats{DocumentCount: count}, nil
}

// Close releases the database handle.
func (s *SQLiteSparseIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	apperrors "github.com/tribridrag/tribridrag/internal/errors"
	"github.com/tribridrag/tribridrag/internal/store"
)

// SQLiteGraphStore implements GraphStore on a SQLite database. This is
// the default backend; it needs no external service.
type SQLiteGraphStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

var _ GraphStore = (*SQLiteGraphStore)(nil)

// NewSQLiteGraphStore opens or creates the graph database at path.
// An empty path creates an in-memory store for tests.
func NewSQLiteGraphStore(path string) (*SQLiteGraphStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create graph directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open graph store: %w", err)
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

	s := &SQLiteGraphStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize graph schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteGraphStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entities (
		id             TEXT PRIMARY KEY,
		corpus_id      TEXT NOT NULL,
		name           TEXT NOT NULL,
		qualified_name TEXT NOT NULL,
		kind           TEXT NOT NULL,
		file_path      TEXT NOT NULL DEFAULT '',
		description    TEXT NOT NULL DEFAULT '',
		properties     TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(corpus_id, name);
	CREATE INDEX IF NOT EXISTS idx_entities_file ON entities(corpus_id, file_path);

	CREATE TABLE IF NOT EXISTS relationships (
		source_id  TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
		target_id  TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
		kind       TEXT NOT NULL,
		weight     REAL NOT NULL DEFAULT 1.0,
		properties TEXT NOT NULL DEFAULT '{}',
		PRIMARY KEY (source_id, target_id, kind)
	);
	CREATE INDEX IF NOT EXISTS idx_rel_target ON relationships(target_id);

	CREATE TABLE IF NOT EXISTS communities (
		id         TEXT PRIMARY KEY,
		corpus_id  TEXT NOT NULL,
		level      INTEGER NOT NULL DEFAULT 0,
		member_ids TEXT NOT NULL DEFAULT '[]',
		summary    TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_communities_corpus ON communities(corpus_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteGraphStore) UpsertEntities(ctx context.Context, entities []Entity) error {
	if len(entities) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return apperrors.New(apperrors.KindInternal, "graph store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin entity upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entities (id, corpus_id, name, qualified_name, kind, file_path, description, properties)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			qualified_name = excluded.qualified_name,
			kind = excluded.kind,
			file_path = excluded.file_path,
			description = CASE WHEN excluded.description != '' THEN excluded.description ELSE entities.description END,
			properties = excluded.properties`)
	if err != nil {
		return fmt.Errorf("prepare entity upsert: %w", err)
	}
	defer stmt.Close()

	for i := range entities {
		e := &entities[i]
		props, err := encodeProperties(e.Properties)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.CorpusID, e.Name, e.QualifiedName,
			string(e.Kind), e.FilePath, e.Description, props); err != nil {
			return fmt.Errorf("upsert entity %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteGraphStore) UpsertRelationships(ctx context.Context, rels []Relationship) (int, error) {
	if len(rels) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, apperrors.New(apperrors.KindInternal, "graph store is closed")
	}

	known, err := s.existingIDs(ctx, rels)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin relationship upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO relationships (source_id, target_id, kind, weight, properties)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id, kind) DO UPDATE SET
			weight = excluded.weight,
			properties = excluded.properties`)
	if err != nil {
		return 0, fmt.Errorf("prepare relationship upsert: %w", err)
	}
	defer stmt.Close()

	dropped := 0
	for i := range rels {
		r := &rels[i]
		if _, ok := known[r.SourceID]; !ok {
			dropped++
			continue
		}
		if _, ok := known[r.TargetID]; !ok {
			dropped++
			continue
		}
		weight := r.Weight
		if weight < 0 {
			weight = 0
		}
		props, err := encodeProperties(r.Properties)
		if err != nil {
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx, r.SourceID, r.TargetID, string(r.Kind), weight, props); err != nil {
			return 0, fmt.Errorf("upsert relationship %s->%s: %w", r.SourceID, r.TargetID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return dropped, nil
}

// existingIDs returns which endpoint IDs of the batch are present.
func (s *SQLiteGraphStore) existingIDs(ctx context.Context, rels []Relationship) (map[string]struct{}, error) {
	unique := make(map[string]struct{}, len(rels)*2)
	for i := range rels {
		unique[rels[i].SourceID] = struct{}{}
		unique[rels[i].TargetID] = struct{}{}
	}
	ids := make([]string, 0, len(unique))
	for id := range unique {
		ids = append(ids, id)
	}

	known := make(map[string]struct{}, len(ids))
	// Stay under SQLite's parameter limit.
	const batch = 512
	for start := 0; start < len(ids); start += batch {
		end := start + batch
		if end > len(ids) {
			end = len(ids)
		}
		part := ids[start:end]
		placeholders := strings.Repeat("?,", len(part)-1) + "?"
		args := make([]any, len(part))
		for i, id := range part {
			args[i] = id
		}
		rows, err := s.db.QueryContext(ctx,
			"SELECT id FROM entities WHERE id IN ("+placeholders+")", args...)
		if err != nil {
			return nil, fmt.Errorf("check relationship endpoints: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			known[id] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return known, nil
}

func (s *SQLiteGraphStore) DeleteEntitiesByFile(ctx context.Context, corpusID, filePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return apperrors.New(apperrors.KindInternal, "graph store is closed")
	}
	// Edges cascade via the foreign keys.
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM entities WHERE corpus_id = ? AND file_path = ?", corpusID, filePath)
	if err != nil {
		return fmt.Errorf("delete entities for %s: %w", filePath, err)
	}
	return nil
}

const entityColumns = "id, corpus_id, name, qualified_name, kind, file_path, description, properties"

func scanEntity(scanner interface{ Scan(...any) error }) (Entity, error) {
	var e Entity
	var kind, props string
	if err := scanner.Scan(&e.ID, &e.CorpusID, &e.Name, &e.QualifiedName,
		&kind, &e.FilePath, &e.Description, &props); err != nil {
		return Entity{}, err
	}
	e.Kind = EntityKind(kind)
	if props != "" && props != "{}" {
		if err := json.Unmarshal([]byte(props), &e.Properties); err != nil {
			return Entity{}, fmt.Errorf("decode entity properties: %w", err)
		}
	}
	return e, nil
}

func (s *SQLiteGraphStore) GetEntities(ctx context.Context, ids []string) ([]Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, apperrors.New(apperrors.KindInternal, "graph store is closed")
	}

	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("get entities: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]Entity, len(ids))
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		byID[e.ID] = e
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Preserve input order, skipping missing IDs.
	out := make([]Entity, 0, len(byID))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *SQLiteGraphStore) FindEntitiesByName(ctx context.Context, corpusID, name string, limit int) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, apperrors.New(apperrors.KindInternal, "graph store is closed")
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE corpus_id = ? AND name = ? COLLATE NOCASE LIMIT ?",
		corpusID, name, limit)
	if err != nil {
		return nil, fmt.Errorf("find entities by name: %w", err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) > 0 {
		return out, nil
	}

	// Fall back to identifier-token matching so a query term like
	// "login" finds "LoginHandler".
	tokens := store.SplitCodeToken(name)
	if len(tokens) == 0 {
		return nil, nil
	}
	pattern := "%" + strings.ToLower(tokens[0]) + "%"
	rows, err = s.db.QueryContext(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE corpus_id = ? AND lower(name) LIKE ? LIMIT ?",
		corpusID, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("find entities by token: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteGraphStore) AllEntities(ctx context.Context, corpusID string) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, apperrors.New(apperrors.KindInternal, "graph store is closed")
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE corpus_id = ? ORDER BY id", corpusID)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteGraphStore) AllRelationships(ctx context.Context, corpusID string) ([]Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, apperrors.New(apperrors.KindInternal, "graph store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.source_id, r.target_id, r.kind, r.weight, r.properties
		FROM relationships r
		JOIN entities e ON e.id = r.source_id
		WHERE e.corpus_id = ?
		ORDER BY r.source_id, r.target_id, r.kind`, corpusID)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	defer rows.Close()

	var out []Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRelationship(scanner interface{ Scan(...any) error }) (Relationship, error) {
	var r Relationship
	var kind, props string
	if err := scanner.Scan(&r.SourceID, &r.TargetID, &kind, &r.Weight, &props); err != nil {
		return Relationship{}, err
	}
	r.Kind = RelationshipKind(kind)
	if props != "" && props != "{}" {
		if err := json.Unmarshal([]byte(props), &r.Properties); err != nil {
			return Relationship{}, fmt.Errorf("decode relationship properties: %w", err)
		}
	}
	return r, nil
}

func (s *SQLiteGraphStore) Walk(ctx context.Context, corpusID string, seeds []Seed, maxHops int) ([]WalkHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, apperrors.New(apperrors.KindInternal, "graph store is closed")
	}

	best, err := boundedWalk(ctx, seeds, maxHops, s.neighborEdges)
	if err != nil {
		return nil, err
	}
	return s.resolveHits(ctx, best)
}

func (s *SQLiteGraphStore) neighborEdges(ctx context.Context, ids []string) ([]Relationship, error) {
	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, 0, len(ids)*2)
	for _, id := range ids {
		args = append(args, id)
	}
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT source_id, target_id, kind, weight, properties FROM relationships "+
			"WHERE source_id IN ("+placeholders+") OR target_id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("load neighbor edges: %w", err)
	}
	defer rows.Close()

	var out []Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// resolveHits attaches entity records to walk results and sorts them.
func (s *SQLiteGraphStore) resolveHits(ctx context.Context, best map[string]WalkHit) ([]WalkHit, error) {
	if len(best) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(best))
	for id := range best {
		ids = append(ids, id)
	}
	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("resolve walk entities: %w", err)
	}
	defer rows.Close()

	hits := make([]WalkHit, 0, len(best))
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		hit := best[e.ID]
		hit.Entity = e
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortHits(hits)
	return hits, nil
}

func (s *SQLiteGraphStore) ReplaceCommunities(ctx context.Context, corpusID string, communities []Community) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return apperrors.New(apperrors.KindInternal, "graph store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin community replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM communities WHERE corpus_id = ?", corpusID); err != nil {
		return fmt.Errorf("clear communities: %w", err)
	}
	for i := range communities {
		c := &communities[i]
		members, err := json.Marshal(c.MemberIDs)
		if err != nil {
			return fmt.Errorf("encode community members: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO communities (id, corpus_id, level, member_ids, summary) VALUES (?, ?, ?, ?, ?)",
			c.ID, corpusID, c.Level, string(members), c.Summary); err != nil {
			return fmt.Errorf("insert community %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteGraphStore) Communities(ctx context.Context, corpusID string) ([]Community, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, apperrors.New(apperrors.KindInternal, "graph store is closed")
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, corpus_id, level, member_ids, summary FROM communities WHERE corpus_id = ? ORDER BY level, id",
		corpusID)
	if err != nil {
		return nil, fmt.Errorf("list communities: %w", err)
	}
	defer rows.Close()

	var out []Community
	for rows.Next() {
		var c Community
		var members string
		if err := rows.Scan(&c.ID, &c.CorpusID, &c.Level, &members, &c.Summary); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(members), &c.MemberIDs); err != nil {
			return nil, fmt.Errorf("decode community members: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteGraphStore) Stats(ctx context.Context, corpusID string) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, apperrors.New(apperrors.KindInternal, "graph store is closed")
	}

	stats := &Stats{}
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entities WHERE corpus_id = ?", corpusID).Scan(&stats.EntityCount); err != nil {
		return nil, fmt.Errorf("count entities: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM relationships r
		JOIN entities e ON e.id = r.source_id
		WHERE e.corpus_id = ?`, corpusID).Scan(&stats.RelationshipCount); err != nil {
		return nil, fmt.Errorf("count relationships: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM communities WHERE corpus_id = ?", corpusID).Scan(&stats.CommunityCount); err != nil {
		return nil, fmt.Errorf("count communities: %w", err)
	}
	return stats, nil
}

func (s *SQLiteGraphStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func encodeProperties(props map[string]string) (string, error) {
	if len(props) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("encode properties: %w", err)
	}
	return string(b), nil
}

package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	apperrors "github.com/tribridrag/tribridrag/internal/errors"
)

// Neo4jOptions configures the neo4j backend.
type Neo4jOptions struct {
	URI      string
	Username string
	Password string
	Database string // empty uses the server default
	Timeout  time.Duration
}

// Neo4jGraphStore implements GraphStore against a neo4j server. Edges
// use a single relationship type with a kind property so the
// (source, target, kind) uniqueness matches the SQLite backend.
type Neo4jGraphStore struct {
	driver   neo4j.DriverWithContext
	database string
}

var _ GraphStore = (*Neo4jGraphStore)(nil)

// NewNeo4jGraphStore connects, verifies connectivity, and ensures the
// uniqueness constraints exist.
func NewNeo4jGraphStore(ctx context.Context, opts Neo4jOptions) (*Neo4jGraphStore, error) {
	if opts.URI == "" {
		return nil, apperrors.New(apperrors.KindConfig, "neo4j graph store requires a URI")
	}
	if opts.Username == "" {
		opts.Username = "neo4j"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	driver, err := neo4j.NewDriverWithContext(opts.URI,
		neo4j.BasicAuth(opts.Username, opts.Password, ""),
		func(cfg *neo4j.Config) {
			cfg.SocketConnectTimeout = opts.Timeout
		})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindConfig, "initialize neo4j driver", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, apperrors.Wrap(apperrors.KindUpstreamFailure, "verify neo4j connectivity", err)
	}

	s := &Neo4jGraphStore{driver: driver, database: opts.Database}
	if err := s.initSchema(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Neo4jGraphStore) initSchema(ctx context.Context) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	stmts := []string{
		`CREATE CONSTRAINT entity_id_unique IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE`,
		`CREATE CONSTRAINT community_id_unique IF NOT EXISTS FOR (c:Community) REQUIRE c.id IS UNIQUE`,
	}
	for _, q := range stmts {
		res, err := session.Run(ctx, q, nil)
		if err != nil {
			return apperrors.Wrap(apperrors.KindUpstreamFailure, "neo4j schema init failed", err)
		}
		if _, err := res.Consume(ctx); err != nil {
			return apperrors.Wrap(apperrors.KindUpstreamFailure, "neo4j schema init failed", err)
		}
	}
	return nil
}

func (s *Neo4jGraphStore) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: s.database,
	})
}

func (s *Neo4jGraphStore) UpsertEntities(ctx context.Context, entities []Entity) error {
	if len(entities) == 0 {
		return nil
	}
	rows := make([]map[string]any, 0, len(entities))
	for i := range entities {
		e := &entities[i]
		props, err := encodeProperties(e.Properties)
		if err != nil {
			return err
		}
		rows = append(rows, map[string]any{
			"id":              e.ID,
			"corpus_id":       e.CorpusID,
			"name":            e.Name,
			"qualified_name":  e.QualifiedName,
			"kind":            string(e.Kind),
			"file_path":       e.FilePath,
			"description":     e.Description,
			"properties_json": props,
		})
	}

	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
UNWIND $rows AS row
MERGE (e:Entity {id: row.id})
SET e.corpus_id = row.corpus_id,
    e.name = row.name,
    e.qualified_name = row.qualified_name,
    e.kind = row.kind,
    e.file_path = row.file_path,
    e.description = CASE WHEN row.description <> '' THEN row.description ELSE coalesce(e.description, '') END,
    e.properties_json = row.properties_json
`, map[string]any{"rows": rows})
		if err != nil {
			return nil, err
		}
		return nil, consume(ctx, res)
	})
	if err != nil {
		return apperrors.Wrap(apperrors.KindUpstreamFailure, "neo4j entity upsert failed", err)
	}
	return nil
}

func consume(ctx context.Context, res neo4j.ResultWithContext) error {
	_, err := res.Consume(ctx)
	return err
}

func (s *Neo4jGraphStore) UpsertRelationships(ctx context.Context, rels []Relationship) (int, error) {
	if len(rels) == 0 {
		return 0, nil
	}
	rows := make([]map[string]any, 0, len(rels))
	for i := range rels {
		r := &rels[i]
		weight := r.Weight
		if weight < 0 {
			weight = 0
		}
		props, err := encodeProperties(r.Properties)
		if err != nil {
			return 0, err
		}
		rows = append(rows, map[string]any{
			"source_id":       r.SourceID,
			"target_id":       r.TargetID,
			"kind":            string(r.Kind),
			"weight":          weight,
			"properties_json": props,
		})
	}

	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	merged, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
UNWIND $rows AS row
MATCH (src:Entity {id: row.source_id})
MATCH (dst:Entity {id: row.target_id})
MERGE (src)-[r:REL {kind: row.kind}]->(dst)
SET r.weight = row.weight,
    r.properties_json = row.properties_json
RETURN count(r) AS merged
`, map[string]any{"rows": rows})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		count, _ := record.Get("merged")
		return count, nil
	})
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindUpstreamFailure, "neo4j relationship upsert failed", err)
	}

	mergedCount, _ := merged.(int64)
	dropped := len(rels) - int(mergedCount)
	if dropped < 0 {
		dropped = 0
	}
	return dropped, nil
}

func (s *Neo4jGraphStore) DeleteEntitiesByFile(ctx context.Context, corpusID, filePath string) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx,
			`MATCH (e:Entity {corpus_id: $corpus_id, file_path: $file_path}) DETACH DELETE e`,
			map[string]any{"corpus_id": corpusID, "file_path": filePath})
		if err != nil {
			return nil, err
		}
		return nil, consume(ctx, res)
	})
	if err != nil {
		return apperrors.Wrap(apperrors.KindUpstreamFailure, "neo4j entity delete failed", err)
	}
	return nil
}

func (s *Neo4jGraphStore) GetEntities(ctx context.Context, ids []string) ([]Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.queryEntities(ctx,
		`MATCH (e:Entity) WHERE e.id IN $ids RETURN e`,
		map[string]any{"ids": ids})
}

func (s *Neo4jGraphStore) FindEntitiesByName(ctx context.Context, corpusID, name string, limit int) ([]Entity, error) {
	if limit <= 0 {
		limit = 10
	}
	entities, err := s.queryEntities(ctx, `
MATCH (e:Entity {corpus_id: $corpus_id})
WHERE toLower(e.name) = toLower($name)
RETURN e LIMIT $limit`,
		map[string]any{"corpus_id": corpusID, "name": name, "limit": limit})
	if err != nil || len(entities) > 0 {
		return entities, err
	}
	return s.queryEntities(ctx, `
MATCH (e:Entity {corpus_id: $corpus_id})
WHERE toLower(e.name) CONTAINS toLower($name)
RETURN e LIMIT $limit`,
		map[string]any{"corpus_id": corpusID, "name": name, "limit": limit})
}

func (s *Neo4jGraphStore) AllEntities(ctx context.Context, corpusID string) ([]Entity, error) {
	return s.queryEntities(ctx,
		`MATCH (e:Entity {corpus_id: $corpus_id}) RETURN e ORDER BY e.id`,
		map[string]any{"corpus_id": corpusID})
}

func (s *Neo4jGraphStore) queryEntities(ctx context.Context, query string, params map[string]any) ([]Entity, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]Entity, 0, len(records))
		for _, record := range records {
			value, ok := record.Get("e")
			if !ok {
				continue
			}
			node, ok := value.(neo4j.Node)
			if !ok {
				continue
			}
			e, err := entityFromNode(node)
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, nil
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindUpstreamFailure, "neo4j entity query failed", err)
	}
	return result.([]Entity), nil
}

func entityFromNode(node neo4j.Node) (Entity, error) {
	e := Entity{
		ID:            stringProp(node.Props, "id"),
		CorpusID:      stringProp(node.Props, "corpus_id"),
		Name:          stringProp(node.Props, "name"),
		QualifiedName: stringProp(node.Props, "qualified_name"),
		Kind:          EntityKind(stringProp(node.Props, "kind")),
		FilePath:      stringProp(node.Props, "file_path"),
		Description:   stringProp(node.Props, "description"),
	}
	if props := stringProp(node.Props, "properties_json"); props != "" && props != "{}" {
		if err := json.Unmarshal([]byte(props), &e.Properties); err != nil {
			return Entity{}, fmt.Errorf("decode entity properties: %w", err)
		}
	}
	return e, nil
}

func stringProp(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

func (s *Neo4jGraphStore) AllRelationships(ctx context.Context, corpusID string) ([]Relationship, error) {
	return s.queryRelationships(ctx, `
MATCH (src:Entity {corpus_id: $corpus_id})-[r:REL]->(dst:Entity)
RETURN src.id AS source_id, dst.id AS target_id, r.kind AS kind, r.weight AS weight, r.properties_json AS props
ORDER BY source_id, target_id, kind`,
		map[string]any{"corpus_id": corpusID})
}

func (s *Neo4jGraphStore) queryRelationships(ctx context.Context, query string, params map[string]any) ([]Relationship, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]Relationship, 0, len(records))
		for _, record := range records {
			r := Relationship{
				SourceID: recordString(record, "source_id"),
				TargetID: recordString(record, "target_id"),
				Kind:     RelationshipKind(recordString(record, "kind")),
			}
			if v, ok := record.Get("weight"); ok {
				if w, ok := v.(float64); ok {
					r.Weight = w
				}
			}
			if props := recordString(record, "props"); props != "" && props != "{}" {
				if err := json.Unmarshal([]byte(props), &r.Properties); err != nil {
					return nil, fmt.Errorf("decode relationship properties: %w", err)
				}
			}
			out = append(out, r)
		}
		return out, nil
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindUpstreamFailure, "neo4j relationship query failed", err)
	}
	return result.([]Relationship), nil
}

func recordString(record *neo4j.Record, key string) string {
	if v, ok := record.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (s *Neo4jGraphStore) Walk(ctx context.Context, corpusID string, seeds []Seed, maxHops int) ([]WalkHit, error) {
	best, err := boundedWalk(ctx, seeds, maxHops, func(ctx context.Context, ids []string) ([]Relationship, error) {
		return s.queryRelationships(ctx, `
MATCH (src:Entity)-[r:REL]->(dst:Entity)
WHERE src.id IN $ids OR dst.id IN $ids
RETURN src.id AS source_id, dst.id AS target_id, r.kind AS kind, r.weight AS weight, r.properties_json AS props`,
			map[string]any{"ids": ids})
	})
	if err != nil {
		return nil, err
	}
	if len(best) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(best))
	for id := range best {
		ids = append(ids, id)
	}
	entities, err := s.GetEntities(ctx, ids)
	if err != nil {
		return nil, err
	}

	hits := make([]WalkHit, 0, len(entities))
	for _, e := range entities {
		hit := best[e.ID]
		hit.Entity = e
		hits = append(hits, hit)
	}
	sortHits(hits)
	return hits, nil
}

func (s *Neo4jGraphStore) ReplaceCommunities(ctx context.Context, corpusID string, communities []Community) error {
	rows := make([]map[string]any, 0, len(communities))
	for i := range communities {
		c := &communities[i]
		rows = append(rows, map[string]any{
			"id":         c.ID,
			"corpus_id":  corpusID,
			"level":      c.Level,
			"member_ids": c.MemberIDs,
			"summary":    c.Summary,
		})
	}

	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx,
			`MATCH (c:Community {corpus_id: $corpus_id}) DELETE c`,
			map[string]any{"corpus_id": corpusID})
		if err != nil {
			return nil, err
		}
		if err := consume(ctx, res); err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, nil
		}
		res, err = tx.Run(ctx, `
UNWIND $rows AS row
CREATE (c:Community {id: row.id, corpus_id: row.corpus_id, level: row.level, member_ids: row.member_ids, summary: row.summary})
`, map[string]any{"rows": rows})
		if err != nil {
			return nil, err
		}
		return nil, consume(ctx, res)
	})
	if err != nil {
		return apperrors.Wrap(apperrors.KindUpstreamFailure, "neo4j community replace failed", err)
	}
	return nil
}

func (s *Neo4jGraphStore) Communities(ctx context.Context, corpusID string) ([]Community, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (c:Community {corpus_id: $corpus_id})
RETURN c.id AS id, c.level AS level, c.member_ids AS member_ids, c.summary AS summary
ORDER BY level, id`,
			map[string]any{"corpus_id": corpusID})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]Community, 0, len(records))
		for _, record := range records {
			c := Community{
				ID:       recordString(record, "id"),
				CorpusID: corpusID,
				Summary:  recordString(record, "summary"),
			}
			if v, ok := record.Get("level"); ok {
				if level, ok := v.(int64); ok {
					c.Level = int(level)
				}
			}
			if v, ok := record.Get("member_ids"); ok {
				if members, ok := v.([]any); ok {
					for _, m := range members {
						if id, ok := m.(string); ok {
							c.MemberIDs = append(c.MemberIDs, id)
						}
					}
				}
			}
			out = append(out, c)
		}
		return out, nil
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindUpstreamFailure, "neo4j community query failed", err)
	}
	return result.([]Community), nil
}

func (s *Neo4jGraphStore) Stats(ctx context.Context, corpusID string) (*Stats, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (e:Entity {corpus_id: $corpus_id})
OPTIONAL MATCH (e)-[r:REL]->(:Entity)
WITH count(DISTINCT e) AS entities, count(r) AS relationships
OPTIONAL MATCH (c:Community {corpus_id: $corpus_id})
RETURN entities, relationships, count(c) AS communities`,
			map[string]any{"corpus_id": corpusID})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		stats := &Stats{}
		if v, ok := record.Get("entities"); ok {
			if n, ok := v.(int64); ok {
				stats.EntityCount = int(n)
			}
		}
		if v, ok := record.Get("relationships"); ok {
			if n, ok := v.(int64); ok {
				stats.RelationshipCount = int(n)
			}
		}
		if v, ok := record.Get("communities"); ok {
			if n, ok := v.(int64); ok {
				stats.CommunityCount = int(n)
			}
		}
		return stats, nil
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindUpstreamFailure, "neo4j stats query failed", err)
	}
	return result.(*Stats), nil
}

func (s *Neo4jGraphStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.driver.Close(ctx)
}

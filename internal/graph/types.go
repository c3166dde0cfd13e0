// Package graph holds the code-entity graph: entities extracted from
// chunks, typed relationships between them, and detected communities.
// Two store backends implement GraphStore — SQLite (default) and neo4j.
package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// EntityKind classifies a graph entity.
type EntityKind string

const (
	EntityFunction EntityKind = "function"
	EntityClass    EntityKind = "class"
	EntityModule   EntityKind = "module"
	EntityVariable EntityKind = "variable"
	// EntityConcept is a free-form entity produced by semantic extraction.
	EntityConcept EntityKind = "concept"
)

// ValidEntityKind reports whether k is a member of the closed kind set.
func ValidEntityKind(k EntityKind) bool {
	switch k {
	case EntityFunction, EntityClass, EntityModule, EntityVariable, EntityConcept:
		return true
	}
	return false
}

// RelationshipKind classifies a typed edge.
type RelationshipKind string

const (
	RelCalls      RelationshipKind = "calls"
	RelImports    RelationshipKind = "imports"
	RelInherits   RelationshipKind = "inherits"
	RelContains   RelationshipKind = "contains"
	RelReferences RelationshipKind = "references"
	RelRelatedTo  RelationshipKind = "related_to"
)

// ValidRelationshipKind reports whether k is a member of the closed kind set.
func ValidRelationshipKind(k RelationshipKind) bool {
	switch k {
	case RelCalls, RelImports, RelInherits, RelContains, RelReferences, RelRelatedTo:
		return true
	}
	return false
}

// Entity is a named code element (or free-form concept) extracted from
// chunks. Its ID is a stable hash of corpus, qualified name, and kind,
// so repeated builds upsert rather than duplicate.
type Entity struct {
	ID            string            `json:"id"`
	CorpusID      string            `json:"corpus_id"`
	Name          string            `json:"name"`
	QualifiedName string            `json:"qualified_name"`
	Kind          EntityKind        `json:"kind"`
	FilePath      string            `json:"file_path,omitempty"`
	Description   string            `json:"description,omitempty"`
	Properties    map[string]string `json:"properties,omitempty"`
}

// EntityID derives the stable entity identifier.
func EntityID(corpusID, qualifiedName string, kind EntityKind) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s", corpusID, qualifiedName, kind)
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// Relationship is a typed edge. (SourceID, TargetID, Kind) is unique;
// upserting an existing edge replaces its weight and properties.
type Relationship struct {
	SourceID   string            `json:"source_id"`
	TargetID   string            `json:"target_id"`
	Kind       RelationshipKind  `json:"kind"`
	Weight     float64           `json:"weight"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Community is a detected cluster of entities. Recomputed as part of a
// build; never edited externally.
type Community struct {
	ID        string   `json:"id"`
	CorpusID  string   `json:"corpus_id"`
	Level     int      `json:"level"`
	MemberIDs []string `json:"member_ids"`
	Summary   string   `json:"summary"`
}

// Stats summarizes a corpus graph.
type Stats struct {
	EntityCount       int
	RelationshipCount int
	CommunityCount    int
}

// Seed is a walk starting point with its initial match score.
type Seed struct {
	EntityID string
	Weight   float64
}

// WalkHit is an entity reached by a bounded walk, scored by the best
// path reaching it.
type WalkHit struct {
	Entity     Entity
	PathWeight float64
	Hops       int
}

// GraphStore is the persistence contract for the entity graph. Entities
// must be upserted before the relationships that reference them; edges
// whose endpoints are absent are silently dropped.
type GraphStore interface {
	// UpsertEntities inserts or replaces entities by ID.
	UpsertEntities(ctx context.Context, entities []Entity) error

	// UpsertRelationships inserts or replaces edges, dropping any whose
	// source or target entity does not exist. Returns the dropped count.
	UpsertRelationships(ctx context.Context, rels []Relationship) (int, error)

	// DeleteEntitiesByFile removes entities anchored to a file, along
	// with their edges. Used by incremental rebuilds.
	DeleteEntitiesByFile(ctx context.Context, corpusID, filePath string) error

	// GetEntities returns entities by ID. Missing IDs are skipped.
	GetEntities(ctx context.Context, ids []string) ([]Entity, error)

	// FindEntitiesByName returns up to limit entities whose name matches
	// (case-insensitive exact or name-token match).
	FindEntitiesByName(ctx context.Context, corpusID, name string, limit int) ([]Entity, error)

	// AllEntities returns every entity in the corpus.
	AllEntities(ctx context.Context, corpusID string) ([]Entity, error)

	// AllRelationships returns every edge in the corpus.
	AllRelationships(ctx context.Context, corpusID string) ([]Relationship, error)

	// Walk performs a bounded breadth-first expansion from the seeds,
	// following edges in both directions up to maxHops.
	Walk(ctx context.Context, corpusID string, seeds []Seed, maxHops int) ([]WalkHit, error)

	// ReplaceCommunities atomically swaps the corpus community set.
	ReplaceCommunities(ctx context.Context, corpusID string, communities []Community) error

	// Communities returns the current community set for the corpus.
	Communities(ctx context.Context, corpusID string) ([]Community, error)

	// Stats reports entity, relationship, and community counts.
	Stats(ctx context.Context, corpusID string) (*Stats, error)

	Close() error
}

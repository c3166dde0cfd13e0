package graph

import (
	"context"
	"path/filepath"

	"github.com/tribridrag/tribridrag/internal/config"
	apperrors "github.com/tribridrag/tribridrag/internal/errors"
)

// GraphStorePath returns the SQLite graph database path under a corpus
// data directory.
func GraphStorePath(basePath string) string {
	return filepath.Join(basePath, "graph.db")
}

// NewStore selects the graph store backend. basePath is the corpus
// data directory, used only by the SQLite backend.
func NewStore(ctx context.Context, cfg config.GraphStoreConfig, basePath string) (GraphStore, error) {
	switch cfg.Backend {
	case "sqlite", "":
		return NewSQLiteGraphStore(GraphStorePath(basePath))
	case "neo4j":
		return NewNeo4jGraphStore(ctx, Neo4jOptions{
			URI:      cfg.URI,
			Username: cfg.Username,
			Password: cfg.Password(),
		})
	default:
		return nil, apperrors.Newf(apperrors.KindConfig, "unknown graph store backend %q", cfg.Backend)
	}
}

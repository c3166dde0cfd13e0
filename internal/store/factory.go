package store

import (
	"path/filepath"

	apperrors "github.com/tribridrag/tribridrag/internal/errors"
)

var _ SparseIndex = (*BleveSparseIndex)(nil)

// NewSparseIndex builds the configured sparse backend. basePath is
// the corpus index directory; each backend picks its own layout
// underneath it. An empty basePath builds in memory.
func NewSparseIndex(basePath, backend string, cfg SparseConfig) (SparseIndex, error) {
	switch backend {
	case SparseBackendBleve:
		path := ""
		if basePath != "" {
			path = filepath.Join(basePath, "sparse.bleve")
		}
		return NewBleveSparseIndex(path, cfg)
	case SparseBackendSQLite, "":
		path := ""
		if basePath != "" {
			path = filepath.Join(basePath, "sparse.db")
		}
		return NewSQLiteSparseIndex(path, cfg)
	default:
		return nil, apperrors.Newf(apperrors.KindConfig, "unknown sparse backend %q", backend)
	}
}

// SparseIndexPath returns where a backend stores its index under
// basePath, for size reporting.
func SparseIndexPath(basePath, backend string) string {
	if backend == SparseBackendBleve {
		return filepath.Join(basePath, "sparse.bleve")
	}
	return filepath.Join(basePath, "sparse.db")
}

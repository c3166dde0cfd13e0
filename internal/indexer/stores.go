package indexer

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/tribridrag/tribridrag/internal/config"
	"github.com/tribridrag/tribridrag/internal/graph"
	"github.com/tribridrag/tribridrag/internal/store"
)

// stagingDirName is the per-corpus directory builds write into before
// committing. It sits inside the corpus directory so the commit renames
// stay on one filesystem.
const stagingDirName = ".staging"

// buildLockName is the flock file guarding per-corpus build exclusivity.
const buildLockName = ".build.lock"

// Stores bundles every per-corpus backing store a build (or a query)
// touches.
type Stores struct {
	Chunks store.ChunkStore
	Sparse store.SparseIndex
	Vector *store.HNSWIndex
	Graph  graph.GraphStore

	vectorPath string
}

// ChunkStorePath returns the chunk database location for a corpus.
func ChunkStorePath(corpusDir string) string {
	return filepath.Join(corpusDir, "chunks.db")
}

// VectorIndexPath returns the HNSW index location for a corpus.
func VectorIndexPath(corpusDir string) string {
	return filepath.Join(corpusDir, "vectors.hnsw")
}

// OpenStores opens (or creates) the full store set for one corpus.
// dimensions is the embedder output dimension the vector index is
// sized for; an existing on-disk index with another dimension fails
// the load with ErrDimensionMismatch.
func OpenStores(ctx context.Context, cfg *config.Config, corpusID string, dimensions int) (*Stores, error) {
	return openStoresDir(ctx, cfg, cfg.CorpusDir(corpusID), dimensions)
}

// openStoresDir opens the store set rooted at an explicit directory,
// which builds point at the staging copy instead of the live corpus.
func openStoresDir(ctx context.Context, cfg *config.Config, corpusDir string, dimensions int) (*Stores, error) {
	if err := os.MkdirAll(corpusDir, 0o755); err != nil {
		return nil, err
	}

	chunks, err := store.NewSQLiteChunkStore(ChunkStorePath(corpusDir))
	if err != nil {
		return nil, err
	}

	sparseCfg := store.DefaultSparseConfig()
	if cfg.SparseSearch.K1 > 0 {
		sparseCfg.K1 = cfg.SparseSearch.K1
	}
	if cfg.SparseSearch.B > 0 {
		sparseCfg.B = cfg.SparseSearch.B
	}
	if cfg.SparseSearch.Tokenizer != "" {
		sparseCfg.Tokenizer = cfg.SparseSearch.Tokenizer
	}
	sparse, err := store.NewSparseIndex(corpusDir, cfg.SparseSearch.Backend, sparseCfg)
	if err != nil {
		_ = chunks.Close()
		return nil, err
	}

	vector, err := store.NewHNSWIndex(store.DefaultVectorConfig(dimensions))
	if err != nil {
		_ = chunks.Close()
		_ = sparse.Close()
		return nil, err
	}
	vectorPath := VectorIndexPath(corpusDir)
	if _, statErr := os.Stat(vectorPath); statErr == nil {
		if err := vector.Load(vectorPath); err != nil {
			_ = chunks.Close()
			_ = sparse.Close()
			return nil, err
		}
	}

	graphStore, err := graph.NewStore(ctx, cfg.GraphStore, corpusDir)
	if err != nil {
		_ = chunks.Close()
		_ = sparse.Close()
		_ = vector.Close()
		return nil, err
	}

	return &Stores{
		Chunks:     chunks,
		Sparse:     sparse,
		Vector:     vector,
		Graph:      graphStore,
		vectorPath: vectorPath,
	}, nil
}

// SaveVector persists the in-memory vector index.
func (s *Stores) SaveVector() error {
	return s.Vector.Save(s.vectorPath)
}

// Close releases every store, returning the first error.
func (s *Stores) Close() error {
	var first error
	for _, fn := range []func() error{s.Chunks.Close, s.Sparse.Close, s.Vector.Close, s.Graph.Close} {
		if err := fn(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// stageCorpusStores prepares the staging directory for a build: a copy
// of every live store file for a delta build, or an empty directory
// for a force rebuild. Leftovers from a crashed build are discarded.
func stageCorpusStores(corpusDir string, force bool) (string, error) {
	stagingDir := filepath.Join(corpusDir, stagingDirName)
	if err := os.RemoveAll(stagingDir); err != nil {
		return "", err
	}
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return "", err
	}
	if force {
		return stagingDir, nil
	}

	entries, err := os.ReadDir(corpusDir)
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		name := entry.Name()
		if name == stagingDirName || name == buildLockName {
			continue
		}
		if err := copyTree(filepath.Join(corpusDir, name), filepath.Join(stagingDir, name)); err != nil {
			return "", err
		}
	}
	return stagingDir, nil
}

// commitCorpusStores publishes a finished staging directory: each
// staged entry replaces its live counterpart by rename, and live store
// files with no staged counterpart (a force rebuild, or a sparse
// backend change) are removed. Call only after the staged stores are
// closed.
func commitCorpusStores(corpusDir, stagingDir string) error {
	staged, err := os.ReadDir(stagingDir)
	if err != nil {
		return err
	}
	stagedNames := make(map[string]struct{}, len(staged))
	for _, entry := range staged {
		stagedNames[entry.Name()] = struct{}{}
	}

	live, err := os.ReadDir(corpusDir)
	if err != nil {
		return err
	}
	for _, entry := range live {
		name := entry.Name()
		if name == stagingDirName || name == buildLockName {
			continue
		}
		if _, ok := stagedNames[name]; ok {
			continue
		}
		if err := os.RemoveAll(filepath.Join(corpusDir, name)); err != nil {
			return err
		}
	}

	for _, entry := range staged {
		name := entry.Name()
		dest := filepath.Join(corpusDir, name)
		if err := os.RemoveAll(dest); err != nil {
			return err
		}
		if err := os.Rename(filepath.Join(stagingDir, name), dest); err != nil {
			return err
		}
	}
	return os.RemoveAll(stagingDir)
}

// copyTree copies a file or directory recursively, preserving only
// regular files.
func copyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		if err := os.MkdirAll(dst, 0o755); err != nil {
			return err
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := copyTree(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
				return err
			}
		}
		return nil
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Both backends must satisfy the same behavioral contract.
func sparseBackends(t *testing.T) map[string]SparseIndex {
	t.Helper()
	cfg := DefaultSparseConfig()

	bleveIdx, err := NewBleveSparseIndex("", cfg)
	require.NoError(t, err)
	sqliteIdx, err := NewSQLiteSparseIndex("", cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = bleveIdx.Close()
		_ = sqliteIdx.Close()
	})
	return map[string]SparseIndex{
		"bleve":  bleveIdx,
		"sqlite": sqliteIdx,
	}
}

func seedDocs(t *testing.T, idx SparseIndex) {
	t.Helper()
	require.NoError(t, idx.Index(context.Background(), []*Document{
		{ID: "c1", Content: "func parseConfig(path string) loads the YAML configuration"},
		{ID: "c2", Content: "func searchIndex(query string) runs the hybrid retrieval"},
		{ID: "c3", Content: "type HTTPServer struct holds the listener and router"},
	}))
}

func TestSparseSearchFindsRelevantChunk(t *testing.T) {
	for name, idx := range sparseBackends(t) {
		t.Run(name, func(t *testing.T) {
			seedDocs(t, idx)

			results, err := idx.Search(context.Background(), "parse configuration", 10)
			require.NoError(t, err)
			require.NotEmpty(t, results)
			assert.Equal(t, "c1", results[0].ChunkID)
			assert.Greater(t, results[0].Score, 0.0)
		})
	}
}

func TestSparseSearchSplitsIdentifiers(t *testing.T) {
	for name, idx := range sparseBackends(t) {
		t.Run(name, func(t *testing.T) {
			seedDocs(t, idx)

			// "http server" should reach HTTPServer via camelCase splitting.
			results, err := idx.Search(context.Background(), "http server", 10)
			require.NoError(t, err)
			require.NotEmpty(t, results)
			assert.Equal(t, "c3", results[0].ChunkID)
		})
	}
}

func TestSparseEmptyQueryReturnsNothing(t *testing.T) {
	for name, idx := range sparseBackends(t) {
		t.Run(name, func(t *testing.T) {
			seedDocs(t, idx)
			results, err := idx.Search(context.Background(), "   ", 10)
			require.NoError(t, err)
			assert.Empty(t, results)
		})
	}
}

func TestSparseDelete(t *testing.T) {
	for name, idx := range sparseBackends(t) {
		t.Run(name, func(t *testing.T) {
			seedDocs(t, idx)
			require.NoError(t, idx.Delete(context.Background(), []string{"c1"}))

			results, err := idx.Search(context.Background(), "parse configuration", 10)
			require.NoError(t, err)
			for _, r := range results {
				assert.NotEqual(t, "c1", r.ChunkID)
			}

			stats, err := idx.Stats()
			require.NoError(t, err)
			assert.Equal(t, 2, stats.DocumentCount)
		})
	}
}

func TestSparseUpsertReplaces(t *testing.T) {
	for name, idx := range sparseBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedDocs(t, idx)
			require.NoError(t, idx.Index(ctx, []*Document{
				{ID: "c1", Content: "completely different body about websocket frames"},
			}))

			stats, err := idx.Stats()
			require.NoError(t, err)
			assert.Equal(t, 3, stats.DocumentCount)

			results, err := idx.Search(ctx, "websocket frames", 10)
			require.NoError(t, err)
			require.NotEmpty(t, results)
			assert.Equal(t, "c1", results[0].ChunkID)
		})
	}
}

func TestSparseAllIDs(t *testing.T) {
	for name, idx := range sparseBackends(t) {
		t.Run(name, func(t *testing.T) {
			seedDocs(t, idx)
			ids, err := idx.AllIDs()
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"c1", "c2", "c3"}, ids)
		})
	}
}

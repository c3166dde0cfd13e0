package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tribridrag/tribridrag/internal/chunk"
	apperrors "github.com/tribridrag/tribridrag/internal/errors"
)

func newTestChunkStore(t *testing.T) *SQLiteChunkStore {
	t.Helper()
	s, err := NewSQLiteChunkStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testChunk(id, filePath string, startLine, endLine int) *chunk.Chunk {
	return &chunk.Chunk{
		ID:          id,
		CorpusID:    "corpus-1",
		FilePath:    filePath,
		Language:    "go",
		Content:     "func body()",
		ContentHash: chunk.HashContent("func body()"),
		StartLine:   startLine,
		EndLine:     endLine,
		TokenCount:  3,
	}
}

func TestChunkStoreRoundTrip(t *testing.T) {
	s := newTestChunkStore(t)
	ctx := context.Background()

	want := testChunk("c1", "a.go", 1, 10)
	want.Truncated = true
	want.Symbols = []chunk.Symbol{{Name: "body", Kind: chunk.SymbolFunction, StartLine: 1, EndLine: 10}}
	want.Metadata = map[string]string{"neighbor_of": "c0"}

	require.NoError(t, s.SaveChunks(ctx, []*chunk.Chunk{want}))

	got, err := s.GetChunk(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestChunkStoreGetMissing(t *testing.T) {
	s := newTestChunkStore(t)
	_, err := s.GetChunk(context.Background(), "nope")
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestChunkStoreGetChunksPreservesOrder(t *testing.T) {
	s := newTestChunkStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveChunks(ctx, []*chunk.Chunk{
		testChunk("c1", "a.go", 1, 5),
		testChunk("c2", "a.go", 6, 9),
		testChunk("c3", "b.go", 1, 4),
	}))

	got, err := s.GetChunks(ctx, []string{"c3", "missing", "c1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c3", got[0].ID)
	assert.Equal(t, "c1", got[1].ID)
}

func TestChunkStoreDeleteByFileReturnsIDs(t *testing.T) {
	s := newTestChunkStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveChunks(ctx, []*chunk.Chunk{
		testChunk("c1", "a.go", 1, 5),
		testChunk("c2", "a.go", 6, 9),
		testChunk("c3", "b.go", 1, 4),
	}))

	ids, err := s.DeleteChunksByFile(ctx, "a.go")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c1", "c2"}, ids)

	remaining, err := s.AllChunkIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c3"}, remaining)
}

func TestChunkStoreNeighbors(t *testing.T) {
	s := newTestChunkStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveChunks(ctx, []*chunk.Chunk{
		testChunk("c1", "a.go", 1, 10),
		testChunk("c2", "a.go", 11, 20),
		testChunk("c3", "a.go", 50, 60),
		testChunk("c4", "b.go", 11, 20), // other file, never a neighbor
	}))

	neighbors, err := s.Neighbors(ctx, "c1", 5)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, "c2", neighbors[0].ID)

	// Window too small to reach c3.
	neighbors, err = s.Neighbors(ctx, "c2", 10)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, "c1", neighbors[0].ID)
}

func TestChunkStoreFileRecords(t *testing.T) {
	s := newTestChunkStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveFileRecords(ctx, []*FileRecord{
		{Path: "a.go", ContentHash: "h1", Language: "go", ChunkCount: 2},
		{Path: "b.go", ContentHash: "h2", Language: "go", ChunkCount: 1},
	}))

	hashes, err := s.FileHashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a.go": "h1", "b.go": "h2"}, hashes)

	require.NoError(t, s.DeleteFileRecord(ctx, "a.go"))
	hashes, err = s.FileHashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"b.go": "h2"}, hashes)
}

func TestChunkStoreEmbeddings(t *testing.T) {
	s := newTestChunkStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveChunks(ctx, []*chunk.Chunk{
		testChunk("c1", "a.go", 1, 5),
		testChunk("c2", "a.go", 6, 9),
	}))
	require.NoError(t, s.SaveEmbeddings(ctx,
		[]string{"c1", "c2"},
		[][]float32{{0.5, -1.5}, {2, 3}}))

	all, err := s.AllEmbeddings(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]float32{
		"c1": {0.5, -1.5},
		"c2": {2, 3},
	}, all)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ChunkCount)
	assert.Equal(t, 2, stats.EmbeddingCount)
}

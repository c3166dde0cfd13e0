package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tribridrag/tribridrag/internal/chunk"
	"github.com/tribridrag/tribridrag/internal/graph"
	"github.com/tribridrag/tribridrag/internal/store"
)

func TestQueryTokens(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{
			name:  "identifiers are lowercased and deduplicated",
			query: "Login login LOGIN handler",
			want:  []string{"login", "handler"},
		},
		{
			name:  "short tokens are dropped",
			query: "do it to auth",
			want:  []string{"auth"},
		},
		{
			name:  "fanout is capped",
			query: "alpha bravo charlie delta echo foxtrot golf hotel india juliet",
			want:  []string{"alpha", "bravo", "charlie", "delta", "echo", "foxtrot", "golf", "hotel"},
		},
		{
			name:  "empty query yields nothing",
			query: "   ",
			want:  nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, queryTokens(tt.query))
		})
	}
}

func TestEntityLines(t *testing.T) {
	start, end, ok := entityLines(graph.Entity{Properties: map[string]string{
		"start_line": "4", "end_line": "9",
	}})
	require.True(t, ok)
	assert.Equal(t, 4, start)
	assert.Equal(t, 9, end)

	_, _, ok = entityLines(graph.Entity{})
	assert.False(t, ok)

	_, _, ok = entityLines(graph.Entity{Properties: map[string]string{"start_line": "4"}})
	assert.False(t, ok)
}

func newGraphFixture(t *testing.T) (*GraphRetriever, graph.GraphStore, store.ChunkStore) {
	t.Helper()
	gs, err := graph.NewSQLiteGraphStore("")
	require.NoError(t, err)
	t.Cleanup(func() { gs.Close() })

	chunks, err := store.NewSQLiteChunkStore("")
	require.NoError(t, err)
	t.Cleanup(func() { chunks.Close() })

	r := NewGraphRetriever(gs, chunks, nil, nil, 2, 10, true)
	return r, gs, chunks
}

func TestGraphRetrieveMapsEntitiesToChunks(t *testing.T) {
	ctx := context.Background()
	r, gs, chunks := newGraphFixture(t)

	require.NoError(t, chunks.SaveChunks(ctx, []*chunk.Chunk{
		{ID: "c-login", CorpusID: "demo", FilePath: "auth.go", StartLine: 1, EndLine: 10, Content: "func Login() {}"},
		{ID: "c-validate", CorpusID: "demo", FilePath: "auth.go", StartLine: 11, EndLine: 20, Content: "func Validate() {}"},
	}))

	login := graph.Entity{
		ID:            graph.EntityID("demo", "auth.Login", graph.EntityFunction),
		CorpusID:      "demo",
		Name:          "Login",
		QualifiedName: "auth.Login",
		Kind:          graph.EntityFunction,
		FilePath:      "auth.go",
		Properties:    map[string]string{"start_line": "1", "end_line": "10"},
	}
	validate := graph.Entity{
		ID:            graph.EntityID("demo", "auth.Validate", graph.EntityFunction),
		CorpusID:      "demo",
		Name:          "Validate",
		QualifiedName: "auth.Validate",
		Kind:          graph.EntityFunction,
		FilePath:      "auth.go",
		Properties:    map[string]string{"start_line": "11", "end_line": "20"},
	}
	require.NoError(t, gs.UpsertEntities(ctx, []graph.Entity{login, validate}))
	_, err := gs.UpsertRelationships(ctx, []graph.Relationship{
		{SourceID: login.ID, TargetID: validate.ID, Kind: graph.RelCalls, Weight: 1},
	})
	require.NoError(t, err)

	candidates, err := r.Retrieve(ctx, "demo", "Login")
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	// The seed's own chunk outranks the one reached over an edge.
	assert.Equal(t, "c-login", candidates[0].ChunkID)
	assert.Equal(t, 1, candidates[0].Rank)
	assert.Equal(t, "c-validate", candidates[1].ChunkID)
	assert.Greater(t, candidates[0].Score, candidates[1].Score)
}

func TestGraphRetrieveModuleEntityUsesFirstChunk(t *testing.T) {
	ctx := context.Background()
	r, gs, chunks := newGraphFixture(t)

	require.NoError(t, chunks.SaveChunks(ctx, []*chunk.Chunk{
		{ID: "c1", CorpusID: "demo", FilePath: "pkg.go", StartLine: 1, EndLine: 50, Content: "package payments"},
		{ID: "c2", CorpusID: "demo", FilePath: "pkg.go", StartLine: 51, EndLine: 100, Content: "func charge() {}"},
	}))
	require.NoError(t, gs.UpsertEntities(ctx, []graph.Entity{{
		ID:            graph.EntityID("demo", "payments", graph.EntityModule),
		CorpusID:      "demo",
		Name:          "payments",
		QualifiedName: "payments",
		Kind:          graph.EntityModule,
		FilePath:      "pkg.go",
	}}))

	candidates, err := r.Retrieve(ctx, "demo", "payments")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "c1", candidates[0].ChunkID)
}

func TestGraphRetrieveCommunityVirtualMatch(t *testing.T) {
	ctx := context.Background()
	r, gs, _ := newGraphFixture(t)

	require.NoError(t, gs.ReplaceCommunities(ctx, "demo", []graph.Community{{
		ID:       "0",
		CorpusID: "demo",
		Summary:  "authentication and session handling",
	}, {
		ID:       "1",
		CorpusID: "demo",
		Summary:  "rendering pipeline",
	}}))

	candidates, err := r.Retrieve(ctx, "demo", "session tokens")
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	got := candidates[0]
	assert.Equal(t, "community:0", got.ChunkID)
	assert.InDelta(t, 0.1, got.Score, 1e-12)
	require.NotNil(t, got.Virtual)
	assert.Equal(t, "community", got.Virtual.Kind)
	assert.Contains(t, got.Virtual.Content, "session")
}

func TestGraphRetrieveNoSeedsNoCommunities(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newGraphFixture(t)

	candidates, err := r.Retrieve(ctx, "demo", "nothing matches this")
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

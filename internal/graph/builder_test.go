package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tribridrag/tribridrag/internal/chunk"
)

type fakeChat struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeChat) Generate(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func buildTestChunks() []*chunk.Chunk {
	authSource := `package auth

func Login(name string) error {
	return Validate(name)
}

func Validate(name string) error {
	return nil
}
`
	mainSource := `package main

func Run() {
	_ = Login("guest")
}
`
	return []*chunk.Chunk{
		{
			ID: "chunk-auth", CorpusID: "c1", FilePath: "auth.go", Language: "go",
			Content: authSource, StartLine: 1, EndLine: 10,
			Symbols: []chunk.Symbol{
				{Name: "Login", Kind: chunk.SymbolFunction, StartLine: 3, EndLine: 5},
				{Name: "Validate", Kind: chunk.SymbolFunction, StartLine: 7, EndLine: 9},
			},
		},
		{
			ID: "chunk-main", CorpusID: "c1", FilePath: "main.go", Language: "go",
			Content: mainSource, StartLine: 1, EndLine: 5,
			Symbols: []chunk.Symbol{
				{Name: "Run", Kind: chunk.SymbolFunction, StartLine: 3, EndLine: 5},
			},
		},
	}
}

func TestBuildChunksStructural(t *testing.T) {
	s := newTestStore(t)
	b := NewBuilder(s, nil, nil)
	defer b.Close()
	ctx := context.Background()

	result, err := b.BuildChunks(ctx, "c1", buildTestChunks())
	require.NoError(t, err)

	// Two module entities plus three functions.
	assert.Equal(t, 5, result.EntityCount)

	loginID := EntityID("c1", "auth.go::Login", EntityFunction)
	validateID := EntityID("c1", "auth.go::Validate", EntityFunction)
	runID := EntityID("c1", "main.go::Run", EntityFunction)
	mainModuleID := EntityID("c1", "main.go", EntityModule)

	rels, err := s.AllRelationships(ctx, "c1")
	require.NoError(t, err)

	type edge struct {
		source, target string
		kind           RelationshipKind
	}
	edges := make(map[edge]float64, len(rels))
	for _, r := range rels {
		edges[edge{r.SourceID, r.TargetID, r.Kind}] = r.Weight
	}

	// Same-file call resolved to the local entity.
	assert.Contains(t, edges, edge{loginID, validateID, RelCalls})
	// Cross-file call resolved corpus-wide.
	assert.Contains(t, edges, edge{runID, loginID, RelCalls})
	// Identifier use across files becomes a reference from the module.
	assert.Contains(t, edges, edge{mainModuleID, loginID, RelReferences})
}

func TestBuildChunksCommunities(t *testing.T) {
	s := newTestStore(t)
	b := NewBuilder(s, nil, nil)
	defer b.Close()
	ctx := context.Background()

	result, err := b.BuildChunks(ctx, "c1", buildTestChunks())
	require.NoError(t, err)
	require.GreaterOrEqual(t, result.CommunityCount, 1)

	communities, err := s.Communities(ctx, "c1")
	require.NoError(t, err)
	require.NotEmpty(t, communities)
	// Without a chat model the summary is a plain name listing.
	assert.Contains(t, communities[0].Summary, "Cluster of")
	assert.GreaterOrEqual(t, len(communities[0].MemberIDs), 2)
}

func TestBuildChunksSemanticEntities(t *testing.T) {
	s := newTestStore(t)
	chat := &fakeChat{response: `[
		{"name": "authentication", "kind": "concept", "description": "user credential checks",
		 "related": [{"target": "Login", "kind": "references"}]}
	]`}
	b := NewBuilder(s, chat, nil)
	defer b.Close()
	ctx := context.Background()

	chunks := buildTestChunks()[:1]
	_, err := b.BuildChunks(ctx, "c1", chunks)
	require.NoError(t, err)

	conceptID := EntityID("c1", "auth.go::authentication", EntityConcept)
	got, err := s.GetEntities(ctx, []string{conceptID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "user credential checks", got[0].Description)

	rels, err := s.AllRelationships(ctx, "c1")
	require.NoError(t, err)
	loginID := EntityID("c1", "auth.go::Login", EntityFunction)
	found := false
	for _, r := range rels {
		if r.SourceID == conceptID && r.TargetID == loginID && r.Kind == RelReferences {
			found = true
		}
	}
	assert.True(t, found, "semantic relation should resolve to the structural entity")
}

func TestBuildChunksMalformedSemanticFallsBack(t *testing.T) {
	s := newTestStore(t)
	chat := &fakeChat{response: "I think the entities are Login and Validate."}
	b := NewBuilder(s, chat, nil)
	defer b.Close()
	ctx := context.Background()

	result, err := b.BuildChunks(ctx, "c1", buildTestChunks()[:1])
	require.NoError(t, err)

	// Structural entities survive a rejected semantic response.
	assert.Equal(t, 3, result.EntityCount)
	entities, err := s.AllEntities(ctx, "c1")
	require.NoError(t, err)
	for _, e := range entities {
		assert.NotEqual(t, EntityConcept, e.Kind)
	}
}

func TestBuildChunksCancellation(t *testing.T) {
	s := newTestStore(t)
	b := NewBuilder(s, nil, nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.BuildChunks(ctx, "c1", buildTestChunks())
	require.ErrorIs(t, err, context.Canceled)

	// Nothing was written.
	entities, err := s.AllEntities(context.Background(), "c1")
	require.NoError(t, err)
	assert.Empty(t, entities)
}

func TestDetectCommunitiesDeterministic(t *testing.T) {
	entities := []Entity{
		{ID: "a1"}, {ID: "a2"}, {ID: "a3"},
		{ID: "b1"}, {ID: "b2"},
	}
	rels := []Relationship{
		{SourceID: "a1", TargetID: "a2", Kind: RelCalls, Weight: 2},
		{SourceID: "a2", TargetID: "a3", Kind: RelCalls, Weight: 2},
		{SourceID: "b1", TargetID: "b2", Kind: RelCalls, Weight: 2},
	}

	first := DetectCommunities("c1", entities, rels)
	second := DetectCommunities("c1", entities, rels)
	require.Equal(t, first, second)

	require.Len(t, first, 2)
	members := make(map[string][]string)
	for _, c := range first {
		members[c.MemberIDs[0]] = c.MemberIDs
	}
	assert.Equal(t, []string{"a1", "a2", "a3"}, members["a1"])
	assert.Equal(t, []string{"b1", "b2"}, members["b1"])
}

func TestDetectCommunitiesExcludesSingletons(t *testing.T) {
	entities := []Entity{{ID: "a"}, {ID: "b"}, {ID: "lonely"}}
	rels := []Relationship{
		{SourceID: "a", TargetID: "b", Kind: RelCalls, Weight: 1},
	}
	communities := DetectCommunities("c1", entities, rels)
	require.Len(t, communities, 1)
	assert.Equal(t, []string{"a", "b"}, communities[0].MemberIDs)
}

package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tribridrag/tribridrag/internal/config"
)

func rrfConfig() config.FusionConfig {
	return config.FusionConfig{
		Method:       FusionRRF,
		VectorWeight: 1.0,
		SparseWeight: 1.0,
		GraphWeight:  1.0,
		RRFK:         60,
		FinalK:       50,
	}
}

// Two files, vector and sparse agree on the first: the fused top must
// be the chunk both retrievers ranked first.
func TestFuseRRFAgreement(t *testing.T) {
	lists := []modalityResult{
		{name: ModalityVector, weight: 1.0, candidates: []Candidate{
			{ChunkID: "a", Score: 0.91, Rank: 1},
			{ChunkID: "b", Score: 0.40, Rank: 2},
		}},
		{name: ModalitySparse, weight: 1.0, candidates: []Candidate{
			{ChunkID: "a", Score: 3.2, Rank: 1},
		}},
		{name: ModalityGraph, weight: 1.0, candidates: nil},
	}

	out := fuse(rrfConfig(), lists)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ChunkID)
	assert.Equal(t, "b", out[1].ChunkID)

	// a: (1/3)/(60+1) twice; b: (1/3)/(60+2) once.
	third := 1.0 / 3.0
	assert.InDelta(t, third/61+third/61, out[0].Score, 1e-12)
	assert.InDelta(t, third/62, out[1].Score, 1e-12)
	assert.ElementsMatch(t, []string{ModalityVector, ModalitySparse}, out[0].Sources)
}

func TestFuseSetPreservation(t *testing.T) {
	lists := []modalityResult{
		{name: ModalityVector, weight: 1.0, candidates: []Candidate{
			{ChunkID: "a", Rank: 1}, {ChunkID: "b", Rank: 2},
		}},
		{name: ModalitySparse, weight: 1.0, candidates: []Candidate{
			{ChunkID: "b", Rank: 1}, {ChunkID: "c", Rank: 2},
		}},
	}
	out := fuse(rrfConfig(), lists)

	union := map[string]bool{"a": true, "b": true, "c": true}
	assert.Len(t, out, 3)
	for _, f := range out {
		assert.True(t, union[f.ChunkID], "fused chunk %s outside retriever union", f.ChunkID)
	}
}

// Identical rankings fuse identically no matter which retriever's list
// is walked first.
func TestFuseRRFInsertionOrderIndependent(t *testing.T) {
	vector := modalityResult{name: ModalityVector, weight: 1.0, candidates: []Candidate{
		{ChunkID: "a", Rank: 1}, {ChunkID: "b", Rank: 2}, {ChunkID: "c", Rank: 3},
	}}
	sparse := modalityResult{name: ModalitySparse, weight: 1.0, candidates: []Candidate{
		{ChunkID: "c", Rank: 1}, {ChunkID: "a", Rank: 2},
	}}

	first := fuse(rrfConfig(), []modalityResult{vector, sparse})
	second := fuse(rrfConfig(), []modalityResult{sparse, vector})

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ChunkID, second[i].ChunkID)
		assert.InDelta(t, first[i].Score, second[i].Score, 1e-12)
	}
}

func TestFuseTieBreaksByRankThenID(t *testing.T) {
	// Same rank in different retrievers of equal weight gives equal
	// scores; the ID decides.
	lists := []modalityResult{
		{name: ModalityVector, weight: 1.0, candidates: []Candidate{{ChunkID: "zeta", Rank: 1}}},
		{name: ModalitySparse, weight: 1.0, candidates: []Candidate{{ChunkID: "alpha", Rank: 1}}},
	}
	out := fuse(rrfConfig(), lists)
	require.Len(t, out, 2)
	assert.Equal(t, "alpha", out[0].ChunkID)
	assert.Equal(t, "zeta", out[1].ChunkID)
}

func TestFuseWeightRenormalization(t *testing.T) {
	// One modality demoted: the remaining weights are scaled to sum to
	// one, so a single-retriever hit at rank 1 scores 1/(k+1).
	cfg := rrfConfig()
	lists := []modalityResult{
		{name: ModalityVector, weight: 1.0, candidates: []Candidate{{ChunkID: "a", Rank: 1}}},
	}
	out := fuse(cfg, lists)
	require.Len(t, out, 1)
	assert.InDelta(t, 1.0/61, out[0].Score, 1e-12)
}

func TestFuseWeightedMinMax(t *testing.T) {
	cfg := rrfConfig()
	cfg.Method = FusionWeighted
	lists := []modalityResult{
		{name: ModalityVector, weight: 3.0, candidates: []Candidate{
			{ChunkID: "a", Score: 0.9, Rank: 1},
			{ChunkID: "b", Score: 0.5, Rank: 2},
			{ChunkID: "c", Score: 0.1, Rank: 3},
		}},
		{name: ModalitySparse, weight: 1.0, candidates: []Candidate{
			{ChunkID: "c", Score: 7.0, Rank: 1},
			{ChunkID: "a", Score: 1.0, Rank: 2},
		}},
	}
	out := fuse(cfg, lists)
	require.Len(t, out, 3)

	// Weights normalize to 0.75/0.25. a: 0.75*1.0 + 0.25*0.0 = 0.75.
	// c: 0.75*0.0 + 0.25*1.0 = 0.25. b: 0.75*0.5 = 0.375.
	assert.Equal(t, "a", out[0].ChunkID)
	assert.InDelta(t, 0.75, out[0].Score, 1e-12)
	assert.Equal(t, "b", out[1].ChunkID)
	assert.InDelta(t, 0.375, out[1].Score, 1e-12)
	assert.Equal(t, "c", out[2].ChunkID)
	assert.InDelta(t, 0.25, out[2].Score, 1e-12)
}

func TestFuseWeightedSingleScoreNormalizesToOne(t *testing.T) {
	cfg := rrfConfig()
	cfg.Method = FusionWeighted
	lists := []modalityResult{
		{name: ModalitySparse, weight: 1.0, candidates: []Candidate{
			{ChunkID: "only", Score: 42.0, Rank: 1},
		}},
	}
	out := fuse(cfg, lists)
	require.Len(t, out, 1)
	assert.InDelta(t, 1.0, out[0].Score, 1e-12)
}

func TestFuseTruncatesToFinalK(t *testing.T) {
	cfg := rrfConfig()
	cfg.FinalK = 2
	lists := []modalityResult{
		{name: ModalityVector, weight: 1.0, candidates: []Candidate{
			{ChunkID: "a", Rank: 1}, {ChunkID: "b", Rank: 2},
			{ChunkID: "c", Rank: 3}, {ChunkID: "d", Rank: 4},
		}},
	}
	out := fuse(cfg, lists)
	assert.Len(t, out, 2)
}

func TestFuseCarriesVirtualDocs(t *testing.T) {
	lists := []modalityResult{
		{name: ModalityGraph, weight: 1.0, candidates: []Candidate{
			{ChunkID: "community:abc", Rank: 1, Virtual: &VirtualDoc{Kind: "community", Content: "auth cluster"}},
		}},
	}
	out := fuse(rrfConfig(), lists)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].Virtual)
	assert.Equal(t, "community", out[0].Virtual.Kind)
}

func TestFuseEmptyLists(t *testing.T) {
	assert.Empty(t, fuse(rrfConfig(), nil))
	assert.Empty(t, fuse(rrfConfig(), []modalityResult{{name: ModalityVector, weight: 1.0}}))
}

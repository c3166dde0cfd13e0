package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryNeighbors serves edges from a slice, the way both store
// backends feed boundedWalk.
func memoryNeighbors(edges []Relationship) neighborFunc {
	return func(_ context.Context, ids []string) ([]Relationship, error) {
		inFrontier := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			inFrontier[id] = struct{}{}
		}
		var out []Relationship
		for _, e := range edges {
			if _, ok := inFrontier[e.SourceID]; ok {
				out = append(out, e)
				continue
			}
			if _, ok := inFrontier[e.TargetID]; ok {
				out = append(out, e)
			}
		}
		return out, nil
	}
}

func TestBoundedWalkRespectsMaxHops(t *testing.T) {
	edges := []Relationship{
		{SourceID: "a", TargetID: "b", Kind: RelCalls, Weight: 1},
		{SourceID: "b", TargetID: "c", Kind: RelCalls, Weight: 1},
		{SourceID: "c", TargetID: "d", Kind: RelCalls, Weight: 1},
	}
	seeds := []Seed{{EntityID: "a", Weight: 1}}

	best, err := boundedWalk(context.Background(), seeds, 2, memoryNeighbors(edges))
	require.NoError(t, err)

	assert.Contains(t, best, "b")
	assert.Contains(t, best, "c")
	assert.NotContains(t, best, "d")
	assert.Equal(t, 1, best["b"].Hops)
	assert.Equal(t, 2, best["c"].Hops)
}

func TestBoundedWalkPrefersHeavierPath(t *testing.T) {
	// Two routes to "goal": a heavy direct edge and a light one.
	edges := []Relationship{
		{SourceID: "seed", TargetID: "goal", Kind: RelCalls, Weight: 9},
		{SourceID: "seed", TargetID: "mid", Kind: RelCalls, Weight: 1},
		{SourceID: "mid", TargetID: "goal", Kind: RelCalls, Weight: 1},
	}
	seeds := []Seed{{EntityID: "seed", Weight: 1}}

	best, err := boundedWalk(context.Background(), seeds, 2, memoryNeighbors(edges))
	require.NoError(t, err)

	require.Contains(t, best, "goal")
	assert.InDelta(t, 0.9, best["goal"].PathWeight, 1e-9)
	assert.Equal(t, 1, best["goal"].Hops)
}

func TestBoundedWalkIgnoresZeroWeightEdges(t *testing.T) {
	edges := []Relationship{
		{SourceID: "a", TargetID: "b", Kind: RelCalls, Weight: 0},
	}
	best, err := boundedWalk(context.Background(), []Seed{{EntityID: "a", Weight: 1}}, 3, memoryNeighbors(edges))
	require.NoError(t, err)
	assert.NotContains(t, best, "b")
}

func TestBoundedWalkCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	edges := []Relationship{{SourceID: "a", TargetID: "b", Kind: RelCalls, Weight: 1}}
	_, err := boundedWalk(ctx, []Seed{{EntityID: "a", Weight: 1}}, 1, memoryNeighbors(edges))
	require.ErrorIs(t, err, context.Canceled)
}

func TestEdgeFactorMonotonic(t *testing.T) {
	assert.Less(t, edgeFactor(1), edgeFactor(2))
	assert.Less(t, edgeFactor(2), edgeFactor(100))
	assert.Zero(t, edgeFactor(0))
	assert.Zero(t, edgeFactor(-5))
	assert.Less(t, edgeFactor(100), 1.0)
}

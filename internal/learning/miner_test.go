package learning

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEventLog(t *testing.T, path string, events []Event) {
	t.Helper()
	log, err := OpenEventLog(path)
	require.NoError(t, err)
	ctx := context.Background()
	for _, ev := range events {
		require.NoError(t, log.Append(ctx, ev))
	}
	require.NoError(t, log.Close())
}

func minerOpts(t *testing.T) MinerOptions {
	t.Helper()
	dir := t.TempDir()
	return MinerOptions{
		EventLogPath:        filepath.Join(dir, "usage.log"),
		TripletsPath:        filepath.Join(dir, "triplets.jsonl"),
		Mode:                MineModeAppend,
		ConfidenceThreshold: 0.2,
	}
}

func TestMineExplicitFeedbackPairs(t *testing.T) {
	opts := minerOpts(t)
	writeEventLog(t, opts.EventLogPath, []Event{
		{Kind: EventSearch, Query: "auth flow", TopChunks: []string{"c1", "c2", "c3"}},
		{Kind: EventFeedback, Query: "auth flow", ChunkID: "c2", Helpful: boolPtr(true)},
		{Kind: EventFeedback, Query: "auth flow", ChunkID: "c3", Helpful: boolPtr(false)},
	})

	m, err := NewMiner(opts)
	require.NoError(t, err)
	res, err := m.Mine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.EventsRead)
	assert.Equal(t, 1, res.TripletsMined)

	triplets, err := ReadTriplets(opts.TripletsPath)
	require.NoError(t, err)
	require.Len(t, triplets, 1)
	assert.Equal(t, "auth flow", triplets[0].Query)
	assert.Equal(t, "c2", triplets[0].Positive)
	assert.Equal(t, "c3", triplets[0].Negative)
	assert.Equal(t, confidenceExplicitPair, triplets[0].Confidence)
	assert.Equal(t, "explicit", triplets[0].Source)
}

func TestMinePositiveOnlySamplesNegative(t *testing.T) {
	opts := minerOpts(t)
	writeEventLog(t, opts.EventLogPath, []Event{
		{Kind: EventSearch, Query: "q", TopChunks: []string{"c1", "c2", "c3"}},
		{Kind: EventFeedback, Query: "q", ChunkID: "c2", Helpful: boolPtr(true)},
	})

	m, err := NewMiner(opts)
	require.NoError(t, err)
	_, err = m.Mine(context.Background())
	require.NoError(t, err)

	triplets, err := ReadTriplets(opts.TripletsPath)
	require.NoError(t, err)
	require.Len(t, triplets, 1)
	assert.Equal(t, "c2", triplets[0].Positive)
	// Highest-ranked unmarked result becomes the negative.
	assert.Equal(t, "c1", triplets[0].Negative)
	assert.Equal(t, confidenceSampledNegative, triplets[0].Confidence)
}

func TestMineClickThroughHeuristic(t *testing.T) {
	opts := minerOpts(t)
	writeEventLog(t, opts.EventLogPath, []Event{
		{Kind: EventSearch, Query: "q", TopChunks: []string{"c1", "c2", "c3"}},
		{Kind: EventClick, Query: "q", ChunkID: "c3"},
		{Kind: EventClick, Query: "q", ChunkID: "c2"},
	})

	m, err := NewMiner(opts)
	require.NoError(t, err)
	_, err = m.Mine(context.Background())
	require.NoError(t, err)

	triplets, err := ReadTriplets(opts.TripletsPath)
	require.NoError(t, err)
	require.Len(t, triplets, 1)
	// Best-ranked clicked chunk is positive, best-ranked unclicked negative.
	assert.Equal(t, "c2", triplets[0].Positive)
	assert.Equal(t, "c1", triplets[0].Negative)
	assert.Equal(t, confidenceClickThrough, triplets[0].Confidence)
	assert.Equal(t, "click_through", triplets[0].Source)
}

func TestMineDiscardsBelowConfidenceThreshold(t *testing.T) {
	opts := minerOpts(t)
	opts.ConfidenceThreshold = 0.6
	writeEventLog(t, opts.EventLogPath, []Event{
		{Kind: EventSearch, Query: "q", TopChunks: []string{"c1", "c2"}},
		{Kind: EventClick, Query: "q", ChunkID: "c2"},
	})

	m, err := NewMiner(opts)
	require.NoError(t, err)
	res, err := m.Mine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.TripletsMined)
	assert.Equal(t, 1, res.TripletsDiscarded)
}

type stubResolver struct{ live map[string]bool }

func (r stubResolver) ResolveChunks(_ context.Context, ids []string) (map[string]bool, error) {
	out := map[string]bool{}
	for _, id := range ids {
		out[id] = r.live[id]
	}
	return out, nil
}

func TestMineDiscardsUnresolvableChunks(t *testing.T) {
	opts := minerOpts(t)
	opts.Resolver = stubResolver{live: map[string]bool{"c1": true}}
	writeEventLog(t, opts.EventLogPath, []Event{
		{Kind: EventSearch, Query: "q", TopChunks: []string{"c1", "c2"}},
		{Kind: EventFeedback, Query: "q", ChunkID: "c2", Helpful: boolPtr(true)},
	})

	m, err := NewMiner(opts)
	require.NoError(t, err)
	res, err := m.Mine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.TripletsMined)
	assert.Equal(t, 1, res.TripletsDiscarded)
}

func TestMineAppendModeKeepsExisting(t *testing.T) {
	opts := minerOpts(t)
	require.NoError(t, writeTriplets(opts.TripletsPath, []Triplet{
		{Query: "old", Positive: "p", Negative: "n", Confidence: 1},
	}, false))
	writeEventLog(t, opts.EventLogPath, []Event{
		{Kind: EventSearch, Query: "q", TopChunks: []string{"c1", "c2"}},
		{Kind: EventFeedback, Query: "q", ChunkID: "c1", Helpful: boolPtr(true)},
	})

	m, err := NewMiner(opts)
	require.NoError(t, err)
	_, err = m.Mine(context.Background())
	require.NoError(t, err)

	triplets, err := ReadTriplets(opts.TripletsPath)
	require.NoError(t, err)
	require.Len(t, triplets, 2)
	assert.Equal(t, "old", triplets[0].Query)
	assert.Equal(t, "q", triplets[1].Query)
}

func TestMineReplaceModePreservesExistingWhenEmptyAndPreserveEnabled(t *testing.T) {
	opts := minerOpts(t)
	opts.Mode = MineModeReplace
	opts.PreserveOnEmpty = true
	require.NoError(t, writeTriplets(opts.TripletsPath, []Triplet{
		{Query: "existing q", Positive: "p", Negative: "n", Confidence: 1},
	}, false))
	// A bare search produces no triplets.
	writeEventLog(t, opts.EventLogPath, []Event{
		{Kind: EventSearch, Query: "hello world", TopChunks: []string{"c1", "c2"}},
	})

	m, err := NewMiner(opts)
	require.NoError(t, err)
	res, err := m.Mine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.TripletsMined)
	assert.True(t, res.PreservedExisting)

	triplets, err := ReadTriplets(opts.TripletsPath)
	require.NoError(t, err)
	require.Len(t, triplets, 1)
	assert.Equal(t, "existing q", triplets[0].Query)
}

func TestMineReplaceModeClearsExistingWhenEmptyAndPreserveDisabled(t *testing.T) {
	opts := minerOpts(t)
	opts.Mode = MineModeReplace
	opts.PreserveOnEmpty = false
	require.NoError(t, writeTriplets(opts.TripletsPath, []Triplet{
		{Query: "existing q", Positive: "p", Negative: "n", Confidence: 1},
	}, false))
	writeEventLog(t, opts.EventLogPath, []Event{
		{Kind: EventSearch, Query: "hello world", TopChunks: []string{"c1", "c2"}},
	})

	m, err := NewMiner(opts)
	require.NoError(t, err)
	res, err := m.Mine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.TripletsMined)
	assert.False(t, res.PreservedExisting)

	triplets, err := ReadTriplets(opts.TripletsPath)
	require.NoError(t, err)
	assert.Empty(t, triplets)
}

func TestMineReplaceModeOverwrites(t *testing.T) {
	opts := minerOpts(t)
	opts.Mode = MineModeReplace
	require.NoError(t, writeTriplets(opts.TripletsPath, []Triplet{
		{Query: "old", Positive: "p", Negative: "n", Confidence: 1},
	}, false))
	writeEventLog(t, opts.EventLogPath, []Event{
		{Kind: EventSearch, Query: "q", TopChunks: []string{"c1", "c2"}},
		{Kind: EventFeedback, Query: "q", ChunkID: "c1", Helpful: boolPtr(true)},
	})

	m, err := NewMiner(opts)
	require.NoError(t, err)
	_, err = m.Mine(context.Background())
	require.NoError(t, err)

	triplets, err := ReadTriplets(opts.TripletsPath)
	require.NoError(t, err)
	require.Len(t, triplets, 1)
	assert.Equal(t, "q", triplets[0].Query)
}

func TestNewMinerRejectsBadMode(t *testing.T) {
	opts := minerOpts(t)
	opts.Mode = "merge"
	_, err := NewMiner(opts)
	require.Error(t, err)
}

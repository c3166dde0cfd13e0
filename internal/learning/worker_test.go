package learning

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerCycleMinesWithoutTrainer(t *testing.T) {
	opts := minerOpts(t)
	writeEventLog(t, opts.EventLogPath, []Event{
		{Kind: EventSearch, Query: "q", TopChunks: []string{"c1", "c2"}},
		{Kind: EventFeedback, Query: "q", ChunkID: "c1", Helpful: boolPtr(true)},
	})
	m, err := NewMiner(opts)
	require.NoError(t, err)

	w, err := NewWorker(WorkerOptions{Miner: m})
	require.NoError(t, err)
	require.NoError(t, w.Cycle(context.Background()))

	triplets, err := ReadTriplets(opts.TripletsPath)
	require.NoError(t, err)
	assert.Len(t, triplets, 1)
}

func TestWorkerCycleSkipsTrainingBelowMinimum(t *testing.T) {
	opts := minerOpts(t)
	writeEventLog(t, opts.EventLogPath, []Event{
		{Kind: EventSearch, Query: "q", TopChunks: []string{"c1", "c2"}},
		{Kind: EventFeedback, Query: "q", ChunkID: "c1", Helpful: boolPtr(true)},
	})
	m, err := NewMiner(opts)
	require.NoError(t, err)

	// Endpoint is never contacted because the triplet count stays below
	// the minimum.
	tr, err := NewTrainer(TrainerOptions{
		Endpoint:     "http://localhost:1",
		RunsDir:      filepath.Join(t.TempDir(), "runs"),
		TripletsPath: opts.TripletsPath,
	})
	require.NoError(t, err)

	w, err := NewWorker(WorkerOptions{Miner: m, Trainer: tr, MinTriplets: 10})
	require.NoError(t, err)
	require.NoError(t, w.Cycle(context.Background()))
}

func TestWorkerCycleTrainsAtThreshold(t *testing.T) {
	opts := minerOpts(t)
	writeTripletFile(t, opts.TripletsPath, 4)
	writeEventLog(t, opts.EventLogPath, []Event{
		{Kind: EventSearch, Query: "q", TopChunks: []string{"c1", "c2"}},
		{Kind: EventFeedback, Query: "q", ChunkID: "c1", Helpful: boolPtr(true)},
	})
	m, err := NewMiner(opts)
	require.NoError(t, err)

	srv := newTrainServer(t, 0.5)
	runsDir := filepath.Join(t.TempDir(), "runs")
	tr, err := NewTrainer(TrainerOptions{
		Endpoint: srv.URL, RunsDir: runsDir, TripletsPath: opts.TripletsPath,
	})
	require.NoError(t, err)

	w, err := NewWorker(WorkerOptions{Miner: m, Trainer: tr, MinTriplets: 5})
	require.NoError(t, err)
	require.NoError(t, w.Cycle(context.Background()))

	runs, err := ListRuns(runsDir)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

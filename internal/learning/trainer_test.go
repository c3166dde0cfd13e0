package learning

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/tribridrag/tribridrag/internal/errors"
)

func writeTripletFile(t *testing.T, path string, n int) {
	t.Helper()
	triplets := make([]Triplet, n)
	for i := range triplets {
		triplets[i] = Triplet{Query: "q", Positive: "p", Negative: "n", Confidence: 1}
	}
	require.NoError(t, writeTriplets(path, triplets, false))
}

// newTrainServer serves /train and writes an adapter file at the
// requested path, like the real training service sharing a filesystem
// with this process.
func newTrainServer(t *testing.T, score float64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/train", r.URL.Path)
		var req trainRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.TripletsPath)
		require.NoError(t, os.WriteFile(req.AdapterPath, []byte("adapter-weights"), 0o644))
		json.NewEncoder(w).Encode(trainResponse{Metric: "mrr", Score: score})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTrainWritesRunManifest(t *testing.T) {
	dir := t.TempDir()
	tripletsPath := filepath.Join(dir, "triplets.jsonl")
	writeTripletFile(t, tripletsPath, 3)
	srv := newTrainServer(t, 0.42)

	tr, err := NewTrainer(TrainerOptions{
		Endpoint:     srv.URL,
		RunsDir:      filepath.Join(dir, "runs"),
		TripletsPath: tripletsPath,
		BaseModel:    "cross-encoder-base",
	})
	require.NoError(t, err)

	run, err := tr.Train(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, 3, run.TripletCount)
	assert.Equal(t, "mrr", run.Metric)
	assert.InDelta(t, 0.42, run.Score, 1e-12)

	loaded, err := LoadRun(filepath.Join(dir, "runs"), run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, loaded.ID)
	assert.Equal(t, run.AdapterPath, loaded.AdapterPath)

	data, err := os.ReadFile(run.AdapterPath)
	require.NoError(t, err)
	assert.Equal(t, "adapter-weights", string(data))
}

func TestTrainRequiresTriplets(t *testing.T) {
	dir := t.TempDir()
	tr, err := NewTrainer(TrainerOptions{
		Endpoint:     "http://localhost:1",
		RunsDir:      filepath.Join(dir, "runs"),
		TripletsPath: filepath.Join(dir, "triplets.jsonl"),
	})
	require.NoError(t, err)

	_, err = tr.Train(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindInvalidInput, apperrors.KindOf(err))
}

func TestTrainFailsWhenServiceWritesNoAdapter(t *testing.T) {
	dir := t.TempDir()
	tripletsPath := filepath.Join(dir, "triplets.jsonl")
	writeTripletFile(t, tripletsPath, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(trainResponse{Metric: "mrr", Score: 0.5})
	}))
	t.Cleanup(srv.Close)

	runsDir := filepath.Join(dir, "runs")
	tr, err := NewTrainer(TrainerOptions{
		Endpoint: srv.URL, RunsDir: runsDir, TripletsPath: tripletsPath,
	})
	require.NoError(t, err)

	_, err = tr.Train(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindUpstreamFailure, apperrors.KindOf(err))

	// The failed run directory must not linger.
	entries, err := os.ReadDir(runsDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTrainServerError(t *testing.T) {
	dir := t.TempDir()
	tripletsPath := filepath.Join(dir, "triplets.jsonl")
	writeTripletFile(t, tripletsPath, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "out of memory", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	tr, err := NewTrainer(TrainerOptions{
		Endpoint: srv.URL, RunsDir: filepath.Join(dir, "runs"), TripletsPath: tripletsPath,
	})
	require.NoError(t, err)

	_, err = tr.Train(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindUpstreamFailure, apperrors.KindOf(err))
}

func TestListRunsNewestFirst(t *testing.T) {
	dir := t.TempDir()
	tripletsPath := filepath.Join(dir, "triplets.jsonl")
	writeTripletFile(t, tripletsPath, 1)
	srv := newTrainServer(t, 0.3)

	runsDir := filepath.Join(dir, "runs")
	tr, err := NewTrainer(TrainerOptions{
		Endpoint: srv.URL, RunsDir: runsDir, TripletsPath: tripletsPath,
	})
	require.NoError(t, err)

	first, err := tr.Train(context.Background())
	require.NoError(t, err)
	second, err := tr.Train(context.Background())
	require.NoError(t, err)

	runs, err := ListRuns(runsDir)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	ids := []string{runs[0].ID, runs[1].ID}
	assert.Contains(t, ids, first.ID)
	assert.Contains(t, ids, second.ID)
	assert.False(t, runs[1].CreatedAt.After(runs[0].CreatedAt))
}

package learning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/tribridrag/tribridrag/internal/errors"
)

const (
	defaultTrainTimeout = 15 * time.Minute
	adapterFileName     = "adapter.safetensors"
	runManifestName     = "manifest.json"
)

// Run records one training run: where its adapter landed and how it
// evaluated on the held-out split.
type Run struct {
	ID           string    `json:"run_id"`
	CreatedAt    time.Time `json:"created_at"`
	AdapterPath  string    `json:"adapter_path"`
	BaseModel    string    `json:"base_model"`
	TripletCount int       `json:"triplet_count"`

	// Metric is the primary evaluation metric (mean reciprocal rank on
	// the held-out split). Promotion gates on it.
	Metric string  `json:"metric"`
	Score  float64 `json:"score"`
}

// TrainerOptions configures the trainer client.
type TrainerOptions struct {
	Endpoint     string
	RunsDir      string
	TripletsPath string
	BaseModel    string
	Timeout      time.Duration
	Logger       *slog.Logger
}

// Trainer drives an external training service. The service shares a
// filesystem with this process: it reads the triplet file and writes
// the adapter into the run directory it is given.
type Trainer struct {
	client  *http.Client
	opts    TrainerOptions
	log     *slog.Logger
	timeout time.Duration
}

func NewTrainer(opts TrainerOptions) (*Trainer, error) {
	if opts.Endpoint == "" {
		return nil, apperrors.New(apperrors.KindConfig, "trainer endpoint must not be empty")
	}
	if opts.RunsDir == "" || opts.TripletsPath == "" {
		return nil, apperrors.New(apperrors.KindConfig, "trainer requires runs dir and triplets path")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTrainTimeout
	}
	return &Trainer{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		opts:    opts,
		log:     opts.Logger,
		timeout: timeout,
	}, nil
}

type trainRequest struct {
	TripletsPath string `json:"triplets_path"`
	BaseModel    string `json:"base_model,omitempty"`
	AdapterPath  string `json:"adapter_path"`
}

type trainResponse struct {
	Metric string  `json:"metric"`
	Score  float64 `json:"score"`
}

// Train runs one training pass over the current triplet file and
// returns the recorded run. The run directory holds the adapter and a
// manifest; nothing becomes active until an explicit promote.
func (t *Trainer) Train(ctx context.Context) (*Run, error) {
	triplets, err := ReadTriplets(t.opts.TripletsPath)
	if err != nil {
		return nil, err
	}
	if len(triplets) == 0 {
		return nil, apperrors.New(apperrors.KindInvalidInput, "no triplets to train on")
	}

	runID := uuid.NewString()
	runDir := filepath.Join(t.opts.RunsDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "create run directory", err)
	}
	adapterPath := filepath.Join(runDir, adapterFileName)

	t.log.Info("training started",
		slog.String("run_id", runID),
		slog.Int("triplets", len(triplets)),
		slog.String("base_model", t.opts.BaseModel))

	resp, err := t.call(ctx, trainRequest{
		TripletsPath: t.opts.TripletsPath,
		BaseModel:    t.opts.BaseModel,
		AdapterPath:  adapterPath,
	})
	if err != nil {
		os.RemoveAll(runDir)
		return nil, err
	}
	if _, err := os.Stat(adapterPath); err != nil {
		os.RemoveAll(runDir)
		return nil, apperrors.Wrap(apperrors.KindUpstreamFailure,
			"trainer reported success but wrote no adapter", err)
	}

	run := &Run{
		ID:           runID,
		CreatedAt:    time.Now().UTC(),
		AdapterPath:  adapterPath,
		BaseModel:    t.opts.BaseModel,
		TripletCount: len(triplets),
		Metric:       resp.Metric,
		Score:        resp.Score,
	}
	if run.Metric == "" {
		run.Metric = "mrr"
	}
	if err := saveRun(runDir, run); err != nil {
		os.RemoveAll(runDir)
		return nil, err
	}

	t.log.Info("training finished",
		slog.String("run_id", runID),
		slog.String("metric", run.Metric),
		slog.Float64("score", run.Score))
	return run, nil
}

func (t *Trainer) call(ctx context.Context, req trainRequest) (*trainResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "encode train request", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost,
		t.opts.Endpoint+"/train", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "build train request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, apperrors.Wrap(apperrors.KindUpstreamTimeout, "trainer timed out", err)
		}
		return nil, apperrors.Wrap(apperrors.KindUpstreamFailure, "trainer request failed", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, apperrors.Newf(apperrors.KindUpstreamFailure,
			"trainer returned %d: %s", httpResp.StatusCode, string(msg))
	}

	var resp trainResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, apperrors.Wrap(apperrors.KindUpstreamFailure, "decode train response", err)
	}
	return &resp, nil
}

func saveRun(runDir string, run *Run) error {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "encode run manifest", err)
	}
	tmp := filepath.Join(runDir, runManifestName+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "stage run manifest", err)
	}
	if err := os.Rename(tmp, filepath.Join(runDir, runManifestName)); err != nil {
		os.Remove(tmp)
		return apperrors.Wrap(apperrors.KindInternal, "write run manifest", err)
	}
	return nil
}

// LoadRun reads a run manifest from runsDir/<id>.
func LoadRun(runsDir, runID string) (*Run, error) {
	data, err := os.ReadFile(filepath.Join(runsDir, runID, runManifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.Newf(apperrors.KindNotFound, "run %q not found", runID)
		}
		return nil, apperrors.Wrap(apperrors.KindInternal, "read run manifest", err)
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal,
			fmt.Sprintf("decode run manifest for %q", runID), err)
	}
	return &run, nil
}

// ListRuns returns run manifests under runsDir, newest first.
func ListRuns(runsDir string) ([]*Run, error) {
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.KindInternal, "read runs directory", err)
	}
	var runs []*Run
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		run, err := LoadRun(runsDir, e.Name())
		if err != nil {
			continue
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	return runs, nil
}

package learning

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/tribridrag/tribridrag/internal/errors"
	"github.com/tribridrag/tribridrag/internal/manifest"
)

const baselineFileName = "baseline.json"

// Baseline records the metric the currently-active adapter achieved
// when it was promoted. The next promotion must beat it by epsilon.
type Baseline struct {
	Metric     string    `json:"metric"`
	Score      float64   `json:"score"`
	RunID      string    `json:"run_id"`
	PromotedAt time.Time `json:"promoted_at"`
}

// PromoterOptions configures the promote step.
type PromoterOptions struct {
	RunsDir     string
	AdaptersDir string

	// ActiveAdapterPath is the file the reranker watches. The promoted
	// adapter is staged next to it and renamed into place.
	ActiveAdapterPath string

	// Epsilon is the minimum score improvement over the baseline.
	Epsilon float64

	// Manifests, when set, receives the new adapter pointer for the
	// corpus named in the promote request.
	Manifests *manifest.Store
	Logger    *slog.Logger
}

// PromoteRequest names the run to promote and, optionally, the corpus
// whose manifest should record the new adapter pointer.
type PromoteRequest struct {
	RunID    string
	CorpusID string
}

// PromoteResult reports a successful promotion.
type PromoteResult struct {
	RunID         string
	Fingerprint   string
	Score         float64
	BaselineScore float64
	AdapterPath   string
}

// Promoter applies the evaluation gate and performs the atomic adapter
// swap. Promotion is always an explicit operator action; training never
// promotes implicitly.
type Promoter struct {
	opts PromoterOptions
	log  *slog.Logger
}

func NewPromoter(opts PromoterOptions) (*Promoter, error) {
	if opts.RunsDir == "" || opts.AdaptersDir == "" {
		return nil, apperrors.New(apperrors.KindConfig, "promoter requires runs and adapters directories")
	}
	if opts.ActiveAdapterPath == "" {
		opts.ActiveAdapterPath = filepath.Join(opts.AdaptersDir, adapterFileName)
	}
	if opts.Epsilon < 0 {
		return nil, apperrors.New(apperrors.KindConfig, "promote epsilon must not be negative")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Promoter{opts: opts, log: opts.Logger}, nil
}

// Promote makes the run's adapter active if and only if its score
// exceeds the stored baseline by epsilon. A refusal changes nothing:
// the active adapter, the baseline, and the corpus manifest all stay
// as they were.
func (p *Promoter) Promote(ctx context.Context, req PromoteRequest) (*PromoteResult, error) {
	if req.RunID == "" {
		return nil, apperrors.New(apperrors.KindInvalidInput, "run id must not be empty")
	}
	run, err := LoadRun(p.opts.RunsDir, req.RunID)
	if err != nil {
		return nil, err
	}

	baseline, err := p.loadBaseline()
	if err != nil {
		return nil, err
	}
	if run.Score <= baseline.Score+p.opts.Epsilon {
		return nil, apperrors.Newf(apperrors.KindPromotionRefused,
			"run %s scored %.4f, needs more than %.4f (baseline %.4f + epsilon %.4f)",
			run.ID, run.Score, baseline.Score+p.opts.Epsilon, baseline.Score, p.opts.Epsilon)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fingerprint, err := p.installAdapter(run.AdapterPath)
	if err != nil {
		return nil, err
	}

	newBaseline := Baseline{
		Metric:     run.Metric,
		Score:      run.Score,
		RunID:      run.ID,
		PromotedAt: time.Now().UTC(),
	}
	if err := p.saveBaseline(newBaseline); err != nil {
		return nil, err
	}

	if p.opts.Manifests != nil && req.CorpusID != "" {
		if err := p.updateManifest(req.CorpusID, fingerprint, newBaseline.PromotedAt); err != nil {
			return nil, err
		}
	}

	p.log.Info("adapter promoted",
		slog.String("run_id", run.ID),
		slog.String("fingerprint", fingerprint),
		slog.Float64("score", run.Score),
		slog.Float64("baseline", baseline.Score))

	return &PromoteResult{
		RunID:         run.ID,
		Fingerprint:   fingerprint,
		Score:         run.Score,
		BaselineScore: baseline.Score,
		AdapterPath:   p.opts.ActiveAdapterPath,
	}, nil
}

// installAdapter copies the run adapter into place with a stage and
// rename, so the reranker's watcher only ever sees a complete file.
func (p *Promoter) installAdapter(src string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindNotFound, "open run adapter", err)
	}
	defer in.Close()

	dst := p.opts.ActiveAdapterPath
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", apperrors.Wrap(apperrors.KindInternal, "create adapters directory", err)
	}

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindInternal, "stage adapter", err)
	}
	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(out, h), in); err != nil {
		out.Close()
		os.Remove(tmp)
		return "", apperrors.Wrap(apperrors.KindInternal, "copy adapter", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return "", apperrors.Wrap(apperrors.KindInternal, "flush staged adapter", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return "", apperrors.Wrap(apperrors.KindInternal, "activate adapter", err)
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}

func (p *Promoter) updateManifest(corpusID, fingerprint string, promotedAt time.Time) error {
	m, err := p.opts.Manifests.Load(corpusID)
	if err != nil {
		if os.IsNotExist(err) {
			return apperrors.Newf(apperrors.KindNotFound, "corpus %q has no index", corpusID)
		}
		return err
	}
	m.Adapter = &manifest.AdapterPointer{
		Path:        p.opts.ActiveAdapterPath,
		Fingerprint: fingerprint,
		PromotedAt:  promotedAt.Format(time.RFC3339),
	}
	return p.opts.Manifests.Save(m)
}

func (p *Promoter) baselinePath() string {
	return filepath.Join(p.opts.AdaptersDir, baselineFileName)
}

func (p *Promoter) loadBaseline() (Baseline, error) {
	data, err := os.ReadFile(p.baselinePath())
	if err != nil {
		if os.IsNotExist(err) {
			return Baseline{}, nil
		}
		return Baseline{}, apperrors.Wrap(apperrors.KindInternal, "read baseline", err)
	}
	var b Baseline
	if err := json.Unmarshal(data, &b); err != nil {
		return Baseline{}, apperrors.Wrap(apperrors.KindInternal, "decode baseline", err)
	}
	return b, nil
}

func (p *Promoter) saveBaseline(b Baseline) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "encode baseline", err)
	}
	if err := os.MkdirAll(p.opts.AdaptersDir, 0o755); err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "create adapters directory", err)
	}
	tmp := p.baselinePath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "stage baseline", err)
	}
	if err := os.Rename(tmp, p.baselinePath()); err != nil {
		os.Remove(tmp)
		return apperrors.Wrap(apperrors.KindInternal, "write baseline", err)
	}
	return nil
}

// CurrentBaseline exposes the stored baseline for status reporting.
func (p *Promoter) CurrentBaseline() (Baseline, error) {
	return p.loadBaseline()
}

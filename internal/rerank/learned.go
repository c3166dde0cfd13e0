package rerank

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tribridrag/tribridrag/internal/config"
	apperrors "github.com/tribridrag/tribridrag/internal/errors"
)

// LearnedReranker layers a trained adapter over the base cross-encoder.
// The adapter file is watched; when its fingerprint changes and the
// minimum reload interval has passed, a new handle is staged and the
// active pointer swapped. In-flight requests finish on the handle they
// started with. An idle timer drops the active handle after a quiet
// period; the next request cold-loads through a single-flight slot so
// concurrent arrivals share one load.
type LearnedReranker struct {
	scorer            *scorerClient
	adapterPath       string
	topN              int
	minReloadInterval time.Duration
	unloadAfter       time.Duration
	log               *slog.Logger

	watcher   *adapterWatcher
	loadGroup singleflight.Group

	mu         sync.Mutex
	active     *adapterHandle
	lastReload time.Time
	idleTimer  *time.Timer
	closed     bool
}

func NewLearnedReranker(cfg config.RerankerConfig, log *slog.Logger) (*LearnedReranker, error) {
	if cfg.AdapterPath == "" {
		return nil, apperrors.New(apperrors.KindConfig, "learned reranker requires adapter_path")
	}
	r := &LearnedReranker{
		scorer:            newScorerClient(cfg.LocalEndpoint, cfg.LocalModel, cfg.BatchSize, cfg.MaxLength, cfg.Timeout),
		adapterPath:       cfg.AdapterPath,
		topN:              cfg.TopN,
		minReloadInterval: cfg.MinReloadInterval,
		unloadAfter:       cfg.UnloadAfter,
		log:               log,
	}
	r.watcher = newAdapterWatcher(cfg.AdapterPath, cfg.ReloadPeriod, r.maybeReload, log)
	r.watcher.start()
	return r, nil
}

func (r *LearnedReranker) Mode() string { return ModeLearned }

func (r *LearnedReranker) Rerank(ctx context.Context, query string, docs []Document) (*Output, error) {
	handle, err := r.acquireHandle(ctx)
	if err != nil {
		return nil, err
	}
	defer handle.release()
	defer r.touchIdle()

	if len(docs) == 0 {
		return &Output{Version: handle.fingerprint}, nil
	}
	contents := make([]string, len(docs))
	for i, d := range docs {
		contents[i] = d.Content
	}
	scores, err := r.scorer.score(ctx, query, contents, handle.path)
	if err != nil {
		return nil, err
	}
	return &Output{Scores: rankByScore(docs, scores, r.topN), Version: handle.fingerprint}, nil
}

// acquireHandle returns a referenced adapter handle, cold-loading when
// nothing is active. The retry covers the narrow race where an idle
// unload retires the handle between load and acquire.
func (r *LearnedReranker) acquireHandle(ctx context.Context) (*adapterHandle, error) {
	for attempt := 0; attempt < 3; attempt++ {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, apperrors.New(apperrors.KindInternal, "reranker is closed")
		}
		if h := r.active; h != nil && h.acquire() {
			r.mu.Unlock()
			return h, nil
		}
		r.mu.Unlock()

		loaded, err := r.coldLoad(ctx)
		if err != nil {
			return nil, err
		}
		if loaded.acquire() {
			return loaded, nil
		}
	}
	return nil, apperrors.New(apperrors.KindRerankerUnavailable, "adapter unloaded during acquisition")
}

// coldLoad loads the adapter once no matter how many requests arrive
// while nothing is active; late arrivals wait on the same flight.
func (r *LearnedReranker) coldLoad(ctx context.Context) (*adapterHandle, error) {
	ch := r.loadGroup.DoChan("load", func() (any, error) {
		return r.load()
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*adapterHandle), nil
	}
}

func (r *LearnedReranker) load() (*adapterHandle, error) {
	fp, err := fingerprintFile(r.adapterPath)
	if err != nil {
		return nil, err
	}
	handle := newAdapterHandle(r.adapterPath, fp, func() {
		r.log.Debug("adapter weights released", slog.String("fingerprint", fp))
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		handle.retire()
		return nil, apperrors.New(apperrors.KindInternal, "reranker is closed")
	}
	if r.active != nil {
		// Another path installed a handle while we loaded.
		handle.retire()
		return r.active, nil
	}
	r.active = handle
	r.lastReload = time.Now()
	r.log.Info("adapter loaded", slog.String("fingerprint", fp))
	return handle, nil
}

// maybeReload is the watcher callback: stage the new version, swap the
// active pointer, retire the old handle.
func (r *LearnedReranker) maybeReload() {
	r.mu.Lock()
	if r.closed || r.active == nil {
		r.mu.Unlock()
		return
	}
	if time.Since(r.lastReload) < r.minReloadInterval {
		r.mu.Unlock()
		return
	}
	current := r.active.fingerprint
	r.mu.Unlock()

	fp, err := fingerprintFile(r.adapterPath)
	if err != nil {
		// The file may be mid-rename during a promote; the next tick
		// sees the settled version.
		r.log.Warn("adapter fingerprint check failed", slog.String("error", err.Error()))
		return
	}
	if fp == current {
		return
	}

	staged := newAdapterHandle(r.adapterPath, fp, func() {
		r.log.Debug("adapter weights released", slog.String("fingerprint", fp))
	})

	r.mu.Lock()
	if r.closed || r.active == nil || r.active.fingerprint == fp {
		r.mu.Unlock()
		staged.retire()
		return
	}
	old := r.active
	r.active = staged
	r.lastReload = time.Now()
	r.mu.Unlock()

	old.retire()
	r.log.Info("adapter hot-reloaded",
		slog.String("old_fingerprint", current),
		slog.String("new_fingerprint", fp))
}

// touchIdle restarts the idle unload clock after each request.
func (r *LearnedReranker) touchIdle() {
	if r.unloadAfter <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if r.idleTimer != nil {
		r.idleTimer.Stop()
	}
	r.idleTimer = time.AfterFunc(r.unloadAfter, r.idleUnload)
}

func (r *LearnedReranker) idleUnload() {
	r.mu.Lock()
	if r.closed || r.active == nil {
		r.mu.Unlock()
		return
	}
	old := r.active
	r.active = nil
	r.mu.Unlock()

	old.retire()
	r.log.Info("adapter unloaded after idle period",
		slog.String("fingerprint", old.fingerprint))
}

func (r *LearnedReranker) Close() error {
	r.watcher.stop()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	if r.idleTimer != nil {
		r.idleTimer.Stop()
	}
	old := r.active
	r.active = nil
	r.mu.Unlock()

	if old != nil {
		old.retire()
	}
	return nil
}

// Fingerprint reports the active adapter version, empty when unloaded.
func (r *LearnedReranker) Fingerprint() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return ""
	}
	return r.active.fingerprint
}

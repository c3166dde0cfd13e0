package learning

import (
	"context"
	"log/slog"
	"time"

	apperrors "github.com/tribridrag/tribridrag/internal/errors"
	"github.com/tribridrag/tribridrag/internal/store"
)

const (
	defaultWorkerInterval = time.Hour
	defaultMinTriplets    = 32
)

// Worker is the per-installation background learning loop: it
// periodically mines the event log and, once enough triplets exist,
// runs training. It records runs but never promotes them; promotion
// stays an explicit operator action.
type Worker struct {
	miner    *Miner
	trainer  *Trainer
	interval time.Duration

	// minTriplets is the smallest triplet file worth a training run.
	minTriplets int
	log         *slog.Logger
}

// WorkerOptions configures the learning loop.
type WorkerOptions struct {
	Miner       *Miner
	Trainer     *Trainer
	Interval    time.Duration
	MinTriplets int
	Logger      *slog.Logger
}

func NewWorker(opts WorkerOptions) (*Worker, error) {
	if opts.Miner == nil {
		return nil, apperrors.New(apperrors.KindConfig, "learning worker requires a miner")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultWorkerInterval
	}
	if opts.MinTriplets <= 0 {
		opts.MinTriplets = defaultMinTriplets
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Worker{
		miner:       opts.Miner,
		trainer:     opts.Trainer,
		interval:    opts.Interval,
		minTriplets: opts.MinTriplets,
		log:         opts.Logger,
	}, nil
}

// Run blocks until ctx ends, executing one cycle per interval. Cycle
// errors are logged, not fatal; the loop keeps going.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Cycle(ctx); err != nil && ctx.Err() == nil {
				w.log.Warn("learning cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Cycle runs one mine-then-maybe-train pass.
func (w *Worker) Cycle(ctx context.Context) error {
	res, err := w.miner.Mine(ctx)
	if err != nil {
		return err
	}
	if w.trainer == nil {
		return nil
	}

	triplets, err := ReadTriplets(w.miner.opts.TripletsPath)
	if err != nil {
		return err
	}
	if len(triplets) < w.minTriplets {
		w.log.Debug("not enough triplets to train",
			slog.Int("have", len(triplets)),
			slog.Int("need", w.minTriplets),
			slog.Int("mined_this_cycle", res.TripletsMined))
		return nil
	}

	run, err := w.trainer.Train(ctx)
	if err != nil {
		return err
	}
	w.log.Info("training run recorded, awaiting explicit promote",
		slog.String("run_id", run.ID),
		slog.Float64("score", run.Score))
	return nil
}

// StoreResolver adapts a chunk store to the miner's resolver contract.
type StoreResolver struct {
	Chunks store.ChunkStore
}

func (r StoreResolver) ResolveChunks(ctx context.Context, ids []string) (map[string]bool, error) {
	chunks, err := r.Chunks.GetChunks(ctx, ids)
	if err != nil {
		return nil, err
	}
	live := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		live[c.ID] = true
	}
	return live, nil
}

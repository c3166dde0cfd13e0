package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tribridrag/tribridrag/internal/indexer"
	"github.com/tribridrag/tribridrag/internal/learning"
	"github.com/tribridrag/tribridrag/internal/output"
	"github.com/tribridrag/tribridrag/internal/store"
)

type trainOptions struct {
	corpusID string
	mineOnly bool
}

func newTrainCmd() *cobra.Command {
	opts := trainOptions{}

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Mine triplets from usage events and train an adapter",
		Long: `Mines training triplets from the usage event log, then asks the
training service to fit a reranker adapter on them. The resulting run
is recorded but not served; promote it with 'tribridrag promote'.

Examples:
  tribridrag train --corpus myproject
  tribridrag train --mine-only`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTrain(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.corpusID, "corpus", "c", "", "Corpus used to drop triplets whose chunks no longer exist")
	cmd.Flags().BoolVar(&opts.mineOnly, "mine-only", false, "Mine triplets without contacting the training service")
	return cmd
}

func runTrain(cmd *cobra.Command, opts trainOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, cleanup := setupLogging(cfg)
	defer cleanup()

	out := output.New(cmd.OutOrStdout())
	ctx := cmd.Context()

	minerOpts := learning.MinerOptions{
		EventLogPath:        cfg.Learning.EventLogPath,
		TripletsPath:        cfg.Learning.TripletsPath,
		Mode:                cfg.Learning.MineMode,
		PreserveOnEmpty:     cfg.Learning.PreserveExistingOnEmpty,
		ConfidenceThreshold: cfg.Learning.ConfidenceThreshold,
		Logger:              log,
	}
	if opts.corpusID != "" {
		chunks, err := store.NewSQLiteChunkStore(indexer.ChunkStorePath(cfg.CorpusDir(opts.corpusID)))
		if err != nil {
			return err
		}
		defer chunks.Close()
		minerOpts.Resolver = learning.StoreResolver{Chunks: chunks}
	}

	miner, err := learning.NewMiner(minerOpts)
	if err != nil {
		return err
	}
	mined, err := miner.Mine(ctx)
	if err != nil {
		return err
	}
	if mined.PreservedExisting {
		out.Warning("No triplets mined, kept existing triplet file")
	} else {
		out.Statusf("⛏️", "Mined %d triplets from %d events (%d discarded)",
			mined.TripletsMined, mined.EventsRead, mined.TripletsDiscarded)
	}

	if opts.mineOnly {
		return nil
	}

	trainer, err := learning.NewTrainer(learning.TrainerOptions{
		Endpoint:     cfg.Learning.TrainerEndpoint,
		RunsDir:      cfg.Learning.RunsDir,
		TripletsPath: cfg.Learning.TripletsPath,
		BaseModel:    cfg.Reranker.LocalModel,
		Logger:       log,
	})
	if err != nil {
		return err
	}

	out.Status("🏋️", "Training adapter, this can take a while")
	run, err := trainer.Train(ctx)
	if err != nil {
		return err
	}

	out.Successf("Run %s complete: %s=%.4f on %d triplets", run.ID, run.Metric, run.Score, run.TripletCount)
	out.Status("", fmt.Sprintf("Promote with: tribridrag promote %s", run.ID))
	return nil
}

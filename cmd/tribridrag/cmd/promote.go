package cmd

import (
	"github.com/spf13/cobra"

	apperrors "github.com/tribridrag/tribridrag/internal/errors"
	"github.com/tribridrag/tribridrag/internal/learning"
	"github.com/tribridrag/tribridrag/internal/manifest"
	"github.com/tribridrag/tribridrag/internal/output"
)

func newPromoteCmd() *cobra.Command {
	var corpusID string

	cmd := &cobra.Command{
		Use:   "promote <run-id>",
		Short: "Promote a training run's adapter into service",
		Long: `Compares the run's evaluation score against the current baseline
and, if it improves by at least the configured epsilon, swaps the
adapter into place atomically. A serving learned reranker picks the
new adapter up on its next reload; no restart is needed.

Examples:
  tribridrag promote 7b1c9e2a-01f3-4f6e-b2aa-3d1c8a90de44
  tribridrag promote <run-id> --corpus myproject`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPromote(cmd, args[0], corpusID)
		},
	}

	cmd.Flags().StringVarP(&corpusID, "corpus", "c", "", "Corpus whose manifest records the new adapter pointer")
	return cmd
}

func runPromote(cmd *cobra.Command, runID, corpusID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, cleanup := setupLogging(cfg)
	defer cleanup()

	manifests, err := manifest.NewStore(cfg.ManifestsDir())
	if err != nil {
		return err
	}
	promoter, err := learning.NewPromoter(learning.PromoterOptions{
		RunsDir:           cfg.Learning.RunsDir,
		AdaptersDir:       cfg.Learning.AdaptersDir,
		ActiveAdapterPath: cfg.Reranker.AdapterPath,
		Epsilon:           cfg.Learning.PromoteEpsilon,
		Manifests:         manifests,
		Logger:            log,
	})
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	res, err := promoter.Promote(cmd.Context(), learning.PromoteRequest{
		RunID:    runID,
		CorpusID: corpusID,
	})
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindPromotionRefused {
			out.Warningf("Promotion refused: %v", err)
			out.Status("", "The current adapter stays in service")
			return nil
		}
		return err
	}

	out.Successf("Promoted run %s (score %.4f over baseline %.4f)", res.RunID, res.Score, res.BaselineScore)
	out.Statusf("", "Adapter %s installed at %s", res.Fingerprint, res.AdapterPath)
	return nil
}

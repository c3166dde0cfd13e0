package cmd

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tribridrag/tribridrag/internal/config"
	"github.com/tribridrag/tribridrag/internal/indexer"
	"github.com/tribridrag/tribridrag/internal/learning"
	"github.com/tribridrag/tribridrag/internal/manifest"
	"github.com/tribridrag/tribridrag/internal/output"
)

// corpusStatus is the status listing row for one corpus.
type corpusStatus struct {
	CorpusID    string `json:"corpus_id"`
	BuildStatus string `json:"build_status"`
	Files       int    `json:"files"`
	Chunks      int    `json:"chunks"`
	Entities    int    `json:"entities"`
	Dimension   int    `json:"dimension"`
	Model       string `json:"model"`
	LastBuilt   string `json:"last_built,omitempty"`
	Adapter     string `json:"adapter,omitempty"`
	BuildError  string `json:"build_error,omitempty"`
}

func newStatusCmd() *cobra.Command {
	var (
		jsonOutput bool
		corpusID   string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show indexed corpora and the learning baseline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			_, cleanup := setupLogging(cfg)
			defer cleanup()

			if corpusID != "" {
				return printCorpusStats(cmd, cfg, corpusID)
			}

			statuses, err := collectStatuses(cfg.ManifestsDir())
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(statuses)
			}

			out := output.New(cmd.OutOrStdout())
			if len(statuses) == 0 {
				out.Warning("No corpora indexed. Run 'tribridrag index <path>' first.")
				return nil
			}
			for _, s := range statuses {
				out.Statusf(statusIcon(s.BuildStatus), "%s: %s", s.CorpusID, s.BuildStatus)
				out.Statusf("", "%d files, %d chunks, %d entities (%s, %d dims)",
					s.Files, s.Chunks, s.Entities, s.Model, s.Dimension)
				if s.Adapter != "" {
					out.Statusf("", "adapter %s", s.Adapter)
				}
				if s.BuildError != "" {
					out.Errorf("last build: %s", s.BuildError)
				}
			}

			printBaseline(out, cfg.Learning.AdaptersDir, cfg.Learning.RunsDir)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	cmd.Flags().StringVarP(&corpusID, "corpus", "c", "", "Show live store statistics for one corpus")
	return cmd
}

// printCorpusStats opens the corpus stores and reports their live counts,
// which can disagree with the manifest after a crashed or cancelled build.
func printCorpusStats(cmd *cobra.Command, cfg *config.Config, corpusID string) error {
	ctx := cmd.Context()

	manifests, err := manifest.NewStore(cfg.ManifestsDir())
	if err != nil {
		return err
	}
	m, err := manifests.Load(corpusID)
	if err != nil {
		return err
	}

	stores, err := indexer.OpenStores(ctx, cfg, corpusID, m.EmbeddingDimension)
	if err != nil {
		return err
	}
	defer stores.Close()

	out := output.New(cmd.OutOrStdout())
	out.Statusf(statusIcon(string(m.BuildStatus)), "%s: %s", m.CorpusID, m.BuildStatus)

	if cs, err := stores.Chunks.Stats(ctx); err == nil {
		out.Statusf("", "chunk store: %d files, %d chunks, %d embeddings",
			cs.FileCount, cs.ChunkCount, cs.EmbeddingCount)
	}
	if ss, err := stores.Sparse.Stats(); err == nil {
		out.Statusf("", "sparse index: %d documents", ss.DocumentCount)
	}
	out.Statusf("", "vector index: %d vectors (%d dims)", stores.Vector.Count(), stores.Vector.Dimensions())
	if gs, err := stores.Graph.Stats(ctx, corpusID); err == nil {
		out.Statusf("", "graph: %d entities, %d relationships, %d communities",
			gs.EntityCount, gs.RelationshipCount, gs.CommunityCount)
	}
	return nil
}

func collectStatuses(manifestsDir string) ([]corpusStatus, error) {
	store, err := manifest.NewStore(manifestsDir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(manifestsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var statuses []corpusStatus
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		m, err := store.Load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		s := corpusStatus{
			CorpusID:    m.CorpusID,
			BuildStatus: string(m.BuildStatus),
			Files:       m.FileCount,
			Chunks:      m.ChunkCount,
			Entities:    m.EntityCount,
			Dimension:   m.EmbeddingDimension,
			Model:       m.EmbeddingModel,
			BuildError:  m.BuildError,
		}
		if !m.UpdatedAt.IsZero() {
			s.LastBuilt = m.UpdatedAt.Format(time.RFC3339)
		}
		if m.Adapter != nil {
			s.Adapter = m.Adapter.Fingerprint
		}
		statuses = append(statuses, s)
	}
	return statuses, nil
}

func printBaseline(out *output.Writer, adaptersDir, runsDir string) {
	p, err := learning.NewPromoter(learning.PromoterOptions{
		RunsDir:     runsDir,
		AdaptersDir: adaptersDir,
	})
	if err != nil {
		return
	}
	baseline, err := p.CurrentBaseline()
	if err != nil || baseline.RunID == "" {
		return
	}
	out.Newline()
	out.Statusf("", "active adapter from run %s (%s %.4f, promoted %s)",
		baseline.RunID, baseline.Metric, baseline.Score,
		baseline.PromotedAt.Format(time.RFC3339))
}

func statusIcon(status string) string {
	switch status {
	case string(manifest.StatusComplete):
		return "✅"
	case string(manifest.StatusBuilding):
		return "⏳"
	case string(manifest.StatusError):
		return "❌"
	default:
		return "•"
	}
}

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tribridrag/tribridrag/internal/indexer"
	"github.com/tribridrag/tribridrag/internal/output"
)

func newIndexCmd() *cobra.Command {
	var (
		corpusID string
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Build or update a corpus index",
		Long: `Index a source tree for tri-brid search.

Scans files, chunks code, generates embeddings, builds the sparse and
vector indexes, and extracts the entity graph. Unchanged files are
skipped on rebuilds; use --force to discard the existing index and
rebuild from scratch (required after changing the embedding model).

Examples:
  tribridrag index .
  tribridrag index ~/src/myproject --corpus myproject
  tribridrag index . --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			root, err := filepath.Abs(path)
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}
			if corpusID == "" {
				corpusID = filepath.Base(root)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, cleanup := setupLogging(cfg)
			defer cleanup()

			out := output.New(cmd.OutOrStdout())
			out.Statusf("📂", "Indexing %s as corpus %q", root, corpusID)

			ix, err := indexer.New(indexer.Options{
				Config: cfg,
				Logger: log,
				Progress: func(p indexer.Progress) {
					switch p.Stage {
					case "chunking":
						if p.FilesSeen > 0 {
							out.Progress(p.FilesChanged, p.FilesSeen, fmt.Sprintf("%d chunks", p.ChunksWritten))
						}
					case "graph":
						out.Status("", "building entity graph")
					case "finalizing":
						out.ProgressDone()
					}
				},
			})
			if err != nil {
				return err
			}

			result, err := ix.Build(ctx, indexer.BuildRequest{
				CorpusID: corpusID,
				Root:     root,
				Force:    force,
			})
			if err != nil {
				return err
			}

			out.Successf("Indexed %d files (%d changed, %d removed) in %s",
				result.FilesSeen, result.FilesChanged, result.FilesRemoved,
				result.Duration.Round(time.Millisecond))
			out.Statusf("", "%d chunks written, %d entities, %d communities",
				result.ChunksWritten, result.EntityCount, result.CommunityCount)
			return nil
		},
	}

	cmd.Flags().StringVar(&corpusID, "corpus", "", "Corpus ID (defaults to the directory name)")
	cmd.Flags().BoolVar(&force, "force", false, "Discard the existing index and rebuild")

	return cmd
}

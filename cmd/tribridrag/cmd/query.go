package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tribridrag/tribridrag/internal/config"
	"github.com/tribridrag/tribridrag/internal/embed"
	"github.com/tribridrag/tribridrag/internal/learning"
	"github.com/tribridrag/tribridrag/internal/output"
	"github.com/tribridrag/tribridrag/internal/rerank"
	"github.com/tribridrag/tribridrag/internal/retrieval"
)

// queryOptions holds CLI flags for query.
type queryOptions struct {
	corpusID string
	topK     int
	format   string
	noVector bool
	noSparse bool
	noGraph  bool
}

func newQueryCmd() *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Search an indexed corpus",
		Long: `Search a corpus with tri-brid retrieval.

Dense vector, sparse BM25, and graph-walk retrievers run in parallel
and their rankings are fused. Use the --no-* flags to disable
individual modalities for one query.

Examples:
  tribridrag query "token refresh flow" --corpus myproject
  tribridrag query "ParseConfig" --corpus myproject --no-vector
  tribridrag query "retry backoff" --corpus myproject --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.corpusID == "" {
				return fmt.Errorf("--corpus is required")
			}
			return runQuery(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVar(&opts.corpusID, "corpus", "", "Corpus ID to search")
	cmd.Flags().IntVarP(&opts.topK, "top-k", "n", 0, "Maximum number of results (0 = config default)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.noVector, "no-vector", false, "Disable the dense vector retriever")
	cmd.Flags().BoolVar(&opts.noSparse, "no-sparse", false, "Disable the sparse BM25 retriever")
	cmd.Flags().BoolVar(&opts.noGraph, "no-graph", false, "Disable the graph retriever")

	return cmd
}

func runQuery(ctx context.Context, cmd *cobra.Command, query string, opts queryOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, cleanup := setupLogging(cfg)
	defer cleanup()

	embedder, err := embed.New(cfg.Embedding, log)
	if err != nil {
		return err
	}

	reranker, err := rerank.New(cfg.Reranker, log)
	if err != nil {
		return err
	}
	defer reranker.Close()

	o, err := retrieval.NewOrchestrator(cfg, embedder, reranker, log)
	if err != nil {
		return err
	}
	defer o.Close()

	req := retrieval.Request{CorpusID: opts.corpusID, Query: query, TopK: opts.topK}
	off := false
	if opts.noVector {
		req.IncludeVector = &off
	}
	if opts.noSparse {
		req.IncludeSparse = &off
	}
	if opts.noGraph {
		req.IncludeGraph = &off
	}

	resp, err := o.Search(ctx, req)
	if err != nil {
		return err
	}

	recordSearchEvent(ctx, cfg, log, opts.corpusID, query, resp)

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	printMatches(output.New(cmd.OutOrStdout()), resp)
	return nil
}

func printMatches(out *output.Writer, resp *retrieval.Response) {
	if len(resp.Matches) == 0 {
		out.Warning("No results")
		return
	}
	for i, m := range resp.Matches {
		if m.Chunk != nil {
			out.Statusf("", "%2d. %s:%d-%d  (%.4f, %s)",
				i+1, m.Chunk.FilePath, m.Chunk.StartLine, m.Chunk.EndLine,
				m.Score, strings.Join(m.Sources, "+"))
			out.Code(snippet(m.Chunk.Content, 5))
			continue
		}
		title := m.Metadata["title"]
		out.Statusf("", "%2d. %s  (%.4f, %s)", i+1, title, m.Score, strings.Join(m.Sources, "+"))
		out.Code(snippet(m.Metadata["summary"], 3))
	}
	status := fmt.Sprintf("%d results in %s (fusion %s, reranker %s)",
		len(resp.Matches), resp.Latency.Round(time.Millisecond),
		resp.FusionMethod, resp.RerankerMode)
	if resp.Degraded {
		out.Warning(status)
	} else {
		out.Status("", status)
	}
}

// recordSearchEvent feeds the learning loop. Failures here never fail
// the query.
func recordSearchEvent(ctx context.Context, cfg *config.Config, log *slog.Logger, corpusID, query string, resp *retrieval.Response) {
	if !cfg.Learning.Enabled {
		return
	}
	eventLog, err := learning.OpenEventLog(cfg.Learning.EventLogPath)
	if err != nil {
		log.Warn("event log unavailable", slog.String("error", err.Error()))
		return
	}
	defer eventLog.Close()

	var top []string
	for _, m := range resp.Matches {
		top = append(top, m.ChunkID)
	}
	if err := eventLog.Append(ctx, learning.Event{
		Kind:      learning.EventSearch,
		CorpusID:  corpusID,
		Query:     query,
		TopChunks: top,
	}); err != nil {
		log.Warn("failed to record search event", slog.String("error", err.Error()))
	}
}

func snippet(content string, maxLines int) string {
	lines := strings.Split(content, "\n")
	if len(lines) > maxLines {
		lines = append(lines[:maxLines], "…")
	}
	return strings.Join(lines, "\n")
}

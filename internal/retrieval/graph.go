package retrieval

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/tribridrag/tribridrag/internal/embed"
	"github.com/tribridrag/tribridrag/internal/graph"
	"github.com/tribridrag/tribridrag/internal/store"
)

const (
	maxSeedTokens      = 8
	seedsPerToken      = 5
	embeddingSeedLimit = 5
)

// GraphRetriever walks the entity graph from query-derived seeds and
// maps reached entities back to chunks. Seeds come from two places:
// case-insensitive name matches on query identifiers, and the symbols
// of the query's nearest chunks by embedding. Each chunk is scored by
// the best path weight reaching it.
type GraphRetriever struct {
	store              graph.GraphStore
	chunks             store.ChunkStore
	vector             store.VectorIndex
	embedder           embed.Embedder
	maxHops            int
	topK               int
	includeCommunities bool
}

func NewGraphRetriever(gs graph.GraphStore, chunks store.ChunkStore, vector store.VectorIndex, embedder embed.Embedder, maxHops, topK int, includeCommunities bool) *GraphRetriever {
	if maxHops <= 0 {
		maxHops = 2
	}
	if topK <= 0 {
		topK = 10
	}
	return &GraphRetriever{
		store:              gs,
		chunks:             chunks,
		vector:             vector,
		embedder:           embedder,
		maxHops:            maxHops,
		topK:               topK,
		includeCommunities: includeCommunities,
	}
}

func (r *GraphRetriever) Name() string { return ModalityGraph }

func (r *GraphRetriever) Retrieve(ctx context.Context, corpusID, query string) ([]Candidate, error) {
	seeds, err := r.seeds(ctx, corpusID, query)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return r.communityMatches(ctx, corpusID, query, nil)
	}

	hits, err := r.store.Walk(ctx, corpusID, seeds, r.maxHops)
	if err != nil {
		return nil, err
	}

	candidates, err := r.hitsToChunks(ctx, hits)
	if err != nil {
		return nil, err
	}
	return r.communityMatches(ctx, corpusID, query, candidates)
}

// seeds derives walk starting points from the query.
func (r *GraphRetriever) seeds(ctx context.Context, corpusID, query string) ([]graph.Seed, error) {
	byID := map[string]float64{}

	tokens := queryTokens(query)
	for _, tok := range tokens {
		entities, err := r.store.FindEntitiesByName(ctx, corpusID, tok, seedsPerToken)
		if err != nil {
			return nil, err
		}
		for _, e := range entities {
			if byID[e.ID] < 1.0 {
				byID[e.ID] = 1.0
			}
		}
	}

	if err := r.addEmbeddingSeeds(ctx, corpusID, query, byID); err != nil {
		return nil, err
	}

	seeds := make([]graph.Seed, 0, len(byID))
	for id, w := range byID {
		seeds = append(seeds, graph.Seed{EntityID: id, Weight: w})
	}
	sort.Slice(seeds, func(i, j int) bool { return seeds[i].EntityID < seeds[j].EntityID })
	return seeds, nil
}

// addEmbeddingSeeds seeds from the symbols of the chunks nearest the
// query embedding, weighted by chunk similarity.
func (r *GraphRetriever) addEmbeddingSeeds(ctx context.Context, corpusID, query string, byID map[string]float64) error {
	if r.embedder == nil || r.vector == nil {
		return nil
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		// Name seeds still work without the embedding; do not fail the
		// whole modality.
		return nil
	}
	hits, err := r.vector.Search(ctx, vec, embeddingSeedLimit)
	if err != nil || len(hits) == 0 {
		return nil
	}
	ids := make([]string, len(hits))
	simByID := make(map[string]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
		simByID[h.ChunkID] = float64(h.Score)
	}
	chunks, err := r.chunks.GetChunks(ctx, ids)
	if err != nil {
		return err
	}
	for _, c := range chunks {
		sim := simByID[c.ID]
		for _, sym := range c.Symbols {
			entities, err := r.store.FindEntitiesByName(ctx, corpusID, sym.Name, 1)
			if err != nil {
				return err
			}
			for _, e := range entities {
				if byID[e.ID] < sim {
					byID[e.ID] = sim
				}
			}
		}
	}
	return nil
}

// hitsToChunks maps walked entities back to the chunks that declare
// them. A chunk's score is the best path weight among the entities it
// covers.
func (r *GraphRetriever) hitsToChunks(ctx context.Context, hits []graph.WalkHit) ([]Candidate, error) {
	best := map[string]float64{}
	for _, hit := range hits {
		e := hit.Entity
		if e.FilePath == "" {
			continue
		}
		fileChunks, err := r.chunks.GetChunksByFile(ctx, e.FilePath)
		if err != nil {
			return nil, err
		}
		start, end, hasLines := entityLines(e)
		for _, c := range fileChunks {
			if hasLines && (c.EndLine < start || c.StartLine > end) {
				continue
			}
			if best[c.ID] < hit.PathWeight {
				best[c.ID] = hit.PathWeight
			}
			if !hasLines {
				// A module entity spans the whole file; its first chunk
				// stands in for it rather than flooding the list.
				break
			}
		}
	}

	candidates := make([]Candidate, 0, len(best))
	for id, score := range best {
		candidates = append(candidates, Candidate{ChunkID: id, Score: score})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ChunkID < candidates[j].ChunkID
	})
	if len(candidates) > r.topK {
		candidates = candidates[:r.topK]
	}
	for i := range candidates {
		candidates[i].Rank = i + 1
	}
	return candidates, nil
}

// communityMatches appends community summaries as virtual matches when
// a query token appears in the summary. Virtual matches rank after the
// chunk candidates and are tagged so downstream stages treat them as
// context, not code.
func (r *GraphRetriever) communityMatches(ctx context.Context, corpusID, query string, candidates []Candidate) ([]Candidate, error) {
	if !r.includeCommunities {
		return candidates, nil
	}
	communities, err := r.store.Communities(ctx, corpusID)
	if err != nil {
		return nil, err
	}
	tokens := queryTokens(query)
	for _, com := range communities {
		if !summaryMentions(com.Summary, tokens) {
			continue
		}
		candidates = append(candidates, Candidate{
			ChunkID: "community:" + com.ID,
			Score:   0.1,
			Rank:    len(candidates) + 1,
			Virtual: &VirtualDoc{
				Kind:    "community",
				Title:   "community " + com.ID,
				Content: com.Summary,
			},
		})
	}
	return candidates, nil
}

func summaryMentions(summary string, tokens []string) bool {
	lower := strings.ToLower(summary)
	for _, tok := range tokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

func entityLines(e graph.Entity) (int, int, bool) {
	start, err1 := strconv.Atoi(e.Properties["start_line"])
	end, err2 := strconv.Atoi(e.Properties["end_line"])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return start, end, true
}

// queryTokens extracts deduplicated lowercase identifiers from the
// query, capped so a verbose query cannot fan out unboundedly.
func queryTokens(query string) []string {
	raw := store.TokenizeCode(query)
	seen := map[string]struct{}{}
	var tokens []string
	for _, tok := range raw {
		tok = strings.ToLower(tok)
		if len(tok) < 3 {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		tokens = append(tokens, tok)
		if len(tokens) == maxSeedTokens {
			break
		}
	}
	return tokens
}

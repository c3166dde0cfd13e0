package retrieval

import (
	"context"
	"strconv"
	"strings"

	"github.com/tribridrag/tribridrag/internal/store"
)

// applyMaxPerFile caps how many chunks a single file contributes,
// keeping the highest-ranked ones. Virtual matches have no file and
// are never capped.
func applyMaxPerFile(matches []Match, maxPerFile int) []Match {
	if maxPerFile <= 0 {
		return matches
	}
	perFile := map[string]int{}
	kept := matches[:0]
	for _, m := range matches {
		if m.Chunk == nil {
			kept = append(kept, m)
			continue
		}
		if perFile[m.Chunk.FilePath] >= maxPerFile {
			continue
		}
		perFile[m.Chunk.FilePath]++
		kept = append(kept, m)
	}
	return kept
}

// applyMMR reorders matches by maximal marginal relevance: each step
// picks the match maximizing lambda*score - (1-lambda)*similarity to
// the already-selected set. Similarity is token-set Jaccard over chunk
// content, which diversifies without needing per-chunk vectors at
// query time.
func applyMMR(matches []Match, lambda float64) []Match {
	if len(matches) < 3 {
		return matches
	}
	if lambda <= 0 || lambda >= 1 {
		return matches
	}

	tokenSets := make([]map[string]struct{}, len(matches))
	for i, m := range matches {
		tokenSets[i] = contentTokens(m)
	}

	remaining := make([]int, len(matches))
	for i := range remaining {
		remaining[i] = i
	}
	selected := make([]Match, 0, len(matches))
	var selectedSets []map[string]struct{}

	for len(remaining) > 0 {
		bestPos, bestVal := 0, -1.0
		for pos, idx := range remaining {
			sim := 0.0
			for _, s := range selectedSets {
				if j := jaccard(tokenSets[idx], s); j > sim {
					sim = j
				}
			}
			val := lambda*matches[idx].Score - (1-lambda)*sim
			if val > bestVal {
				bestVal = val
				bestPos = pos
			}
		}
		idx := remaining[bestPos]
		selected = append(selected, matches[idx])
		selectedSets = append(selectedSets, tokenSets[idx])
		remaining = append(remaining[:bestPos], remaining[bestPos+1:]...)
	}
	return selected
}

func contentTokens(m Match) map[string]struct{} {
	var content string
	if m.Chunk != nil {
		content = m.Chunk.Content
	} else if m.Metadata != nil {
		content = m.Metadata["summary"]
	}
	set := map[string]struct{}{}
	for _, tok := range store.TokenizeCode(content) {
		set[strings.ToLower(tok)] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	var inter int
	for tok := range small {
		if _, ok := large[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// expandNeighbors appends same-file chunks adjacent to each final
// match, tagged with the match they contextualize via the neighbor_of
// metadata key. A neighbor carries its seed's sources so every emitted
// source stays within the retriever set; neighbors do not count
// against top_k and never displace a real match.
func expandNeighbors(ctx context.Context, chunks store.ChunkStore, matches []Match, window int) ([]Match, error) {
	if window <= 0 {
		return matches, nil
	}
	present := map[string]struct{}{}
	for _, m := range matches {
		present[m.ChunkID] = struct{}{}
	}
	expanded := matches
	for _, m := range matches {
		if m.Chunk == nil {
			continue
		}
		neighbors, err := chunks.Neighbors(ctx, m.ChunkID, window)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			if _, ok := present[n.ID]; ok {
				continue
			}
			present[n.ID] = struct{}{}
			expanded = append(expanded, Match{
				ChunkID:    n.ID,
				Chunk:      n,
				Score:      0,
				FusedScore: 0,
				Sources:    append([]string(nil), m.Sources...),
				Metadata: map[string]string{
					"neighbor_of": m.ChunkID,
					"distance":    strconv.Itoa(lineDistance(m, n.StartLine, n.EndLine)),
				},
			})
		}
	}
	return expanded, nil
}

func lineDistance(m Match, start, end int) int {
	if m.Chunk == nil {
		return 0
	}
	if end < m.Chunk.StartLine {
		return m.Chunk.StartLine - end
	}
	if start > m.Chunk.EndLine {
		return start - m.Chunk.EndLine
	}
	return 0
}

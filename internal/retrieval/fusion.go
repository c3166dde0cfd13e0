package retrieval

import (
	"sort"

	"github.com/tribridrag/tribridrag/internal/config"
)

// Fusion methods.
const (
	FusionRRF      = "rrf"
	FusionWeighted = "weighted"
)

const defaultRRFK = 60

// modalityResult is one retriever's contribution to fusion.
type modalityResult struct {
	name       string
	weight     float64
	candidates []Candidate
}

// fused is a combined candidate. FirstSeenRank is the best rank the
// chunk held in any retriever, taken in fixed modality order, and
// breaks score ties deterministically.
type fused struct {
	ChunkID       string
	Score         float64
	FirstSeenRank int
	Sources       []string
	Virtual       *VirtualDoc
}

// fuse combines the retriever lists into one ranked list truncated to
// finalK. Weights are renormalized so the participating modalities sum
// to one; a retriever that failed simply is not in lists.
func fuse(cfg config.FusionConfig, lists []modalityResult) []fused {
	if len(lists) == 0 {
		return nil
	}
	renormalize(lists)

	var combined map[string]*fused
	switch cfg.Method {
	case FusionWeighted:
		combined = fuseWeighted(lists)
	default:
		k := cfg.RRFK
		if k <= 0 {
			k = defaultRRFK
		}
		combined = fuseRRF(lists, k)
	}

	out := make([]fused, 0, len(combined))
	for _, f := range combined {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].FirstSeenRank != out[j].FirstSeenRank {
			return out[i].FirstSeenRank < out[j].FirstSeenRank
		}
		return out[i].ChunkID < out[j].ChunkID
	})

	finalK := cfg.FinalK
	if finalK > 0 && len(out) > finalK {
		out = out[:finalK]
	}
	return out
}

func renormalize(lists []modalityResult) {
	var total float64
	for _, l := range lists {
		total += l.weight
	}
	if total <= 0 {
		for i := range lists {
			lists[i].weight = 1.0 / float64(len(lists))
		}
		return
	}
	for i := range lists {
		lists[i].weight /= total
	}
}

// fuseRRF scores each chunk as the weighted sum of reciprocal ranks:
// w_i / (k + rank_i). A chunk absent from a retriever contributes
// nothing for that retriever.
func fuseRRF(lists []modalityResult, k int) map[string]*fused {
	combined := map[string]*fused{}
	for _, list := range lists {
		for _, c := range list.candidates {
			f := upsertFused(combined, c, list.name)
			f.Score += list.weight / float64(k+c.Rank)
		}
	}
	return combined
}

// fuseWeighted min-max normalizes each retriever's scores within its
// own list, then takes the weighted sum.
func fuseWeighted(lists []modalityResult) map[string]*fused {
	combined := map[string]*fused{}
	for _, list := range lists {
		lo, hi := scoreRange(list.candidates)
		for _, c := range list.candidates {
			norm := 1.0
			if hi > lo {
				norm = (c.Score - lo) / (hi - lo)
			}
			f := upsertFused(combined, c, list.name)
			f.Score += list.weight * norm
		}
	}
	return combined
}

func upsertFused(combined map[string]*fused, c Candidate, source string) *fused {
	f, ok := combined[c.ChunkID]
	if !ok {
		f = &fused{ChunkID: c.ChunkID, FirstSeenRank: c.Rank, Virtual: c.Virtual}
		combined[c.ChunkID] = f
	}
	if c.Rank < f.FirstSeenRank {
		f.FirstSeenRank = c.Rank
	}
	if f.Virtual == nil {
		f.Virtual = c.Virtual
	}
	f.Sources = append(f.Sources, source)
	return f
}

func scoreRange(candidates []Candidate) (float64, float64) {
	if len(candidates) == 0 {
		return 0, 0
	}
	lo, hi := candidates[0].Score, candidates[0].Score
	for _, c := range candidates[1:] {
		if c.Score < lo {
			lo = c.Score
		}
		if c.Score > hi {
			hi = c.Score
		}
	}
	return lo, hi
}

package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// minCommunitySize excludes singleton clusters from the result.
const minCommunitySize = 2

// maxLabelSweeps bounds label propagation; dense graphs converge in a
// handful of sweeps.
const maxLabelSweeps = 20

// DetectCommunities clusters the corpus graph with weighted label
// propagation. Iteration order is fixed, so the result is
// deterministic for a given graph.
func DetectCommunities(corpusID string, entities []Entity, rels []Relationship) []Community {
	if len(entities) == 0 {
		return nil
	}

	ids := make([]string, len(entities))
	for i := range entities {
		ids[i] = entities[i].ID
	}
	sort.Strings(ids)

	index := make(map[string]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}

	type edge struct {
		to     int
		weight float64
	}
	adj := make([][]edge, len(ids))
	for i := range rels {
		r := &rels[i]
		si, ok1 := index[r.SourceID]
		ti, ok2 := index[r.TargetID]
		if !ok1 || !ok2 || si == ti {
			continue
		}
		w := r.Weight
		if w <= 0 {
			continue
		}
		adj[si] = append(adj[si], edge{to: ti, weight: w})
		adj[ti] = append(adj[ti], edge{to: si, weight: w})
	}

	labels := make([]int, len(ids))
	for i := range labels {
		labels[i] = i
	}

	for sweep := 0; sweep < maxLabelSweeps; sweep++ {
		changed := false
		for i := range ids {
			if len(adj[i]) == 0 {
				continue
			}
			votes := make(map[int]float64)
			for _, e := range adj[i] {
				votes[labels[e.to]] += e.weight
			}
			best, bestWeight := labels[i], 0.0
			for label, weight := range votes {
				if weight > bestWeight || (weight == bestWeight && label < best) {
					best, bestWeight = label, weight
				}
			}
			if best != labels[i] {
				labels[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	groups := make(map[int][]string)
	for i, label := range labels {
		groups[label] = append(groups[label], ids[i])
	}

	var communities []Community
	for _, members := range groups {
		if len(members) < minCommunitySize {
			continue
		}
		sort.Strings(members)
		communities = append(communities, Community{
			ID:        communityID(corpusID, 0, members),
			CorpusID:  corpusID,
			Level:     0,
			MemberIDs: members,
		})
	}
	sort.Slice(communities, func(i, j int) bool { return communities[i].ID < communities[j].ID })
	return communities
}

// communityID derives a stable identifier from the sorted membership.
func communityID(corpusID string, level int, memberIDs []string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d", corpusID, level)
	for _, id := range memberIDs {
		fmt.Fprintf(h, "\x00%s", id)
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// maxSummaryNames bounds how many member names feed a summary.
const maxSummaryNames = 12

// summarizeCommunities fills in community summaries. The chat model
// sees member names only, never source text; without a chat model the
// summary is a plain name listing.
func summarizeCommunities(ctx context.Context, chat ChatModel, communities []Community, entitiesByID map[string]Entity, log *slog.Logger) {
	for i := range communities {
		c := &communities[i]
		names := make([]string, 0, len(c.MemberIDs))
		for _, id := range c.MemberIDs {
			if e, ok := entitiesByID[id]; ok {
				names = append(names, e.Name)
			}
			if len(names) == maxSummaryNames {
				break
			}
		}
		listing := strings.Join(names, ", ")
		if chat == nil {
			c.Summary = fmt.Sprintf("Cluster of %d entities: %s", len(c.MemberIDs), listing)
			continue
		}
		prompt := fmt.Sprintf(
			"In one sentence, describe the shared purpose of a code component whose members are named: %s. Respond with the sentence only.",
			listing)
		summary, err := chat.Generate(ctx, prompt)
		if err != nil {
			log.Warn("community summary generation failed, using name listing",
				slog.String("community_id", c.ID), slog.String("error", err.Error()))
			c.Summary = fmt.Sprintf("Cluster of %d entities: %s", len(c.MemberIDs), listing)
			continue
		}
		c.Summary = strings.TrimSpace(summary)
	}
}

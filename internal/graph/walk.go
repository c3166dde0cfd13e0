package graph

import (
	"context"
	"sort"
)

// neighborFunc returns every edge touching any of the given entity IDs.
type neighborFunc func(ctx context.Context, ids []string) ([]Relationship, error)

// edgeFactor maps an edge weight to a traversal multiplier in (0, 1).
// Heavier edges lose less score; every hop loses some, so nearer
// entities outrank distant ones on equal-weight paths.
func edgeFactor(weight float64) float64 {
	if weight < 0 {
		weight = 0
	}
	return weight / (1 + weight)
}

// boundedWalk performs the breadth-first expansion shared by both store
// backends. Each entity keeps the best path weight reaching it; an
// entity re-enters the frontier only when a better path is found.
func boundedWalk(ctx context.Context, seeds []Seed, maxHops int, neighbors neighborFunc) (map[string]WalkHit, error) {
	best := make(map[string]WalkHit, len(seeds))
	frontier := make([]string, 0, len(seeds))
	for _, s := range seeds {
		if s.EntityID == "" || s.Weight <= 0 {
			continue
		}
		if prev, ok := best[s.EntityID]; ok && prev.PathWeight >= s.Weight {
			continue
		}
		best[s.EntityID] = WalkHit{PathWeight: s.Weight, Hops: 0}
		frontier = append(frontier, s.EntityID)
	}

	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sort.Strings(frontier)
		edges, err := neighbors(ctx, frontier)
		if err != nil {
			return nil, err
		}

		// Expand only from the frontier as it stood at the start of the
		// hop, so one neighbors batch never chains two edges.
		origins := make(map[string]float64, len(frontier))
		for _, id := range frontier {
			origins[id] = best[id].PathWeight
		}

		next := make(map[string]struct{})
		for _, e := range edges {
			for _, step := range [2][2]string{{e.SourceID, e.TargetID}, {e.TargetID, e.SourceID}} {
				from, to := step[0], step[1]
				origin, ok := origins[from]
				if !ok {
					continue
				}
				score := origin * edgeFactor(e.Weight)
				if score <= 0 {
					continue
				}
				if prev, seen := best[to]; seen && prev.PathWeight >= score {
					continue
				}
				best[to] = WalkHit{PathWeight: score, Hops: hop}
				next[to] = struct{}{}
			}
		}

		frontier = frontier[:0]
		for id := range next {
			frontier = append(frontier, id)
		}
	}
	return best, nil
}

// sortHits orders walk hits by descending path weight, then ascending
// hops, then entity ID for determinism.
func sortHits(hits []WalkHit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].PathWeight != hits[j].PathWeight {
			return hits[i].PathWeight > hits[j].PathWeight
		}
		if hits[i].Hops != hits[j].Hops {
			return hits[i].Hops < hits[j].Hops
		}
		return hits[i].Entity.ID < hits[j].Entity.ID
	})
}

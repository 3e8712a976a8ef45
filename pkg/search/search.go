package search

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/abie0416/BiegeAI/pkg/common"
	"github.com/abie0416/BiegeAI/pkg/embed"
	"github.com/abie0416/BiegeAI/pkg/graph"
)

// Hit is one node returned by a search together with its score.
type Hit struct {
	Node  common.Node
	Score float64
	// Seed is set by GraphSearch for nodes selected by similarity rather
	// than by expansion.
	Seed bool
}

func sortHits(hits []Hit) {
	slices.SortStableFunc(hits, func(a, b Hit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Node.ID, b.Node.ID)
	})
}

// VectorSearch ranks the document nodes of g by cosine similarity to query
// and returns at most k of them. Equal scores are ordered by chunk id.
// Graph edges are ignored.
func VectorSearch(g *graph.Store, query []float32, k int) ([]Hit, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be at least 1, got %d", common.ErrInvalidConfig, k)
	}
	if g == nil {
		return nil, common.ErrGraphNotBuilt
	}

	var hits []Hit
	for _, n := range g.AllNodes() {
		if n.Kind != common.NodeDocument || len(n.Embedding) == 0 {
			continue
		}
		hits = append(hits, Hit{Node: n, Score: embed.Cosine(query, n.Embedding)})
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// SeedCount is the number of similarity seeds GraphSearch uses for maxNodes.
func SeedCount(maxNodes int) int {
	return max(1, maxNodes/2)
}

// GraphSearch selects the nodes most similar to query as seeds, expands
// every seed by one hop in both directions and scores each node as its
// similarity plus edgeBonus times the weight of the edges traversed to or
// from it. Seeds collect the weight of all their incident edges, expanded
// nodes only the weight of the edges linking them to a seed. The result is
// truncated to maxNodes in descending score order, ties by node id.
func GraphSearch(g *graph.Store, query []float32, maxNodes int, edgeBonus float64) ([]Hit, error) {
	if maxNodes < 1 {
		return nil, fmt.Errorf("%w: max nodes must be at least 1, got %d", common.ErrInvalidConfig, maxNodes)
	}
	if g == nil {
		return nil, common.ErrGraphNotBuilt
	}

	var ranked []Hit
	for _, n := range g.AllNodes() {
		if len(n.Embedding) == 0 {
			continue
		}
		ranked = append(ranked, Hit{Node: n, Score: embed.Cosine(query, n.Embedding)})
	}
	sortHits(ranked)

	seeds := ranked[:min(SeedCount(maxNodes), len(ranked))]
	sim := make(map[string]float64, len(ranked))
	for _, h := range ranked {
		sim[h.Node.ID] = h.Score
	}

	selected := make(map[string]*Hit, len(seeds))
	for _, s := range seeds {
		selected[s.Node.ID] = &Hit{Node: s.Node, Score: s.Score, Seed: true}
	}

	for _, s := range seeds {
		seed := selected[s.Node.ID]
		for _, nb := range g.Neighbors(s.Node.ID) {
			bonus := edgeBonus * nb.Edge.Weight
			seed.Score += bonus

			if other, ok := selected[nb.NodeID]; ok {
				if !other.Seed {
					other.Score += bonus
				}
				continue
			}
			node, ok := g.Node(nb.NodeID)
			if !ok {
				continue
			}
			selected[nb.NodeID] = &Hit{Node: node, Score: sim[nb.NodeID] + bonus}
		}
	}

	hits := make([]Hit, 0, len(selected))
	for _, h := range selected {
		hits = append(hits, *h)
	}
	sortHits(hits)
	if len(hits) > maxNodes {
		hits = hits[:maxNodes]
	}
	return hits, nil
}

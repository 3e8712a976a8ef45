package search

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/abie0416/BiegeAI/pkg/common"
	"github.com/abie0416/BiegeAI/pkg/graph"
	"github.com/abie0416/BiegeAI/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Options are the tunable ranking weights.
type Options struct {
	GraphWeight  float64
	VectorWeight float64
	EdgeBonus    float64
}

func DefaultOptions() Options {
	return Options{GraphWeight: 0.6, VectorWeight: 0.4, EdgeBonus: 0.1}
}

// Embedder embeds query text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Engine answers queries against whatever graph is active in its slot.
type Engine struct {
	slot     *graph.Slot
	embedder Embedder
	opts     Options
}

type NewEngineParams struct {
	Slot     *graph.Slot
	Embedder Embedder
	// Options defaults to DefaultOptions when all weights are zero.
	Options Options
}

func NewEngine(params NewEngineParams) *Engine {
	opts := params.Options
	if opts == (Options{}) {
		opts = DefaultOptions()
	}
	return &Engine{
		slot:     params.Slot,
		embedder: params.Embedder,
		opts:     opts,
	}
}

func degraded(query, reason string, t Tracer) common.SearchResponse {
	record(t, TraceEvent{Kind: TraceEventDegraded, Reason: reason})
	return common.SearchResponse{Query: query, Results: []common.SearchResult{}, Degraded: true, Reason: reason}
}

// HybridSearch is HybridSearchTraced without a tracer.
func (e *Engine) HybridSearch(ctx context.Context, query string, k int) (common.SearchResponse, error) {
	return e.HybridSearchTraced(ctx, query, k, nil)
}

// HybridSearchTraced returns the k chunks that best answer query. The query
// is embedded once and used for a graph search over 2k nodes and a vector
// search over k chunks, run concurrently. Entity hits credit their score to
// every chunk they were extracted from. Each side is min-max normalised and
// the two are blended with the configured weights.
//
// Only an invalid k or an empty query is reported as an error. A missing
// graph or an unavailable embedder yields an empty degraded response; a
// failing graph search yields degraded vector-only results.
func (e *Engine) HybridSearchTraced(ctx context.Context, query string, k int, t Tracer) (common.SearchResponse, error) {
	if k < 1 {
		return common.SearchResponse{}, fmt.Errorf("%w: k must be at least 1, got %d", common.ErrInvalidConfig, k)
	}
	if strings.TrimSpace(query) == "" {
		return common.SearchResponse{}, fmt.Errorf("%w: empty query", common.ErrInvalidConfig)
	}

	g := e.slot.Load()
	if g == nil {
		logger.Debug("[Search] No graph published", "query", query)
		return degraded(query, common.ErrGraphNotBuilt.Error(), t), nil
	}

	q, err := e.embedder.Embed(ctx, query)
	if err != nil {
		logger.Warn("[Search] Query embedding failed", "err", err)
		return degraded(query, err.Error(), t), nil
	}

	var graphHits, vectorHits []Hit
	var graphErr error
	eg := new(errgroup.Group)
	eg.Go(func() error {
		graphHits, graphErr = GraphSearch(g, q, 2*k, e.opts.EdgeBonus)
		return nil
	})
	eg.Go(func() error {
		var err error
		vectorHits, err = VectorSearch(g, q, k)
		return err
	})
	if err := eg.Wait(); err != nil {
		return degraded(query, err.Error(), t), nil
	}

	resp := common.SearchResponse{Query: query}
	if graphErr != nil {
		logger.Warn("[Search] Graph search failed, using vector results only", "err", graphErr)
		graphHits = nil
		resp.Degraded = true
		resp.Reason = graphErr.Error()
		record(t, TraceEvent{Kind: TraceEventDegraded, Reason: resp.Reason})
	}
	traceGraphHits(t, graphHits)

	resp.Results = e.rank(g, graphHits, vectorHits, k, t)
	logger.Debug("[Search] Hybrid search", "graph_id", g.ID(), "graph_hits", len(graphHits), "vector_hits", len(vectorHits), "results", len(resp.Results))
	return resp, nil
}

func traceGraphHits(t Tracer, hits []Hit) {
	if t == nil {
		return
	}
	var seeds, expanded []string
	for _, h := range hits {
		if h.Seed {
			seeds = append(seeds, h.Node.ID)
		} else {
			expanded = append(expanded, h.Node.ID)
		}
	}
	t.Record(TraceEvent{Kind: TraceEventSeedNodes, NodeIDs: seeds})
	t.Record(TraceEvent{Kind: TraceEventExpandedNodes, NodeIDs: expanded})
}

type candidate struct {
	chunkID  string
	doc      common.Node
	graph    float64
	vector   float64
	inGraph  bool
	inVector bool
	nodeIDs  []string
}

func (e *Engine) rank(g *graph.Store, graphHits, vectorHits []Hit, k int, t Tracer) []common.SearchResult {
	cands := make(map[string]*candidate)
	get := func(chunkID string) *candidate {
		if c, ok := cands[chunkID]; ok {
			return c
		}
		doc, ok := g.Node(common.DocumentNodeID(chunkID))
		if !ok || doc.Kind != common.NodeDocument {
			return nil
		}
		c := &candidate{chunkID: chunkID, doc: doc}
		cands[chunkID] = c
		return c
	}
	addNode := func(c *candidate, id string) {
		if !slices.Contains(c.nodeIDs, id) {
			c.nodeIDs = append(c.nodeIDs, id)
		}
	}

	for _, h := range graphHits {
		for _, chunkID := range h.Node.SourceChunkIDs {
			c := get(chunkID)
			if c == nil {
				continue
			}
			c.graph += h.Score
			c.inGraph = true
			addNode(c, h.Node.ID)
		}
	}
	for _, h := range vectorHits {
		if len(h.Node.SourceChunkIDs) == 0 {
			continue
		}
		c := get(h.Node.SourceChunkIDs[0])
		if c == nil {
			continue
		}
		c.vector = h.Score
		c.inVector = true
		addNode(c, h.Node.ID)
	}

	var graphScores, vectorScores []float64
	for _, c := range cands {
		if c.inGraph {
			graphScores = append(graphScores, c.graph)
		}
		if c.inVector {
			vectorScores = append(vectorScores, c.vector)
		}
	}
	gNorm := minMax(graphScores)
	vNorm := minMax(vectorScores)

	results := make([]common.SearchResult, 0, len(cands))
	considered := make([]string, 0, len(cands))
	for _, c := range cands {
		r := common.SearchResult{
			ChunkID:  c.chunkID,
			SourceID: c.doc.Label,
			Text:     c.doc.Text,
			NodeIDs:  c.nodeIDs,
		}
		if c.inGraph {
			r.GraphScore = gNorm(c.graph)
		}
		if c.inVector {
			r.VectorScore = vNorm(c.vector)
		}
		r.Score = e.opts.GraphWeight*r.GraphScore + e.opts.VectorWeight*r.VectorScore
		results = append(results, r)
		considered = append(considered, c.chunkID)
	}

	slices.SortFunc(results, func(a, b common.SearchResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ChunkID, b.ChunkID)
	})
	if len(results) > k {
		results = results[:k]
	}

	if t != nil {
		used := make([]string, len(results))
		for i, r := range results {
			used[i] = r.ChunkID
		}
		t.Record(TraceEvent{Kind: TraceEventConsideredChunks, ChunkIDs: considered})
		t.Record(TraceEvent{Kind: TraceEventUsedChunks, ChunkIDs: used})
	}
	return results
}

// minMax returns a function mapping scores into [0, 1] relative to the
// smallest and largest of scores. When all scores are equal every score
// maps to 1.
func minMax(scores []float64) func(float64) float64 {
	if len(scores) == 0 {
		return func(float64) float64 { return 0 }
	}
	lo, hi := slices.Min(scores), slices.Max(scores)
	if hi == lo {
		return func(float64) float64 { return 1 }
	}
	return func(s float64) float64 { return (s - lo) / (hi - lo) }
}

// Statistics describes the active graph.
func (e *Engine) Statistics() (common.GraphStats, error) {
	g := e.slot.Load()
	if g == nil {
		return common.GraphStats{}, common.ErrGraphNotBuilt
	}
	return g.Stats(), nil
}

// Explore samples up to limit entities and edges of the active graph.
func (e *Engine) Explore(limit int) (graph.Exploration, error) {
	g := e.slot.Load()
	if g == nil {
		return graph.Exploration{}, common.ErrGraphNotBuilt
	}
	return g.Explore(limit), nil
}

// EntityRelationships lists the edges incident to the entity called label.
func (e *Engine) EntityRelationships(label string) ([]common.Edge, error) {
	g := e.slot.Load()
	if g == nil {
		return nil, common.ErrGraphNotBuilt
	}
	edges, ok := g.EntityRelationships(label)
	if !ok {
		return nil, fmt.Errorf("%w: %s", graph.ErrUnknownNode, label)
	}
	return edges, nil
}

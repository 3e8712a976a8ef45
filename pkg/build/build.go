package build

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/abie0416/BiegeAI/pkg/chunker"
	"github.com/abie0416/BiegeAI/pkg/common"
	"github.com/abie0416/BiegeAI/pkg/extract"
	"github.com/abie0416/BiegeAI/pkg/graph"
	"github.com/abie0416/BiegeAI/pkg/logger"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrNoContent is returned when the documents produce no chunk worth
// extracting from.
var ErrNoContent = errors.New("no content to build a graph from")

type Extractor interface {
	ExtractEntities(ctx context.Context, chunk common.Chunk) extract.Result[extract.Entity]
	ExtractRelationships(ctx context.Context, chunk common.Chunk, known []extract.Entity) extract.Result[extract.Relationship]
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Builder produces a new graph from a document set and publishes it to its
// slot. Only one build runs at a time per Builder.
type Builder struct {
	extractor      Extractor
	embedder       Embedder
	slot           *graph.Slot
	chunkSize      int
	chunkOverlap   int
	workers        int
	minChunkTokens int
	tokenEncoder   string
	chunkTimeout   time.Duration
	limiter        *rate.Limiter

	running atomic.Bool
}

// NewBuilderParams configures a Builder. RateLimit is the number of chunk
// extractions started per second, zero for no limit. ChunkTimeout bounds the
// extraction of a single chunk, zero for no bound.
type NewBuilderParams struct {
	Extractor      Extractor
	Embedder       Embedder
	Slot           *graph.Slot
	ChunkSize      int
	ChunkOverlap   int
	Workers        int
	MinChunkTokens int
	TokenEncoder   string
	ChunkTimeout   time.Duration
	RateLimit      float64
}

func NewBuilder(params NewBuilderParams) *Builder {
	workers := params.Workers
	if workers <= 0 {
		workers = 4
	}
	encoder := params.TokenEncoder
	if encoder == "" {
		encoder = "o200k_base"
	}
	var limiter *rate.Limiter
	if params.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(params.RateLimit), workers)
	}
	return &Builder{
		extractor:      params.Extractor,
		embedder:       params.Embedder,
		slot:           params.Slot,
		chunkSize:      params.ChunkSize,
		chunkOverlap:   params.ChunkOverlap,
		workers:        workers,
		minChunkTokens: params.MinChunkTokens,
		tokenEncoder:   encoder,
		chunkTimeout:   params.ChunkTimeout,
		limiter:        limiter,
	}
}

// Running reports whether a build is in progress.
func (b *Builder) Running() bool {
	return b.running.Load()
}

type chunkResult struct {
	chunk     common.Chunk
	skipped   bool
	entities  []extract.Entity
	relations []extract.Relationship
	embedding []float32
	failures  int
}

// Build constructs a brand-new graph from docs. On success the graph is
// published and the report has Success set. Any fatal error leaves the
// active graph untouched and is returned together with a report whose
// Error field carries the message. Per-chunk extraction problems are only
// counted in ParseFailures.
func (b *Builder) Build(ctx context.Context, docs []common.Document) (common.BuildReport, error) {
	if !b.running.CompareAndSwap(false, true) {
		return common.BuildReport{Error: common.ErrBuildInProgress.Error()}, common.ErrBuildInProgress
	}
	defer b.running.Store(false)

	start := time.Now()
	g := graph.NewStore()
	report := common.BuildReport{GraphID: g.ID()}

	fail := func(err error) (common.BuildReport, error) {
		report.Success = false
		report.Error = err.Error()
		report.Duration = time.Since(start)
		logger.Error("[Build] Build failed, keeping previous graph", "graph_id", g.ID(), "err", err)
		return report, err
	}

	chunks, err := b.chunkAll(docs, &report)
	if err != nil {
		return fail(err)
	}
	logger.Info("[Build] Processing", "graph_id", g.ID(), "documents", report.Documents, "chunks", len(chunks))

	results, err := b.processChunks(ctx, chunks)
	if err != nil {
		return fail(err)
	}

	newEntities, err := b.merge(g, results, &report)
	if err != nil {
		return fail(err)
	}
	if report.ChunksProcessed == 0 {
		return fail(ErrNoContent)
	}

	if err := b.embedEntities(ctx, g, newEntities, &report); err != nil {
		return fail(err)
	}

	g.Seal()
	if _, err := b.slot.Publish(g); err != nil {
		return fail(err)
	}

	report.Success = true
	report.Nodes = g.NodeCount()
	report.Edges = g.EdgeCount()
	report.Duration = time.Since(start)
	logger.Info("[Build] Graph published",
		"graph_id", g.ID(),
		"nodes", report.Nodes,
		"edges", report.Edges,
		"parse_failures", report.ParseFailures,
		"chunks_skipped", report.ChunksSkipped,
		"took", report.Duration,
	)
	return report, nil
}

// chunkKey returns the prefix for the chunk ids of a document with source id
// docID. Several documents may share a source id; later ones get a "~n"
// suffix so chunk ids stay unique within the graph.
func chunkKey(used map[string]bool, docID string) string {
	key := docID
	for n := 1; used[key]; n++ {
		key = fmt.Sprintf("%s~%d", docID, n)
	}
	used[key] = true
	return key
}

func (b *Builder) chunkAll(docs []common.Document, report *common.BuildReport) ([]chunkResult, error) {
	if err := chunker.Validate(b.chunkSize, b.chunkOverlap); err != nil {
		return nil, err
	}
	if b.minChunkTokens > 0 {
		if _, err := chunker.CountTokens(b.tokenEncoder, ""); err != nil {
			return nil, err
		}
	}

	var out []chunkResult
	keys := make(map[string]bool, len(docs))
	for _, doc := range docs {
		seq, err := chunker.Chunk(doc, b.chunkSize, b.chunkOverlap)
		if err != nil {
			return nil, err
		}
		key := chunkKey(keys, doc.ID)
		n := 0
		for c := range seq {
			n++
			c.ID = chunker.ChunkID(key, c.Index)
			skipped := b.trivial(&c)
			out = append(out, chunkResult{chunk: c, skipped: skipped})
		}
		if n > 0 {
			report.Documents++
		}
	}
	return out, nil
}

// trivial reports whether c carries too little text to be worth a model
// call. It records the token count on c when one was computed.
func (b *Builder) trivial(c *common.Chunk) bool {
	if strings.TrimSpace(c.Text) == "" {
		return true
	}
	if b.minChunkTokens <= 0 {
		return false
	}
	tokens, err := chunker.CountTokens(b.tokenEncoder, c.Text)
	if err != nil {
		return false
	}
	c.Tokens = tokens
	return tokens < b.minChunkTokens
}

func (b *Builder) processChunks(ctx context.Context, results []chunkResult) ([]chunkResult, error) {
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(b.workers)

	for i := range results {
		if results[i].skipped {
			continue
		}
		eg.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			default:
			}
			return b.processChunk(gctx, &results[i])
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (b *Builder) processChunk(ctx context.Context, r *chunkResult) error {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	ectx := ctx
	if b.chunkTimeout > 0 {
		var cancel context.CancelFunc
		ectx, cancel = context.WithTimeout(ctx, b.chunkTimeout)
		defer cancel()
	}

	entities := b.extractor.ExtractEntities(ectx, r.chunk)
	relations := b.extractor.ExtractRelationships(ectx, r.chunk, entities.Valid)
	r.entities = entities.Valid
	r.relations = relations.Valid
	r.failures = entities.Failures + relations.Failures

	vec, err := b.embedder.Embed(ctx, r.chunk.Text)
	if err != nil {
		return fmt.Errorf("embed chunk %s: %w", r.chunk.ID, err)
	}
	r.embedding = vec
	return nil
}

// merge writes every chunk result into g in chunk order and returns the ids
// of entities created by this build.
func (b *Builder) merge(g *graph.Store, results []chunkResult, report *common.BuildReport) ([]string, error) {
	var created []string
	for _, r := range results {
		if r.skipped {
			report.ChunksSkipped++
			continue
		}
		report.ChunksProcessed++
		report.ParseFailures += r.failures

		if _, err := g.AddDocument(r.chunk, r.embedding); err != nil {
			return nil, fmt.Errorf("add chunk %s: %w", r.chunk.ID, err)
		}
		report.EmbeddingsGenerated++

		for _, e := range r.entities {
			id, isNew, err := g.AddEntityOrMerge(e.Label, e.Type, e.Description, r.chunk.ID)
			if err != nil {
				logger.Warn("[Build] Dropping entity", "chunk_id", r.chunk.ID, "label", e.Label, "err", err)
				report.ParseFailures++
				continue
			}
			if isNew {
				created = append(created, id)
			}
		}

		for _, rel := range r.relations {
			isNew, err := g.AddEdgeOrUpdate(common.EntityNodeID(rel.Source), common.EntityNodeID(rel.Target), rel.Relation, rel.Weight, r.chunk.ID)
			if err != nil {
				logger.Warn("[Build] Dropping relationship", "chunk_id", r.chunk.ID, "relation", rel.Relation, "err", err)
				report.ParseFailures++
				continue
			}
			if isNew {
				report.EdgesCreated++
			}
		}
	}
	report.EntitiesCreated = len(created)
	return created, nil
}

func entityText(n common.Node) string {
	if n.Description == "" {
		return n.Label
	}
	return n.Label + ": " + n.Description
}

func (b *Builder) embedEntities(ctx context.Context, g *graph.Store, ids []string, report *common.BuildReport) error {
	if len(ids) == 0 {
		return nil
	}
	texts := make([]string, len(ids))
	for i, id := range ids {
		n, _ := g.Node(id)
		texts[i] = entityText(n)
	}

	vecs, err := b.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed entities: %w", err)
	}
	for i, id := range ids {
		if err := g.SetEmbedding(id, vecs[i]); err != nil {
			return err
		}
	}
	report.EmbeddingsGenerated += len(ids)
	return nil
}

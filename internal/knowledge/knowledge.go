// Package knowledge wires document loading, graph building, persistence and
// hybrid search into the single service the server and worker share.
package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/abie0416/BiegeAI/pkg/build"
	"github.com/abie0416/BiegeAI/pkg/common"
	"github.com/abie0416/BiegeAI/pkg/graph"
	"github.com/abie0416/BiegeAI/pkg/loader"
	"github.com/abie0416/BiegeAI/pkg/logger"
	"github.com/abie0416/BiegeAI/pkg/persist"
	"github.com/abie0416/BiegeAI/pkg/search"
)

// ErrNoBlobStore is returned by Restore when persistence is not configured.
var ErrNoBlobStore = errors.New("no blob store configured")

// Preprocessor rewrites loaded documents before they are built.
type Preprocessor interface {
	Documents(ctx context.Context, docs []common.Document) ([]common.Document, error)
}

type Service struct {
	source     loader.DocumentSource
	preprocess Preprocessor
	builder    *build.Builder
	engine     *search.Engine
	slot       *graph.Slot
	store      persist.BlobStore
	key        string
}

// NewServiceParams configures a Service. Preprocess and Store are optional;
// Key defaults to persist.DefaultKey.
type NewServiceParams struct {
	Source     loader.DocumentSource
	Preprocess Preprocessor
	Builder    *build.Builder
	Engine     *search.Engine
	Slot       *graph.Slot
	Store      persist.BlobStore
	Key        string
}

func NewService(params NewServiceParams) *Service {
	key := params.Key
	if key == "" {
		key = persist.DefaultKey
	}
	return &Service{
		source:     params.Source,
		preprocess: params.Preprocess,
		builder:    params.Builder,
		engine:     params.Engine,
		slot:       params.Slot,
		store:      params.Store,
		key:        key,
	}
}

// Building reports whether a rebuild is in progress.
func (s *Service) Building() bool {
	return s.builder.Running()
}

// Rebuild loads the documents, builds a fresh graph and publishes it. When a
// blob store is configured the new graph is saved; a failed save is logged
// and does not fail the rebuild.
func (s *Service) Rebuild(ctx context.Context) (common.BuildReport, error) {
	if s.builder.Running() {
		return common.BuildReport{Error: common.ErrBuildInProgress.Error()}, common.ErrBuildInProgress
	}

	docs, err := s.source.LoadDocuments(ctx)
	if err != nil {
		err = fmt.Errorf("failed to load documents: %w", err)
		return common.BuildReport{Error: err.Error()}, err
	}
	if s.preprocess != nil {
		docs, err = s.preprocess.Documents(ctx, docs)
		if err != nil {
			return common.BuildReport{Error: err.Error()}, err
		}
	}
	logger.Info("[Knowledge] Rebuilding graph", "documents", len(docs))

	report, err := s.builder.Build(ctx, docs)
	if err != nil {
		return report, err
	}

	if s.store != nil {
		g := s.slot.Load()
		if g != nil && g.ID() == report.GraphID {
			if err := persist.SaveGraph(ctx, s.store, s.key, g); err != nil {
				logger.Error("[Knowledge] Failed to persist graph", "graph_id", g.ID(), "err", err)
			}
		}
	}
	return report, nil
}

// Restore publishes the persisted graph. It returns the restored graph's
// statistics.
func (s *Service) Restore(ctx context.Context) (common.GraphStats, error) {
	if s.store == nil {
		return common.GraphStats{}, fmt.Errorf("%w: %w", common.ErrPersistence, ErrNoBlobStore)
	}
	g, err := persist.LoadGraph(ctx, s.store, s.key)
	if err != nil {
		return common.GraphStats{}, err
	}
	if _, err := s.slot.Publish(g); err != nil {
		return common.GraphStats{}, fmt.Errorf("%w: %v", common.ErrPersistence, err)
	}
	return g.Stats(), nil
}

// Start restores the persisted graph if there is one. Any persistence
// failure leaves the service waiting for its first build.
func (s *Service) Start(ctx context.Context) {
	if s.store == nil {
		logger.Info("[Knowledge] No blob store configured, graph requires a build")
		return
	}
	stats, err := s.Restore(ctx)
	if err != nil {
		logger.Warn("[Knowledge] No graph restored, graph requires a build", "err", err)
		return
	}
	logger.Info("[Knowledge] Graph restored", "graph_id", stats.GraphID, "nodes", stats.TotalNodes, "edges", stats.TotalEdges)
}

func (s *Service) Search(ctx context.Context, query string, k int) (common.SearchResponse, error) {
	return s.engine.HybridSearch(ctx, query, k)
}

// SearchTraced is Search reporting what the query looked at to t.
func (s *Service) SearchTraced(ctx context.Context, query string, k int, t search.Tracer) (common.SearchResponse, error) {
	return s.engine.HybridSearchTraced(ctx, query, k, t)
}

func (s *Service) Statistics() (common.GraphStats, error) {
	return s.engine.Statistics()
}

func (s *Service) Explore(limit int) (graph.Exploration, error) {
	return s.engine.Explore(limit)
}

func (s *Service) EntityRelationships(label string) ([]common.Edge, error) {
	return s.engine.EntityRelationships(label)
}

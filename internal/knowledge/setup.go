package knowledge

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/abie0416/BiegeAI/pkg/ai"
	oai "github.com/abie0416/BiegeAI/pkg/ai/ollama"
	gai "github.com/abie0416/BiegeAI/pkg/ai/openai"
	"github.com/abie0416/BiegeAI/pkg/build"
	"github.com/abie0416/BiegeAI/pkg/common"
	"github.com/abie0416/BiegeAI/pkg/embed"
	"github.com/abie0416/BiegeAI/pkg/extract"
	"github.com/abie0416/BiegeAI/pkg/graph"
	"github.com/abie0416/BiegeAI/pkg/loader"
	"github.com/abie0416/BiegeAI/pkg/loader/csv"
	"github.com/abie0416/BiegeAI/pkg/loader/excel"
	ioloader "github.com/abie0416/BiegeAI/pkg/loader/io"
	"github.com/abie0416/BiegeAI/pkg/loader/preprocess"
	"github.com/abie0416/BiegeAI/pkg/loader/s3"
	"github.com/abie0416/BiegeAI/pkg/loader/web"
	"github.com/abie0416/BiegeAI/pkg/persist"
	"github.com/abie0416/BiegeAI/pkg/persist/file"
	pgxstore "github.com/abie0416/BiegeAI/pkg/persist/pgx"
	persists3 "github.com/abie0416/BiegeAI/pkg/persist/s3"
	"github.com/abie0416/BiegeAI/pkg/search"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewAIClient creates the model backend named by cfg.AIAdapter.
func NewAIClient(cfg Config) (ai.GraphAIClient, error) {
	switch cfg.AIAdapter {
	case "ollama":
		client, err := oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			EmbeddingModel:        cfg.EmbeddingModel,
			ExtractionModel:       cfg.ExtractionModel,
			Dimensions:            cfg.EmbedDim,
			BaseURL:               cfg.ChatURL,
			ApiKey:                cfg.ChatKey,
			MaxConcurrentRequests: int64(cfg.ParallelReq),
			TimeoutMin:            cfg.TimeoutMin,
		})
		if err != nil {
			return nil, fmt.Errorf("could not create ollama client: %w", err)
		}
		return client, nil
	case "openai", "":
		return gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			EmbeddingModel:        cfg.EmbeddingModel,
			ExtractionModel:       cfg.ExtractionModel,
			Dimensions:            cfg.EmbedDim,
			EmbeddingURL:          cfg.EmbedURL,
			EmbeddingKey:          cfg.EmbedKey,
			ChatURL:               cfg.ChatURL,
			ChatKey:               cfg.ChatKey,
			MaxConcurrentRequests: int64(cfg.ParallelReq),
			TimeoutMin:            cfg.TimeoutMin,
		}), nil
	default:
		return nil, fmt.Errorf("%w: unknown AI_ADAPTER %q", common.ErrInvalidConfig, cfg.AIAdapter)
	}
}

// sourceFor picks a document source for path by its extension: spreadsheets
// and CSV exports yield one document per row, anything else is split into
// paragraphs.
func sourceFor(id, path, sheet string, base loader.FileLoader) loader.DocumentSource {
	file := loader.SourceFile{ID: id, Path: path, Loader: base}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return &loader.RowSource{File: file, Rows: csv.NewCSVLoader(base)}
	case ".xlsx", ".xlsm":
		return &loader.RowSource{File: file, Rows: excel.NewExcelLoader(base, sheet)}
	default:
		return &loader.TextSource{File: file, Paragraphs: true}
	}
}

func sourceID(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// NewDocumentSource builds the source named by cfg.DocumentSource, wrapped
// in a local-file fallback when DOCUMENT_FALLBACK_PATH is set.
func NewDocumentSource(ctx context.Context, cfg Config) (loader.DocumentSource, error) {
	if cfg.DocumentPath == "" {
		return nil, fmt.Errorf("%w: DOCUMENT_PATH is required", common.ErrInvalidConfig)
	}

	var src loader.DocumentSource
	id := sourceID(cfg.DocumentPath)
	switch cfg.DocumentSource {
	case "file", "":
		src = sourceFor(id, cfg.DocumentPath, cfg.DocumentSheet, ioloader.NewIOFileLoader())
	case "csv":
		base := ioloader.NewIOFileLoader()
		src = &loader.RowSource{
			File: loader.SourceFile{ID: id, Path: cfg.DocumentPath, Loader: base},
			Rows: csv.NewCSVLoader(base),
		}
	case "excel":
		base := ioloader.NewIOFileLoader()
		src = &loader.RowSource{
			File: loader.SourceFile{ID: id, Path: cfg.DocumentPath, Loader: base},
			Rows: excel.NewExcelLoader(base, cfg.DocumentSheet),
		}
	case "s3":
		base, err := s3.NewS3FileLoader(ctx, s3.NewS3FileLoaderParams{
			Bucket:       cfg.AWSBucket,
			ClientParams: cfg.s3ClientParams(),
		})
		if err != nil {
			return nil, err
		}
		src = sourceFor(id, cfg.DocumentPath, cfg.DocumentSheet, base)
	case "web":
		src = &loader.TextSource{
			File:       loader.SourceFile{ID: cfg.DocumentPath, Path: cfg.DocumentPath, Loader: web.NewWebLoader(nil)},
			Paragraphs: true,
		}
	default:
		return nil, fmt.Errorf("%w: unknown DOCUMENT_SOURCE %q", common.ErrInvalidConfig, cfg.DocumentSource)
	}

	if cfg.FallbackPath != "" {
		src = &loader.FallbackSource{
			Primary:  src,
			Fallback: sourceFor(sourceID(cfg.FallbackPath), cfg.FallbackPath, cfg.DocumentSheet, ioloader.NewIOFileLoader()),
		}
	}
	return src, nil
}

func (cfg Config) s3ClientParams() s3.ClientParams {
	return s3.ClientParams{
		Endpoint:  cfg.AWSEndpoint,
		Region:    cfg.AWSRegion,
		AccessKey: cfg.AWSAccessKey,
		SecretKey: cfg.AWSSecretKey,
	}
}

// NewBlobStore creates the store named by cfg.PersistAdapter. A nil store
// means persistence is disabled. The returned cleanup is never nil.
func NewBlobStore(ctx context.Context, cfg Config) (persist.BlobStore, func(), error) {
	noop := func() {}
	switch cfg.PersistAdapter {
	case "":
		return nil, noop, nil
	case "memory":
		return persist.NewMemoryStore(), noop, nil
	case "file":
		store, err := file.NewFileStore(cfg.PersistPath)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	case "s3":
		store, err := persists3.NewS3Store(ctx, persists3.NewS3StoreParams{
			Bucket:       cfg.AWSBucket,
			Prefix:       cfg.PersistPath,
			ClientParams: cfg.s3ClientParams(),
		})
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	case "postgres":
		if err := pgxstore.Migrate(cfg.DatabaseURL); err != nil {
			return nil, noop, err
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to connect to database: %w", err)
		}
		return pgxstore.NewPgxStoreWithConnection(pool), pool.Close, nil
	default:
		return nil, noop, fmt.Errorf("%w: unknown PERSIST_ADAPTER %q", common.ErrInvalidConfig, cfg.PersistAdapter)
	}
}

// Setup wires a Service from cfg around client. The returned cleanup
// releases held connections.
func Setup(ctx context.Context, cfg Config, client ai.GraphAIClient) (*Service, func(), error) {
	source, err := NewDocumentSource(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	store, cleanup, err := NewBlobStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	var pre Preprocessor
	if cfg.Preprocess {
		params := preprocess.NewPreprocessorParams{}
		if cfg.PreprocessWithAI {
			params.Client = client
		}
		pre = preprocess.NewPreprocessor(params)
	}

	slot := &graph.Slot{}
	embedder := embed.NewEmbedder(embed.NewEmbedderParams{
		Client:     client,
		Dim:        cfg.EmbedDim,
		MaxRetries: cfg.MaxRetries,
		Parallel:   cfg.ParallelReq,
	})
	builder := build.NewBuilder(build.NewBuilderParams{
		Extractor: extract.NewExtractor(extract.NewExtractorParams{
			Client:       client,
			MaxRetries:   cfg.MaxRetries,
			RetryBackoff: time.Second,
		}),
		Embedder:       embedder,
		Slot:           slot,
		ChunkSize:      cfg.ChunkSize,
		ChunkOverlap:   cfg.ChunkOverlap,
		Workers:        cfg.Workers,
		MinChunkTokens: cfg.MinChunkTokens,
		TokenEncoder:   cfg.TokenEncoder,
		ChunkTimeout:   cfg.ChunkTimeout,
		RateLimit:      cfg.RateLimit,
	})
	engine := search.NewEngine(search.NewEngineParams{
		Slot:     slot,
		Embedder: embedder,
		Options: search.Options{
			GraphWeight:  cfg.GraphWeight,
			VectorWeight: cfg.VectorWeight,
			EdgeBonus:    cfg.EdgeBonus,
		},
	})

	svc := NewService(NewServiceParams{
		Source:     source,
		Preprocess: pre,
		Builder:    builder,
		Engine:     engine,
		Slot:       slot,
		Store:      store,
		Key:        cfg.PersistKey,
	})
	return svc, cleanup, nil
}

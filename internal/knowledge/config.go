package knowledge

import (
	"time"

	"github.com/abie0416/BiegeAI/internal/util"
	"github.com/abie0416/BiegeAI/pkg/loader/excel"
	"github.com/abie0416/BiegeAI/pkg/persist"
)

// Config holds every tunable read from the environment.
type Config struct {
	AIAdapter       string
	ChatURL         string
	ChatKey         string
	EmbedURL        string
	EmbedKey        string
	ExtractionModel string
	EmbeddingModel  string
	EmbedDim        int
	ParallelReq     int
	TimeoutMin      int
	RateLimit       float64

	ChunkSize      int
	ChunkOverlap   int
	MinChunkTokens int
	TokenEncoder   string
	Workers        int
	ChunkTimeout   time.Duration
	MaxRetries     int

	GraphWeight  float64
	VectorWeight float64
	EdgeBonus    float64

	DocumentSource   string
	DocumentPath     string
	DocumentSheet    string
	FallbackPath     string
	Preprocess       bool
	PreprocessWithAI bool

	PersistAdapter string
	PersistPath    string
	PersistKey     string
	DatabaseURL    string

	AWSEndpoint  string
	AWSRegion    string
	AWSAccessKey string
	AWSSecretKey string
	AWSBucket    string
}

// LoadConfig reads the configuration from the environment, applying
// defaults for everything unset.
func LoadConfig() Config {
	return Config{
		AIAdapter:       util.GetEnvString("AI_ADAPTER", "openai"),
		ChatURL:         util.GetEnv("AI_CHAT_URL"),
		ChatKey:         util.GetEnv("AI_CHAT_KEY"),
		EmbedURL:        util.GetEnv("AI_EMBED_URL"),
		EmbedKey:        util.GetEnv("AI_EMBED_KEY"),
		ExtractionModel: util.GetEnv("AI_CHAT_EXTRACT_MODEL"),
		EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),
		EmbedDim:        util.GetEnvInt("AI_EMBED_DIM", 768),
		ParallelReq:     util.GetEnvInt("AI_PARALLEL_REQ", 8),
		TimeoutMin:      util.GetEnvInt("AI_TIMEOUT_MIN", 5),
		RateLimit:       util.GetEnvNumeric("AI_RATE_LIMIT", 0),

		ChunkSize:      util.GetEnvInt("CHUNK_SIZE", 512),
		ChunkOverlap:   util.GetEnvInt("CHUNK_OVERLAP", 50),
		MinChunkTokens: util.GetEnvInt("CHUNK_MIN_TOKENS", 0),
		TokenEncoder:   util.GetEnvString("TOKEN_ENCODER", "o200k_base"),
		Workers:        util.GetEnvInt("BUILD_WORKERS", 4),
		ChunkTimeout:   util.GetEnvDuration("BUILD_CHUNK_TIMEOUT_SEC", 90, time.Second),
		MaxRetries:     util.GetEnvInt("BUILD_MAX_RETRIES", 3),

		GraphWeight:  util.GetEnvNumeric("SEARCH_GRAPH_WEIGHT", 0.6),
		VectorWeight: util.GetEnvNumeric("SEARCH_VECTOR_WEIGHT", 0.4),
		EdgeBonus:    util.GetEnvNumeric("SEARCH_EDGE_BONUS", 0.1),

		DocumentSource:   util.GetEnvString("DOCUMENT_SOURCE", "file"),
		DocumentPath:     util.GetEnv("DOCUMENT_PATH"),
		DocumentSheet:    util.GetEnvString("DOCUMENT_SHEET", excel.DefaultSheet),
		FallbackPath:     util.GetEnv("DOCUMENT_FALLBACK_PATH"),
		Preprocess:       util.GetEnvBool("DOCUMENT_PREPROCESS", false),
		PreprocessWithAI: util.GetEnvBool("DOCUMENT_PREPROCESS_AI", false),

		PersistAdapter: util.GetEnv("PERSIST_ADAPTER"),
		PersistPath:    util.GetEnvString("PERSIST_PATH", "data"),
		PersistKey:     util.GetEnvString("PERSIST_KEY", persist.DefaultKey),
		DatabaseURL:    util.GetEnv("DATABASE_URL"),

		AWSEndpoint:  util.GetEnv("AWS_ENDPOINT"),
		AWSRegion:    util.GetEnvString("AWS_REGION", "us-east-1"),
		AWSAccessKey: util.GetEnv("AWS_ACCESS_KEY"),
		AWSSecretKey: util.GetEnv("AWS_SECRET_KEY"),
		AWSBucket:    util.GetEnv("AWS_BUCKET"),
	}
}

package openai

import (
	"github.com/abie0416/BiegeAI/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

const (
	defaultDimensions = 768
	defaultParallel   = 8
	defaultTimeoutMin = 5
)

// GraphOpenAIClient talks to an OpenAI compatible API. Chat and embedding
// endpoints are configured separately so a hosted chat model can be paired
// with a local embedding server.
//
// A GraphOpenAIClient should be created using NewGraphOpenAIClient.
type GraphOpenAIClient struct {
	embeddingModel  string
	extractionModel string
	dimensions      int
	timeoutMin      int

	chatURL string

	reqLock       *semaphore.Weighted
	embeddingLock *semaphore.Weighted
	metrics       ai.MetricsTracker

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
}

// NewGraphOpenAIClientParams defines the configuration parameters for
// creating a new GraphOpenAIClient.
//
// Dimensions fixes the embedding length; vectors are truncated or zero
// padded to it. MaxConcurrentRequests bounds in-flight chat and embedding
// requests independently.
type NewGraphOpenAIClientParams struct {
	EmbeddingModel  string
	ExtractionModel string
	Dimensions      int

	EmbeddingURL string
	EmbeddingKey string
	ChatURL      string
	ChatKey      string

	MaxConcurrentRequests int64
	TimeoutMin            int
}

// NewGraphOpenAIClient creates a client from params.
//
// Example:
//
//	client := openai.NewGraphOpenAIClient(openai.NewGraphOpenAIClientParams{
//		EmbeddingModel:  "text-embedding-3-small",
//		ExtractionModel: "gpt-4o-mini",
//		Dimensions:      768,
//		ChatKey:         os.Getenv("AI_CHAT_KEY"),
//		EmbeddingKey:    os.Getenv("AI_EMBED_KEY"),
//	})
func NewGraphOpenAIClient(
	params NewGraphOpenAIClientParams,
) *GraphOpenAIClient {
	parallel := params.MaxConcurrentRequests
	if parallel <= 0 {
		parallel = defaultParallel
	}
	dim := params.Dimensions
	if dim <= 0 {
		dim = defaultDimensions
	}
	timeout := params.TimeoutMin
	if timeout <= 0 {
		timeout = defaultTimeoutMin
	}

	return &GraphOpenAIClient{
		embeddingModel:  params.EmbeddingModel,
		extractionModel: params.ExtractionModel,
		dimensions:      dim,
		timeoutMin:      timeout,

		chatURL: params.ChatURL,

		reqLock:       semaphore.NewWeighted(parallel),
		embeddingLock: semaphore.NewWeighted(parallel),

		ChatClient:      newOpenaiClient(params.ChatURL, params.ChatKey),
		EmbeddingClient: newOpenaiClient(params.EmbeddingURL, params.EmbeddingKey),
	}
}

func newOpenaiClient(
	baseURL string,
	apiKey string,
) *openai.Client {
	if apiKey == "" && baseURL == "" {
		return nil
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(2),
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}

// ResetMetrics clears the accumulated request metrics.
func (c *GraphOpenAIClient) ResetMetrics() {
	c.metrics.Reset()
}

// GetMetrics returns the metrics accumulated since the last reset.
func (c *GraphOpenAIClient) GetMetrics() ai.ModelMetrics {
	return c.metrics.Snapshot()
}

package ollama

import (
	"net/http"
	"net/url"

	"github.com/abie0416/BiegeAI/pkg/ai"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

const (
	defaultDimensions = 768
	defaultParallel   = 4
	defaultTimeoutMin = 5
)

// GraphOllamaClient implements ai.GraphAIClient against a local or proxied
// Ollama server.
type GraphOllamaClient struct {
	embeddingModel  string
	extractionModel string
	dimensions      int
	timeoutMin      int

	reqLock *semaphore.Weighted
	metrics ai.MetricsTracker

	Client *api.Client
}

// NewGraphOllamaClientParams contains configuration options for creating a new GraphOllamaClient.
type NewGraphOllamaClientParams struct {
	EmbeddingModel  string
	ExtractionModel string
	Dimensions      int

	BaseURL string
	ApiKey  string

	MaxConcurrentRequests int64
	TimeoutMin            int
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone so original request isn't modified
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewGraphOllamaClient connects to the Ollama server at BaseURL, or to the
// address from OLLAMA_HOST when BaseURL is empty.
func NewGraphOllamaClient(
	params NewGraphOllamaClientParams,
) (*GraphOllamaClient, error) {
	httpClient := http.DefaultClient
	if params.ApiKey != "" {
		httpClient = &http.Client{
			Transport: &headerTransport{
				headers: map[string]string{
					"Authorization": "Bearer " + params.ApiKey,
				},
				rt: http.DefaultTransport,
			},
		}
	}

	var cli *api.Client
	if params.BaseURL != "" {
		u, err := url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
		cli = api.NewClient(u, httpClient)
	} else {
		var err error
		cli, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, err
		}
	}

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

	return &GraphOllamaClient{
		embeddingModel:  params.EmbeddingModel,
		extractionModel: params.ExtractionModel,
		dimensions:      dim,
		timeoutMin:      timeout,

		reqLock: semaphore.NewWeighted(parallel),

		Client: cli,
	}, nil
}

// ResetMetrics clears all accumulated token and timing metrics to zero.
func (c *GraphOllamaClient) ResetMetrics() {
	c.metrics.Reset()
}

// GetMetrics returns the accumulated token usage and timing metrics since the last reset.
func (c *GraphOllamaClient) GetMetrics() ai.ModelMetrics {
	return c.metrics.Snapshot()
}

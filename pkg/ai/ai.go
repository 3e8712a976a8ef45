package ai

import (
	"context"
	"sync"
	"time"
)

// GenerateOptions holds configuration for AI generation requests.
type GenerateOptions struct {
	Model         string   // Model identifier to use for generation
	SystemPrompts []string // System prompts prepended to the request
	Temperature   float64  // Sampling temperature (0.0-2.0)
	Seed          *int64   // Fixed sampling seed where the backend supports one
}

// ModelMetrics contains performance metrics from AI model operations.
type ModelMetrics struct {
	Requests       int     `json:"requests"`
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	DurationMs     int64   `json:"duration_ms"`
	WallClockMs    int64   `json:"wall_clock_ms"`
	TokenPerSecond float32 `json:"tokens_per_second"`
}

// GenerateOption is a functional option for configuring AI generation requests.
type GenerateOption func(*GenerateOptions)

// WithModel returns a GenerateOption that sets the model to use for generation.
func WithModel(model string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Model = model
	}
}

// WithSystemPrompts returns a GenerateOption that sets the system prompts
// to prepend to the generation request.
func WithSystemPrompts(prompts ...string) GenerateOption {
	return func(o *GenerateOptions) {
		o.SystemPrompts = prompts
	}
}

// WithTemperature returns a GenerateOption that sets the sampling temperature.
// Extraction runs at 0 so repeated builds see the same answers from backends
// that honour it.
func WithTemperature(temp float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = temp
	}
}

// WithSeed pins the sampling seed.
func WithSeed(seed int64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Seed = &seed
	}
}

// ApplyOptions folds opts over a zero GenerateOptions.
func ApplyOptions(opts ...GenerateOption) GenerateOptions {
	var o GenerateOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// GraphAIClient is the model boundary of the retrieval engine: structured
// completions for extraction and embeddings for indexing and querying.
type GraphAIClient interface {
	GenerateCompletion(
		ctx context.Context,
		prompt string,
		opts ...GenerateOption,
	) (string, error)
	GenerateCompletionWithFormat(
		ctx context.Context,
		name string,
		description string,
		prompt string,
		out any,
		opts ...GenerateOption,
	) error

	GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error)

	ResetMetrics()
	GetMetrics() ModelMetrics
}

// EmbeddingBatcher is implemented by backends that embed many inputs in one
// request.
type EmbeddingBatcher interface {
	GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error)
}

// MetricsTracker accumulates ModelMetrics across concurrent requests.
// Wall clock time runs from the first request after a reset.
type MetricsTracker struct {
	mu      sync.Mutex
	metrics ModelMetrics
	start   time.Time
}

// Record adds one finished request.
func (t *MetricsTracker) Record(inputTokens, outputTokens int, took time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if t.start.IsZero() {
		t.start = now.Add(-took)
	}

	t.metrics.Requests++
	t.metrics.InputTokens += inputTokens
	t.metrics.OutputTokens += outputTokens
	t.metrics.TotalTokens += inputTokens + outputTokens
	t.metrics.DurationMs += took.Milliseconds()
	t.metrics.WallClockMs = now.Sub(t.start).Milliseconds()
	if t.metrics.WallClockMs > 0 {
		t.metrics.TokenPerSecond = float32(t.metrics.OutputTokens) / (float32(t.metrics.WallClockMs) / 1000)
	}
}

func (t *MetricsTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics = ModelMetrics{}
	t.start = time.Time{}
}

func (t *MetricsTracker) Snapshot() ModelMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.metrics
}

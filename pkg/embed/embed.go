package embed

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/abie0416/BiegeAI/internal/util"
	"github.com/abie0416/BiegeAI/pkg/ai"
	"github.com/abie0416/BiegeAI/pkg/common"

	"golang.org/x/sync/errgroup"
)

// Client is the subset of ai.GraphAIClient the embedder needs.
type Client interface {
	GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error)
}

// Embedder maps text to fixed-length vectors. Every failure is reported as
// common.ErrEmbeddingUnavailable so callers can treat it as fatal.
type Embedder struct {
	client     Client
	mu         sync.Mutex
	dim        int
	maxRetries int
	batchSize  int
	parallel   int
}

// NewEmbedderParams configures an Embedder. Dim of zero accepts whatever
// length the first vector has and enforces it afterwards.
type NewEmbedderParams struct {
	Client     Client
	Dim        int
	MaxRetries int
	BatchSize  int
	Parallel   int
}

func NewEmbedder(params NewEmbedderParams) *Embedder {
	batch := params.BatchSize
	if batch <= 0 {
		batch = 64
	}
	parallel := params.Parallel
	if parallel <= 0 {
		parallel = 4
	}
	return &Embedder{
		client:     params.Client,
		dim:        params.Dim,
		maxRetries: max(params.MaxRetries, 1),
		batchSize:  batch,
		parallel:   parallel,
	}
}

// Dim returns the enforced vector length, zero until the first vector fixes it.
func (e *Embedder) Dim() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dim
}

func (e *Embedder) check(vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector", common.ErrEmbeddingUnavailable)
	}
	for _, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: vector contains NaN or Inf", common.ErrEmbeddingUnavailable)
		}
	}

	e.mu.Lock()
	if e.dim == 0 {
		e.dim = len(vec)
	}
	want := e.dim
	e.mu.Unlock()
	if len(vec) != want {
		return fmt.Errorf("%w: got %d dimensions, want %d", common.ErrEmbeddingUnavailable, len(vec), want)
	}
	return nil
}

// Embed returns the embedding of text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.client == nil {
		return nil, fmt.Errorf("%w: no embedding client configured", common.ErrEmbeddingUnavailable)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: cannot embed blank text", common.ErrEmbeddingUnavailable)
	}

	vec, err := util.RetryWithContext(ctx, e.maxRetries, func(ctx context.Context) ([]float32, error) {
		return e.client.GenerateEmbedding(ctx, []byte(text))
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrEmbeddingUnavailable, err)
	}
	if err := e.check(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedBatch embeds texts and returns vectors in input order. Backends that
// implement ai.EmbeddingBatcher receive batches of BatchSize inputs; others
// get one request per text, bounded by Parallel.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if e.client == nil {
		return nil, fmt.Errorf("%w: no embedding client configured", common.ErrEmbeddingUnavailable)
	}

	out := make([][]float32, len(texts))
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(e.parallel)

	if b, ok := e.client.(ai.EmbeddingBatcher); ok {
		for start := 0; start < len(texts); start += e.batchSize {
			end := min(start+e.batchSize, len(texts))
			eg.Go(func() error {
				inputs := make([][]byte, end-start)
				for i := range inputs {
					inputs[i] = []byte(texts[start+i])
				}
				vecs, err := util.RetryWithContext(ectx, e.maxRetries, func(ctx context.Context) ([][]float32, error) {
					return b.GenerateEmbeddings(ctx, inputs)
				})
				if err != nil {
					return fmt.Errorf("%w: %v", common.ErrEmbeddingUnavailable, err)
				}
				if len(vecs) != len(inputs) {
					return fmt.Errorf("%w: got %d vectors for %d inputs", common.ErrEmbeddingUnavailable, len(vecs), len(inputs))
				}
				for i, v := range vecs {
					if err := e.check(v); err != nil {
						return err
					}
					out[start+i] = v
				}
				return nil
			})
		}
	} else {
		for i, text := range texts {
			eg.Go(func() error {
				v, err := e.Embed(ectx, text)
				if err != nil {
					return err
				}
				out[i] = v
				return nil
			})
		}
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when the lengths
// differ or either vector is zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Package aitest provides an in-memory ai.GraphAIClient for tests: scripted
// structured answers and a deterministic bag-of-words embedder.
package aitest

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/abie0416/BiegeAI/pkg/ai"
)

// Response scripts one structured answer. It is used for calls whose format
// name equals Format and whose prompt contains Contains. Err, when set, is
// returned instead of Body.
type Response struct {
	Format   string
	Contains string
	Body     string
	Err      error
}

// ErrUnreachable simulates an embedding backend that cannot be reached.
var ErrUnreachable = errors.New("embedding backend unreachable")

// Client is a scripted GraphAIClient. The zero value answers every
// structured call with "{}" and embeds with BagOfWords(512).
type Client struct {
	Responses []Response
	// Completion is returned by GenerateCompletion when CompletionFunc is nil.
	Completion     string
	CompletionFunc func(prompt string) (string, error)
	Dim            int
	EmbedErr       error
	// Delay is applied to structured calls and respects cancellation.
	Delay time.Duration

	mu         sync.Mutex
	formatHits map[string]int
	embedCalls int
	metrics    ai.MetricsTracker
}

func (c *Client) dim() int {
	if c.Dim <= 0 {
		return 512
	}
	return c.Dim
}

func (c *Client) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	if c.CompletionFunc != nil {
		return c.CompletionFunc(prompt)
	}
	return c.Completion, nil
}

func (c *Client) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	if c.Delay > 0 {
		t := time.NewTimer(c.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}

	c.mu.Lock()
	if c.formatHits == nil {
		c.formatHits = map[string]int{}
	}
	c.formatHits[name]++
	c.mu.Unlock()
	c.metrics.Record(len(prompt)/4, 10, time.Millisecond)

	for _, r := range c.Responses {
		if r.Format != name || !strings.Contains(prompt, r.Contains) {
			continue
		}
		if r.Err != nil {
			return r.Err
		}
		return ai.UnmarshalFlexible(r.Body, out)
	}
	return ai.UnmarshalFlexible("{}", out)
}

func (c *Client) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	c.mu.Lock()
	c.embedCalls++
	c.mu.Unlock()

	if c.EmbedErr != nil {
		return nil, c.EmbedErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return BagOfWords(string(input), c.dim()), nil
}

// Calls returns how many structured calls used the given format name.
func (c *Client) Calls(format string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.formatHits[format]
}

// EmbedCalls returns the number of GenerateEmbedding calls.
func (c *Client) EmbedCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.embedCalls
}

func (c *Client) ResetMetrics()               { c.metrics.Reset() }
func (c *Client) GetMetrics() ai.ModelMetrics { return c.metrics.Snapshot() }

// Batcher wraps Client with a batch embedding endpoint.
type Batcher struct {
	*Client
	Batches int
}

func (b *Batcher) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	b.Batches++
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		v, err := b.GenerateEmbedding(ctx, in)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Words lowercases text and splits it on everything that is not a letter
// or digit.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// BagOfWords hashes every word of text into one of dim buckets and returns
// the L2 normalised counts. Texts sharing words have positive cosine
// similarity; texts without shared words are orthogonal unless two words
// collide.
func BagOfWords(text string, dim int) []float32 {
	vec := make([]float32, dim)
	for _, w := range Words(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%uint32(dim)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

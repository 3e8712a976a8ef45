package ollama

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

func fitDimensions(vec []float32, dim int) []float32 {
	out := make([]float32, dim)
	copy(out, vec)
	return out
}

// GenerateEmbedding creates a vector embedding for input using the
// configured embedding model. Blank input maps to a zero vector.
func (c *GraphOllamaClient) GenerateEmbedding(
	ctx context.Context,
	input []byte,
) ([]float32, error) {
	res, err := c.GenerateEmbeddings(ctx, [][]byte{input})
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

// GenerateEmbeddings embeds all non-blank inputs in one /api/embed call.
func (c *GraphOllamaClient) GenerateEmbeddings(
	ctx context.Context,
	inputs [][]byte,
) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	idxMap := make([]int, 0, len(inputs))
	texts := make([]string, 0, len(inputs))
	for i, in := range inputs {
		if len(strings.TrimSpace(string(in))) == 0 {
			out[i] = make([]float32, c.dimensions)
			continue
		}
		idxMap = append(idxMap, i)
		texts = append(texts, string(in))
	}
	if len(texts) == 0 {
		return out, nil
	}

	rCtx, cancel := context.WithTimeout(ctx, time.Minute*time.Duration(c.timeoutMin))
	defer cancel()

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	res, err := c.Client.Embed(rCtx, &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: texts,
	})
	if err != nil {
		return nil, err
	}
	c.metrics.Record(res.PromptEvalCount, 0, res.TotalDuration)

	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding response size mismatch: got %d want %d", len(res.Embeddings), len(texts))
	}
	for i, vec := range res.Embeddings {
		out[idxMap[i]] = fitDimensions(vec, c.dimensions)
	}
	return out, nil
}

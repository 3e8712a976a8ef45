package embed

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/abie0416/BiegeAI/pkg/ai/aitest"
	"github.com/abie0416/BiegeAI/pkg/common"
)

func TestEmbed(t *testing.T) {
	client := &aitest.Client{Dim: 16}
	e := NewEmbedder(NewEmbedderParams{Client: client, Dim: 16})

	a, err := e.Embed(context.Background(), "Sam plays basketball")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, err := e.Embed(context.Background(), "Sam plays basketball")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(a) != 16 {
		t.Fatalf("expected 16 dimensions, got %d", len(a))
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("embedding not deterministic")
	}
}

func TestEmbed_Errors(t *testing.T) {
	tests := []struct {
		name   string
		client Client
		dim    int
		text   string
	}{
		{name: "unreachable", client: &aitest.Client{EmbedErr: aitest.ErrUnreachable}, text: "x"},
		{name: "dimension mismatch", client: &aitest.Client{Dim: 8}, dim: 16, text: "x"},
		{name: "blank text", client: &aitest.Client{}, text: "  "},
		{name: "no client", text: "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEmbedder(NewEmbedderParams{Client: tt.client, Dim: tt.dim})
			_, err := e.Embed(context.Background(), tt.text)
			if !errors.Is(err, common.ErrEmbeddingUnavailable) {
				t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
			}
		})
	}
}

func TestEmbedBatch(t *testing.T) {
	texts := []string{"eric", "sam", "basketball", "court", "game"}

	t.Run("batcher", func(t *testing.T) {
		b := &aitest.Batcher{Client: &aitest.Client{Dim: 32}}
		e := NewEmbedder(NewEmbedderParams{Client: b, Dim: 32, BatchSize: 2, Parallel: 1})

		vecs, err := e.EmbedBatch(context.Background(), texts)
		if err != nil {
			t.Fatalf("EmbedBatch: %v", err)
		}
		if b.Batches != 3 {
			t.Fatalf("expected 3 batches, got %d", b.Batches)
		}
		for i, text := range texts {
			if !reflect.DeepEqual(vecs[i], aitest.BagOfWords(text, 32)) {
				t.Fatalf("vector %d out of order", i)
			}
		}
	})

	t.Run("per text", func(t *testing.T) {
		client := &aitest.Client{Dim: 32}
		e := NewEmbedder(NewEmbedderParams{Client: client, Dim: 32})

		vecs, err := e.EmbedBatch(context.Background(), texts)
		if err != nil {
			t.Fatalf("EmbedBatch: %v", err)
		}
		if client.EmbedCalls() != len(texts) {
			t.Fatalf("expected %d calls, got %d", len(texts), client.EmbedCalls())
		}
		for i, text := range texts {
			if !reflect.DeepEqual(vecs[i], aitest.BagOfWords(text, 32)) {
				t.Fatalf("vector %d out of order", i)
			}
		}
	})

	t.Run("failure", func(t *testing.T) {
		e := NewEmbedder(NewEmbedderParams{Client: &aitest.Client{EmbedErr: aitest.ErrUnreachable}})
		if _, err := e.EmbedBatch(context.Background(), texts); !errors.Is(err, common.ErrEmbeddingUnavailable) {
			t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
		}
	})
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		if got := Cosine(tt.a, tt.b); got != tt.want {
			t.Errorf("%s: Cosine = %v, want %v", tt.name, got, tt.want)
		}
	}
}

type lengthClient map[string]int

func (c lengthClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	vec := make([]float32, c[string(input)])
	for i := range vec {
		vec[i] = 1
	}
	return vec, nil
}

func TestEmbed_LocksDimensionOnFirstVector(t *testing.T) {
	ctx := context.Background()
	e := NewEmbedder(NewEmbedderParams{Client: lengthClient{"eric": 4, "sam": 4, "court": 6}})
	if e.Dim() != 0 {
		t.Fatalf("Dim before first vector = %d", e.Dim())
	}

	if _, err := e.Embed(ctx, "eric"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if e.Dim() != 4 {
		t.Fatalf("Dim = %d, want 4", e.Dim())
	}
	if _, err := e.Embed(ctx, "sam"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if _, err := e.Embed(ctx, "court"); !errors.Is(err, common.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable for a 6-dimensional vector, got %v", err)
	}
	if _, err := e.EmbedBatch(ctx, []string{"eric", "court", "sam"}); !errors.Is(err, common.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable from batch, got %v", err)
	}
}

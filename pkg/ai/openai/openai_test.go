package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")

		switch {
		case strings.HasSuffix(r.URL.Path, "/embeddings"):
			var req struct {
				Input []string `json:"input"`
			}
			if err := json.Unmarshal(body, &req); err != nil {
				t.Errorf("bad embedding request: %v", err)
			}
			data := make([]map[string]any, 0, len(req.Input))
			for i := len(req.Input) - 1; i >= 0; i-- {
				data = append(data, map[string]any{
					"object":    "embedding",
					"index":     i,
					"embedding": []float64{float64(i + 1), 0.5, 0.25, 0.125, 9},
				})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"object": "list",
				"data":   data,
				"model":  "embed",
				"usage":  map[string]any{"prompt_tokens": 3, "total_tokens": 3},
			})
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			if !strings.Contains(string(body), `"json_schema"`) {
				t.Errorf("expected json_schema response format, got %s", body)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":      "cmpl-1",
				"object":  "chat.completion",
				"created": 1,
				"model":   "chat",
				"choices": []map[string]any{{
					"index":         0,
					"finish_reason": "stop",
					"message": map[string]any{
						"role":    "assistant",
						"content": "```json\n{\"entities\":[{\"label\":\"Sam\"}]}\n```",
					},
				}},
				"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 8, "total_tokens": 20},
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestGenerateEmbeddings_FitsDimensionsAndOrder(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	c := NewGraphOpenAIClient(NewGraphOpenAIClientParams{
		EmbeddingModel: "embed",
		EmbeddingURL:   srv.URL,
		EmbeddingKey:   "test",
		Dimensions:     4,
	})

	out, err := c.GenerateEmbeddings(context.Background(), [][]byte{[]byte("a"), []byte("   "), []byte("b")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(out))
	}
	for i, v := range out {
		if len(v) != 4 {
			t.Fatalf("vector %d has length %d, want 4", i, len(v))
		}
	}
	if out[0][0] != 1 || out[2][0] != 2 {
		t.Fatalf("vectors out of order: %v", out)
	}
	for _, f := range out[1] {
		if f != 0 {
			t.Fatalf("blank input should map to zero vector, got %v", out[1])
		}
	}

	if m := c.GetMetrics(); m.Requests != 1 || m.InputTokens != 3 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

func TestGenerateCompletionWithFormat(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	c := NewGraphOpenAIClient(NewGraphOpenAIClientParams{
		ExtractionModel: "chat",
		ChatURL:         srv.URL,
		ChatKey:         "test",
	})

	var out struct {
		Entities []struct {
			Label string `json:"label"`
		} `json:"entities"`
	}
	if err := c.GenerateCompletionWithFormat(context.Background(), "entities", "test", "prompt", &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Entities) != 1 || out.Entities[0].Label != "Sam" {
		t.Fatalf("unexpected output %+v", out)
	}
	if m := c.GetMetrics(); m.OutputTokens != 8 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

func TestMissingClients(t *testing.T) {
	c := NewGraphOpenAIClient(NewGraphOpenAIClientParams{})
	if _, err := c.GenerateEmbedding(context.Background(), []byte("x")); err == nil {
		t.Fatal("expected error without embedding client")
	}
	if _, err := c.GenerateCompletion(context.Background(), "x"); err == nil {
		t.Fatal("expected error without chat client")
	}
}

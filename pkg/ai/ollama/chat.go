package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"time"

	"github.com/abie0416/BiegeAI/pkg/ai"
	"github.com/abie0416/BiegeAI/pkg/chunker"
	"github.com/abie0416/BiegeAI/pkg/logger"

	"github.com/ollama/ollama/api"
)

const (
	baseContext  = 4096
	replyReserve = 200
)

// contextSize estimates the num_ctx a prompt needs. Zero means the model
// default is large enough.
func contextSize(prompt string) int {
	tokens, err := chunker.CountTokens("o200k_base", prompt)
	if err != nil {
		tokens = len(prompt) / 3
	}
	tokens += replyReserve
	if tokens > baseContext {
		return tokens
	}
	return 0
}

func (c *GraphOllamaClient) chatRequest(prompt string, defaultTemp float64, opts []ai.GenerateOption) *api.ChatRequest {
	options := ai.GenerateOptions{
		Model:       c.extractionModel,
		Temperature: defaultTemp,
	}
	for _, o := range opts {
		o(&options)
	}

	msgs := make([]api.Message, 0, len(options.SystemPrompts)+1)
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, api.Message{Role: "system", Content: sp})
	}
	msgs = append(msgs, api.Message{Role: "user", Content: prompt})

	stream := false
	req := &api.ChatRequest{
		Model:    options.Model,
		Messages: msgs,
		Stream:   &stream,
		Options:  map[string]any{"temperature": options.Temperature},
	}
	if options.Seed != nil {
		req.Options["seed"] = *options.Seed
	}
	if n := contextSize(prompt); n > 0 {
		req.Options["num_ctx"] = n
	}
	return req
}

func (c *GraphOllamaClient) chat(ctx context.Context, req *api.ChatRequest) (string, error) {
	rCtx, cancel := context.WithTimeout(ctx, time.Minute*time.Duration(c.timeoutMin))
	defer cancel()

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return "", err
	}
	defer c.reqLock.Release(1)

	var final api.ChatResponse
	if err := c.Client.Chat(rCtx, req, func(cr api.ChatResponse) error {
		final.Message.Content += cr.Message.Content
		if cr.Done {
			final.Done = true
			final.Metrics = cr.Metrics
		}
		return nil
	}); err != nil {
		return "", err
	}

	c.metrics.Record(final.Metrics.PromptEvalCount, final.Metrics.EvalCount, final.Metrics.TotalDuration)

	if final.Message.Content == "" {
		return "", errors.New("empty response from model")
	}
	return final.Message.Content, nil
}

// GenerateCompletion sends a single-turn prompt and returns assistant text.
func (c *GraphOllamaClient) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (string, error) {
	return c.chat(ctx, c.chatRequest(prompt, 0.3, opts))
}

// GenerateCompletionWithFormat enforces a JSON schema and unmarshals into out.
func (c *GraphOllamaClient) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	rv := reflect.ValueOf(out)
	if out == nil || rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.New("out must be a non-nil pointer")
	}

	formatBytes, err := json.Marshal(ai.GenerateSchema(out))
	if err != nil {
		return err
	}

	req := c.chatRequest(prompt, 0.1, opts)
	req.Format = json.RawMessage(formatBytes)

	content, err := c.chat(ctx, req)
	if err != nil {
		return err
	}

	if err := ai.UnmarshalFlexible(content, out); err != nil {
		logger.Debug("[AI] Structured output rejected", "format", name, "err", err)
		return err
	}
	return nil
}

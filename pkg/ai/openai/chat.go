package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abie0416/BiegeAI/pkg/ai"
	"github.com/abie0416/BiegeAI/pkg/logger"

	"github.com/openai/openai-go/v3"
)

var errNoChatClient = errors.New("openai chat client not configured")

func (c *GraphOpenAIClient) chatBody(prompt string, defaultTemp float64, opts []ai.GenerateOption) openai.ChatCompletionNewParams {
	options := ai.GenerateOptions{
		Model:       c.extractionModel,
		Temperature: defaultTemp,
	}
	for _, o := range opts {
		o(&options)
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(options.SystemPrompts)+1)
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, openai.SystemMessage(sp))
	}
	msgs = append(msgs, openai.UserMessage(prompt))

	body := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(options.Model),
		Messages:    msgs,
		Temperature: openai.Float(options.Temperature),
	}
	if options.Seed != nil {
		body.Seed = openai.Int(*options.Seed)
	}
	return body
}

func (c *GraphOpenAIClient) complete(ctx context.Context, body openai.ChatCompletionNewParams) (string, error) {
	if c.ChatClient == nil {
		return "", errNoChatClient
	}

	rCtx, cancel := context.WithTimeout(ctx, time.Minute*time.Duration(c.timeoutMin))
	defer cancel()

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return "", err
	}
	defer c.reqLock.Release(1)

	start := time.Now()
	response, err := c.ChatClient.Chat.Completions.New(rCtx, body)
	if err != nil {
		return "", err
	}
	c.metrics.Record(int(response.Usage.PromptTokens), int(response.Usage.CompletionTokens), time.Since(start))

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no choices in response from model")
	}
	message := response.Choices[0].Message.Content
	if message == "" {
		return "", fmt.Errorf("empty response from model (finish_reason: %s)", response.Choices[0].FinishReason)
	}
	return message, nil
}

// GenerateCompletion sends a single-turn prompt to the chat model and
// returns the generated completion as plain text.
func (c *GraphOpenAIClient) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (string, error) {
	return c.complete(ctx, c.chatBody(prompt, 0.3, opts))
}

// GenerateCompletionWithFormat sends a prompt to the chat model with a
// strict JSON schema derived from out and decodes the answer into out.
//
// Example:
//
//	var out entityResponse
//	err := client.GenerateCompletionWithFormat(ctx, "entities", "Entities in the text", prompt, &out)
func (c *GraphOpenAIClient) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	body := c.chatBody(prompt, 0.1, opts)
	body.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
			JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:        name,
				Description: openai.String(description),
				Schema:      ai.GenerateSchema(out),
				Strict:      openai.Bool(true),
			},
		},
	}

	message, err := c.complete(ctx, body)
	if err != nil {
		return err
	}

	if err := ai.UnmarshalFlexible(message, out); err != nil {
		logger.Debug("[AI] Structured output rejected", "format", name, "err", err)
		return err
	}
	return nil
}

package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"github.com/joseph-ayodele/parts-intake/internal/llm"
)

// Generate implements llm.Model: system instructions, then the prompt with any page images.
func (c *Client) Generate(ctx context.Context, req llm.Request) (string, error) {
	start := time.Now()

	userParts := []llms.ContentPart{llms.TextPart(req.Prompt)}
	for _, img := range req.Images {
		userParts = append(userParts, llms.ImageURLPart(img.DataURL()))
	}
	content := []llms.MessageContent{
		{
			Role:  schema.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(req.Instructions)},
		},
		{
			Role:  schema.ChatMessageTypeHuman,
			Parts: userParts,
		},
	}

	opts := []llms.CallOption{
		llms.WithTemperature(req.Params.Temperature),
		llms.WithTopP(req.Params.TopP),
		llms.WithTopK(req.Params.TopK),
		llms.WithMaxTokens(req.Params.MaxTokens),
	}

	resp, err := c.llm.GenerateContent(ctx, content, opts...)
	if err != nil {
		if llm.IsQuotaError(err) {
			c.logger.Warn("llm.openai.rate_limited", "model", c.cfg.Model, "error", err)
			return "", fmt.Errorf("%w: %v", llm.ErrQuotaExhausted, err)
		}
		c.logger.Error("llm.openai.http_error",
			"model", c.cfg.Model, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in model response")
	}

	c.logger.Debug("llm.openai.ok",
		"model", c.cfg.Model,
		"task", req.Task,
		"stop_reason", resp.Choices[0].StopReason,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return resp.Choices[0].Content, nil
}

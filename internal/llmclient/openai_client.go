package llmclient

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator/api/schemas"
	"github.com/xkilldash9x/navigator/internal/config"
)

// OpenAIClient implements schemas.LLMClient against any OpenAI compatible
// chat completions endpoint.
type OpenAIClient struct {
	client         openai.Client
	config         config.LLMModelConfig
	logger         *zap.Logger
	backoffFactory func() backoff.BackOff
}

// NewOpenAIClient initializes the client. SDK level retries are disabled so
// that retry policy lives in one place.
func NewOpenAIClient(cfg config.LLMModelConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("OpenAI model name is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}

	return &OpenAIClient{
		client:         openai.NewClient(opts...),
		config:         cfg,
		logger:         logger.Named("llm_client.openai"),
		backoffFactory: newBackoffFactory(cfg.MaxRetryElapsed),
	}, nil
}

// Generate sends one chat completion request and returns the assistant text.
func (c *OpenAIClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	params := c.buildParams(req)

	var responseContent string
	operation := func() error {
		startTime := time.Now()
		resp, err := c.client.Chat.Completions.New(ctx, params)
		duration := time.Since(startTime)
		if err != nil {
			return c.handleAPIError(err)
		}

		if len(resp.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("openai API returned no choices"))
		}
		choice := resp.Choices[0]
		if choice.Message.Content == "" {
			if choice.FinishReason == "content_filter" {
				return backoff.Permanent(fmt.Errorf("openai API blocked the request (Reason: %s)", choice.FinishReason))
			}
			if choice.Message.Refusal != "" {
				return backoff.Permanent(fmt.Errorf("openai API refused the request: %s", choice.Message.Refusal))
			}
			return fmt.Errorf("openai API returned empty content (Reason: %s)", choice.FinishReason)
		}

		c.logger.Info("LLM generation complete (OpenAI)",
			zap.Duration("duration", duration),
			zap.Int64("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int64("completion_tokens", resp.Usage.CompletionTokens),
			zap.Int64("total_tokens", resp.Usage.TotalTokens),
		)
		responseContent = choice.Message.Content
		return nil
	}

	if err := retry(ctx, c.backoffFactory(), operation); err != nil {
		return "", err
	}
	return responseContent, nil
}

// Close is a no-op; the SDK uses the shared HTTP transport.
func (c *OpenAIClient) Close() error { return nil }

func (c *OpenAIClient) buildParams(req schemas.GenerationRequest) openai.ChatCompletionNewParams {
	parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(req.UserPrompt)}
	if req.Image != nil && len(req.Image.Data) > 0 {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: dataURL(req.Image),
		}))
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(parts))

	maxTokens := req.Options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.config.MaxTokens
	}

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.config.Model),
		Messages:    messages,
		Temperature: openai.Float(req.Options.Temperature),
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}
	if req.Options.ForceJSONFormat {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

func (c *OpenAIClient) handleAPIError(err error) error {
	if isContextError(err) {
		return backoff.Permanent(err)
	}

	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		c.logger.Warn("Network error during LLM request, retrying...", zap.Error(err))
		return fmt.Errorf("openai request failed: %w", err)
	}

	c.logger.Error("OpenAI API returned error status", zap.Int("status", apiErr.StatusCode), zap.String("response", apiErr.Error()))
	wrapped := fmt.Errorf("openai API error: status %d: %w", apiErr.StatusCode, err)
	if isTransientStatus(apiErr.StatusCode) {
		return wrapped
	}
	return backoff.Permanent(wrapped)
}

func dataURL(img *schemas.ImageArtifact) string {
	mime := img.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

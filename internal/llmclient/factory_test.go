package llmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/navigator/internal/config"
)

func TestNewClient(t *testing.T) {
	logger := setupTestLogger(t)
	ctx := context.Background()

	t.Run("gemini", func(t *testing.T) {
		cfg := getValidLLMConfig()
		cfg.Endpoint = "http://127.0.0.1:1"
		client, err := NewClient(ctx, cfg, logger)
		require.NoError(t, err)
		t.Cleanup(func() { client.Close() })
		_, ok := client.(*GeminiClient)
		assert.True(t, ok, "expected *GeminiClient, got %T", client)
	})

	t.Run("openai", func(t *testing.T) {
		cfg := getValidLLMConfig()
		cfg.Provider = config.ProviderOpenAI
		client, err := NewClient(ctx, cfg, logger)
		require.NoError(t, err)
		_, ok := client.(*OpenAIClient)
		assert.True(t, ok, "expected *OpenAIClient, got %T", client)
	})

	t.Run("unknown provider", func(t *testing.T) {
		cfg := getValidLLMConfig()
		cfg.Provider = "anthropic-local"
		client, err := NewClient(ctx, cfg, logger)
		assert.Nil(t, client)
		assert.ErrorContains(t, err, "unknown or unsupported LLM provider configured: 'anthropic-local'")
	})

	t.Run("missing key is reported by the provider", func(t *testing.T) {
		cfg := getValidLLMConfig()
		cfg.APIKey = ""
		_, err := NewClient(ctx, cfg, logger)
		assert.ErrorContains(t, err, "API key is required")
	})
}

package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/docgen_server/config"
)

func TestNewFromConfig(t *testing.T) {
	r, err := NewFromConfig([]config.ProviderConfig{
		{Name: "openai", Type: "openai"},
		{Name: "claude-api", Type: "anthropic", BaseURL: "http://localhost:9999"},
		{Name: "local", Type: "claude_cli", Binary: "/usr/local/bin/claude"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"claude-api", "local", "openai"}, r.Names())

	p, ok := r.Get("openai")
	require.True(t, ok)
	assert.IsType(t, &OpenAIProvider{}, p)

	p, ok = r.Get("claude-api")
	require.True(t, ok)
	assert.Equal(t, "http://localhost:9999", p.(*AnthropicProvider).baseURL)

	p, ok = r.Get("local")
	require.True(t, ok)
	assert.Equal(t, "/usr/local/bin/claude", p.(*ClaudeCLIProvider).binary)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestNewFromConfig_Errors(t *testing.T) {
	_, err := NewFromConfig([]config.ProviderConfig{{Name: "x", Type: "gemini"}})
	assert.EqualError(t, err, "unknown provider type: gemini")

	_, err = NewFromConfig([]config.ProviderConfig{
		{Name: "dup", Type: "openai"},
		{Name: "dup", Type: "anthropic"},
	})
	assert.EqualError(t, err, "duplicate provider: dup")

	_, err = NewFromConfig([]config.ProviderConfig{{Type: "openai"}})
	assert.Error(t, err)
}

func TestNewByType_Defaults(t *testing.T) {
	p, err := NewByType(config.ProviderConfig{Name: "o", Type: "openai"})
	require.NoError(t, err)
	op := p.(*OpenAIProvider)
	assert.Equal(t, defaultOpenAIURL, op.baseURL)
	assert.Equal(t, "2m0s", op.client.Timeout.String())

	p, err = NewByType(config.ProviderConfig{Name: "c", Type: "claude_cli"})
	require.NoError(t, err)
	assert.Equal(t, "claude", p.(*ClaudeCLIProvider).binary)
}

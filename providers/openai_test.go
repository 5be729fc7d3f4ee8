package providers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIPrepareRequest(t *testing.T) {
	provider := NewOpenAIProvider("sk-test", "gpt-4o-mini", nil)

	body, err := provider.PrepareRequest(GenerateRequest{
		Prompt: "hello",
		System: "you are terse",
	}, nil)
	require.NoError(t, err)

	var decoded struct {
		Model    string              `json:"model"`
		Messages []map[string]string `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "gpt-4o-mini", decoded.Model)
	require.Len(t, decoded.Messages, 2)
	assert.Equal(t, "system", decoded.Messages[0]["role"])
	assert.Equal(t, "you are terse", decoded.Messages[0]["content"])
	assert.Equal(t, "user", decoded.Messages[1]["role"])
}

func TestOpenAIHeadersCarryBearerToken(t *testing.T) {
	provider := NewOpenAIProvider("sk-test", "gpt-4o-mini", map[string]string{"X-Org": "acme"})

	headers := provider.Headers()
	assert.Equal(t, "Bearer sk-test", headers["Authorization"])
	assert.Equal(t, "application/json", headers["Content-Type"])
	assert.Equal(t, "acme", headers["X-Org"])
}

func TestOpenAIParseResponse(t *testing.T) {
	provider := NewOpenAIProvider("sk-test", "gpt-4o-mini", nil)

	resp, err := provider.ParseResponse([]byte(`{
		"model": "gpt-4o-mini",
		"choices": [{"message": {"content": "optimized text"}}],
		"usage": {"prompt_tokens": 15, "completion_tokens": 42}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "optimized text", resp.Text)
	assert.Equal(t, "gpt-4o-mini", resp.Model)
	assert.Equal(t, int64(15), resp.PromptTokens)
	assert.Equal(t, int64(42), resp.OutputTokens)
}

func TestOpenAIParseResponseNoChoices(t *testing.T) {
	provider := NewOpenAIProvider("sk-test", "gpt-4o-mini", nil)
	_, err := provider.ParseResponse([]byte(`{"model": "gpt-4o-mini", "choices": []}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty response")
}

func TestOpenAIParseHealthResponse(t *testing.T) {
	provider := NewOpenAIProvider("sk-test", "gpt-4o-mini", nil)

	model, err := provider.ParseHealthResponse([]byte(`{"data": [{"id": "gpt-4o"}, {"id": "gpt-4o-mini"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", model)

	_, err = provider.ParseHealthResponse([]byte(`{"data": []}`))
	assert.Error(t, err)
}

func TestOpenAIBaseURLOverride(t *testing.T) {
	provider := NewOpenAIProvider("sk-test", "gpt-4o-mini", nil)
	provider.SetBaseURL("http://localhost:8081/v1")

	assert.Equal(t, "http://localhost:8081/v1/chat/completions", provider.Endpoint())
	assert.Equal(t, "http://localhost:8081/v1/models", provider.HealthEndpoint())
}

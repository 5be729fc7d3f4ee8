package providers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaPrepareRequest(t *testing.T) {
	provider := NewOllamaProvider("", "llama3", nil)
	provider.SetOption("temperature", 0.7)

	temp := 0.2
	maxTokens := 64
	body, err := provider.PrepareRequest(GenerateRequest{
		Prompt:      "hello",
		System:      "you are terse",
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	}, nil)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "llama3", decoded["model"])
	assert.Equal(t, "hello", decoded["prompt"])
	assert.Equal(t, "you are terse", decoded["system"])
	assert.Equal(t, false, decoded["stream"])

	opts, ok := decoded["options"].(map[string]any)
	require.True(t, ok)
	// Per-request values override the configured defaults.
	assert.Equal(t, 0.2, opts["temperature"])
	assert.Equal(t, float64(64), opts["num_predict"])
}

func TestOllamaParseResponseSingleObject(t *testing.T) {
	provider := NewOllamaProvider("", "llama3", nil)

	resp, err := provider.ParseResponse([]byte(`{
		"model": "llama3",
		"response": "optimized text",
		"done": true,
		"prompt_eval_count": 12,
		"eval_count": 40
	}`))
	require.NoError(t, err)

	assert.Equal(t, "optimized text", resp.Text)
	assert.Equal(t, "llama3", resp.Model)
	assert.Equal(t, int64(12), resp.PromptTokens)
	assert.Equal(t, int64(40), resp.OutputTokens)
}

func TestOllamaParseResponseStreamedChunks(t *testing.T) {
	provider := NewOllamaProvider("", "llama3", nil)

	body := `{"model": "llama3", "response": "opti", "done": false}
{"model": "llama3", "response": "mized", "done": false}
{"model": "llama3", "response": "", "done": true, "eval_count": 7}`

	resp, err := provider.ParseResponse([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "optimized", resp.Text)
	assert.Equal(t, int64(7), resp.OutputTokens)
}

func TestOllamaParseResponseInvalid(t *testing.T) {
	provider := NewOllamaProvider("", "llama3", nil)
	_, err := provider.ParseResponse([]byte("not json"))
	assert.Error(t, err)
}

func TestOllamaParseHealthResponse(t *testing.T) {
	provider := NewOllamaProvider("", "llama3", nil)

	model, err := provider.ParseHealthResponse([]byte(`{"models": [{"name": "mistral"}, {"name": "llama3"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "llama3", model, "the configured model wins when present")

	model, err = provider.ParseHealthResponse([]byte(`{"models": [{"name": "mistral"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "mistral", model, "any available model keeps the backend usable")

	_, err = provider.ParseHealthResponse([]byte(`{"models": []}`))
	assert.Error(t, err)
}

func TestOllamaEndpoints(t *testing.T) {
	provider := NewOllamaProvider("", "llama3", nil)
	provider.SetEndpoint("http://example.test:11434")

	assert.Equal(t, "http://example.test:11434/api/generate", provider.Endpoint())
	assert.Equal(t, "http://example.test:11434/api/tags", provider.HealthEndpoint())
}

package providers

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dhollinger/promptmend/config"
	"github.com/dhollinger/promptmend/utils"
)

// OllamaProvider adapts a locally hosted Ollama server. Ollama needs no API
// key and exposes /api/tags as a cheap liveness endpoint.
type OllamaProvider struct {
	endpoint     string
	model        string
	extraHeaders map[string]string
	options      map[string]any
	logger       utils.Logger
}

func NewOllamaProvider(_ string, model string, extraHeaders map[string]string) *OllamaProvider {
	if extraHeaders == nil {
		extraHeaders = make(map[string]string)
	}
	return &OllamaProvider{
		endpoint:     "http://localhost:11434",
		model:        model,
		extraHeaders: extraHeaders,
		options:      make(map[string]any),
		logger:       utils.NewLogger(utils.LogLevelWarn),
	}
}

func (p *OllamaProvider) Name() string {
	return "ollama"
}

func (p *OllamaProvider) Endpoint() string {
	return p.endpoint + "/api/generate"
}

func (p *OllamaProvider) HealthEndpoint() string {
	return p.endpoint + "/api/tags"
}

func (p *OllamaProvider) Headers() map[string]string {
	headers := map[string]string{
		"Content-Type": "application/json",
	}
	for k, v := range p.extraHeaders {
		headers[k] = v
	}
	return headers
}

func (p *OllamaProvider) SetExtraHeaders(extraHeaders map[string]string) {
	p.extraHeaders = extraHeaders
}

func (p *OllamaProvider) SetDefaultOptions(cfg *config.Config) {
	p.SetOption("temperature", cfg.Temperature)
	p.SetOption("num_predict", cfg.MaxTokens)
	if cfg.OllamaEndpoint != "" {
		p.endpoint = cfg.OllamaEndpoint
	}
}

func (p *OllamaProvider) SetOption(key string, value any) {
	p.options[key] = value
	p.logger.Debug("Option set for Ollama", "key", key, "value", value)
}

func (p *OllamaProvider) SetLogger(logger utils.Logger) {
	p.logger = logger
}

// SetEndpoint overrides the server base URL, mainly for tests.
func (p *OllamaProvider) SetEndpoint(endpoint string) {
	p.endpoint = endpoint
}

func (p *OllamaProvider) PrepareRequest(req GenerateRequest, options map[string]any) ([]byte, error) {
	opts := map[string]any{}
	for k, v := range p.options {
		opts[k] = v
	}
	if req.Temperature != nil {
		opts["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		opts["num_predict"] = *req.MaxTokens
	}
	for k, v := range options {
		opts[k] = v
	}

	requestBody := map[string]any{
		"model":   p.model,
		"prompt":  req.Prompt,
		"stream":  false,
		"options": opts,
	}
	if req.System != "" {
		requestBody["system"] = req.System
	}

	data, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	return data, nil
}

// ParseResponse handles both the single-object non-streaming form and the
// newline-delimited form Ollama emits when stream was left on upstream.
func (p *OllamaProvider) ParseResponse(body []byte) (GenerateResponse, error) {
	var out GenerateResponse
	var fullText bytes.Buffer

	decoder := json.NewDecoder(bytes.NewReader(body))
	for decoder.More() {
		var chunk struct {
			Model           string `json:"model"`
			Response        string `json:"response"`
			Done            bool   `json:"done"`
			PromptEvalCount int64  `json:"prompt_eval_count"`
			EvalCount       int64  `json:"eval_count"`
		}
		if err := decoder.Decode(&chunk); err != nil {
			return GenerateResponse{}, fmt.Errorf("error parsing Ollama response: %w", err)
		}
		if chunk.Response != "" {
			fullText.WriteString(chunk.Response)
		}
		if chunk.Model != "" {
			out.Model = chunk.Model
		}
		if chunk.PromptEvalCount > 0 {
			out.PromptTokens = chunk.PromptEvalCount
		}
		if chunk.EvalCount > 0 {
			out.OutputTokens = chunk.EvalCount
		}
		if chunk.Done {
			break
		}
	}

	out.Text = fullText.String()
	return out, nil
}

func (p *OllamaProvider) ParseHealthResponse(body []byte) (string, error) {
	var listing struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		return "", fmt.Errorf("error parsing Ollama model listing: %w", err)
	}
	for _, m := range listing.Models {
		if m.Name == p.model {
			return m.Name, nil
		}
	}
	if len(listing.Models) > 0 {
		return listing.Models[0].Name, nil
	}
	return "", fmt.Errorf("no models available on Ollama server")
}

package providers

import (
	"encoding/json"
	"fmt"

	"github.com/dhollinger/promptmend/config"
	"github.com/dhollinger/promptmend/utils"
)

// OpenAIProvider adapts the OpenAI chat completions API, the hosted fallback
// behind a local Ollama server.
type OpenAIProvider struct {
	apiKey       string
	model        string
	baseURL      string
	extraHeaders map[string]string
	options      map[string]any
	logger       utils.Logger
}

func NewOpenAIProvider(apiKey, model string, extraHeaders map[string]string) *OpenAIProvider {
	if extraHeaders == nil {
		extraHeaders = make(map[string]string)
	}
	return &OpenAIProvider{
		apiKey:       apiKey,
		model:        model,
		baseURL:      "https://api.openai.com/v1",
		extraHeaders: extraHeaders,
		options:      make(map[string]any),
		logger:       utils.NewLogger(utils.LogLevelWarn),
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) Endpoint() string {
	return p.baseURL + "/chat/completions"
}

func (p *OpenAIProvider) HealthEndpoint() string {
	return p.baseURL + "/models"
}

func (p *OpenAIProvider) Headers() map[string]string {
	headers := map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + p.apiKey,
	}
	for k, v := range p.extraHeaders {
		headers[k] = v
	}
	return headers
}

func (p *OpenAIProvider) SetExtraHeaders(extraHeaders map[string]string) {
	p.extraHeaders = extraHeaders
}

func (p *OpenAIProvider) SetDefaultOptions(cfg *config.Config) {
	p.SetOption("temperature", cfg.Temperature)
	p.SetOption("max_tokens", cfg.MaxTokens)
}

func (p *OpenAIProvider) SetOption(key string, value any) {
	p.options[key] = value
	p.logger.Debug("Option set for OpenAI", "key", key, "value", value)
}

func (p *OpenAIProvider) SetLogger(logger utils.Logger) {
	p.logger = logger
}

// SetBaseURL overrides the API root, used for tests and compatible gateways.
func (p *OpenAIProvider) SetBaseURL(baseURL string) {
	p.baseURL = baseURL
}

func (p *OpenAIProvider) PrepareRequest(req GenerateRequest, options map[string]any) ([]byte, error) {
	messages := make([]map[string]string, 0, 2)
	if req.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})

	requestBody := map[string]any{
		"model":    p.model,
		"messages": messages,
	}
	for k, v := range p.options {
		requestBody[k] = v
	}
	if req.Temperature != nil {
		requestBody["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		requestBody["max_tokens"] = *req.MaxTokens
	}
	for k, v := range options {
		requestBody[k] = v
	}

	data, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	return data, nil
}

func (p *OpenAIProvider) ParseResponse(body []byte) (GenerateResponse, error) {
	var response struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int64 `json:"prompt_tokens"`
			CompletionTokens int64 `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return GenerateResponse{}, fmt.Errorf("error parsing OpenAI response: %w", err)
	}
	if len(response.Choices) == 0 {
		return GenerateResponse{}, fmt.Errorf("empty response from OpenAI API")
	}

	return GenerateResponse{
		Text:         response.Choices[0].Message.Content,
		Model:        response.Model,
		PromptTokens: response.Usage.PromptTokens,
		OutputTokens: response.Usage.CompletionTokens,
	}, nil
}

func (p *OpenAIProvider) ParseHealthResponse(body []byte) (string, error) {
	var listing struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		return "", fmt.Errorf("error parsing OpenAI model listing: %w", err)
	}
	for _, m := range listing.Data {
		if m.ID == p.model {
			return m.ID, nil
		}
	}
	if len(listing.Data) > 0 {
		return listing.Data[0].ID, nil
	}
	return "", fmt.Errorf("no models listed by OpenAI API")
}

package providers

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dhollinger/promptmend/config"
	"github.com/dhollinger/promptmend/utils"
)

// MockProvider implements Provider for tests and for the stub mode that runs
// the full stack without a live model. Point its endpoint at an httptest
// server emitting {"response": "...", "model": "..."} bodies.
type MockProvider struct {
	endpoint     string
	model        string
	extraHeaders map[string]string
	options      map[string]any
	logger       utils.Logger

	shouldError bool
	errorMsg    string
}

func NewMockProvider(endpoint, model string, extraHeaders map[string]string) *MockProvider {
	if extraHeaders == nil {
		extraHeaders = make(map[string]string)
	}
	return &MockProvider{
		endpoint:     endpoint,
		model:        model,
		extraHeaders: extraHeaders,
		options:      make(map[string]any),
		logger:       utils.NewLogger(utils.LogLevelOff),
	}
}

// SetMockError makes every PrepareRequest call fail, simulating a dead
// backend without a server.
func (p *MockProvider) SetMockError(shouldError bool, errorMsg string) {
	p.shouldError = shouldError
	p.errorMsg = errorMsg
}

func (p *MockProvider) SetEndpoint(endpoint string)               { p.endpoint = endpoint }
func (p *MockProvider) Name() string                              { return "mock" }
func (p *MockProvider) Endpoint() string                          { return p.endpoint }
func (p *MockProvider) HealthEndpoint() string                    { return "" }
func (p *MockProvider) SetOption(key string, value any)           { p.options[key] = value }
func (p *MockProvider) SetLogger(logger utils.Logger)             { p.logger = logger }
func (p *MockProvider) SetExtraHeaders(headers map[string]string) { p.extraHeaders = headers }

func (p *MockProvider) SetDefaultOptions(cfg *config.Config) {
	p.SetOption("temperature", cfg.Temperature)
	p.SetOption("max_tokens", cfg.MaxTokens)
}

func (p *MockProvider) Headers() map[string]string {
	headers := map[string]string{
		"Content-Type": "application/json",
	}
	for k, v := range p.extraHeaders {
		headers[k] = v
	}
	return headers
}

func (p *MockProvider) PrepareRequest(req GenerateRequest, options map[string]any) ([]byte, error) {
	if p.shouldError {
		return nil, errors.New(p.errorMsg)
	}

	requestBody := map[string]any{
		"model":  p.model,
		"prompt": req.Prompt,
	}
	if req.System != "" {
		requestBody["system"] = req.System
	}
	for k, v := range options {
		requestBody[k] = v
	}
	return json.Marshal(requestBody)
}

func (p *MockProvider) ParseResponse(body []byte) (GenerateResponse, error) {
	var response struct {
		Response string `json:"response"`
		Model    string `json:"model"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return GenerateResponse{}, fmt.Errorf("error parsing mock response: %w", err)
	}
	model := response.Model
	if model == "" {
		model = p.model
	}
	return GenerateResponse{Text: response.Response, Model: model}, nil
}

func (p *MockProvider) ParseHealthResponse(body []byte) (string, error) {
	return p.model, nil
}

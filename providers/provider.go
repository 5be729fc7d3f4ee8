// Package providers implements the wire-level adapters for the text-generation
// backends the engine can talk to. Each provider knows how to build a request
// body, parse a response, and expose a lightweight health endpoint; everything
// above this package treats backends uniformly through the Provider interface.
package providers

import (
	"github.com/dhollinger/promptmend/config"
	"github.com/dhollinger/promptmend/utils"
)

// GenerateRequest is the provider-independent shape of a single generation
// call. Nil Temperature/MaxTokens mean "use the provider defaults".
type GenerateRequest struct {
	Prompt      string
	System      string
	Temperature *float64
	MaxTokens   *int
}

// GenerateResponse carries the parsed model output plus whatever usage
// metadata the backend reported.
type GenerateResponse struct {
	Text         string
	Model        string
	PromptTokens int64
	OutputTokens int64
}

// Provider is the capability interface every backend adapter implements.
type Provider interface {
	Name() string
	Endpoint() string
	// HealthEndpoint returns a cheap GET-able liveness URL, or "" when the
	// backend has none and liveness must be inferred from a minimal
	// generation call instead.
	HealthEndpoint() string
	Headers() map[string]string
	SetExtraHeaders(extraHeaders map[string]string)
	SetDefaultOptions(cfg *config.Config)
	SetOption(key string, value any)
	SetLogger(logger utils.Logger)

	PrepareRequest(req GenerateRequest, options map[string]any) ([]byte, error)
	ParseResponse(body []byte) (GenerateResponse, error)
	// ParseHealthResponse extracts a representative model id from the health
	// endpoint's body. Only called when HealthEndpoint is non-empty.
	ParseHealthResponse(body []byte) (string, error)
}

// ProviderConstructor builds a provider instance. Registered per name in the
// ProviderRegistry.
type ProviderConstructor func(apiKey, model string, extraHeaders map[string]string) Provider

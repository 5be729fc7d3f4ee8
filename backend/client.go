package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dhollinger/promptmend/config"
	"github.com/dhollinger/promptmend/metrics"
	"github.com/dhollinger/promptmend/providers"
	"github.com/dhollinger/promptmend/utils"
)

// Result is a successful generation, annotated with the backend that served
// it so session records can carry the provenance.
type Result struct {
	Text    string
	Backend string
	Model   string
}

// Generator is the narrow capability the optimization pipeline depends on.
// *Client and *Selector both satisfy it; tests substitute fakes.
type Generator interface {
	Generate(ctx context.Context, req providers.GenerateRequest) (*Result, error)
}

// HealthStatus is the always-structured outcome of a health check. A check
// never returns an error; unavailability is data, not failure.
type HealthStatus struct {
	Backend   string `json:"backend"`
	Available bool   `json:"available"`
	Model     string `json:"model,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Client issues single generation calls against one provider, bounded by the
// configured timeout and retried with a context-aware delay.
type Client struct {
	provider   providers.Provider
	client     *http.Client
	logger     utils.Logger
	maxRetries int
	retryDelay time.Duration
}

func NewClient(provider providers.Provider, cfg *config.Config, logger utils.Logger) *Client {
	provider.SetDefaultOptions(cfg)
	provider.SetLogger(logger)
	return &Client{
		provider:   provider,
		client:     &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}
}

func (c *Client) Name() string {
	return c.provider.Name()
}

// Generate runs one generation call with retries. All failures come back as
// *Error so the selector can classify them.
func (c *Client) Generate(ctx context.Context, req providers.GenerateRequest) (*Result, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		c.logger.Debug("Generating text", "backend", c.provider.Name(), "attempt", attempt+1)

		result, err := c.attemptGenerate(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		c.logger.Warn("Generation attempt failed", "backend", c.provider.Name(), "error", err, "attempt", attempt+1)

		if attempt < c.maxRetries {
			if err := c.wait(ctx); err != nil {
				return nil, NewError(ErrorTypeUnavailable, "generation canceled", err)
			}
		}
	}
	return nil, lastErr
}

func (c *Client) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.retryDelay):
		return nil
	}
}

func (c *Client) attemptGenerate(ctx context.Context, req providers.GenerateRequest) (*Result, error) {
	start := time.Now()
	resp, err := c.doGenerate(ctx, req)
	metrics.BackendRequestDuration.WithLabelValues(c.provider.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.BackendRequestsTotal.WithLabelValues(c.provider.Name(), "error").Inc()
		return nil, err
	}
	metrics.BackendRequestsTotal.WithLabelValues(c.provider.Name(), "ok").Inc()
	return resp, nil
}

func (c *Client) doGenerate(ctx context.Context, req providers.GenerateRequest) (*Result, error) {
	reqBody, err := c.provider.PrepareRequest(req, nil)
	if err != nil {
		return nil, NewError(ErrorTypeUnavailable, "failed to prepare request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.provider.Endpoint(), bytes.NewReader(reqBody))
	if err != nil {
		return nil, NewError(ErrorTypeUnavailable, "failed to create request", err)
	}
	for k, v := range c.provider.Headers() {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, NewError(ErrorTypeUnavailable, fmt.Sprintf("request to %s failed", c.provider.Name()), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(ErrorTypeUnavailable, "failed to read response body", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("API error", "backend", c.provider.Name(), "status", resp.StatusCode, "body", string(body))
		return nil, NewError(ErrorTypeAPI, fmt.Sprintf("%s returned status %d: %s", c.provider.Name(), resp.StatusCode, truncate(string(body), 200)), nil)
	}

	parsed, err := c.provider.ParseResponse(body)
	if err != nil {
		return nil, NewError(ErrorTypeParse, "failed to parse response", err)
	}

	return &Result{
		Text:    parsed.Text,
		Backend: c.provider.Name(),
		Model:   parsed.Model,
	}, nil
}

// HealthCheck probes the backend with its cheap listing endpoint, or with a
// minimal one-token generation when no such endpoint exists. It never returns
// an error.
func (c *Client) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{Backend: c.provider.Name()}

	if endpoint := c.provider.HealthEndpoint(); endpoint != "" {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			status.Error = err.Error()
			return status
		}
		for k, v := range c.provider.Headers() {
			httpReq.Header.Set(k, v)
		}
		resp, err := c.client.Do(httpReq)
		if err != nil {
			status.Error = err.Error()
			return status
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			status.Error = fmt.Sprintf("health endpoint returned status %d", resp.StatusCode)
			return status
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			status.Error = err.Error()
			return status
		}
		model, err := c.provider.ParseHealthResponse(body)
		if err != nil {
			status.Error = err.Error()
			return status
		}
		status.Available = true
		status.Model = model
		return status
	}

	// No dedicated endpoint: infer liveness from a minimal generation call.
	one := 1
	result, err := c.doGenerate(ctx, providers.GenerateRequest{Prompt: "ping", MaxTokens: &one})
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Available = true
	status.Model = result.Model
	return status
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhollinger/promptmend/config"
	"github.com/dhollinger/promptmend/providers"
	"github.com/dhollinger/promptmend/utils"
)

func testConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.MaxRetries = 0
	cfg.RetryDelay = time.Millisecond
	cfg.Timeout = 2 * time.Second
	return cfg
}

func mockClient(t *testing.T, endpoint string, cfg *config.Config) *Client {
	t.Helper()
	provider := providers.NewMockProvider(endpoint, "test-model", nil)
	return NewClient(provider, cfg, utils.NewLogger(utils.LogLevelOff))
}

func TestClientGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"response": "hello there", "model": "test-model-v2"}`))
	}))
	defer server.Close()

	client := mockClient(t, server.URL, testConfig())
	result, err := client.Generate(context.Background(), providers.GenerateRequest{Prompt: "hi"})
	require.NoError(t, err)

	assert.Equal(t, "hello there", result.Text)
	assert.Equal(t, "mock", result.Backend)
	assert.Equal(t, "test-model-v2", result.Model)
}

func TestClientRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"response": "recovered"}`))
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.MaxRetries = 2
	client := mockClient(t, server.URL, cfg)

	result, err := client.Generate(context.Background(), providers.GenerateRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientAPIErrorAfterRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad model", http.StatusBadRequest)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.MaxRetries = 1
	client := mockClient(t, server.URL, cfg)

	_, err := client.Generate(context.Background(), providers.GenerateRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())

	var berr *Error
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, ErrorTypeAPI, berr.Type)
	assert.Contains(t, berr.Message, "400")
}

func TestClientParseErrorType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json at all`))
	}))
	defer server.Close()

	client := mockClient(t, server.URL, testConfig())
	_, err := client.Generate(context.Background(), providers.GenerateRequest{Prompt: "hi"})
	require.Error(t, err)

	var berr *Error
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, ErrorTypeParse, berr.Type)
}

func TestClientUnreachableServer(t *testing.T) {
	client := mockClient(t, "http://127.0.0.1:1", testConfig())
	_, err := client.Generate(context.Background(), providers.GenerateRequest{Prompt: "hi"})
	require.Error(t, err)

	var berr *Error
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, ErrorTypeUnavailable, berr.Type)
}

func TestClientCanceledDuringRetryWait(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.MaxRetries = 3
	cfg.RetryDelay = time.Minute
	client := mockClient(t, server.URL, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Generate(ctx, providers.GenerateRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second, "cancellation must cut retry waits short")
}

func TestClientHealthCheckViaGenerateFallback(t *testing.T) {
	// MockProvider has no listing endpoint, so health is inferred from a
	// minimal generation call.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response": "pong", "model": "test-model"}`))
	}))
	defer server.Close()

	client := mockClient(t, server.URL, testConfig())
	status := client.HealthCheck(context.Background())

	assert.True(t, status.Available)
	assert.Equal(t, "mock", status.Backend)
	assert.Equal(t, "test-model", status.Model)
	assert.Empty(t, status.Error)
}

func TestClientHealthCheckReportsUnavailable(t *testing.T) {
	client := mockClient(t, "http://127.0.0.1:1", testConfig())
	status := client.HealthCheck(context.Background())

	assert.False(t, status.Available)
	assert.NotEmpty(t, status.Error)
}

func TestClientHealthCheckListingEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.Write([]byte(`{"models": [{"name": "llama3"}]}`))
	}))
	defer server.Close()

	provider := providers.NewOllamaProvider("", "llama3", nil)
	provider.SetEndpoint(server.URL)
	cfg := testConfig()
	cfg.OllamaEndpoint = ""
	client := NewClient(provider, cfg, utils.NewLogger(utils.LogLevelOff))

	status := client.HealthCheck(context.Background())
	assert.True(t, status.Available)
	assert.Equal(t, "llama3", status.Model)
}

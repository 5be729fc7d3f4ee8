package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryDefaultsToAllKnownProviders(t *testing.T) {
	registry := NewProviderRegistry()

	for _, name := range []string{"ollama", "openai", "mock"} {
		provider, err := registry.Get(name, "", "llama3", nil)
		require.NoError(t, err, "provider %s should be registered", name)
		assert.Equal(t, name, provider.Name())
	}
}

func TestRegistrySubsetOnlyRegistersRequested(t *testing.T) {
	registry := NewProviderRegistry("ollama")

	_, err := registry.Get("ollama", "", "llama3", nil)
	require.NoError(t, err)

	_, err = registry.Get("openai", "key", "gpt-4o-mini", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestRegistryGetReturnsFreshInstances(t *testing.T) {
	registry := NewProviderRegistry()

	a, err := registry.Get("mock", "", "m", nil)
	require.NoError(t, err)
	b, err := registry.Get("mock", "", "m", nil)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

func TestRegistryRegisterCustomProvider(t *testing.T) {
	registry := NewProviderRegistry("ollama")
	registry.Register("custom", func(apiKey, model string, extraHeaders map[string]string) Provider {
		return NewMockProvider("http://custom.local", model, extraHeaders)
	})

	provider, err := registry.Get("custom", "", "m", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://custom.local", provider.Endpoint())
}

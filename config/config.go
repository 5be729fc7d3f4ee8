// Package config loads and validates the process-wide configuration for the
// optimization engine. Values come from the environment (PM_* variables) and
// can be overridden programmatically through functional options.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"

	"github.com/dhollinger/promptmend/utils"
)

type Config struct {
	// Backends is the ordered fallback chain. The first healthy backend serves
	// a session; later entries are tried when earlier ones fail mid-flight.
	Backends []string `env:"PM_BACKENDS" envSeparator:"," envDefault:"ollama,openai"`

	Model          string `env:"PM_MODEL" envDefault:"llama3"`
	OllamaEndpoint string `env:"PM_OLLAMA_ENDPOINT" envDefault:"http://localhost:11434"`

	Temperature float64       `env:"PM_TEMPERATURE" envDefault:"0.7" validate:"gte=0,lte=2"`
	MaxTokens   int           `env:"PM_MAX_TOKENS" envDefault:"1024" validate:"gte=1"`
	Timeout     time.Duration `env:"PM_TIMEOUT" envDefault:"30s"`
	MaxRetries  int           `env:"PM_MAX_RETRIES" envDefault:"2" validate:"gte=0,lte=10"`
	RetryDelay  time.Duration `env:"PM_RETRY_DELAY" envDefault:"2s"`

	// Optimization defaults applied when a session request leaves them unset.
	Iterations         int     `env:"PM_ITERATIONS" envDefault:"2" validate:"gte=1,lte=10"`
	RoundsPerIteration int     `env:"PM_ROUNDS" envDefault:"1" validate:"gte=1,lte=5"`
	TargetScore        float64 `env:"PM_TARGET_SCORE" envDefault:"95" validate:"gte=0,lte=100"`
	MaxPromptChars     int     `env:"PM_MAX_PROMPT_CHARS" envDefault:"20000" validate:"gte=1"`

	// RateInterval throttles backend calls within a session. Zero disables it.
	RateInterval time.Duration `env:"PM_RATE_INTERVAL" envDefault:"0s"`

	ListenAddr   string `env:"PM_LISTEN_ADDR" envDefault:":8080"`
	DatabasePath string `env:"PM_DB_PATH" envDefault:"promptmend.db"`

	APIKeys  map[string]string
	LogLevel utils.LogLevel `env:"PM_LOG_LEVEL" envDefault:"WARN"`
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		APIKeys: make(map[string]string),
	}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	loadAPIKeys(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadAPIKeys picks up every *_API_KEY environment variable and maps it to its
// provider name, so OPENAI_API_KEY becomes APIKeys["openai"].
func loadAPIKeys(cfg *Config) {
	for _, envVar := range os.Environ() {
		key, value, found := strings.Cut(envVar, "=")
		if found && strings.HasSuffix(strings.ToUpper(key), "_API_KEY") {
			provider := strings.TrimSuffix(strings.ToUpper(key), "_API_KEY")
			cfg.APIKeys[strings.ToLower(provider)] = value
		}
	}
}

var validate = validator.New()

func (c *Config) Validate() error {
	return validate.Struct(c)
}

type ConfigOption func(*Config)

func NewConfig() *Config {
	return &Config{
		Backends:           []string{"ollama", "openai"},
		Model:              "llama3",
		OllamaEndpoint:     "http://localhost:11434",
		Temperature:        0.7,
		MaxTokens:          1024,
		Timeout:            30 * time.Second,
		MaxRetries:         2,
		RetryDelay:         2 * time.Second,
		Iterations:         2,
		RoundsPerIteration: 1,
		TargetScore:        95,
		MaxPromptChars:     20000,
		ListenAddr:         ":8080",
		DatabasePath:       "promptmend.db",
		APIKeys:            make(map[string]string),
		LogLevel:           utils.LogLevelWarn,
	}
}

func SetBackends(backends ...string) ConfigOption {
	return func(c *Config) {
		c.Backends = backends
	}
}

func SetModel(model string) ConfigOption {
	return func(c *Config) {
		c.Model = model
	}
}

func SetOllamaEndpoint(endpoint string) ConfigOption {
	return func(c *Config) {
		c.OllamaEndpoint = endpoint
	}
}

func SetTemperature(temperature float64) ConfigOption {
	return func(c *Config) {
		c.Temperature = temperature
	}
}

func SetMaxTokens(maxTokens int) ConfigOption {
	return func(c *Config) {
		if maxTokens < 1 {
			maxTokens = 1
		}
		c.MaxTokens = maxTokens
	}
}

func SetTimeout(timeout time.Duration) ConfigOption {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

func SetAPIKey(provider, apiKey string) ConfigOption {
	return func(c *Config) {
		if c.APIKeys == nil {
			c.APIKeys = make(map[string]string)
		}
		c.APIKeys[provider] = apiKey
	}
}

func SetMaxRetries(maxRetries int) ConfigOption {
	return func(c *Config) {
		c.MaxRetries = maxRetries
	}
}

func SetRetryDelay(retryDelay time.Duration) ConfigOption {
	return func(c *Config) {
		c.RetryDelay = retryDelay
	}
}

func SetIterations(iterations int) ConfigOption {
	return func(c *Config) {
		c.Iterations = iterations
	}
}

func SetTargetScore(score float64) ConfigOption {
	return func(c *Config) {
		c.TargetScore = score
	}
}

func SetMaxPromptChars(n int) ConfigOption {
	return func(c *Config) {
		c.MaxPromptChars = n
	}
}

func SetLogLevel(level utils.LogLevel) ConfigOption {
	return func(c *Config) {
		c.LogLevel = level
	}
}

func ApplyOptions(cfg *Config, options ...ConfigOption) {
	for _, option := range options {
		option(cfg)
	}
}

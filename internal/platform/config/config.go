package config

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Existing-content lookup directions.
const (
	OrderDesc = "desc"
	OrderAsc  = "asc"
)

// ErrNoProviderConfigured indicates that no AI provider has credentials.
var ErrNoProviderConfigured = errors.New("at least one provider API key must be configured")

type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"local"`
	PostgresDSN string `env:"POSTGRES_DSN,required"`

	// HTTP surface
	HTTPPort   int    `env:"HTTP_PORT" envDefault:"8090"`
	HealthPort int    `env:"HEALTH_PORT" envDefault:"8080"`
	APIToken   string `env:"API_TOKEN,required"`

	// Providers. Every backend speaks the OpenAI-compatible wire shape;
	// the base URL selects the actual deployment.
	OpenAIAPIKey     string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string `env:"OPENAI_BASE_URL"`
	AzureAPIKey      string `env:"AZURE_API_KEY"`
	AzureBaseURL     string `env:"AZURE_BASE_URL"`
	GoogleAPIKey     string `env:"GOOGLE_API_KEY"`
	GoogleBaseURL    string `env:"GOOGLE_BASE_URL" envDefault:"https://generativelanguage.googleapis.com/v1beta/openai"`
	VLLMAPIKey       string `env:"VLLM_API_KEY"`
	VLLMBaseURL      string `env:"VLLM_BASE_URL"`
	PhonemizeBaseURL string `env:"PHONEMIZE_BASE_URL"`

	// Pipeline behavior
	DefaultLanguage       string  `env:"DEFAULT_LANGUAGE" envDefault:"en"`
	DefaultScoreRegex     string  `env:"DEFAULT_SCORE_REGEX" envDefault:"\\d+"`
	ExistingContentOrder  string  `env:"EXISTING_CONTENT_ORDER" envDefault:"desc"`
	MaxConcurrentRequests int     `env:"MAX_CONCURRENT_REQUESTS" envDefault:"5"`
	RateLimitRPS          float64 `env:"RATE_LIMIT_RPS" envDefault:"2"`
	RequestTimeout        string  `env:"REQUEST_TIMEOUT" envDefault:"120s"`

	// Database pool
	DBMaxConnections int32 `env:"DB_MAX_CONNECTIONS" envDefault:"10"`
	DBMinConnections int32 `env:"DB_MIN_CONNECTIONS" envDefault:"2"`
}

func Load() (*Config, error) {
	_ = godotenv.Load() //nolint:errcheck // .env file is optional, error is expected when not present

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints that env tags cannot express.
func (c *Config) Validate() error {
	if c.OpenAIAPIKey == "" && c.AzureAPIKey == "" && c.GoogleAPIKey == "" && c.VLLMBaseURL == "" {
		return ErrNoProviderConfigured
	}

	if c.ExistingContentOrder != OrderDesc && c.ExistingContentOrder != OrderAsc {
		return fmt.Errorf("invalid EXISTING_CONTENT_ORDER %q: must be %q or %q", c.ExistingContentOrder, OrderDesc, OrderAsc)
	}

	if c.MaxConcurrentRequests < 1 {
		return fmt.Errorf("MAX_CONCURRENT_REQUESTS must be positive, got %d", c.MaxConcurrentRequests)
	}

	return nil
}

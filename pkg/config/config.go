package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port     string `env:"PORT" envDefault:"3000"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Provider string `env:"LLM_PROVIDER" envDefault:"mistral"`

	MistralAPIKey  string `env:"MISTRAL_API_KEY"`
	MistralModel   string `env:"MISTRAL_MODEL" envDefault:"mistral-small-latest"`
	OpenAIAPIKey   string `env:"OPENAI_API_KEY"`
	OpenAIModel    string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	OpenAIBaseURL  string `env:"OPENAI_BASE_URL"`
	GrokAPIKey     string `env:"GROK_API_KEY"`
	GrokModel      string `env:"GROK_MODEL"`
	MoonshotAPIKey string `env:"MOONSHOT_API_KEY"`
	MoonshotModel  string `env:"MOONSHOT_MODEL"`
	GeminiAPIKey   string `env:"GEMINI_API_KEY"`
	GeminiModel    string `env:"GEMINI_MODEL"`

	MaxTokens      int64         `env:"MAX_TOKENS" envDefault:"800"`
	Temperature    float64       `env:"TEMPERATURE" envDefault:"0.8"`
	TopP           float64       `env:"TOP_P" envDefault:"0.9"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	MaxRetries     int           `env:"MAX_RETRIES" envDefault:"2"`

	HistoryWindow     int           `env:"HISTORY_WINDOW" envDefault:"10"`
	PromptTokenBudget int           `env:"PROMPT_TOKEN_BUDGET" envDefault:"0"`
	MaxSessions       int           `env:"MAX_SESSIONS" envDefault:"10000"`
	SessionTTL        time.Duration `env:"SESSION_TTL" envDefault:"0s"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"https://chronicles-frontend.vercel.app,https://*.vercel.app,http://localhost:5173"`
	ModesFile      string   `env:"MODES_FILE"`
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads the configuration from the given variables only.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.HistoryWindow < 0 {
		return fmt.Errorf("HISTORY_WINDOW must not be negative, got %d", c.HistoryWindow)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("MAX_TOKENS must be positive, got %d", c.MaxTokens)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("TEMPERATURE must be within [0, 2], got %v", c.Temperature)
	}
	if c.TopP <= 0 || c.TopP > 1 {
		return fmt.Errorf("TOP_P must be within (0, 1], got %v", c.TopP)
	}
	switch c.Provider {
	case "mistral", "openai", "grok", "moonshot", "gemini":
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.Provider)
	}
	return nil
}

// APIKey returns the key configured for the selected provider.
func (c *Config) APIKey() string {
	switch c.Provider {
	case "openai":
		return c.OpenAIAPIKey
	case "grok":
		return c.GrokAPIKey
	case "moonshot":
		return c.MoonshotAPIKey
	case "gemini":
		return c.GeminiAPIKey
	default:
		return c.MistralAPIKey
	}
}

package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config is populated from TMPLHUB_* environment variables, optionally seeded
// from a .env file in development.
type Config struct {
	Env            string `env:"TMPLHUB_ENV" envDefault:"development"`
	Port           int    `env:"TMPLHUB_PORT" envDefault:"4000"`
	DataDir        string `env:"TMPLHUB_DATA_DIR" envDefault:"./data"`
	FrontendOrigin string `env:"TMPLHUB_FRONTEND_ORIGIN" envDefault:"http://localhost:3000"`
	PublicURL      string `env:"TMPLHUB_PUBLIC_URL" envDefault:"http://localhost:4000"`
	LogLevel       string `env:"TMPLHUB_LOG_LEVEL" envDefault:"info"`

	GitHubClientID     string `env:"TMPLHUB_GITHUB_CLIENT_ID"`
	GitHubClientSecret string `env:"TMPLHUB_GITHUB_CLIENT_SECRET"`
	SessionSecret      string `env:"TMPLHUB_SESSION_SECRET"`

	PaymentSecretKey     string `env:"TMPLHUB_PAYMENT_SECRET_KEY"`
	PaymentWebhookSecret string `env:"TMPLHUB_PAYMENT_WEBHOOK_SECRET"`

	GroqAPIKey string `env:"TMPLHUB_GROQ_API_KEY"`
}

// Load reads configuration from the environment. A .env file, when present,
// seeds variables that are not already set; real environment always wins.
func Load() (Config, error) {
	// Ignore a missing .env: production deployments set real env vars.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the production secret requirements. A production deploy
// missing payment, OAuth, or session secrets must fail at startup rather
// than run silently insecure. The LLM key is never required: without it the
// assistant degrades to the non-LLM stages.
func (c Config) Validate() error {
	if !c.IsProduction() {
		return nil
	}
	missing := ""
	switch {
	case c.PaymentSecretKey == "":
		missing = "TMPLHUB_PAYMENT_SECRET_KEY"
	case c.PaymentWebhookSecret == "":
		missing = "TMPLHUB_PAYMENT_WEBHOOK_SECRET"
	case c.GitHubClientID == "":
		missing = "TMPLHUB_GITHUB_CLIENT_ID"
	case c.GitHubClientSecret == "":
		missing = "TMPLHUB_GITHUB_CLIENT_SECRET"
	case c.SessionSecret == "":
		missing = "TMPLHUB_SESSION_SECRET"
	}
	if missing != "" {
		return fmt.Errorf("missing required config in production: %s", missing)
	}
	return nil
}

func (c Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// LLMEnabled reports whether the external model stage of the assistant can
// run at all.
func (c Config) LLMEnabled() bool {
	return c.GroqAPIKey != ""
}

// AssistantRateLimit returns the per-user request budget for one 60-second
// window. Development gets a loose limit so local iteration is not throttled.
func (c Config) AssistantRateLimit() int {
	if c.IsProduction() {
		return 10
	}
	return 100
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port            int
	LogLevel        string
	DatabaseURL     string
	SQLitePath      string
	NatsURL         string
	NatsToken       string
	AnthropicAPIKey string
	AnthropicModel  string
	GroqAPIKey      string
	GroqModel       string
	GroqBaseURL     string
	Provider        string
	MaxTokens       int
	SessionCache    int
	TurnTimeout     time.Duration
	PipelineFile    string
	APIToken        string
	SlackBotToken   string
	SlackChannel    string
}

func Load() Config {
	return Config{
		Port:            envInt("TRIAGE_PORT", 8760),
		LogLevel:        envStr("LOG_LEVEL", "info"),
		DatabaseURL:     envStr("DATABASE_URL", ""),
		SQLitePath:      envStr("TRIAGE_SQLITE_PATH", "./data/triage.db"),
		NatsURL:         envStr("NATS_URL", ""),
		NatsToken:       envStr("NATS_TOKEN", ""),
		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  envStr("TRIAGE_ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
		GroqAPIKey:      envStr("GROQ_API_KEY", ""),
		GroqModel:       envStr("TRIAGE_GROQ_MODEL", "llama-3.3-70b-versatile"),
		GroqBaseURL:     envStr("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		Provider:        strings.ToLower(envStr("TRIAGE_PROVIDER", "groq")),
		MaxTokens:       envInt("TRIAGE_MAX_TOKENS", 1024),
		SessionCache:    envInt("TRIAGE_SESSION_CACHE", 1024),
		TurnTimeout:     envDuration("TRIAGE_TURN_TIMEOUT", 2*time.Minute),
		PipelineFile:    envStr("TRIAGE_PIPELINE_FILE", ""),
		APIToken:        envStr("TRIAGE_API_TOKEN", ""),
		SlackBotToken:   envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:    envStr("TRIAGE_SLACK_CHANNEL", ""),
	}
}

// Validate reports every setting that would prevent the service from
// starting.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("TRIAGE_PORT %d out of range", c.Port))
	}
	if c.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("TRIAGE_MAX_TOKENS must be positive"))
	}
	if c.SessionCache <= 0 {
		errs = append(errs, fmt.Errorf("TRIAGE_SESSION_CACHE must be positive"))
	}
	if c.DatabaseURL == "" && c.SQLitePath == "" {
		errs = append(errs, fmt.Errorf("one of DATABASE_URL or TRIAGE_SQLITE_PATH is required"))
	}
	if (c.SlackBotToken == "") != (c.SlackChannel == "") {
		errs = append(errs, fmt.Errorf("SLACK_BOT_TOKEN and TRIAGE_SLACK_CHANNEL must be set together"))
	}
	switch c.Provider {
	case "groq":
		if c.GroqAPIKey == "" {
			errs = append(errs, fmt.Errorf("GROQ_API_KEY is required for provider groq"))
		}
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			errs = append(errs, fmt.Errorf("ANTHROPIC_API_KEY is required for provider anthropic"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown TRIAGE_PROVIDER %q", c.Provider))
	}
	return errors.Join(errs...)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

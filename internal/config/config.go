package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	defaultPort             = "8080"
	defaultFrontendOrigin   = "https://chat.hierophant.ai"
	defaultOpenAIBaseURL    = "https://api.openai.com/v1"
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	defaultAnthropicVersion = "2023-06-01"
	defaultModel            = "gpt-4o"
	defaultMaxTokens        = 1000
	defaultTemperature      = 0.2
	defaultSystemPrompt     = "You are the Hierophant, a concise and knowledgeable guide. Answer plainly and truthfully."
)

type Config struct {
	Port                    string
	Environment             string
	FrontendOrigin          string
	AllowedOrigins          []string
	GoogleClientID          string
	InsecureSkipTokenVerify bool
	DatabaseURL             string
	TursoAuthToken          string
	OpenAIAPIKey            string
	OpenAIBaseURL           string
	AnthropicAPIKey         string
	AnthropicBaseURL        string
	AnthropicVersion        string
	DefaultModel            string
	SystemPrompt            string
	MaxTokens               int
	Temperature             float64
}

func (c Config) ListenAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

func Load() (Config, error) {
	cfg := Config{
		Port:                    envOrDefault("PORT", defaultPort),
		Environment:             envOrDefault("APP_ENV", "development"),
		FrontendOrigin:          envOrDefault("FRONTEND_ORIGIN", defaultFrontendOrigin),
		GoogleClientID:          strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_ID")),
		InsecureSkipTokenVerify: boolOrDefault("AUTH_INSECURE_SKIP_TOKEN_VERIFY", false),
		DatabaseURL:             strings.TrimSpace(os.Getenv("DATABASE_URL")),
		TursoAuthToken:          strings.TrimSpace(os.Getenv("TURSO_AUTH_TOKEN")),
		OpenAIAPIKey:            strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:           envOrDefault("OPENAI_BASE_URL", defaultOpenAIBaseURL),
		AnthropicAPIKey:         strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")),
		AnthropicBaseURL:        envOrDefault("ANTHROPIC_BASE_URL", defaultAnthropicBaseURL),
		AnthropicVersion:        envOrDefault("ANTHROPIC_VERSION", defaultAnthropicVersion),
		DefaultModel:            envOrDefault("DEFAULT_MODEL", defaultModel),
		SystemPrompt:            envOrDefault("SYSTEM_PROMPT", defaultSystemPrompt),
		MaxTokens:               intOrDefault("MAX_TOKENS", defaultMaxTokens),
		Temperature:             floatOrDefault("TEMPERATURE", defaultTemperature),
	}

	origins := parseList(envOrDefault("CORS_ALLOWED_ORIGINS", cfg.FrontendOrigin+",http://localhost:3000,http://localhost:5173"))
	if len(origins) == 0 {
		return Config{}, errors.New("CORS_ALLOWED_ORIGINS must include at least one origin")
	}
	cfg.AllowedOrigins = origins

	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}
	if strings.HasPrefix(cfg.DatabaseURL, "libsql://") && cfg.TursoAuthToken == "" {
		return Config{}, errors.New("TURSO_AUTH_TOKEN is required for libsql:// URLs")
	}
	if !cfg.InsecureSkipTokenVerify && cfg.GoogleClientID == "" {
		return Config{}, errors.New("GOOGLE_CLIENT_ID is required unless AUTH_INSECURE_SKIP_TOKEN_VERIFY=true")
	}
	if cfg.MaxTokens <= 0 {
		return Config{}, errors.New("MAX_TOKENS must be > 0")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func boolOrDefault(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func intOrDefault(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func floatOrDefault(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

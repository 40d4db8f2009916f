package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	HTTPPort  string
	LogLevel  string
	LogFormat string

	DatabaseDriver string
	DatabaseURL    string

	CharacterDir       string
	CharacterIndexPath string
	CharacterCacheTTL  time.Duration

	LLMProvider           string
	LLMModel              string
	LLMTemperature        float64
	GenerationTemperature float64
	LLMMaxTokens          int
	LLMRateLimit          float64
	LLMBurst              int
	GeminiAPIKey          string
	OpenAIAPIKey          string
	OpenAIBaseURL         string
	OpenAIAPIVersion      string
	AnthropicAPIKey       string

	HistoryLimit            int
	MemoryLimit             int
	MemoryExtractionAsync   bool
	MemoryExtractionTimeout time.Duration

	JWTSecret string
	JWTTTL    time.Duration

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3Prefix    string
	S3AccessKey string
	S3SecretKey string
}

var AppConfig Config

var defaults = map[string]any{
	"HTTP_PORT":                 "8080",
	"LOG_LEVEL":                 "INFO",
	"LOG_FORMAT":                "text",
	"DATABASE_DRIVER":           "sqlite3",
	"DATABASE_URL":              "data/character_memory.db",
	"CHARACTER_DIR":             "generated",
	"CHARACTER_INDEX_PATH":      "data/character_storage.db",
	"CHARACTER_CACHE_TTL":       "5m",
	"LLM_PROVIDER":              "gemini",
	"LLM_MODEL":                 "",
	"LLM_TEMPERATURE":           0.7,
	"GENERATION_TEMPERATURE":    0.9,
	"LLM_MAX_TOKENS":            2048,
	"LLM_RATE_LIMIT":            5.0,
	"LLM_BURST":                 5,
	"OPENAI_API_VERSION":        "2024-02-01",
	"HISTORY_LIMIT":             10,
	"MEMORY_LIMIT":              5,
	"MEMORY_EXTRACTION_ASYNC":   true,
	"MEMORY_EXTRACTION_TIMEOUT": "60s",
	"JWT_TTL":                   "24h",
	"S3_PATH_PREFIX":            "characters",
}

// LoadConfig reads envFile (or .env when empty) if present, then the process
// environment, into AppConfig.
func LoadConfig(envFile string) (*Config, error) {
	files := []string{}
	if envFile != "" {
		files = append(files, envFile)
	}
	if err := godotenv.Load(files...); err != nil {
		if envFile != "" {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
		slog.Debug("No .env file found, relying on environment variables")
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	AppConfig = Config{
		HTTPPort:  v.GetString("HTTP_PORT"),
		LogLevel:  strings.ToUpper(v.GetString("LOG_LEVEL")),
		LogFormat: strings.ToLower(v.GetString("LOG_FORMAT")),

		DatabaseDriver: strings.ToLower(v.GetString("DATABASE_DRIVER")),
		DatabaseURL:    v.GetString("DATABASE_URL"),

		CharacterDir:       v.GetString("CHARACTER_DIR"),
		CharacterIndexPath: v.GetString("CHARACTER_INDEX_PATH"),
		CharacterCacheTTL:  v.GetDuration("CHARACTER_CACHE_TTL"),

		LLMProvider:           strings.ToLower(v.GetString("LLM_PROVIDER")),
		LLMModel:              v.GetString("LLM_MODEL"),
		LLMTemperature:        v.GetFloat64("LLM_TEMPERATURE"),
		GenerationTemperature: v.GetFloat64("GENERATION_TEMPERATURE"),
		LLMMaxTokens:          v.GetInt("LLM_MAX_TOKENS"),
		LLMRateLimit:          v.GetFloat64("LLM_RATE_LIMIT"),
		LLMBurst:              v.GetInt("LLM_BURST"),
		GeminiAPIKey:          v.GetString("GEMINI_API_KEY"),
		OpenAIAPIKey:          v.GetString("OPENAI_API_KEY"),
		OpenAIBaseURL:         v.GetString("OPENAI_BASE_URL"),
		OpenAIAPIVersion:      v.GetString("OPENAI_API_VERSION"),
		AnthropicAPIKey:       v.GetString("ANTHROPIC_API_KEY"),

		HistoryLimit:            v.GetInt("HISTORY_LIMIT"),
		MemoryLimit:             v.GetInt("MEMORY_LIMIT"),
		MemoryExtractionAsync:   v.GetBool("MEMORY_EXTRACTION_ASYNC"),
		MemoryExtractionTimeout: v.GetDuration("MEMORY_EXTRACTION_TIMEOUT"),

		JWTSecret: v.GetString("JWT_SECRET"),
		JWTTTL:    v.GetDuration("JWT_TTL"),

		S3Bucket:    v.GetString("S3_BUCKET_NAME"),
		S3Region:    v.GetString("AWS_REGION"),
		S3Endpoint:  v.GetString("S3_ENDPOINT"),
		S3Prefix:    v.GetString("S3_PATH_PREFIX"),
		S3AccessKey: v.GetString("AWS_ACCESS_KEY_ID"),
		S3SecretKey: v.GetString("AWS_SECRET_ACCESS_KEY"),
	}

	return &AppConfig, nil
}

// Validate checks the settings the HTTP server cannot start without.
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q (want sqlite3 or postgres)", c.DatabaseDriver)
	}

	switch c.LLMProvider {
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY environment variable is required")
		}
	case "openai", "azure":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY environment variable is required")
		}
		if c.LLMProvider == "azure" && c.OpenAIBaseURL == "" {
			return fmt.Errorf("OPENAI_BASE_URL environment variable is required for azure")
		}
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY environment variable is required")
		}
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER %q", c.LLMProvider)
	}

	if c.HistoryLimit <= 0 || c.MemoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT and MEMORY_LIMIT must be positive")
	}
	return nil
}

// SlogLevel maps LogLevel onto slog levels; unknown values mean INFO.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

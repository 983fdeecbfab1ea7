// Package config loads application configuration.
// Precedence: defaults, then an optional config.yaml, then environment
// variables. A local .env file is honored for development.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config carries everything the components need. It is built once in main
// and passed explicitly into constructors; nothing reads the environment
// after startup.
type Config struct {
	Port    string `yaml:"port"`
	DataDir string `yaml:"data_dir"`
	DBPath  string `yaml:"db_path"`

	LLMBaseURL       string `yaml:"llm_base_url"`
	LLMAPIKey        string `yaml:"-"`
	LLMModel         string `yaml:"llm_model"`
	LLMFallbackModel string `yaml:"llm_fallback_model"`

	GeminiAPIKey   string `yaml:"-"`
	EmbeddingModel string `yaml:"embedding_model"`

	TopK           int     `yaml:"top_k"`
	ScoreThreshold float64 `yaml:"score_threshold"`

	WatchData bool   `yaml:"watch_data"`
	LogLevel  string `yaml:"log_level"`
}

// Load builds the configuration. path names an optional YAML file; an empty
// path falls back to ./config.yaml when present.
func Load(path string) (*Config, error) {
	// Development convenience, same role as python-dotenv upstream.
	_ = godotenv.Load()

	cfg := defaults()

	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Port:           "8080",
		DataDir:        "./data",
		DBPath:         "./data/docbot.db",
		LLMBaseURL:     "https://api.groq.com/openai/v1",
		LLMModel:       "llama-3.1-8b-instant",
		EmbeddingModel: "gemini-embedding-001",
		TopK:           5,
		ScoreThreshold: 0.3,
		LogLevel:       "info",
	}
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnv("DOCBOT_PORT", cfg.Port)
	cfg.DataDir = getEnv("DOCBOT_DATA_DIR", cfg.DataDir)
	cfg.DBPath = getEnv("DOCBOT_DB_PATH", cfg.DBPath)

	cfg.LLMBaseURL = getEnv("LLM_BASE_URL", cfg.LLMBaseURL)
	cfg.LLMAPIKey = getEnv("GROQ_API_KEY", cfg.LLMAPIKey)
	// Cerebras exposes an OpenAI-compatible API too; its key wins if set.
	cfg.LLMAPIKey = getEnv("CEREBRAS_API_KEY", cfg.LLMAPIKey)
	cfg.LLMModel = getEnv("LLM_MODEL", cfg.LLMModel)
	cfg.LLMFallbackModel = getEnv("LLM_FALLBACK_MODEL", cfg.LLMFallbackModel)

	cfg.GeminiAPIKey = getEnv("GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.EmbeddingModel = getEnv("EMBEDDING_MODEL", cfg.EmbeddingModel)

	cfg.TopK = getIntEnv("TOP_K_RESULTS", cfg.TopK)
	cfg.ScoreThreshold = getFloatEnv("SIMILARITY_THRESHOLD", cfg.ScoreThreshold)

	cfg.WatchData = getBoolEnv("DOCBOT_WATCH", cfg.WatchData)
	cfg.LogLevel = getEnv("DOCBOT_LOG_LEVEL", cfg.LogLevel)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	switch os.Getenv(key) {
	case "1", "true", "TRUE":
		return true
	case "0", "false", "FALSE":
		return false
	}
	return def
}

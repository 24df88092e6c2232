package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the corpusd API configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Chat     ChatConfig     `yaml:"chat"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port           int `yaml:"port"`
	ReadTimeoutSec int `yaml:"read_timeout_sec"`
	// WriteTimeoutSec bounds non-streaming responses. It must leave
	// headroom for SSE chat streams, which can run for minutes.
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
	// APIKeys enables Bearer authentication when non-empty. Health and
	// metrics stay open either way.
	APIKeys []string `yaml:"api_keys"`
}

// DatabaseConfig holds vector store connection settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // redis, postgres (default: redis)
	Addrs            []string `yaml:"addrs"`  // redis driver
	Password         string   `yaml:"password"`
	DSN              string   `yaml:"dsn"` // postgres driver
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	KeyPrefix        string   `yaml:"key_prefix"`
}

// LLMConfig holds settings for the local inference service
// (any runtime exposing the OpenAI-compatible API: Ollama, llama.cpp, vLLM).
type LLMConfig struct {
	BaseURL           string                `yaml:"base_url"`
	APIKey            string                `yaml:"api_key"`
	EmbedModel        string                `yaml:"embed_model"`
	EmbedDimensions   int                   `yaml:"embed_dimensions"`
	RequestTimeoutSec int                   `yaml:"request_timeout_sec"`
	Modes             map[string]ModeConfig `yaml:"modes"`
}

// ModeConfig maps an answer mode to a model profile.
type ModeConfig struct {
	Model         string  `yaml:"model"`
	ContextWindow int     `yaml:"context_window"`
	MaxTokens     int     `yaml:"max_tokens"`
	Temperature   float32 `yaml:"temperature"`
}

// IngestConfig holds document processing settings.
type IngestConfig struct {
	ChunkSize      int    `yaml:"chunk_size"`
	ChunkOverlap   int    `yaml:"chunk_overlap"`
	EmbedBatchSize int    `yaml:"embed_batch_size"`
	UploadDir      string `yaml:"upload_dir"`
	WatchDir       string `yaml:"watch_dir"` // empty disables the corpus watcher
	WatchSettleMs  int    `yaml:"watch_settle_ms"`
	DirConcurrency int    `yaml:"dir_concurrency"`
}

// ChatConfig holds conversation settings.
type ChatConfig struct {
	HistoryTurns int `yaml:"history_turns"`
	TopK         int `yaml:"top_k"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 600
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "redis"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Database.KeyPrefix == "" {
		c.Database.KeyPrefix = "corpusd:"
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "http://localhost:11434/v1"
	}
	if c.LLM.EmbedModel == "" {
		c.LLM.EmbedModel = "nomic-embed-text"
	}
	if c.LLM.EmbedDimensions <= 0 {
		c.LLM.EmbedDimensions = 768
	}
	if c.LLM.RequestTimeoutSec <= 0 {
		c.LLM.RequestTimeoutSec = 120
	}
	if len(c.LLM.Modes) == 0 {
		c.LLM.Modes = DefaultModes()
	}
	if c.Ingest.ChunkSize <= 0 {
		c.Ingest.ChunkSize = 800
	}
	if c.Ingest.ChunkOverlap < 0 {
		c.Ingest.ChunkOverlap = 0
	}
	if c.Ingest.ChunkOverlap == 0 {
		c.Ingest.ChunkOverlap = 150
	}
	if c.Ingest.EmbedBatchSize <= 0 {
		c.Ingest.EmbedBatchSize = 50
	}
	if c.Ingest.UploadDir == "" {
		c.Ingest.UploadDir = "uploads"
	}
	if c.Ingest.WatchSettleMs <= 0 {
		c.Ingest.WatchSettleMs = 2000
	}
	if c.Ingest.DirConcurrency <= 0 {
		c.Ingest.DirConcurrency = 2
	}
	if c.Chat.HistoryTurns <= 0 {
		c.Chat.HistoryTurns = 10
	}
	if c.Chat.TopK <= 0 {
		c.Chat.TopK = 4
	}
}

// DefaultModes returns the built-in mode→model table for an Ollama host.
func DefaultModes() map[string]ModeConfig {
	return map[string]ModeConfig{
		"quick":   {Model: "qwen2.5-coder:7b", ContextWindow: 8192, MaxTokens: 1024},
		"deep":    {Model: "qwen2.5-coder:14b", ContextWindow: 16384, MaxTokens: 2048},
		"general": {Model: "llama3.1:8b", ContextWindow: 8192, MaxTokens: 1024},
		"fast":    {Model: "mistral:7b", ContextWindow: 4096, MaxTokens: 512},
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Database.Driver {
	case "redis":
		if len(c.Database.Addrs) == 0 {
			return fmt.Errorf("database.addrs is required for the redis driver")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be \"redis\" or \"postgres\", got %q", c.Database.Driver)
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf(
			"ingest.chunk_overlap (%d) must be smaller than ingest.chunk_size (%d)",
			c.Ingest.ChunkOverlap, c.Ingest.ChunkSize,
		)
	}
	for name, m := range c.LLM.Modes {
		if m.Model == "" {
			return fmt.Errorf("llm.modes.%s.model is required", name)
		}
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default connection and model parameters. They match the DashScope
// compatible-mode endpoint and the qwen-plus model family.
const (
	DefaultBaseURL     = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	DefaultModel       = "qwen-plus"
	DefaultTemperature = float32(0.7)
	DefaultMaxTokens   = 2000
	DefaultMaxHistory  = 10
	DefaultTimeout     = 60
)

// APIConfig holds connection parameters for the model endpoint.
type APIConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	BaseURL string `json:"base_url" yaml:"base_url"`
	// Timeout is the per-request timeout in seconds.
	Timeout int `json:"timeout" yaml:"timeout"`
}

// ModelConfig holds default sampling parameters applied to every chat
// unless overridden on the builder.
type ModelConfig struct {
	DefaultModel         string  `json:"default_model" yaml:"default_model"`
	DefaultTemperature   float32 `json:"default_temperature" yaml:"default_temperature"`
	DefaultMaxTokens     int     `json:"default_max_tokens" yaml:"default_max_tokens"`
	DefaultSystemMessage string  `json:"default_system_message" yaml:"default_system_message"`
}

// MemoryConfig controls conversational memory and its backing store.
type MemoryConfig struct {
	Enabled          bool   `json:"enabled" yaml:"enabled"`
	StorageType      string `json:"storage_type" yaml:"storage_type"`
	MaxHistoryLength int    `json:"max_history_length" yaml:"max_history_length"`
	// CacheSize enables an in-process read cache when > 0. The value is
	// the maximum number of cached sessions.
	CacheSize int64 `json:"cache_size" yaml:"cache_size"`

	FilePath      string `json:"file_path" yaml:"file_path"`
	RedisAddr     string `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `json:"redis_password" yaml:"redis_password"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db"`
	SQLitePath    string `json:"sqlite_path" yaml:"sqlite_path"`
	PostgresURL   string `json:"postgres_url" yaml:"postgres_url"`
}

// LogConfig controls audit logging of requests, responses and errors.
type LogConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	StorageType string `json:"storage_type" yaml:"storage_type"`
	// Level is the diagnostic log level: DEBUG, INFO, WARNING, ERROR or NONE.
	Level string `json:"level" yaml:"level"`

	FilePath      string `json:"file_path" yaml:"file_path"`
	RedisAddr     string `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `json:"redis_password" yaml:"redis_password"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db"`
	SQLitePath    string `json:"sqlite_path" yaml:"sqlite_path"`
	PostgresURL   string `json:"postgres_url" yaml:"postgres_url"`
}

// Config aggregates everything the client needs at construction time.
// The client copies the value it receives, so later mutation of a Config
// does not affect a running client.
type Config struct {
	API    APIConfig    `json:"api" yaml:"api"`
	Model  ModelConfig  `json:"model" yaml:"model"`
	Memory MemoryConfig `json:"memory" yaml:"memory"`
	Log    LogConfig    `json:"log" yaml:"log"`
}

// Default returns a configuration with all defaults applied. Memory and
// audit logging are enabled and backed by the in-process store.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: DefaultBaseURL,
			Timeout: DefaultTimeout,
		},
		Model: ModelConfig{
			DefaultModel:       DefaultModel,
			DefaultTemperature: DefaultTemperature,
			DefaultMaxTokens:   DefaultMaxTokens,
		},
		Memory: MemoryConfig{
			Enabled:          true,
			StorageType:      "memory",
			MaxHistoryLength: DefaultMaxHistory,
			FilePath:         "./memory_data",
		},
		Log: LogConfig{
			Enabled:     true,
			StorageType: "memory",
			Level:       "INFO",
			FilePath:    "./logs",
		},
	}
}

// FromEnv builds a configuration from environment variables, loading a
// .env file from the working directory first when one exists. Unset
// variables keep their defaults.
func FromEnv() *Config {
	_ = godotenv.Load()

	cfg := Default()

	if v := os.Getenv("BAILIAN_API_KEY"); v != "" {
		cfg.API.APIKey = v
	} else if v := os.Getenv("DASHSCOPE_API_KEY"); v != "" {
		cfg.API.APIKey = v
	}
	setString(&cfg.API.BaseURL, "BAILIAN_BASE_URL")
	setInt(&cfg.API.Timeout, "BAILIAN_TIMEOUT")

	setString(&cfg.Model.DefaultModel, "BAILIAN_DEFAULT_MODEL")
	setFloat32(&cfg.Model.DefaultTemperature, "BAILIAN_DEFAULT_TEMPERATURE")
	setInt(&cfg.Model.DefaultMaxTokens, "BAILIAN_DEFAULT_MAX_TOKENS")
	setString(&cfg.Model.DefaultSystemMessage, "BAILIAN_DEFAULT_SYSTEM_MESSAGE")

	setBool(&cfg.Memory.Enabled, "BAILIAN_MEMORY_ENABLED")
	setString(&cfg.Memory.StorageType, "BAILIAN_MEMORY_STORAGE")
	setInt(&cfg.Memory.MaxHistoryLength, "BAILIAN_MAX_HISTORY")
	setInt64(&cfg.Memory.CacheSize, "BAILIAN_MEMORY_CACHE_SIZE")
	setString(&cfg.Memory.FilePath, "BAILIAN_MEMORY_FILE_PATH")
	setString(&cfg.Memory.RedisAddr, "BAILIAN_REDIS_ADDR")
	setString(&cfg.Memory.RedisPassword, "BAILIAN_REDIS_PASSWORD")
	setInt(&cfg.Memory.RedisDB, "BAILIAN_REDIS_DB")
	setString(&cfg.Memory.SQLitePath, "BAILIAN_SQLITE_PATH")
	setString(&cfg.Memory.PostgresURL, "BAILIAN_POSTGRES_URL")

	setBool(&cfg.Log.Enabled, "BAILIAN_LOG_ENABLED")
	setString(&cfg.Log.StorageType, "BAILIAN_LOG_STORAGE")
	setString(&cfg.Log.Level, "BAILIAN_LOG_LEVEL")
	setString(&cfg.Log.FilePath, "BAILIAN_LOG_FILE_PATH")
	setString(&cfg.Log.RedisAddr, "BAILIAN_LOG_REDIS_ADDR")
	setString(&cfg.Log.RedisPassword, "BAILIAN_LOG_REDIS_PASSWORD")
	setInt(&cfg.Log.RedisDB, "BAILIAN_LOG_REDIS_DB")
	setString(&cfg.Log.SQLitePath, "BAILIAN_LOG_SQLITE_PATH")
	setString(&cfg.Log.PostgresURL, "BAILIAN_LOG_POSTGRES_URL")

	return cfg
}

// FromFile parses a JSON or YAML configuration file. Fields not present
// in the file keep their defaults.
func FromFile(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is empty")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", path)
	}

	return cfg, nil
}

var storageTypes = map[string]bool{
	"memory":   true,
	"file":     true,
	"redis":    true,
	"sqlite":   true,
	"postgres": true,
}

// Validate checks the configuration for values the client cannot work
// with. It does not require an API key; the client checks that itself so
// that injected model callers can run without one.
func (c *Config) Validate() error {
	if c.Memory.Enabled && !storageTypes[c.Memory.StorageType] {
		return fmt.Errorf("unknown memory storage type: %q", c.Memory.StorageType)
	}
	if c.Log.Enabled && !storageTypes[c.Log.StorageType] {
		return fmt.Errorf("unknown log storage type: %q", c.Log.StorageType)
	}
	if c.Model.DefaultTemperature < 0 || c.Model.DefaultTemperature > 1 {
		return fmt.Errorf("default temperature %v out of range [0, 1]", c.Model.DefaultTemperature)
	}
	if c.Model.DefaultMaxTokens <= 0 {
		return fmt.Errorf("default max tokens must be positive, got %d", c.Model.DefaultMaxTokens)
	}
	if c.Memory.MaxHistoryLength <= 0 {
		return fmt.Errorf("max history length must be positive, got %d", c.Memory.MaxHistoryLength)
	}
	return nil
}

func setString(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func setInt(dst *int, name string) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, name string) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat32(dst *float32, name string) {
	if v := os.Getenv(name); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			*dst = float32(f)
		}
	}
}

func setBool(dst *bool, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

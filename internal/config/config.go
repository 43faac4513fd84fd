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

// Vector store drivers.
const (
	DriverMilvus = "milvus"
	DriverQdrant = "qdrant"
)

// Embedding drivers.
const (
	EmbedderLanguageBind = "languagebind"
	EmbedderOpenAI       = "openai"
	EmbedderRandom       = "random"
)

// Config holds the mediasearch API configuration.
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Auth        AuthConfig        `yaml:"auth"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Datasets    []DatasetConfig   `yaml:"datasets"`
	Search      SearchConfig      `yaml:"search"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Cache       CacheConfig       `yaml:"cache"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int     `yaml:"port"`
	ReadTimeoutSec  int     `yaml:"read_timeout_sec"`
	WriteTimeoutSec int     `yaml:"write_timeout_sec"`
	ShutdownSec     int     `yaml:"shutdown_timeout_sec"`
	RateLimitRPS    float64 `yaml:"rate_limit_rps"` // 0 = unlimited
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
}

// VectorStoreConfig holds vector database connection settings.
type VectorStoreConfig struct {
	Driver           string      `yaml:"driver"` // milvus, qdrant (default: milvus)
	Address          string      `yaml:"address"`
	Username         string      `yaml:"username"`
	Password         string      `yaml:"password"`
	APIKey           string      `yaml:"api_key"`
	DBName           string      `yaml:"db_name"`
	UseTLS           bool        `yaml:"use_tls"`
	IndexType        string      `yaml:"index_type"`   // flat, ivf_flat, hnsw (milvus only)
	SearchParam      int         `yaml:"search_param"` // ef for hnsw, nprobe for ivf_flat
	SearchLimit      int         `yaml:"search_limit"` // hard cap of hits per collection and session
	ReadinessTimeout int         `yaml:"readiness_timeout_sec"`
	Retry            RetryConfig `yaml:"retry"`
}

// RetryConfig bounds retries of transient vector store errors.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts"`
	InitialBackoffMS int `yaml:"initial_backoff_ms"`
	MaxBackoffMS     int `yaml:"max_backoff_ms"`
}

// DatasetConfig names one served collection.
type DatasetConfig struct {
	Dataset string `yaml:"dataset"`
	Version string `yaml:"version"`
}

// SearchConfig holds pagination and session settings.
type SearchConfig struct {
	DefaultPageSize int `yaml:"default_page_size"`
	MaxPageSize     int `yaml:"max_page_size"`
	SessionTTLSec   int `yaml:"session_ttl_sec"`
	MaxSessions     int `yaml:"max_sessions"`
	RoundTimeoutSec int `yaml:"round_timeout_sec"` // 0 = bounded by the request only
}

// EmbeddingConfig holds query embedding settings.
type EmbeddingConfig struct {
	Driver       string             `yaml:"driver"` // languagebind, openai, random (default: languagebind)
	Dimensions   int                `yaml:"dimensions"`
	MaxUploadMB  int                `yaml:"max_upload_mb"`
	Instruction  string             `yaml:"instruction"` // prepended to text queries
	LanguageBind LanguageBindConfig `yaml:"languagebind"`
	OpenAI       OpenAIConfig       `yaml:"openai"`
	Cache        EmbedCacheConfig   `yaml:"cache"`
}

// LanguageBindConfig holds the LanguageBind inference service settings.
type LanguageBindConfig struct {
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// OpenAIConfig holds OpenAI-compatible provider settings.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// EmbedCacheConfig toggles the query embedding cache.
type EmbedCacheConfig struct {
	Enabled bool `yaml:"enabled"`
	TTLSec  int  `yaml:"ttl_sec"` // 0 = no expiry
}

// CacheConfig holds the key-value store backing the embedding cache.
type CacheConfig struct {
	Addrs    []string `yaml:"addrs"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse decodes YAML with ${VAR} substitution, applies defaults and validates.
func Parse(data []byte) (Config, error) {
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
		c.HTTP.ReadTimeoutSec = 30
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 60
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}

	if c.VectorStore.Driver == "" {
		c.VectorStore.Driver = DriverMilvus
	}
	if c.VectorStore.IndexType == "" {
		c.VectorStore.IndexType = "hnsw"
	}
	if c.VectorStore.SearchParam <= 0 {
		c.VectorStore.SearchParam = 64
	}
	if c.VectorStore.SearchLimit <= 0 {
		c.VectorStore.SearchLimit = 1024
	}
	if c.VectorStore.ReadinessTimeout <= 0 {
		c.VectorStore.ReadinessTimeout = 30
	}
	if c.VectorStore.Retry.MaxAttempts <= 0 {
		c.VectorStore.Retry.MaxAttempts = 3
	}
	if c.VectorStore.Retry.InitialBackoffMS <= 0 {
		c.VectorStore.Retry.InitialBackoffMS = 50
	}
	if c.VectorStore.Retry.MaxBackoffMS <= 0 {
		c.VectorStore.Retry.MaxBackoffMS = 1000
	}

	if c.Search.DefaultPageSize <= 0 {
		c.Search.DefaultPageSize = 32
	}
	if c.Search.MaxPageSize <= 0 {
		c.Search.MaxPageSize = 256
	}
	if c.Search.SessionTTLSec <= 0 {
		c.Search.SessionTTLSec = 600
	}
	if c.Search.MaxSessions <= 0 {
		c.Search.MaxSessions = 2048
	}

	if c.Embedding.Driver == "" {
		c.Embedding.Driver = EmbedderLanguageBind
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 768
	}
	if c.Embedding.MaxUploadMB <= 0 {
		c.Embedding.MaxUploadMB = 64
	}
	if c.Embedding.LanguageBind.TimeoutSec <= 0 {
		c.Embedding.LanguageBind.TimeoutSec = 60
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}

	switch c.VectorStore.Driver {
	case DriverMilvus, DriverQdrant:
	default:
		return fmt.Errorf("vector_store.driver must be %q or %q, got %q",
			DriverMilvus, DriverQdrant, c.VectorStore.Driver)
	}
	if c.VectorStore.Address == "" {
		return fmt.Errorf("vector_store.address is required")
	}

	if len(c.Datasets) == 0 {
		return fmt.Errorf("datasets must list at least one dataset")
	}
	for i, d := range c.Datasets {
		if d.Dataset == "" || d.Version == "" {
			return fmt.Errorf("datasets[%d] needs both dataset and version", i)
		}
	}

	if c.Search.DefaultPageSize > c.Search.MaxPageSize {
		return fmt.Errorf("search.default_page_size (%d) exceeds search.max_page_size (%d)",
			c.Search.DefaultPageSize, c.Search.MaxPageSize)
	}

	switch c.Embedding.Driver {
	case EmbedderLanguageBind:
		if c.Embedding.LanguageBind.BaseURL == "" {
			return fmt.Errorf("embedding.languagebind.base_url is required")
		}
	case EmbedderOpenAI:
		if c.Embedding.OpenAI.Model == "" {
			return fmt.Errorf("embedding.openai.model is required")
		}
	case EmbedderRandom:
	default:
		return fmt.Errorf("embedding.driver must be %q, %q or %q, got %q",
			EmbedderLanguageBind, EmbedderOpenAI, EmbedderRandom, c.Embedding.Driver)
	}

	if c.Embedding.Cache.Enabled && len(c.Cache.Addrs) == 0 {
		return fmt.Errorf("cache.addrs is required when embedding.cache.enabled is set")
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
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}

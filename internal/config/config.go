// Package config handles configuration loading and validation.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. LOCALCHAT_EMBEDDING_MODEL.
const EnvPrefix = "LOCALCHAT"

// Config represents the complete configuration.
type Config struct {
	Embedding   EmbeddingConfig   `mapstructure:"embedding" yaml:"embedding"`
	Chunking    ChunkingConfig    `mapstructure:"chunking" yaml:"chunking"`
	VectorStore VectorStoreConfig `mapstructure:"vectorstore" yaml:"vectorstore"`
	Cache       CacheConfig       `mapstructure:"cache" yaml:"cache"`
	Source      SourceConfig      `mapstructure:"source" yaml:"source"`
	Ingest      IngestConfig      `mapstructure:"ingest" yaml:"ingest"`
	Search      SearchConfig      `mapstructure:"search" yaml:"search"`
	Chat        ChatConfig        `mapstructure:"chat" yaml:"chat"`
	Plugins     PluginsConfig     `mapstructure:"plugins" yaml:"plugins"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

// EmbeddingConfig contains embedding provider configuration.
type EmbeddingConfig struct {
	Provider   string        `mapstructure:"provider" yaml:"provider"`     // ollama, openai, hash, plugin
	Model      string        `mapstructure:"model" yaml:"model"`           // model name, or plugin name
	Endpoint   string        `mapstructure:"endpoint" yaml:"endpoint"`     // API endpoint
	APIKey     string        `mapstructure:"api_key" yaml:"api_key"`       // API key
	BatchSize  int           `mapstructure:"batch_size" yaml:"batch_size"` // texts per request
	Dimensions int           `mapstructure:"dimensions" yaml:"dimensions"` // 0 = provider default
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`       // per request

	// Circuit breaker and outbound throttle
	FailureThreshold  uint32        `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	BreakerCooldown   time.Duration `mapstructure:"breaker_cooldown" yaml:"breaker_cooldown"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"` // 0 = unlimited
}

// ChunkingConfig contains chunking strategy configuration.
type ChunkingConfig struct {
	Strategy     string `mapstructure:"strategy" yaml:"strategy"`             // page, paragraph
	MaxChunkSize int    `mapstructure:"max_chunk_size" yaml:"max_chunk_size"` // max chars per chunk (paragraph)
}

// VectorStoreConfig contains vector store configuration.
type VectorStoreConfig struct {
	Provider   string `mapstructure:"provider" yaml:"provider"`     // sqlitevec, memory
	Path       string `mapstructure:"path" yaml:"path"`             // relative to the config dir
	Collection string `mapstructure:"collection" yaml:"collection"` // collection name
}

// CacheConfig contains ingestion cache configuration.
type CacheConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider"` // sqlite, memory
	Path     string `mapstructure:"path" yaml:"path"`         // relative to the config dir
}

// SourceConfig contains document source configuration.
type SourceConfig struct {
	Provider    string   `mapstructure:"provider" yaml:"provider"`           // pdfdir
	Dir         string   `mapstructure:"dir" yaml:"dir"`                     // relative to the project root
	Include     []string `mapstructure:"include" yaml:"include"`             // glob patterns to include
	MaxFileSize string   `mapstructure:"max_file_size" yaml:"max_file_size"` // e.g., "50MB", empty = unlimited
}

// IngestConfig contains ingestion configuration.
type IngestConfig struct {
	Workers       int           `mapstructure:"workers" yaml:"workers"`               // sources processed in parallel
	SourceTimeout time.Duration `mapstructure:"source_timeout" yaml:"source_timeout"` // per source attempt
	Retries       int           `mapstructure:"retries" yaml:"retries"`               // extra attempts after a timeout
	OnStartup     bool          `mapstructure:"on_startup" yaml:"on_startup"`         // ingest before serve/chat
	WatchDebounce time.Duration `mapstructure:"watch_debounce" yaml:"watch_debounce"`
}

// SearchConfig contains search configuration.
type SearchConfig struct {
	DefaultLimit int           `mapstructure:"default_limit" yaml:"default_limit"` // default result limit
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`             // per query
}

// ChatConfig contains chat model configuration.
type ChatConfig struct {
	Endpoint      string        `mapstructure:"endpoint" yaml:"endpoint"` // OpenAI-compatible base URL
	APIKey        string        `mapstructure:"api_key" yaml:"api_key"`
	Model         string        `mapstructure:"model" yaml:"model"`
	MaxResults    int           `mapstructure:"max_results" yaml:"max_results"`         // search results per tool call
	MaxToolRounds int           `mapstructure:"max_tool_rounds" yaml:"max_tool_rounds"` // tool calls per user turn
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`                 // per completion
}

// PluginsConfig contains plugin configuration.
type PluginsConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"` // relative to the config dir
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text, json
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Provider:         "ollama",
			Model:            "all-minilm",
			Endpoint:         "http://localhost:11434",
			BatchSize:        32,
			Dimensions:       384,
			Timeout:          60 * time.Second,
			FailureThreshold: 5,
			BreakerCooldown:  30 * time.Second,
		},
		Chunking: ChunkingConfig{
			Strategy:     "page",
			MaxChunkSize: 1500,
		},
		VectorStore: VectorStoreConfig{
			Provider:   "sqlitevec",
			Collection: "data-localchatbot-ingested",
		},
		Cache: CacheConfig{
			Provider: "sqlite",
			Path:     "ingestioncache.db",
		},
		Source: SourceConfig{
			Provider:    "pdfdir",
			Dir:         "data",
			Include:     []string{"*.pdf"},
			MaxFileSize: "100MB",
		},
		Ingest: IngestConfig{
			Workers:       1,
			SourceTimeout: 10 * time.Minute,
			Retries:       1,
			OnStartup:     true,
			WatchDebounce: 500 * time.Millisecond,
		},
		Search: SearchConfig{
			DefaultLimit: 5,
			Timeout:      30 * time.Second,
		},
		Chat: ChatConfig{
			Endpoint:      "http://localhost:11434/v1",
			Model:         "gemma3",
			MaxResults:    5,
			MaxToolRounds: 4,
			Timeout:       5 * time.Minute,
		},
		Plugins: PluginsConfig{
			Dir: "plugins",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ConfigDir returns the path to .localchat directory.
func ConfigDir(projectRoot string) string {
	return filepath.Join(projectRoot, ".localchat")
}

// ConfigPath returns the path to config.yaml.
func ConfigPath(projectRoot string) string {
	return filepath.Join(ConfigDir(projectRoot), "config.yaml")
}

// resolve makes path absolute against base unless it already is.
func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// StorePath returns the vector store file. The default depends on the provider.
// A path of "-" keeps the memory store in-process.
func (c *Config) StorePath(projectRoot string) string {
	path := c.VectorStore.Path
	switch {
	case path == "-":
		return ""
	case path == "" && c.VectorStore.Provider == "memory":
		path = "vectors.json"
	case path == "":
		path = "vectors.db"
	}
	return resolve(ConfigDir(projectRoot), path)
}

// CachePath returns the ingestion cache database file.
func (c *Config) CachePath(projectRoot string) string {
	return resolve(ConfigDir(projectRoot), c.Cache.Path)
}

// SourceDir returns the document directory.
func (c *Config) SourceDir(projectRoot string) string {
	return resolve(projectRoot, c.Source.Dir)
}

// PluginsDir returns the plugins directory.
func (c *Config) PluginsDir(projectRoot string) string {
	return resolve(ConfigDir(projectRoot), c.Plugins.Dir)
}

// Load loads configuration from file and environment, falling back to defaults.
// A .env file in the project root is loaded into the environment first;
// variables already set take precedence over it.
func Load(projectRoot string) (*Config, []string, error) {
	return LoadFile(projectRoot, ConfigPath(projectRoot))
}

// LoadFile is Load with an explicit config file location.
func LoadFile(projectRoot, configPath string) (*Config, []string, error) {
	cfg := DefaultConfig()
	warnings := []string{}

	if err := godotenv.Load(filepath.Join(projectRoot, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		warnings = append(warnings, fmt.Sprintf("Failed to load .env: %v", err))
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		warnings = append(warnings, "No config file found, using defaults")
	} else {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply defaults for values cleared in the file
	def := DefaultConfig()
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = def.Embedding.Provider
		warnings = append(warnings, "Using default embedding provider: "+def.Embedding.Provider)
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = def.Embedding.BatchSize
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = def.Embedding.Timeout
	}
	if cfg.Chunking.Strategy == "" {
		cfg.Chunking.Strategy = def.Chunking.Strategy
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = def.VectorStore.Collection
	}
	if len(cfg.Source.Include) == 0 {
		cfg.Source.Include = def.Source.Include
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = def.Search.DefaultLimit
	}
	if cfg.Embedding.Provider == "openai" && cfg.Embedding.APIKey == "" && os.Getenv("OPENAI_API_KEY") == "" &&
		!strings.Contains(cfg.Embedding.Endpoint, "localhost") {
		warnings = append(warnings, "openai embedding provider without api_key or OPENAI_API_KEY")
	}

	return cfg, warnings, nil
}

// setDefaults registers every key with viper so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("embedding.provider", cfg.Embedding.Provider)
	v.SetDefault("embedding.model", cfg.Embedding.Model)
	v.SetDefault("embedding.endpoint", cfg.Embedding.Endpoint)
	v.SetDefault("embedding.api_key", cfg.Embedding.APIKey)
	v.SetDefault("embedding.batch_size", cfg.Embedding.BatchSize)
	v.SetDefault("embedding.dimensions", cfg.Embedding.Dimensions)
	v.SetDefault("embedding.timeout", cfg.Embedding.Timeout)
	v.SetDefault("embedding.failure_threshold", cfg.Embedding.FailureThreshold)
	v.SetDefault("embedding.breaker_cooldown", cfg.Embedding.BreakerCooldown)
	v.SetDefault("embedding.requests_per_second", cfg.Embedding.RequestsPerSecond)

	v.SetDefault("chunking.strategy", cfg.Chunking.Strategy)
	v.SetDefault("chunking.max_chunk_size", cfg.Chunking.MaxChunkSize)

	v.SetDefault("vectorstore.provider", cfg.VectorStore.Provider)
	v.SetDefault("vectorstore.path", cfg.VectorStore.Path)
	v.SetDefault("vectorstore.collection", cfg.VectorStore.Collection)

	v.SetDefault("cache.provider", cfg.Cache.Provider)
	v.SetDefault("cache.path", cfg.Cache.Path)

	v.SetDefault("source.provider", cfg.Source.Provider)
	v.SetDefault("source.dir", cfg.Source.Dir)
	v.SetDefault("source.include", cfg.Source.Include)
	v.SetDefault("source.max_file_size", cfg.Source.MaxFileSize)

	v.SetDefault("ingest.workers", cfg.Ingest.Workers)
	v.SetDefault("ingest.source_timeout", cfg.Ingest.SourceTimeout)
	v.SetDefault("ingest.retries", cfg.Ingest.Retries)
	v.SetDefault("ingest.on_startup", cfg.Ingest.OnStartup)
	v.SetDefault("ingest.watch_debounce", cfg.Ingest.WatchDebounce)

	v.SetDefault("search.default_limit", cfg.Search.DefaultLimit)
	v.SetDefault("search.timeout", cfg.Search.Timeout)

	v.SetDefault("chat.endpoint", cfg.Chat.Endpoint)
	v.SetDefault("chat.api_key", cfg.Chat.APIKey)
	v.SetDefault("chat.model", cfg.Chat.Model)
	v.SetDefault("chat.max_results", cfg.Chat.MaxResults)
	v.SetDefault("chat.max_tool_rounds", cfg.Chat.MaxToolRounds)
	v.SetDefault("chat.timeout", cfg.Chat.Timeout)

	v.SetDefault("plugins.dir", cfg.Plugins.Dir)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
}

// Save saves configuration to file.
func Save(projectRoot string, cfg *Config) error {
	configDir := ConfigDir(projectRoot)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(ConfigPath(projectRoot))
	v.SetConfigType("yaml")

	// Set all values
	v.Set("embedding", cfg.Embedding)
	v.Set("chunking", cfg.Chunking)
	v.Set("vectorstore", cfg.VectorStore)
	v.Set("cache", cfg.Cache)
	v.Set("source", cfg.Source)
	v.Set("ingest", cfg.Ingest)
	v.Set("search", cfg.Search)
	v.Set("chat", cfg.Chat)
	v.Set("plugins", cfg.Plugins)
	v.Set("logging", cfg.Logging)

	return v.WriteConfig()
}

// Validate validates the configuration.
func Validate(cfg *Config) []error {
	var errs []error

	// Validate providers
	oneOf := func(field, value string, valid ...string) {
		for _, v := range valid {
			if value == v {
				return
			}
		}
		errs = append(errs, fmt.Errorf("invalid %s: %q (valid: %s)", field, value, strings.Join(valid, ", ")))
	}
	oneOf("embedding provider", cfg.Embedding.Provider, "ollama", "openai", "hash", "plugin")
	oneOf("chunking strategy", cfg.Chunking.Strategy, "page", "paragraph")
	oneOf("vector store", cfg.VectorStore.Provider, "sqlitevec", "memory")
	oneOf("ingestion cache", cfg.Cache.Provider, "sqlite", "memory")
	oneOf("source", cfg.Source.Provider, "pdfdir")
	oneOf("log level", cfg.Logging.Level, "debug", "info", "warn", "error")
	oneOf("log format", cfg.Logging.Format, "text", "json")

	if cfg.Embedding.Provider == "plugin" && cfg.Embedding.Model == "" {
		errs = append(errs, fmt.Errorf("embedding provider plugin needs model set to the plugin name"))
	}

	// Validate sizes
	positive := func(field string, value int) {
		if value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", field, value))
		}
	}
	positive("embedding.batch_size", cfg.Embedding.BatchSize)
	positive("ingest.workers", cfg.Ingest.Workers)
	positive("search.default_limit", cfg.Search.DefaultLimit)
	positive("chat.max_results", cfg.Chat.MaxResults)
	positive("chat.max_tool_rounds", cfg.Chat.MaxToolRounds)
	if cfg.Chunking.Strategy == "paragraph" {
		positive("chunking.max_chunk_size", cfg.Chunking.MaxChunkSize)
	}
	if cfg.Embedding.Dimensions < 0 {
		errs = append(errs, fmt.Errorf("embedding.dimensions must not be negative, got %d", cfg.Embedding.Dimensions))
	}
	if cfg.Ingest.Retries < 0 {
		errs = append(errs, fmt.Errorf("ingest.retries must not be negative, got %d", cfg.Ingest.Retries))
	}
	if cfg.Embedding.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("embedding.requests_per_second must not be negative"))
	}

	// Validate timeouts
	timeout := func(field string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", field, d))
		}
	}
	timeout("embedding.timeout", cfg.Embedding.Timeout)
	timeout("ingest.source_timeout", cfg.Ingest.SourceTimeout)
	timeout("search.timeout", cfg.Search.Timeout)
	timeout("chat.timeout", cfg.Chat.Timeout)

	if cfg.Source.MaxFileSize != "" {
		if _, err := ParseSize(cfg.Source.MaxFileSize); err != nil {
			errs = append(errs, fmt.Errorf("source.max_file_size: %w", err))
		}
	}
	if len(cfg.Source.Include) == 0 {
		errs = append(errs, fmt.Errorf("source.include must list at least one pattern"))
	}

	return errs
}

// ParseSize parses a size string like "1MB" to bytes. Empty means 0 (unlimited).
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "KB"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "B"):
		s = strings.TrimSuffix(s, "B")
	}

	var value int64
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &value); err != nil || value < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return value * multiplier, nil
}

// Hash returns a fingerprint of the settings that determine stored vectors.
// A changed hash means the index no longer matches the configuration.
func (c *Config) Hash() string {
	data := fmt.Sprintf("%s:%s:%d:%s:%d:%s",
		c.Embedding.Provider,
		c.Embedding.Model,
		c.Embedding.Dimensions,
		c.Chunking.Strategy,
		c.Chunking.MaxChunkSize,
		c.VectorStore.Collection,
	)
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:])
}

// Copy creates a deep copy of the config.
// Used for runtime modifications without affecting the original.
func (c *Config) Copy() *Config {
	copy := *c
	if c.Source.Include != nil {
		copy.Source.Include = append([]string(nil), c.Source.Include...)
	}
	return &copy
}

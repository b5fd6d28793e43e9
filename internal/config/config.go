package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the adtokens API configuration.
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Database    DatabaseConfig    `yaml:"database"`
	Auth        AuthConfig        `yaml:"auth"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Cache       CacheConfig       `yaml:"cache"`
	Search      SearchConfig      `yaml:"search"`
	Ranking     RankingConfig     `yaml:"ranking"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Index       IndexConfig       `yaml:"index"`
	Impressions ImpressionsConfig `yaml:"impressions"`
	Supabase    SupabaseConfig    `yaml:"supabase"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings. No keys = auth disabled.
type AuthConfig struct {
	Keys []APIKeyConfig `yaml:"keys"`
}

// APIKeyConfig is one static API key.
type APIKeyConfig struct {
	Name    string `yaml:"name"`
	Key     string `yaml:"key"`
	Enabled *bool  `yaml:"enabled"` // default true
}

// IsEnabled reports whether the key may be used.
func (k APIKeyConfig) IsEnabled() bool {
	return k.Enabled == nil || *k.Enabled
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds Valkey connection settings.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// RateLimitConfig holds token bucket settings per caller.
type RateLimitConfig struct {
	Enabled          *bool   `yaml:"enabled"` // default true
	Capacity         float64 `yaml:"capacity"`
	RefillPerSec     float64 `yaml:"refill_per_sec"`
	Shards           int     `yaml:"shards"`
	IdleTTLSec       int     `yaml:"idle_ttl_sec"`
	SweepIntervalSec int     `yaml:"sweep_interval_sec"`
}

// IsEnabled reports whether requests are rate limited.
func (c RateLimitConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// CacheConfig holds fingerprint cache settings.
type CacheConfig struct {
	Size   int               `yaml:"size"`
	TTLSec int               `yaml:"ttl_sec"`
	Shared SharedCacheConfig `yaml:"shared"`
}

// TTL returns the entry lifetime.
func (c CacheConfig) TTL() time.Duration { return time.Duration(c.TTLSec) * time.Second }

// SharedCacheConfig holds the optional Redis tier.
type SharedCacheConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SearchConfig holds pipeline settings.
type SearchConfig struct {
	OverFetch          int    `yaml:"over_fetch"`
	EmbeddingTimeoutMs int    `yaml:"embedding_timeout_ms"`
	RetrievalTimeoutMs int    `yaml:"retrieval_timeout_ms"`
	RetryBackoffMs     int    `yaml:"retry_backoff_ms"`
	MaxBatch           int    `yaml:"max_batch"`
	BatchConcurrency   int    `yaml:"batch_concurrency"`
	ModelVersion       string `yaml:"model_version"`
}

// RankingConfig holds composite score weights and boosts.
type RankingConfig struct {
	SimilarityWeight   float64            `yaml:"similarity_weight"`
	RecencyWeight      float64            `yaml:"recency_weight"`
	BoostWeight        float64            `yaml:"boost_weight"`
	RecencyHalfLifeDay int                `yaml:"recency_half_life_days"`
	InStockBoost       float64            `yaml:"in_stock_boost"`
	MerchantPriority   map[string]float64 `yaml:"merchant_priority"`
}

// EmbeddingConfig holds the query embedder settings.
type EmbeddingConfig struct {
	Provider         string `yaml:"provider"`
	APIKey           string `yaml:"api_key"`
	BaseURL          string `yaml:"base_url"`
	Model            string `yaml:"model"`
	Dimensions       int    `yaml:"dimensions"`
	QueryInstruction string `yaml:"query_instruction"`
	CacheTTLSec      int    `yaml:"cache_ttl_sec"`
	LocalCacheSize   int    `yaml:"local_cache_size"` // in-process tier; negative disables
}

// IndexConfig holds the product index backend settings.
type IndexConfig struct {
	Driver          string       `yaml:"driver"`    // valkey (default), qdrant
	Algorithm       string       `yaml:"algorithm"` // hnsw (default), flat; valkey only
	HNSWM           int          `yaml:"hnsw_m"`
	HNSWEFConstruct int          `yaml:"hnsw_ef_construction"`
	Qdrant          QdrantConfig `yaml:"qdrant"`
}

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	URL        string `yaml:"url"`
	Collection string `yaml:"collection"`
	APIKey     string `yaml:"api_key"`
}

// ImpressionsConfig holds attribution persistence settings.
type ImpressionsConfig struct {
	Driver          string `yaml:"driver"` // valkey (default), memory, supabase
	RetentionDays   int    `yaml:"retention_days"`
	QueueSize       int    `yaml:"queue_size"`
	Workers         int    `yaml:"workers"`
	MaxAttempts     int    `yaml:"max_attempts"`
	RetryBackoffMs  int    `yaml:"retry_backoff_ms"`
	MaxReasonLength int    `yaml:"max_reason_length"`
}

// Retention returns how long impressions stay clickable.
func (c ImpressionsConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// SupabaseConfig holds Supabase REST settings.
type SupabaseConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// CatalogConfig holds catalog change detection settings.
type CatalogConfig struct {
	WatchIntervalSec int `yaml:"watch_interval_sec"`
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

// Parse expands env variables in raw YAML, applies defaults and validates.
func Parse(data []byte) (Config, error) {
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
	// SSE responses stay open while candidates are written
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}

	if c.RateLimit.Capacity <= 0 {
		c.RateLimit.Capacity = 100
	}
	if c.RateLimit.RefillPerSec <= 0 {
		c.RateLimit.RefillPerSec = c.RateLimit.Capacity / 60
	}
	if c.RateLimit.Shards <= 0 {
		c.RateLimit.Shards = 64
	}
	if c.RateLimit.IdleTTLSec <= 0 {
		c.RateLimit.IdleTTLSec = 600
	}
	if c.RateLimit.SweepIntervalSec <= 0 {
		c.RateLimit.SweepIntervalSec = 60
	}

	if c.Cache.Size <= 0 {
		c.Cache.Size = 10000
	}
	if c.Cache.TTLSec <= 0 {
		c.Cache.TTLSec = 300
	}

	if c.Search.OverFetch <= 0 {
		c.Search.OverFetch = 4
	}
	if c.Search.EmbeddingTimeoutMs <= 0 {
		c.Search.EmbeddingTimeoutMs = 2000
	}
	if c.Search.RetrievalTimeoutMs <= 0 {
		c.Search.RetrievalTimeoutMs = 500
	}
	if c.Search.RetryBackoffMs <= 0 {
		c.Search.RetryBackoffMs = 50
	}
	if c.Search.MaxBatch <= 0 {
		c.Search.MaxBatch = 10
	}
	if c.Search.BatchConcurrency <= 0 {
		c.Search.BatchConcurrency = 4
	}

	// All-zero weights mean "not configured"
	r := &c.Ranking
	if r.SimilarityWeight == 0 && r.RecencyWeight == 0 && r.BoostWeight == 0 {
		r.SimilarityWeight, r.RecencyWeight, r.BoostWeight = 0.8, 0.1, 0.1
	}
	if r.RecencyHalfLifeDay <= 0 {
		r.RecencyHalfLifeDay = 30
	}
	if r.InStockBoost <= 0 {
		r.InStockBoost = 1
	}
	if len(r.MerchantPriority) > 0 {
		norm := make(map[string]float64, len(r.MerchantPriority))
		for name, p := range r.MerchantPriority {
			norm[strings.ToLower(strings.TrimSpace(name))] = p
		}
		r.MerchantPriority = norm
	}

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-small"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 1536
	}
	if c.Embedding.CacheTTLSec <= 0 {
		c.Embedding.CacheTTLSec = 7 * 24 * 3600
	}
	if c.Embedding.LocalCacheSize == 0 {
		c.Embedding.LocalCacheSize = 4096
	}
	if c.Search.ModelVersion == "" {
		c.Search.ModelVersion = c.Embedding.Model
	}

	if c.Index.Driver == "" {
		c.Index.Driver = "valkey"
	}
	if c.Index.Algorithm == "" {
		c.Index.Algorithm = "hnsw"
	}
	if c.Index.HNSWM <= 0 {
		c.Index.HNSWM = 16
	}
	if c.Index.HNSWEFConstruct <= 0 {
		c.Index.HNSWEFConstruct = 200
	}
	if c.Index.Qdrant.Collection == "" {
		c.Index.Qdrant.Collection = "products"
	}

	if c.Impressions.Driver == "" {
		c.Impressions.Driver = "valkey"
	}
	if c.Impressions.RetentionDays <= 0 {
		c.Impressions.RetentionDays = 30
	}
	if c.Impressions.QueueSize <= 0 {
		c.Impressions.QueueSize = 1024
	}
	if c.Impressions.Workers <= 0 {
		c.Impressions.Workers = 2
	}
	if c.Impressions.MaxAttempts <= 0 {
		c.Impressions.MaxAttempts = 5
	}
	if c.Impressions.RetryBackoffMs <= 0 {
		c.Impressions.RetryBackoffMs = 200
	}
	if c.Impressions.MaxReasonLength <= 0 {
		c.Impressions.MaxReasonLength = 1000
	}

	if c.Catalog.WatchIntervalSec <= 0 {
		c.Catalog.WatchIntervalSec = 5
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}

	seen := make(map[string]struct{}, len(c.Auth.Keys))
	for i, k := range c.Auth.Keys {
		if k.Key == "" {
			return fmt.Errorf("auth.keys[%d].key is required", i)
		}
		if k.Name == "" {
			return fmt.Errorf("auth.keys[%d].name is required", i)
		}
		if _, dup := seen[k.Key]; dup {
			return fmt.Errorf("auth.keys[%d] duplicates key of another entry", i)
		}
		seen[k.Key] = struct{}{}
	}

	if c.Cache.Shared.Enabled && c.Cache.Shared.Addr == "" {
		return fmt.Errorf("cache.shared.addr is required when the shared cache is enabled")
	}

	r := c.Ranking
	for name, w := range map[string]float64{
		"similarity_weight": r.SimilarityWeight,
		"recency_weight":    r.RecencyWeight,
		"boost_weight":      r.BoostWeight,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("ranking.%s must be between 0 and 1, got %g", name, w)
		}
	}
	if sum := r.SimilarityWeight + r.RecencyWeight + r.BoostWeight; sum > 1.0001 {
		return fmt.Errorf("ranking weights must sum to at most 1, got %g", sum)
	}
	if r.InStockBoost > 1 {
		return fmt.Errorf("ranking.in_stock_boost must be at most 1, got %g", r.InStockBoost)
	}
	for m, p := range r.MerchantPriority {
		if p < 0 || p > 1 {
			return fmt.Errorf("ranking.merchant_priority.%s must be between 0 and 1, got %g", m, p)
		}
	}

	switch c.Index.Driver {
	case "valkey":
	case "qdrant":
		if c.Index.Qdrant.URL == "" {
			return fmt.Errorf("index.qdrant.url is required for the qdrant driver")
		}
	default:
		return fmt.Errorf("index.driver must be \"valkey\" or \"qdrant\", got %q", c.Index.Driver)
	}
	if c.Index.Algorithm != "hnsw" && c.Index.Algorithm != "flat" {
		return fmt.Errorf("index.algorithm must be \"hnsw\" or \"flat\", got %q", c.Index.Algorithm)
	}

	switch c.Impressions.Driver {
	case "valkey", "memory":
	case "supabase":
		if c.Supabase.URL == "" || c.Supabase.APIKey == "" {
			return fmt.Errorf("supabase.url and supabase.api_key are required for the supabase driver")
		}
	default:
		return fmt.Errorf(
			"impressions.driver must be \"valkey\", \"memory\" or \"supabase\", got %q", c.Impressions.Driver,
		)
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

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

// Config holds the bitlens configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Quantizer QuantizerConfig `yaml:"quantizer"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Filter    FilterConfig    `yaml:"filter"`
	Scan      ScanConfig      `yaml:"scan"`
	Cache     CacheConfig     `yaml:"cache"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Storage   StorageConfig   `yaml:"storage"`
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
	Port            int   `yaml:"port"`
	ReadTimeoutSec  int   `yaml:"read_timeout_sec"`
	WriteTimeoutSec int   `yaml:"write_timeout_sec"`
	ShutdownSec     int   `yaml:"shutdown_timeout_sec"`
	MaxUploadMB     int64 `yaml:"max_upload_mb"`
}

// EmbeddingConfig selects and tunes the embedding provider chain.
type EmbeddingConfig struct {
	Provider       string          `yaml:"provider"` // openai, onnx
	Model          string          `yaml:"model"`
	Dimensions     int             `yaml:"dimensions"`
	QueryPrefix    string          `yaml:"query_prefix"`
	DocumentPrefix string          `yaml:"document_prefix"`
	MaxBatch       int             `yaml:"max_batch"`
	OpenAI         OpenAIConfig    `yaml:"openai"`
	ONNX           ONNXConfig      `yaml:"onnx"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	Budget         BudgetConfig    `yaml:"budget"`
	CacheTTLSec    int             `yaml:"cache_ttl_sec"` // 0 = keep forever
}

// OpenAIConfig holds settings for OpenAI-compatible endpoints.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	User    string `yaml:"user"`
}

// ONNXConfig holds settings for the local encoder.
type ONNXConfig struct {
	LibraryPath   string `yaml:"library_path"`
	ModelPath     string `yaml:"model_path"`
	TokenizerPath string `yaml:"tokenizer_path"`
	MaxSeqLen     int    `yaml:"max_seq_len"`
}

// RateLimitConfig caps provider calls. RPS 0 disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// BudgetConfig holds token budget settings.
type BudgetConfig struct {
	DailyTokenLimit   int64  `yaml:"daily_token_limit"`   // 0 = unlimited
	MonthlyTokenLimit int64  `yaml:"monthly_token_limit"` // 0 = unlimited
	Action            string `yaml:"action"`              // "reject" | "warn" (default)
}

// QuantizerConfig describes how vectors become fingerprints.
type QuantizerConfig struct {
	Scheme    string `yaml:"scheme"` // sign, projection
	OutputDim int    `yaml:"output_dim"`
	Seed      uint64 `yaml:"seed"`
}

// PipelineConfig tunes streaming ingestion.
type PipelineConfig struct {
	BatchSize     int   `yaml:"batch_size"` // 0 = per-mode default
	Workers       int   `yaml:"workers"`    // 0 = GOMAXPROCS
	QueueCapacity int   `yaml:"queue_capacity"`
	ProgressEvery int64 `yaml:"progress_every"`
}

// FilterConfig holds the default match threshold and tie-break rule.
type FilterConfig struct {
	MaxDistance int     `yaml:"max_distance"` // wins over min_score when positive
	MinScore    float64 `yaml:"min_score"`
	TieBreak    string  `yaml:"tie_break"` // first, last
	Thesaurus   string  `yaml:"thesaurus"` // optional CSV of verb,syn1..synN
}

// ScanConfig tunes index scans.
type ScanConfig struct {
	Workers     int `yaml:"workers"`
	MaxDistance int `yaml:"max_distance"`
	Limit       int `yaml:"limit"`
}

// CacheConfig holds the Redis/Valkey connection for the embedding cache and budget.
// No addrs disables both.
type CacheConfig struct {
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// Enabled reports whether a cache server is configured.
func (c CacheConfig) Enabled() bool { return len(c.Addrs) > 0 }

// CatalogConfig selects the dataset catalog backend.
type CatalogConfig struct {
	Driver   string `yaml:"driver"` // sqlite, dynamodb
	DSN      string `yaml:"dsn"`    // sqlite
	Table    string `yaml:"table"`  // dynamodb
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// ArchiveConfig selects where published datasets go.
type ArchiveConfig struct {
	Driver      string `yaml:"driver"`      // none, dir, minio, s3
	Compression string `yaml:"compression"` // zstd, lz4, none
	Prefix      string `yaml:"prefix"`
	Dir         string `yaml:"dir"`
	Bucket      string `yaml:"bucket"`
	Endpoint    string `yaml:"endpoint"`
	Region      string `yaml:"region"`
	AccessKey   string `yaml:"access_key"`
	SecretKey   string `yaml:"secret_key"`
	UseSSL      bool   `yaml:"use_ssl"`
	PathStyle   bool   `yaml:"path_style"`
	PartSizeMB  int64  `yaml:"part_size_mb"`
	Concurrency int    `yaml:"concurrency"`
}

// StorageConfig holds local filesystem locations.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
	TempDir string `yaml:"temp_dir"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from an explicit path.
func LoadFile(configPath string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse decodes YAML, expands ${VAR} references, applies defaults and validates.
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
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 30
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 600
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.HTTP.MaxUploadMB <= 0 {
		c.HTTP.MaxUploadMB = 512
	}

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 384
	}
	if c.Embedding.ONNX.MaxSeqLen <= 0 {
		c.Embedding.ONNX.MaxSeqLen = 128
	}

	if c.Quantizer.Scheme == "" {
		c.Quantizer.Scheme = "sign"
	}
	if c.Quantizer.Scheme == "projection" && c.Quantizer.Seed == 0 {
		c.Quantizer.Seed = 42
	}
	if c.Quantizer.Scheme == "sign" {
		c.Quantizer.OutputDim = c.Embedding.Dimensions
	}

	if c.Filter.MaxDistance <= 0 && c.Filter.MinScore <= 0 {
		c.Filter.MinScore = 0.65
	}
	if c.Filter.TieBreak == "" {
		c.Filter.TieBreak = "first"
	}

	if c.Scan.MaxDistance <= 0 {
		c.Scan.MaxDistance = 12
	}

	if c.Cache.ReadinessTimeout <= 0 {
		c.Cache.ReadinessTimeout = 10
	}

	if c.Catalog.Driver == "" {
		c.Catalog.Driver = "sqlite"
	}
	if c.Catalog.Driver == "sqlite" && c.Catalog.DSN == "" {
		c.Catalog.DSN = "bitlens.db"
	}
	if c.Catalog.Driver == "dynamodb" && c.Catalog.Table == "" {
		c.Catalog.Table = "bitlens-datasets"
	}

	if c.Archive.Driver == "" {
		c.Archive.Driver = "none"
	}
	if c.Archive.Compression == "" {
		c.Archive.Compression = "zstd"
	}
	if c.Archive.Prefix == "" {
		c.Archive.Prefix = "datasets"
	}

	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Storage.TempDir == "" {
		c.Storage.TempDir = os.TempDir()
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}

	switch c.Embedding.Provider {
	case "openai":
		if c.Embedding.Model == "" {
			return fmt.Errorf("embedding.model is required for the openai provider")
		}
	case "onnx":
		if c.Embedding.ONNX.ModelPath == "" || c.Embedding.ONNX.TokenizerPath == "" {
			return fmt.Errorf("embedding.onnx.model_path and tokenizer_path are required")
		}
	default:
		return fmt.Errorf("embedding.provider must be \"openai\" or \"onnx\", got %q", c.Embedding.Provider)
	}
	switch c.Embedding.Budget.Action {
	case "", "warn", "reject":
	default:
		return fmt.Errorf("embedding.budget.action must be \"warn\" or \"reject\", got %q",
			c.Embedding.Budget.Action)
	}
	if c.Embedding.RateLimit.RPS < 0 {
		return fmt.Errorf("embedding.rate_limit.rps must not be negative")
	}

	switch c.Quantizer.Scheme {
	case "sign":
	case "projection":
		if c.Quantizer.OutputDim <= 0 {
			return fmt.Errorf("quantizer.output_dim is required for the projection scheme")
		}
	default:
		return fmt.Errorf("quantizer.scheme must be \"sign\" or \"projection\", got %q", c.Quantizer.Scheme)
	}

	if c.Filter.MinScore < 0 || c.Filter.MinScore >= 1 {
		return fmt.Errorf("filter.min_score must be in [0, 1), got %v", c.Filter.MinScore)
	}
	switch c.Filter.TieBreak {
	case "first", "last":
	default:
		return fmt.Errorf("filter.tie_break must be \"first\" or \"last\", got %q", c.Filter.TieBreak)
	}

	switch c.Catalog.Driver {
	case "sqlite", "dynamodb":
	default:
		return fmt.Errorf("catalog.driver must be \"sqlite\" or \"dynamodb\", got %q", c.Catalog.Driver)
	}

	switch c.Archive.Driver {
	case "none":
	case "dir":
		if c.Archive.Dir == "" {
			return fmt.Errorf("archive.dir is required for the dir driver")
		}
	case "minio", "s3":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required for the %s driver", c.Archive.Driver)
		}
		if c.Archive.Driver == "minio" && c.Archive.Endpoint == "" {
			return fmt.Errorf("archive.endpoint is required for the minio driver")
		}
	default:
		return fmt.Errorf("archive.driver must be one of none, dir, minio, s3, got %q", c.Archive.Driver)
	}
	switch c.Archive.Compression {
	case "zstd", "lz4", "none":
	default:
		return fmt.Errorf("archive.compression must be zstd, lz4 or none, got %q", c.Archive.Compression)
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

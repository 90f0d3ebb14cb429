// Package config loads recall configuration from defaults, YAML files,
// .env files and RECALL_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/recall/internal/chunk"
	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

// ProjectFileName is the project-level configuration file.
const ProjectFileName = ".recall.yaml"

// Config represents the complete recall configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	MultiQuery MultiQueryConfig `yaml:"multi_query" json:"multi_query"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	LLM        LLMConfig        `yaml:"llm" json:"llm"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	Benchmark  BenchmarkConfig  `yaml:"benchmark" json:"benchmark"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" json:"telemetry"`
}

// ChunkingConfig holds the token window parameters. Read-only after startup.
type ChunkingConfig struct {
	MinTokens     int `yaml:"min_tokens" json:"min_tokens"`
	MaxTokens     int `yaml:"max_tokens" json:"max_tokens"`
	OverlapTokens int `yaml:"overlap_tokens" json:"overlap_tokens"`
}

// RetrievalConfig configures lexical, vector and fused retrieval.
type RetrievalConfig struct {
	DefaultN int `yaml:"default_n" json:"default_n"`
	MaxN     int `yaml:"max_n" json:"max_n"`

	// LexicalBackend selects "sqlite" (FTS5, default) or "bleve".
	LexicalBackend string `yaml:"lexical_backend" json:"lexical_backend"`

	// Fusion weights. Only the weights of sources that returned a chunk
	// count in that chunk's denominator, so they need not sum to 1.
	LexicalWeight float64 `yaml:"lexical_weight" json:"lexical_weight"`
	VectorWeight  float64 `yaml:"vector_weight" json:"vector_weight"`

	// HybridCandidates is the per-source fetch size before fusion.
	HybridCandidates int    `yaml:"hybrid_candidates" json:"hybrid_candidates"`
	Timeout          string `yaml:"timeout" json:"timeout"`
}

// MultiQueryConfig configures question decomposition and fan-out.
type MultiQueryConfig struct {
	MaxSubQueries int `yaml:"max_sub_queries" json:"max_sub_queries"`
	Parallelism   int `yaml:"parallelism" json:"parallelism"`
}

// EmbeddingsConfig configures the embedding function.
type EmbeddingsConfig struct {
	// Provider is "openai", "static" or empty for auto-detection.
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
	CacheSize  int    `yaml:"cache_size" json:"cache_size"`
}

// LLMConfig configures the decomposition and synthesis capabilities.
type LLMConfig struct {
	// Provider is "openai", "anthropic", "static" or empty for auto-detection.
	Provider          string  `yaml:"provider" json:"provider"`
	Model             string  `yaml:"model" json:"model"`
	MaxTokens         int     `yaml:"max_tokens" json:"max_tokens"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	Timeout           string  `yaml:"timeout" json:"timeout"`
}

// StoreConfig configures the SQLite datastore and its connection pool.
type StoreConfig struct {
	Path         string `yaml:"path" json:"path"`
	MaxOpenConns int    `yaml:"max_open_conns" json:"max_open_conns"`
	CacheMB      int    `yaml:"cache_mb" json:"cache_mb"`
}

// BenchmarkConfig configures the benchmark harness.
type BenchmarkConfig struct {
	ThresholdMS float64 `yaml:"threshold_ms" json:"threshold_ms"`
	DefaultN    int     `yaml:"default_n" json:"default_n"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// TelemetryConfig controls local query telemetry. Nothing is sent anywhere.
type TelemetryConfig struct {
	Disabled      bool   `yaml:"disabled" json:"disabled"`
	FlushInterval string `yaml:"flush_interval" json:"flush_interval"`
}

// NewConfig creates a new Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Chunking: ChunkingConfig{
			MinTokens:     400,
			MaxTokens:     800,
			OverlapTokens: 50,
		},
		Retrieval: RetrievalConfig{
			DefaultN:         50,
			MaxN:             200,
			LexicalBackend:   "sqlite",
			LexicalWeight:    0.5,
			VectorWeight:     0.5,
			HybridCandidates: 100,
			Timeout:          "5s",
		},
		MultiQuery: MultiQueryConfig{
			MaxSubQueries: 4,
			Parallelism:   4,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
			BatchSize:  64,
			CacheSize:  1000,
		},
		LLM: LLMConfig{
			Provider:          "",
			Model:             "gpt-4o-mini",
			MaxTokens:         1024,
			RequestsPerSecond: 2,
			Timeout:           "30s",
		},
		Store: StoreConfig{
			Path:         filepath.Join(".recall", "recall.db"),
			MaxOpenConns: 4,
			CacheMB:      64,
		},
		Benchmark: BenchmarkConfig{
			ThresholdMS: 50,
			DefaultN:    50,
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "info",
		},
		Telemetry: TelemetryConfig{
			FlushInterval: "60s",
		},
	}
}

// GetUserConfigPath returns the user configuration file:
// $XDG_CONFIG_HOME/recall/config.yaml or ~/.config/recall/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "recall", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "recall", "config.yaml")
	}
	return filepath.Join(home, ".config", "recall", "config.yaml")
}

// Load loads configuration for the project in dir.
// Precedence, lowest first:
//  1. Defaults
//  2. User config (~/.config/recall/config.yaml)
//  3. Project config (.recall.yaml or .recall.yml in dir)
//  4. .env in dir (only sets variables not already in the environment)
//  5. RECALL_* environment variables
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if err := cfg.loadFromDir(dir); err != nil {
		return nil, err
	}

	if envPath := filepath.Join(dir, ".env"); fileExists(envPath) {
		if err := godotenv.Load(envPath); err != nil {
			return nil, rerrors.ConfigError("failed to load .env", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromDir loads .recall.yaml, falling back to .recall.yml.
func (c *Config) loadFromDir(dir string) error {
	for _, name := range []string{ProjectFileName, ".recall.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

// loadYAML merges the non-zero values of a YAML file into c.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return rerrors.New(rerrors.ErrCodeConfigNotFound, fmt.Sprintf("failed to read config file %s", path), err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return rerrors.ConfigError(fmt.Sprintf("failed to parse config file %s", path), err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith copies non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	setInt(&c.Chunking.MinTokens, other.Chunking.MinTokens)
	setInt(&c.Chunking.MaxTokens, other.Chunking.MaxTokens)
	setInt(&c.Chunking.OverlapTokens, other.Chunking.OverlapTokens)

	setInt(&c.Retrieval.DefaultN, other.Retrieval.DefaultN)
	setInt(&c.Retrieval.MaxN, other.Retrieval.MaxN)
	setString(&c.Retrieval.LexicalBackend, other.Retrieval.LexicalBackend)
	setFloat(&c.Retrieval.LexicalWeight, other.Retrieval.LexicalWeight)
	setFloat(&c.Retrieval.VectorWeight, other.Retrieval.VectorWeight)
	setInt(&c.Retrieval.HybridCandidates, other.Retrieval.HybridCandidates)
	setString(&c.Retrieval.Timeout, other.Retrieval.Timeout)

	setInt(&c.MultiQuery.MaxSubQueries, other.MultiQuery.MaxSubQueries)
	setInt(&c.MultiQuery.Parallelism, other.MultiQuery.Parallelism)

	setString(&c.Embeddings.Provider, other.Embeddings.Provider)
	setString(&c.Embeddings.Model, other.Embeddings.Model)
	setInt(&c.Embeddings.Dimensions, other.Embeddings.Dimensions)
	setInt(&c.Embeddings.BatchSize, other.Embeddings.BatchSize)
	setInt(&c.Embeddings.CacheSize, other.Embeddings.CacheSize)

	setString(&c.LLM.Provider, other.LLM.Provider)
	setString(&c.LLM.Model, other.LLM.Model)
	setInt(&c.LLM.MaxTokens, other.LLM.MaxTokens)
	setFloat(&c.LLM.RequestsPerSecond, other.LLM.RequestsPerSecond)
	setString(&c.LLM.Timeout, other.LLM.Timeout)

	setString(&c.Store.Path, other.Store.Path)
	setInt(&c.Store.MaxOpenConns, other.Store.MaxOpenConns)
	setInt(&c.Store.CacheMB, other.Store.CacheMB)

	setFloat(&c.Benchmark.ThresholdMS, other.Benchmark.ThresholdMS)
	setInt(&c.Benchmark.DefaultN, other.Benchmark.DefaultN)

	setString(&c.Server.Transport, other.Server.Transport)
	setString(&c.Server.LogLevel, other.Server.LogLevel)

	if other.Telemetry.Disabled {
		c.Telemetry.Disabled = true
	}
	setString(&c.Telemetry.FlushInterval, other.Telemetry.FlushInterval)
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// applyEnvOverrides applies RECALL_* variables. Malformed numbers are ignored.
// Weights may be set to an explicit zero here, unlike in YAML.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RECALL_LEXICAL_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil {
			c.Retrieval.LexicalWeight = w
		}
	}
	if v := os.Getenv("RECALL_VECTOR_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil {
			c.Retrieval.VectorWeight = w
		}
	}
	if v := os.Getenv("RECALL_LEXICAL_BACKEND"); v != "" {
		c.Retrieval.LexicalBackend = v
	}
	if v := os.Getenv("RECALL_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("RECALL_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("RECALL_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("RECALL_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("RECALL_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("RECALL_MAX_SUB_QUERIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MultiQuery.MaxSubQueries = n
		}
	}
	if v := os.Getenv("RECALL_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("RECALL_TELEMETRY"); v != "" {
		if on, err := strconv.ParseBool(v); err == nil {
			c.Telemetry.Disabled = !on
		}
	}
}

// Validate checks the configuration. Every failure is a fatal config error.
func (c *Config) Validate() error {
	if err := ValidateChunking(c.Chunking); err != nil {
		return err
	}

	r := c.Retrieval
	if r.LexicalWeight < 0 || r.VectorWeight < 0 {
		return rerrors.New(rerrors.ErrCodeFusionWeights,
			fmt.Sprintf("fusion weights must be non-negative, got lexical=%g vector=%g", r.LexicalWeight, r.VectorWeight), nil)
	}
	if r.LexicalWeight+r.VectorWeight == 0 {
		return rerrors.New(rerrors.ErrCodeFusionWeights, "at least one fusion weight must be positive", nil)
	}
	if r.DefaultN <= 0 || r.MaxN <= 0 || r.DefaultN > r.MaxN {
		return rerrors.ConfigError(fmt.Sprintf("retrieval.default_n (%d) must be positive and not exceed max_n (%d)", r.DefaultN, r.MaxN), nil)
	}
	if r.HybridCandidates < 0 {
		return rerrors.ConfigError("retrieval.hybrid_candidates must be non-negative", nil)
	}
	if _, err := time.ParseDuration(r.Timeout); err != nil {
		return rerrors.ConfigError(fmt.Sprintf("retrieval.timeout %q is not a duration", r.Timeout), err)
	}
	if _, err := time.ParseDuration(c.LLM.Timeout); err != nil {
		return rerrors.ConfigError(fmt.Sprintf("llm.timeout %q is not a duration", c.LLM.Timeout), err)
	}
	if _, err := time.ParseDuration(c.Telemetry.FlushInterval); err != nil {
		return rerrors.ConfigError(fmt.Sprintf("telemetry.flush_interval %q is not a duration", c.Telemetry.FlushInterval), err)
	}

	if err := oneOf("retrieval.lexical_backend", r.LexicalBackend, "sqlite", "bleve"); err != nil {
		return err
	}
	if err := oneOf("embeddings.provider", c.Embeddings.Provider, "", "openai", "static"); err != nil {
		return err
	}
	if err := oneOf("llm.provider", c.LLM.Provider, "", "openai", "anthropic", "static"); err != nil {
		return err
	}
	if err := oneOf("server.transport", c.Server.Transport, "stdio"); err != nil {
		return err
	}
	if err := oneOf("server.log_level", c.Server.LogLevel, "debug", "info", "warn", "error"); err != nil {
		return err
	}

	if c.MultiQuery.MaxSubQueries <= 0 || c.MultiQuery.Parallelism <= 0 {
		return rerrors.ConfigError("multi_query.max_sub_queries and parallelism must be positive", nil)
	}
	if c.Store.MaxOpenConns <= 0 {
		return rerrors.ConfigError("store.max_open_conns must be positive", nil)
	}
	return nil
}

// ValidateChunking rejects window parameters the chunker cannot honour.
func ValidateChunking(c ChunkingConfig) error {
	_, err := chunk.NewChunker(c.Params())
	return err
}

// Params converts the section to chunker parameters.
func (c ChunkingConfig) Params() chunk.Params {
	return chunk.Params{MinTokens: c.MinTokens, MaxTokens: c.MaxTokens, OverlapTokens: c.OverlapTokens}
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return nil
		}
	}
	return rerrors.ConfigError(fmt.Sprintf("%s must be one of %q, got %q", field, allowed, value), nil)
}

// RetrievalTimeout returns the parsed retrieval timeout.
func (c *Config) RetrievalTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Retrieval.Timeout)
	return d
}

// LLMTimeout returns the parsed capability call timeout.
func (c *Config) LLMTimeout() time.Duration {
	d, _ := time.ParseDuration(c.LLM.Timeout)
	return d
}

// TelemetryFlushInterval returns the parsed telemetry flush interval.
func (c *Config) TelemetryFlushInterval() time.Duration {
	d, _ := time.ParseDuration(c.Telemetry.FlushInterval)
	return d
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// FindProjectRoot walks up from startDir to the first directory holding
// .git or a recall project config. Falls back to startDir.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	current := absDir
	for {
		if dirExists(filepath.Join(current, ".git")) ||
			fileExists(filepath.Join(current, ProjectFileName)) ||
			fileExists(filepath.Join(current, ".recall.yml")) {
			return current, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return absDir, nil
		}
		current = parent
	}
}

// StorePath resolves the datastore path against the project root.
func (c *Config) StorePath(root string) string {
	if filepath.IsAbs(c.Store.Path) {
		return c.Store.Path
	}
	return filepath.Join(root, c.Store.Path)
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

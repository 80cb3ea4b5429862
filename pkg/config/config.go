// Package config resolves codestory's configuration from CLI flags, an
// explicit custom config file, the repository's local .codestory.yaml, and
// CODESTORY_-prefixed environment variables, falling back to built-in
// defaults for anything left unset (§6 Configuration hierarchy).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrInvalidThreshold  = errors.New("relevance filter threshold must be in [0,1]")
	ErrInvalidStrictness = errors.New("cluster strictness must be in [0,1]")
	ErrInvalidRetries    = errors.New("num retries must be non-negative")
	ErrInvalidCacheSize  = errors.New("blob cache size is not a valid byte quantity")
)

// Default configuration values.
const (
	defaultModel             = "http:gpt-4"
	defaultTemperature       = 0.2
	defaultMaxTokens         = 4096
	defaultThreshold         = 0.5
	defaultClusterStrictness = 0.5
	defaultNumRetries        = 3
	defaultSecretAggression  = "standard"
	defaultFallbackGrouping  = "by_extension"
	defaultChunkingLevel     = "all_files"
	defaultBatchingStrategy  = "auto"
	defaultDisplayDiffType   = "unified"
	defaultBlobCacheSize     = "256MB"
)

// Config holds every resolved setting for a codestory run.
type Config struct {
	Model     ModelConfig    `mapstructure:"model"`
	Filter    FilterConfig   `mapstructure:"filter"`
	Chunking  ChunkingConfig `mapstructure:"chunking"`
	Grouping  GroupingConfig `mapstructure:"grouping"`
	UX        UXConfig       `mapstructure:"ux"`
	Languages LanguageConfig `mapstructure:"languages"`
	Cache     CacheConfig    `mapstructure:"cache"`
}

// ModelConfig configures the model capability used by the logical grouper
// and, when embedding-backed, the relevance filter.
type ModelConfig struct {
	Name            string  `mapstructure:"name"`
	APIKey          string  `mapstructure:"api_key"`
	APIBase         string  `mapstructure:"api_base"`
	Temperature     float64 `mapstructure:"temperature"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	CustomEmbedding string  `mapstructure:"custom_embedding_model"`
	Intent          string  `mapstructure:"intent"`
}

// FilterConfig configures the secret scanner, relevance filter, and syntax
// validator (commit mode only).
type FilterConfig struct {
	RelevanceFiltering bool    `mapstructure:"relevance_filtering"`
	RelevanceThreshold float64 `mapstructure:"relevance_filter_similarity_threshold"`
	SecretAggression   string  `mapstructure:"secret_scanner_aggression"`
	FailOnSyntaxErrors bool    `mapstructure:"fail_on_syntax_errors"`
}

// ChunkingConfig configures the mechanical chunker's granularity.
type ChunkingConfig struct {
	Level string `mapstructure:"level"`
}

// GroupingConfig configures the semantic grouper's fallback behavior and
// the logical grouper's batching and ordering.
type GroupingConfig struct {
	FallbackStrategy  string  `mapstructure:"fallback_grouping_strategy"`
	ClusterStrictness float64 `mapstructure:"cluster_strictness"`
	BatchingStrategy  string  `mapstructure:"batching_strategy"`
	NumRetries        int     `mapstructure:"num_retries"`
}

// UXConfig configures interactive and display behavior.
type UXConfig struct {
	AskForCommitMessage bool   `mapstructure:"ask_for_commit_message"`
	DisplayDiffType     string `mapstructure:"display_diff_type"`
	AutoAccept          bool   `mapstructure:"auto_accept"`
	Silent              bool   `mapstructure:"silent"`
	Verbose             bool   `mapstructure:"verbose"`
}

// LanguageConfig points at an optional custom scope/identifier grammar
// configuration overlaying the built-in language table.
type LanguageConfig struct {
	CustomConfigPath string `mapstructure:"custom_language_config"`
}

// CacheConfig configures the orchestrator's in-memory blob cache.
type CacheConfig struct {
	// BlobCacheSize is a human-readable byte quantity (e.g. "256MB", "1GB")
	// bounding the blob cache's total resident size.
	BlobCacheSize string `mapstructure:"blob_cache_size"`
}

// BlobCacheSizeBytes parses BlobCacheSize into a byte count. validate calls
// this at load time so a malformed value fails fast rather than at the
// orchestrator's cache-construction call site.
func (c CacheConfig) BlobCacheSizeBytes() (int64, error) {
	n, err := humanize.ParseBytes(c.BlobCacheSize)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrInvalidCacheSize, c.BlobCacheSize, err)
	}

	return int64(n), nil
}

// LoadConfig resolves configuration from, in ascending priority: built-in
// defaults, the global user config (~/.codestory.yaml), CODESTORY_-prefixed
// environment variables, the repository-local .codestory.yaml at repoRoot,
// and an explicit --config file if explicitPath is non-empty. CLI flags are
// layered on top by the caller via Viper.BindPFlag before Unmarshal.
func LoadConfig(explicitPath, repoRoot string) (*viper.Viper, *Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CODESTORY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if home, err := os.UserHomeDir(); err == nil {
		v.SetConfigName(".codestory")
		v.SetConfigType("yaml")
		v.AddConfigPath(home)

		if readErr := v.ReadInConfig(); readErr != nil && !isNotFound(readErr) {
			return nil, nil, fmt.Errorf("read global config: %w", readErr)
		}
	}

	if repoRoot != "" {
		local := filepath.Join(repoRoot, ".codestory.yaml")
		if _, statErr := os.Stat(local); statErr == nil {
			v.SetConfigFile(local)

			if mergeErr := v.MergeInConfig(); mergeErr != nil {
				return nil, nil, fmt.Errorf("read repository config: %w", mergeErr)
			}
		}
	}

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)

		if mergeErr := v.MergeInConfig(); mergeErr != nil {
			return nil, nil, fmt.Errorf("read custom config %s: %w", explicitPath, mergeErr)
		}
	}

	var cfg Config

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return v, &cfg, nil
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError

	return errors.As(err, &notFound)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("model.name", defaultModel)
	v.SetDefault("model.temperature", defaultTemperature)
	v.SetDefault("model.max_tokens", defaultMaxTokens)

	v.SetDefault("filter.relevance_filtering", false)
	v.SetDefault("filter.relevance_filter_similarity_threshold", defaultThreshold)
	v.SetDefault("filter.secret_scanner_aggression", defaultSecretAggression)
	v.SetDefault("filter.fail_on_syntax_errors", false)

	v.SetDefault("chunking.level", defaultChunkingLevel)

	v.SetDefault("grouping.fallback_grouping_strategy", defaultFallbackGrouping)
	v.SetDefault("grouping.cluster_strictness", defaultClusterStrictness)
	v.SetDefault("grouping.batching_strategy", defaultBatchingStrategy)
	v.SetDefault("grouping.num_retries", defaultNumRetries)

	v.SetDefault("ux.ask_for_commit_message", false)
	v.SetDefault("ux.display_diff_type", defaultDisplayDiffType)
	v.SetDefault("ux.auto_accept", false)
	v.SetDefault("ux.silent", false)
	v.SetDefault("ux.verbose", false)

	v.SetDefault("cache.blob_cache_size", defaultBlobCacheSize)
}

func validate(cfg *Config) error {
	if cfg.Filter.RelevanceThreshold < 0 || cfg.Filter.RelevanceThreshold > 1 {
		return fmt.Errorf("%w: %f", ErrInvalidThreshold, cfg.Filter.RelevanceThreshold)
	}

	if cfg.Grouping.ClusterStrictness < 0 || cfg.Grouping.ClusterStrictness > 1 {
		return fmt.Errorf("%w: %f", ErrInvalidStrictness, cfg.Grouping.ClusterStrictness)
	}

	if cfg.Grouping.NumRetries < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRetries, cfg.Grouping.NumRetries)
	}

	if _, err := cfg.Cache.BlobCacheSizeBytes(); err != nil {
		return err
	}

	return nil
}

// Package config loads runtime configuration from an optional YAML file
// layered under environment variables, the latter always taking precedence
// — the same three-tier precedence order (defaults, project file, env) the
// teacher's config loader uses, trimmed to the seven inputs spec.md names.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gcorroto/semantic-codebase-index/internal/codeerr"
)

// Config is the resolved runtime configuration for one process.
type Config struct {
	// EmbeddingAPIKey authenticates against the embeddings endpoint.
	// Required: Load fails with a ConfigError if it cannot be resolved.
	EmbeddingAPIKey string `yaml:"-"`

	// EmbeddingBaseURL is the OpenAI-compatible embeddings endpoint base
	// (spec.md §6 names the wire contract but not the env var; this is an
	// ambient addition so the embedding client has somewhere to point).
	EmbeddingBaseURL string `yaml:"embedding_base_url"`

	// EmbeddingModel names the model passed in every embeddings request.
	EmbeddingModel string `yaml:"embedding_model"`

	// EmbeddingDimensions is the fixed vector width D for this deployment.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`

	// MaxTokens is the chunker's target window size (maxTokens in spec.md
	// §4.2), not to be confused with chunk.AbsoluteMaxTokens.
	MaxTokens int `yaml:"max_tokens"`

	// ChunkOverlapTokens is the sliding-window overlap the size-bounded
	// splitter uses.
	ChunkOverlapTokens int `yaml:"chunk_overlap_tokens"`

	// StoragePath is the per-project storage root (default ".memorybank"),
	// holding index-metadata.json, embedding-cache.json, and the vector
	// store files (spec.md §6's on-disk layout).
	StoragePath string `yaml:"storage_path"`

	// WorkspaceRoot is the directory to scan/index when not explicitly
	// overridden per call.
	WorkspaceRoot string `yaml:"workspace_root"`
}

const (
	DefaultEmbeddingBaseURL    = "https://api.openai.com/v1"
	DefaultEmbeddingModel      = "text-embedding-3-small"
	DefaultEmbeddingDimensions = 1536
	DefaultMaxTokens           = 512
	DefaultChunkOverlapTokens  = 64
	DefaultStoragePath         = ".memorybank"
)

// defaults returns a Config with every field set to its documented default.
func defaults() *Config {
	return &Config{
		EmbeddingBaseURL:    DefaultEmbeddingBaseURL,
		EmbeddingModel:      DefaultEmbeddingModel,
		EmbeddingDimensions: DefaultEmbeddingDimensions,
		MaxTokens:           DefaultMaxTokens,
		ChunkOverlapTokens:  DefaultChunkOverlapTokens,
		StoragePath:         DefaultStoragePath,
	}
}

// configFileNames are tried, in order, under dir.
var configFileNames = []string{".memorybank.yaml", ".memorybank.yml"}

// Load resolves configuration for a project rooted at dir: defaults, then
// an optional project YAML file, then environment variables (highest
// precedence). EMBEDDING_API_KEY has no file-based equivalent — it is
// secret material and is only ever read from the environment.
func Load(dir string) (*Config, error) {
	cfg := defaults()

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromFile(dir string) error {
	for _, name := range configFileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return codeerr.Config(fmt.Sprintf("read config file %s", path), err)
		}
		var parsed Config
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return codeerr.Config(fmt.Sprintf("parse config file %s", path), err)
		}
		c.mergeWith(&parsed)
		return nil
	}
	return nil
}

// mergeWith overlays non-zero fields of other onto c.
func (c *Config) mergeWith(other *Config) {
	if other.EmbeddingBaseURL != "" {
		c.EmbeddingBaseURL = other.EmbeddingBaseURL
	}
	if other.EmbeddingModel != "" {
		c.EmbeddingModel = other.EmbeddingModel
	}
	if other.EmbeddingDimensions != 0 {
		c.EmbeddingDimensions = other.EmbeddingDimensions
	}
	if other.MaxTokens != 0 {
		c.MaxTokens = other.MaxTokens
	}
	if other.ChunkOverlapTokens != 0 {
		c.ChunkOverlapTokens = other.ChunkOverlapTokens
	}
	if other.StoragePath != "" {
		c.StoragePath = other.StoragePath
	}
	if other.WorkspaceRoot != "" {
		c.WorkspaceRoot = other.WorkspaceRoot
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("EMBEDDING_API_KEY"); v != "" {
		c.EmbeddingAPIKey = v
	}
	if v := os.Getenv("STORAGE_PATH"); v != "" {
		c.StoragePath = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		c.EmbeddingModel = v
	}
	if v := os.Getenv("EMBEDDING_DIMENSIONS"); v != "" {
		if d, err := strconv.Atoi(v); err == nil && d > 0 {
			c.EmbeddingDimensions = d
		}
	}
	if v := os.Getenv("MAX_TOKENS"); v != "" {
		if t, err := strconv.Atoi(v); err == nil && t > 0 {
			c.MaxTokens = t
		}
	}
	if v := os.Getenv("CHUNK_OVERLAP_TOKENS"); v != "" {
		if t, err := strconv.Atoi(v); err == nil && t >= 0 {
			c.ChunkOverlapTokens = t
		}
	}
	if v := os.Getenv("WORKSPACE_ROOT"); v != "" {
		c.WorkspaceRoot = v
	}
	if v := os.Getenv("EMBEDDING_BASE_URL"); v != "" {
		c.EmbeddingBaseURL = v
	}
}

// Validate enforces that required fields are present and numeric fields are
// sane. EMBEDDING_API_KEY absent is a hard startup failure per spec.md §6.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.EmbeddingAPIKey) == "" {
		return codeerr.Config("EMBEDDING_API_KEY is required", nil)
	}
	if c.EmbeddingDimensions <= 0 {
		return codeerr.Config("EMBEDDING_DIMENSIONS must be positive", nil)
	}
	if c.MaxTokens <= 0 {
		return codeerr.Config("MAX_TOKENS must be positive", nil)
	}
	if c.ChunkOverlapTokens < 0 {
		return codeerr.Config("CHUNK_OVERLAP_TOKENS must be non-negative", nil)
	}
	if c.ChunkOverlapTokens >= c.MaxTokens {
		return codeerr.Config("CHUNK_OVERLAP_TOKENS must be smaller than MAX_TOKENS", nil)
	}
	return nil
}

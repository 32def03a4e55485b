package knowmem

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// MemorySettings controls scoring weights, fuzzy-match thresholds and
// embedding resource limits.
type MemorySettings struct {
	// EntityTermMatchWeight scores an exact hit on an entity name.
	// Entity-name matches outrank generic term matches.
	EntityTermMatchWeight float64 `yaml:"entity_term_match_weight"`

	// DefaultTermMatchWeight scores every other exact hit.
	DefaultTermMatchWeight float64 `yaml:"default_term_match_weight"`

	// RelatedIsExactThreshold promotes a related term to exact
	// scoring when its embedding similarity reaches this value.
	RelatedIsExactThreshold float64 `yaml:"related_is_exact_threshold"`

	// MinFuzzyScore is the similarity floor for admitting embedding
	// neighbors as related terms.
	MinFuzzyScore float64 `yaml:"min_fuzzy_score"`

	// MaxFuzzyMatches bounds related-term expansion per query term.
	MaxFuzzyMatches int `yaml:"max_fuzzy_matches"`

	// EmbeddingConcurrency bounds in-flight provider calls during
	// batch embedding.
	EmbeddingConcurrency int `yaml:"embedding_concurrency"`

	// EmbeddingCacheSize bounds the provider-call memo LRU.
	EmbeddingCacheSize int `yaml:"embedding_cache_size"`

	// Logger receives build and query diagnostics; nil means no
	// logging.
	Logger *zap.Logger `yaml:"-"`
}

// DefaultSettings returns sensible defaults.
func DefaultSettings() *MemorySettings {
	return &MemorySettings{
		EntityTermMatchWeight:   100,
		DefaultTermMatchWeight:  10,
		RelatedIsExactThreshold: 0.95,
		MinFuzzyScore:           0.85,
		MaxFuzzyMatches:         50,
		EmbeddingConcurrency:    4,
		EmbeddingCacheSize:      4096,
	}
}

// withDefaults fills zero fields from DefaultSettings.
func (s *MemorySettings) withDefaults() *MemorySettings {
	if s == nil {
		return DefaultSettings()
	}
	d := DefaultSettings()
	out := *s
	if out.EntityTermMatchWeight == 0 {
		out.EntityTermMatchWeight = d.EntityTermMatchWeight
	}
	if out.DefaultTermMatchWeight == 0 {
		out.DefaultTermMatchWeight = d.DefaultTermMatchWeight
	}
	if out.RelatedIsExactThreshold == 0 {
		out.RelatedIsExactThreshold = d.RelatedIsExactThreshold
	}
	if out.MinFuzzyScore == 0 {
		out.MinFuzzyScore = d.MinFuzzyScore
	}
	if out.MaxFuzzyMatches == 0 {
		out.MaxFuzzyMatches = d.MaxFuzzyMatches
	}
	if out.EmbeddingConcurrency == 0 {
		out.EmbeddingConcurrency = d.EmbeddingConcurrency
	}
	if out.EmbeddingCacheSize == 0 {
		out.EmbeddingCacheSize = d.EmbeddingCacheSize
	}
	return &out
}

// logger returns the configured logger or a nop.
func (s *MemorySettings) logger() *zap.Logger {
	if s == nil || s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// LoadSettings reads settings from a YAML file, filling omitted fields
// with defaults.
func LoadSettings(path string) (*MemorySettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	var s MemorySettings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	return s.withDefaults(), nil
}

// Save writes the settings to a YAML file.
func (s *MemorySettings) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

package ai

import (
	"time"

	"github.com/pkg/errors"

	"github.com/christoph-codes/RecallAI-sub000/internal/profile"
)

// Config represents AI provider configuration.
type Config struct {
	Enabled bool

	Embedding EmbeddingConfig
	LLM       LLMConfig
}

// EmbeddingConfig represents vector embedding configuration.
type EmbeddingConfig struct {
	Model      string // text-embedding-3-small
	Dimensions int    // 1536
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
}

// LLMConfig represents chat model configuration.
type LLMConfig struct {
	Model       string // gpt-4o-mini
	APIKey      string
	BaseURL     string
	MaxTokens   int     // default: 2048
	Temperature float32 // default: 0.7
	Timeout     time.Duration
}

// NewConfigFromProfile creates AI config from profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	cfg := &Config{
		Enabled: p.IsAIEnabled(),
	}

	if !cfg.Enabled {
		return cfg
	}

	cfg.Embedding = EmbeddingConfig{
		Model:      p.AIEmbeddingModel,
		Dimensions: p.AIEmbeddingDimensions,
		APIKey:     p.AIAPIKey,
		BaseURL:    p.AIBaseURL,
		Timeout:    p.AIRequestTimeout,
	}

	cfg.LLM = LLMConfig{
		Model:       p.AIChatModel,
		APIKey:      p.AIAPIKey,
		BaseURL:     p.AIBaseURL,
		MaxTokens:   2048,
		Temperature: 0.7,
		Timeout:     p.AIRequestTimeout,
	}

	return cfg
}

// Validate checks that the enabled configuration is usable.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Embedding.APIKey == "" {
		return errors.New("embedding API key is required")
	}
	if c.Embedding.Model == "" {
		return errors.New("embedding model is required")
	}
	if c.Embedding.Dimensions <= 0 {
		return errors.New("embedding dimensions must be positive")
	}
	if c.LLM.Model == "" {
		return errors.New("chat model is required")
	}
	return nil
}

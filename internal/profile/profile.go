package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the main server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory
	Data string
	// DSN points to where RecallAI stores its own data
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Secret signs access tokens
	Secret string
	// Version is the current version of server
	Version string

	// AI configuration
	AIEnabled        bool          // RECALL_AI_ENABLED
	AIBaseURL        string        // RECALL_AI_BASE_URL (default: https://api.openai.com/v1)
	AIAPIKey         string        // RECALL_AI_API_KEY
	AIEmbeddingModel string        // RECALL_AI_EMBEDDING_MODEL (default: text-embedding-3-small)
	AIChatModel      string        // RECALL_AI_CHAT_MODEL (default: gpt-4o-mini)
	AIRequestTimeout time.Duration // RECALL_AI_REQUEST_TIMEOUT (default: 10s)

	// Embedding dimension of the configured model. Every stored vector must
	// match this dimension; searches never mix models.
	AIEmbeddingDimensions int // RECALL_AI_EMBEDDING_DIMENSIONS (default: 1536)

	// Retrieval configuration
	AIHydeEnabled             bool    // RECALL_AI_HYDE_ENABLED (default: true)
	AIHydeMaxTokens           int     // RECALL_AI_HYDE_MAX_TOKENS (default: 100)
	AIMemoryEvaluationEnabled bool    // RECALL_AI_MEMORY_EVALUATION_ENABLED (default: true)
	AIMemorySearchEnabled     bool    // RECALL_AI_MEMORY_SEARCH_ENABLED (default: true)
	AIMaxMemoryResults        int     // RECALL_AI_MAX_MEMORY_RESULTS (default: 5)
	AIMemoryThreshold         float64 // RECALL_AI_MEMORY_THRESHOLD (default: 0.7)

	// Cache configuration
	AIEmbeddingCacheSize int           // RECALL_AI_EMBEDDING_CACHE_SIZE (default: 1000)
	AIEmbeddingCacheTTL  time.Duration // RECALL_AI_EMBEDDING_CACHE_TTL (default: 1h)
	AIHydeCacheSize      int           // RECALL_AI_HYDE_CACHE_SIZE (default: 50)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if AI is enabled and an API key is configured.
func (p *Profile) IsAIEnabled() bool {
	return p.AIEnabled && p.AIAPIKey != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnvOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true"
}

func getIntEnvOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getFloatEnvOrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getDurationEnvOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

// FromEnv loads configuration from RECALL_* environment variables.
func (p *Profile) FromEnv() {
	p.AIEnabled = getBoolEnvOrDefault("RECALL_AI_ENABLED", false)
	p.AIBaseURL = getEnvOrDefault("RECALL_AI_BASE_URL", "https://api.openai.com/v1")
	p.AIAPIKey = os.Getenv("RECALL_AI_API_KEY")
	p.AIEmbeddingModel = getEnvOrDefault("RECALL_AI_EMBEDDING_MODEL", "text-embedding-3-small")
	p.AIChatModel = getEnvOrDefault("RECALL_AI_CHAT_MODEL", "gpt-4o-mini")
	p.AIRequestTimeout = getDurationEnvOrDefault("RECALL_AI_REQUEST_TIMEOUT", 10*time.Second)
	p.AIEmbeddingDimensions = getIntEnvOrDefault("RECALL_AI_EMBEDDING_DIMENSIONS", 1536)

	p.AIHydeEnabled = getBoolEnvOrDefault("RECALL_AI_HYDE_ENABLED", true)
	p.AIHydeMaxTokens = getIntEnvOrDefault("RECALL_AI_HYDE_MAX_TOKENS", 100)
	p.AIMemoryEvaluationEnabled = getBoolEnvOrDefault("RECALL_AI_MEMORY_EVALUATION_ENABLED", true)
	p.AIMemorySearchEnabled = getBoolEnvOrDefault("RECALL_AI_MEMORY_SEARCH_ENABLED", true)
	p.AIMaxMemoryResults = getIntEnvOrDefault("RECALL_AI_MAX_MEMORY_RESULTS", 5)
	p.AIMemoryThreshold = getFloatEnvOrDefault("RECALL_AI_MEMORY_THRESHOLD", 0.7)

	p.AIEmbeddingCacheSize = getIntEnvOrDefault("RECALL_AI_EMBEDDING_CACHE_SIZE", 1000)
	p.AIEmbeddingCacheTTL = getDurationEnvOrDefault("RECALL_AI_EMBEDDING_CACHE_TTL", time.Hour)
	p.AIHydeCacheSize = getIntEnvOrDefault("RECALL_AI_HYDE_CACHE_SIZE", 50)
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "recall")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					return errors.Wrapf(err, "failed to create data directory %s", p.Data)
				}
			}
		} else {
			p.Data = "/var/opt/recall"
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return err
	}

	p.Data = dataDir
	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("recall_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn is required for postgres driver")
	}

	return nil
}

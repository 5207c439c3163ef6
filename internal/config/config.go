package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")
var ErrInvalidValue = errors.New("invalid configuration value")

const (
	BackendWeaviate = "weaviate"
	BackendPGVector = "pgvector"
	BackendMemory   = "memory"

	ProviderGemini = "gemini"
	ProviderLocal  = "local"
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"citadex"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"citadex"`

	VectorBackend  string `envconfig:"VECTOR_BACKEND" default:"weaviate"`
	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQLookupd     string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost       string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP       string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`
	NSQMaxInFlight int    `envconfig:"NSQ_MAX_IN_FLIGHT" default:"4"`
	MigrationPath  string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Providers
	EmbeddingProvider string `envconfig:"EMBEDDING_PROVIDER" default:"gemini"`
	EmbeddingModel    string `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`
	EmbeddingDim      int    `envconfig:"EMBEDDING_DIM" default:"3072"`
	LocalModelName    string `envconfig:"LOCAL_MODEL_NAME" default:"sentence-transformers/all-MiniLM-L6-v2"`
	LocalModelDir     string `envconfig:"LOCAL_MODEL_DIR" default:"./models"`
	GeminiAPIKey      string `envconfig:"GEMINI_API_KEY"`
	GenerationModel   string `envconfig:"GENERATION_MODEL" default:"gemini-2.0-flash"`
	RerankProvider    string `envconfig:"RERANK_PROVIDER" default:"none"`
	RerankAPIKey      string `envconfig:"RERANK_API_KEY"`

	// Fetcher
	UserAgent        string        `envconfig:"USER_AGENT" default:"IRS-RAG-Bot/1.0"`
	RateLimitRPS     float64       `envconfig:"RATE_LIMIT_RPS" default:"0.5"`
	FetchTimeout     time.Duration `envconfig:"FETCH_TIMEOUT" default:"20s"`
	FetchMaxAttempts int           `envconfig:"FETCH_MAX_ATTEMPTS" default:"3"`
	FetchBackoffMin  time.Duration `envconfig:"FETCH_BACKOFF_MIN" default:"2s"`
	FetchBackoffMax  time.Duration `envconfig:"FETCH_BACKOFF_MAX" default:"10s"`
	RobotsTTL        time.Duration `envconfig:"ROBOTS_TTL" default:"24h"`
	RobotsRetry      time.Duration `envconfig:"ROBOTS_RETRY" default:"1m"`

	// Crawl
	CrawlConcurrency int `envconfig:"CRAWL_CONCURRENCY" default:"4"`
	CrawlMaxPages    int `envconfig:"CRAWL_MAX_PAGES" default:"200"`

	// Chunking and indexing
	ChunkMin       int     `envconfig:"CHUNK_MIN" default:"800"`
	ChunkMax       int     `envconfig:"CHUNK_MAX" default:"1600"`
	ChunkOverlap   float64 `envconfig:"CHUNK_OVERLAP" default:"0.25"`
	EmbedBatchSize int     `envconfig:"EMBED_BATCH_SIZE" default:"16"`

	// Query
	SearchTopK             int           `envconfig:"SEARCH_TOP_K" default:"40"`
	SearchTopN             int           `envconfig:"SEARCH_TOP_N" default:"3"`
	SearchSimilarityCutoff float64       `envconfig:"SEARCH_SIMILARITY_CUTOFF" default:"0.22"`
	SearchHighConfidence   float64       `envconfig:"SEARCH_HIGH_CONFIDENCE" default:"0.8"`
	RetrievalTimeout       time.Duration `envconfig:"RETRIEVAL_TIMEOUT" default:"1200ms"`
	GenerationTimeout      time.Duration `envconfig:"GENERATION_TIMEOUT" default:"1500ms"`
	QueryLogPath           string        `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	FollowUpQuestions      bool          `envconfig:"FOLLOW_UP_QUESTIONS" default:"true"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// UsesPostgres reports whether crawl state and lineage live in Postgres.
func (c *Config) UsesPostgres() bool {
	return c.VectorBackend != BackendMemory
}

func (c *Config) Validate() error {
	if c.UsesPostgres() {
		if c.DBHost == "" {
			return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
		}
		if c.DBUser == "" {
			return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
		}
		if c.DBName == "" {
			return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
		}
	}

	switch c.VectorBackend {
	case BackendWeaviate:
		if c.WeaviateHost == "" {
			return fmt.Errorf("%w: WEAVIATE_HOST", ErrMissingRequired)
		}
	case BackendPGVector, BackendMemory:
	default:
		return fmt.Errorf("%w: VECTOR_BACKEND=%q", ErrInvalidValue, c.VectorBackend)
	}

	switch c.EmbeddingProvider {
	case ProviderGemini, ProviderLocal:
	default:
		return fmt.Errorf("%w: EMBEDDING_PROVIDER=%q", ErrInvalidValue, c.EmbeddingProvider)
	}

	if c.ChunkMin <= 0 || c.ChunkMax < c.ChunkMin {
		return fmt.Errorf("%w: CHUNK_MIN/CHUNK_MAX", ErrInvalidValue)
	}
	// Overlap of a maximal chunk must stay inside the next minimal chunk.
	if float64(c.ChunkMax)*0.3 > float64(c.ChunkMin)*0.7 {
		return fmt.Errorf("%w: CHUNK_MAX too large for CHUNK_MIN", ErrInvalidValue)
	}
	if c.ChunkOverlap < 0.2 || c.ChunkOverlap > 0.3 {
		return fmt.Errorf("%w: CHUNK_OVERLAP must be within [0.2, 0.3]", ErrInvalidValue)
	}
	if c.FetchMaxAttempts < 1 {
		return fmt.Errorf("%w: FETCH_MAX_ATTEMPTS", ErrInvalidValue)
	}
	return nil
}

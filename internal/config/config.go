package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalid         = errors.New("invalid configuration")
)

const (
	VectorBackendWeaviate = "weaviate"
	VectorBackendPgvector = "pgvector"
	VectorBackendMemory   = "memory"

	MetadataBackendPostgres = "postgres"
	MetadataBackendMongo    = "mongo"
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"pdfsearch"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"pdfsearch"`

	MetadataBackend string `envconfig:"METADATA_BACKEND" default:"postgres"`
	MongoURI        string `envconfig:"MONGO_URI"`
	MongoDB         string `envconfig:"MONGO_DB" default:"pdf_app"`

	VectorBackend      string `envconfig:"VECTOR_BACKEND" default:"weaviate"`
	WeaviateHost       string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme     string `envconfig:"WEAVIATE_SCHEME" default:"http"`
	PgvectorDSN        string `envconfig:"PGVECTOR_DSN"`
	EmbeddingDimension int    `envconfig:"EMBEDDING_DIMENSION" default:"768"`

	GeminiAPIKey    string  `envconfig:"GEMINI_API_KEY"`
	EmbeddingModel  string  `envconfig:"EMBEDDING_MODEL" default:"text-embedding-004"`
	GenerationModel string  `envconfig:"GENERATION_MODEL" default:"gemini-1.5-flash"`
	EmbedRPS        float64 `envconfig:"EMBED_RPS" default:"0"`
	EmbedBurst      int     `envconfig:"EMBED_BURST" default:"1"`

	ClassifierURL     string        `envconfig:"CLASSIFIER_URL" default:"http://classifier:8000/classify"`
	ClassifierTimeout time.Duration `envconfig:"CLASSIFIER_TIMEOUT" default:"10s"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	EnableAPI      bool `envconfig:"ENABLE_API" default:"true"`
	EnableWorker   bool `envconfig:"ENABLE_WORKER" default:"false"`
	AsyncIngestion bool `envconfig:"ASYNC_INGESTION" default:"false"`

	// Pipeline
	ChunkSize            int           `envconfig:"CHUNK_SIZE" default:"500"`
	ChunkOverlap         int           `envconfig:"CHUNK_OVERLAP" default:"50"`
	SearchTopK           int           `envconfig:"SEARCH_TOP_K" default:"5"`
	MaxContextTokens     int           `envconfig:"MAX_CONTEXT_TOKENS" default:"6000"`
	EmbedConcurrency     int           `envconfig:"EMBED_CONCURRENCY" default:"4"`
	IngestionConcurrency int           `envconfig:"INGESTION_CONCURRENCY" default:"4"`
	ScanTimeout          time.Duration `envconfig:"SCAN_TIMEOUT" default:"30s"`
	EmbedTimeout         time.Duration `envconfig:"EMBED_TIMEOUT" default:"60s"`
	IndexTimeout         time.Duration `envconfig:"INDEX_TIMEOUT" default:"60s"`

	// Server
	ServerPort      int    `envconfig:"SERVER_PORT" default:"8081"`
	LogLevel        string `envconfig:"LOG_LEVEL" default:"info"`
	QueryLogPath    string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	MaxUploadSizeMB int64  `envconfig:"MAX_UPLOAD_SIZE_MB" default:"50"`
	UploadDir       string `envconfig:"UPLOAD_DIR" default:"./uploaded_files"`
	TempDir         string `envconfig:"TEMP_DIR" default:"./temp_files"`
	WatchDir        string `envconfig:"WATCH_DIR"`
	MigrationPath   string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars set in the shell win over the file.
	_ = godotenv.Load(".env")

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}

	switch c.VectorBackend {
	case VectorBackendWeaviate, VectorBackendMemory:
	case VectorBackendPgvector:
		if c.PgvectorDSN == "" {
			return fmt.Errorf("%w: PGVECTOR_DSN", ErrMissingRequired)
		}
		if c.EmbeddingDimension <= 0 {
			return fmt.Errorf("%w: EMBEDDING_DIMENSION must be positive", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: VECTOR_BACKEND %q", ErrInvalid, c.VectorBackend)
	}

	switch c.MetadataBackend {
	case MetadataBackendPostgres:
	case MetadataBackendMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("%w: MONGO_URI", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: METADATA_BACKEND %q", ErrInvalid, c.MetadataBackend)
	}

	if c.ChunkSize <= 0 || c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: CHUNK_OVERLAP must be in [0, CHUNK_SIZE)", ErrInvalid)
	}
	if c.SearchTopK <= 0 {
		return fmt.Errorf("%w: SEARCH_TOP_K must be positive", ErrInvalid)
	}

	return nil
}

// DSN is the lib/pq connection string for the metadata database.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}

func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadSizeMB << 20
}

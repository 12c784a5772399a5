package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidValue    = errors.New("invalid configuration value")
)

const (
	ModeAsync = "async"
	ModeSync  = "sync"

	PolicyAbort       = "abort"
	PolicyPlaceholder = "placeholder"

	ExtractorLocal    = "local"
	ExtractorTextract = "textract"

	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

var (
	once   sync.Once
	loaded *Config
	errCfg error
)

type Config struct {
	Server     ServerConfig     `envconfig:"SERVER"`
	Log        LogConfig        `envconfig:"LOG"`
	Redis      RedisConfig      `envconfig:"REDIS"`
	Queue      QueueConfig      `envconfig:"QUEUE"`
	Worker     WorkerConfig     `envconfig:"WORKER"`
	Ingest     IngestConfig     `envconfig:"INGEST"`
	Chunk      ChunkConfig      `envconfig:"CHUNK"`
	Embedding  EmbeddingConfig  `envconfig:"EMBEDDING"`
	Generation GenerationConfig `envconfig:"GENERATION"`
	S3         S3Config         `envconfig:"AWS"`
	Textract   TextractConfig   `envconfig:"TEXTRACT"`
	Minio      MinioConfig      `envconfig:"MINIO"`

	// Extractor selects the text extraction backend: local or textract.
	Extractor string `envconfig:"EXTRACTOR" default:"local"`

	GeminiAPIKey  string `envconfig:"GEMINI_API_KEY"`
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL"`

	TenantsFile string `envconfig:"TENANTS_FILE" default:"config/tenants.yaml"`
}

type ServerConfig struct {
	Port            int           `envconfig:"PORT" default:"8080"`
	GinMode         string        `envconfig:"GIN_MODE" default:"release"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`
	CORSOrigins     []string      `envconfig:"CORS_ORIGINS" default:"*"`
}

type LogConfig struct {
	Level    string `envconfig:"LEVEL" default:"info"`
	Encoding string `envconfig:"ENCODING" default:"json"`
	// File is an optional rotated log file written next to stdout.
	File string `envconfig:"FILE"`
}

type RedisConfig struct {
	Addr     string `envconfig:"ADDR" default:"localhost:6379"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0"`
}

type QueueConfig struct {
	Name      string        `envconfig:"NAME" default:"process_document"`
	MaxRetry  int           `envconfig:"MAX_RETRY" default:"0"`
	Timeout   time.Duration `envconfig:"TIMEOUT" default:"30m"`
	Retention time.Duration `envconfig:"RETENTION" default:"24h"`
	StatusTTL time.Duration `envconfig:"STATUS_TTL" default:"24h"`
}

type WorkerConfig struct {
	Concurrency int `envconfig:"CONCURRENCY" default:"10"`
}

type IngestConfig struct {
	// Mode is async (queue + worker) or sync (processed inside the request).
	Mode             string        `envconfig:"MODE" default:"async"`
	PagesPerRange    int           `envconfig:"PAGES_PER_RANGE" default:"10"`
	MaxDownloadBytes int64         `envconfig:"MAX_DOWNLOAD_BYTES" default:"104857600"`
	DownloadTimeout  time.Duration `envconfig:"DOWNLOAD_TIMEOUT" default:"2m"`
	DownloadRetryMax int           `envconfig:"DOWNLOAD_RETRY_MAX" default:"0"`
	FailurePolicy    string        `envconfig:"EXTRACTION_FAILURE_POLICY" default:"abort"`
	WorkspaceDir     string        `envconfig:"WORKSPACE_DIR"`
	// ArchiveBackend stores a copy of each source document when set (s3 or minio).
	ArchiveBackend string `envconfig:"ARCHIVE_BACKEND"`
	// ArchiveRetention removes archived sources older than this; zero keeps them.
	ArchiveRetention time.Duration `envconfig:"ARCHIVE_RETENTION" default:"0"`
}

type ChunkConfig struct {
	MaxChars int `envconfig:"MAX_CHARS" default:"2000"`
	Overlap  int `envconfig:"OVERLAP" default:"200"`
}

type EmbeddingConfig struct {
	Provider  string `envconfig:"PROVIDER" default:"gemini"`
	Model     string `envconfig:"MODEL"`
	BatchSize int    `envconfig:"BATCH_SIZE" default:"100"`
}

type GenerationConfig struct {
	Provider string `envconfig:"PROVIDER" default:"gemini"`
	Model    string `envconfig:"MODEL"`
}

// Get loads the configuration once per process.
func Get() (*Config, error) {
	once.Do(func() {
		loaded, errCfg = Load()
	})
	return loaded, errCfg
}

// Load reads .env files (when present) and the process environment.
func Load() (*Config, error) {
	// env vars might already be set in the shell
	_ = godotenv.Load(".env")

	_, filename, _, _ := runtime.Caller(0)
	rootEnv := filepath.Join(filepath.Dir(filepath.Dir(filename)), ".env")
	if _, err := os.Stat(rootEnv); err == nil {
		_ = godotenv.Load(rootEnv)
	}

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
	if err := oneOf("INGEST_MODE", c.Ingest.Mode, ModeAsync, ModeSync); err != nil {
		return err
	}
	if err := oneOf("INGEST_EXTRACTION_FAILURE_POLICY", c.Ingest.FailurePolicy, PolicyAbort, PolicyPlaceholder); err != nil {
		return err
	}
	if err := oneOf("EXTRACTOR", c.Extractor, ExtractorLocal, ExtractorTextract); err != nil {
		return err
	}
	if err := oneOf("EMBEDDING_PROVIDER", c.Embedding.Provider, ProviderGemini, ProviderOpenAI); err != nil {
		return err
	}
	if err := oneOf("GENERATION_PROVIDER", c.Generation.Provider, ProviderGemini, ProviderOpenAI); err != nil {
		return err
	}
	if c.Ingest.ArchiveBackend != "" {
		if err := oneOf("INGEST_ARCHIVE_BACKEND", c.Ingest.ArchiveBackend, "s3", "minio"); err != nil {
			return err
		}
	}

	if c.Ingest.PagesPerRange <= 0 {
		return fmt.Errorf("%w: INGEST_PAGES_PER_RANGE must be positive", ErrInvalidValue)
	}
	if c.Ingest.MaxDownloadBytes <= 0 {
		return fmt.Errorf("%w: INGEST_MAX_DOWNLOAD_BYTES must be positive", ErrInvalidValue)
	}
	if c.Chunk.MaxChars <= 0 || c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.MaxChars {
		return fmt.Errorf("%w: CHUNK_OVERLAP (%d) must be in [0, CHUNK_MAX_CHARS (%d))",
			ErrInvalidValue, c.Chunk.Overlap, c.Chunk.MaxChars)
	}
	if c.Embedding.BatchSize <= 0 || c.Embedding.BatchSize > 100 {
		return fmt.Errorf("%w: EMBEDDING_BATCH_SIZE must be in [1, 100]", ErrInvalidValue)
	}
	if c.Queue.MaxRetry < 0 {
		return fmt.Errorf("%w: QUEUE_MAX_RETRY must not be negative", ErrInvalidValue)
	}

	if c.usesProvider(ProviderGemini) && c.GeminiAPIKey == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY", ErrMissingRequired)
	}
	if c.usesProvider(ProviderOpenAI) && c.OpenAIAPIKey == "" {
		return fmt.Errorf("%w: OPENAI_API_KEY", ErrMissingRequired)
	}
	if c.Extractor == ExtractorTextract && c.S3.BucketName == "" {
		return fmt.Errorf("%w: AWS_S3_BUCKET_NAME (required by the textract extractor)", ErrMissingRequired)
	}
	if c.TenantsFile == "" {
		return fmt.Errorf("%w: TENANTS_FILE", ErrMissingRequired)
	}
	return nil
}

func (c *Config) usesProvider(name string) bool {
	return c.Embedding.Provider == name || c.Generation.Provider == name
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%w: %s=%q, expected one of %v", ErrInvalidValue, key, value, allowed)
}

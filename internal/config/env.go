package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseDriver string // sqlite | postgres
	DatabaseURL    string
	SqlitePath     string
	SslCertPath    string

	StorageBackend string // local | s3
	StorageDir     string
	AwsAccessKey   string
	AwsSecretKey   string
	AwsRegion      string
	BucketName     string

	VectorBackend    string // memory | pgvector | qdrant
	QdrantHost       string
	QdrantPort       int
	QdrantCollection string

	EmbedProvider string // gemini | openai
	AIAPIKey      string
	OpenAIAPIKey  string
	EmbedModel    string
	EmbedDim      int
	OCRProvider   string // gemini | none
	GenModel      string
	OCRMinChars   int
	OCRWorkers    int

	ChunkSize         int
	ChunkOverlap      int
	MinChunkChars     int
	EnableChunking    bool
	IncludeBlankPages bool

	IngestWorkers int
	IngestQueue   int
	StepTimeout   time.Duration
	StaleAfter    time.Duration
	PollInterval  time.Duration

	Port          string
	JWTSecret     string
	AdminUsername string
	AdminPassword string
	CORSOrigins   []string

	LogLevel  string
	LogFormat string
}

// LoadConfig loads the environment variables (and .env when present) and
// validates the backend choices.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseDriver: strings.ToLower(getEnv("DATABASE_DRIVER", "sqlite")),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		SqlitePath:     getEnv("SQLITE_PATH", "refdata/papertrail.db"),
		SslCertPath:    getEnv("SSL_CERT_PATH", ""),

		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", "local")),
		StorageDir:     getEnv("STORAGE_DIR", "refdata/pdfs"),
		AwsAccessKey:   getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey:   getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:      getEnv("AWS_REGION", "us-east-2"),
		BucketName:     getEnv("BUCKET_NAME", "papertrail-docs"),

		VectorBackend:    strings.ToLower(getEnv("VECTOR_BACKEND", "memory")),
		QdrantHost:       getEnv("QDRANT_HOST", "localhost"),
		QdrantPort:       getEnvInt("QDRANT_PORT", 6334),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "papertrail"),

		EmbedProvider: strings.ToLower(getEnv("EMBED_PROVIDER", "gemini")),
		AIAPIKey:      getEnv("GEMINI_API_KEY", ""),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		EmbedModel:    getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:      getEnvInt("EMBED_DIM", 768),
		OCRProvider:   strings.ToLower(getEnv("OCR_PROVIDER", "gemini")),
		GenModel:      getEnv("GEN_MODEL", "gemini-1.5-flash"),
		OCRMinChars:   getEnvInt("OCR_MIN_CHARS", 100),
		OCRWorkers:    getEnvInt("OCR_WORKERS", 2),

		ChunkSize:         getEnvInt("CHUNK_SIZE", 500),
		ChunkOverlap:      getEnvInt("CHUNK_OVERLAP", 50),
		MinChunkChars:     getEnvInt("MIN_CHUNK_CHARS", 50),
		EnableChunking:    getEnvBool("ENABLE_CHUNKING", true),
		IncludeBlankPages: getEnvBool("INCLUDE_BLANK_PAGES", false),

		IngestWorkers: getEnvInt("INGEST_WORKERS", 2),
		IngestQueue:   getEnvInt("INGEST_QUEUE", 64),
		StepTimeout:   getEnvDuration("STEP_TIMEOUT", 10*time.Minute),
		StaleAfter:    getEnvDuration("STALE_AFTER", 30*time.Minute),
		PollInterval:  getEnvDuration("POLL_INTERVAL", 15*time.Second),

		Port:          getEnv("PORT", "8080"),
		JWTSecret:     getEnv("JWT_SECRET", ""),
		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),
		CORSOrigins:   splitList(getEnv("CORS_ORIGINS", "http://localhost:5173,http://localhost:8888")),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the selected backends are known and have what they need.
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "sqlite":
		if c.SqlitePath == "" {
			return fmt.Errorf("SQLITE_PATH not set")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL not set")
		}
	default:
		return fmt.Errorf("unknown DATABASE_DRIVER %q", c.DatabaseDriver)
	}

	switch c.StorageBackend {
	case "local", "s3":
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}

	switch c.VectorBackend {
	case "memory", "qdrant":
	case "pgvector":
		if c.DatabaseDriver != "postgres" {
			return fmt.Errorf("VECTOR_BACKEND=pgvector requires DATABASE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unknown VECTOR_BACKEND %q", c.VectorBackend)
	}

	switch c.EmbedProvider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("unknown EMBED_PROVIDER %q", c.EmbedProvider)
	}

	switch c.OCRProvider {
	case "gemini", "none":
	default:
		return fmt.Errorf("unknown OCR_PROVIDER %q", c.OCRProvider)
	}

	if c.EmbedDim <= 0 {
		return fmt.Errorf("EMBED_DIM must be positive")
	}
	if c.ChunkSize <= 0 || c.ChunkOverlap < 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive and CHUNK_OVERLAP non-negative")
	}
	if c.MinChunkChars < 0 || c.MinChunkChars > c.ChunkSize {
		return fmt.Errorf("MIN_CHUNK_CHARS must be between 0 and CHUNK_SIZE")
	}
	if c.IngestWorkers <= 0 {
		c.IngestWorkers = 1
	}
	return nil
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a bool, using default %t", key, v, def)
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a duration, using default %s", key, v, def)
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

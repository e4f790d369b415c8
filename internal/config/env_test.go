package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, 500, cfg.ChunkSize)
	assert.Equal(t, 50, cfg.ChunkOverlap)
	assert.Equal(t, 50, cfg.MinChunkChars)
	assert.Equal(t, 100, cfg.OCRMinChars)
	assert.True(t, cfg.EnableChunking)
	assert.False(t, cfg.IncludeBlankPages)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/db")
	t.Setenv("VECTOR_BACKEND", "pgvector")
	t.Setenv("CHUNK_SIZE", "800")
	t.Setenv("MIN_CHUNK_CHARS", "0")
	t.Setenv("ENABLE_CHUNKING", "false")
	t.Setenv("STALE_AFTER", "5m")
	t.Setenv("CORS_ORIGINS", "http://a, http://b ,")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, 800, cfg.ChunkSize)
	assert.Zero(t, cfg.MinChunkChars)
	assert.False(t, cfg.EnableChunking)
	assert.Equal(t, 5*time.Minute, cfg.StaleAfter)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.CORSOrigins)
}

func TestLoadConfig_BadValuesFallBack(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("CHUNK_SIZE", "lots")
	t.Setenv("POLL_INTERVAL", "soon")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.ChunkSize)
	assert.Equal(t, 15*time.Second, cfg.PollInterval)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"unknown driver":          func(c *Config) { c.DatabaseDriver = "mysql" },
		"postgres without url":    func(c *Config) { c.DatabaseDriver = "postgres"; c.DatabaseURL = "" },
		"pgvector needs postgres": func(c *Config) { c.VectorBackend = "pgvector" },
		"unknown storage":         func(c *Config) { c.StorageBackend = "ftp" },
		"unknown embedder":        func(c *Config) { c.EmbedProvider = "bert" },
		"zero dim":                func(c *Config) { c.EmbedDim = 0 },
		"min chunk over size":     func(c *Config) { c.MinChunkChars = 101 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := validConfig()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
	assert.NoError(t, validConfig().Validate())
}

func validConfig() *Config {
	return &Config{
		DatabaseDriver: "sqlite",
		SqlitePath:     "x.db",
		StorageBackend: "local",
		VectorBackend:  "memory",
		EmbedProvider:  "gemini",
		OCRProvider:    "none",
		EmbedDim:       8,
		ChunkSize:      100,
		ChunkOverlap:   10,
		MinChunkChars:  20,
		IngestWorkers:  1,
	}
}

package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pdfsearch/internal/config"
)

func validConfig() config.Config {
	return config.Config{
		DBHost:          "localhost",
		DBUser:          "user",
		DBName:          "db",
		VectorBackend:   config.VectorBackendWeaviate,
		MetadataBackend: config.MetadataBackendPostgres,
		ChunkSize:       500,
		ChunkOverlap:    50,
		SearchTopK:      5,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.Config)
		errIs  error
	}{
		{name: "Valid Config", mutate: func(c *config.Config) {}},
		{name: "Missing DBHost", mutate: func(c *config.Config) { c.DBHost = "" }, errIs: config.ErrMissingRequired},
		{name: "Missing DBUser", mutate: func(c *config.Config) { c.DBUser = "" }, errIs: config.ErrMissingRequired},
		{name: "Missing DBName", mutate: func(c *config.Config) { c.DBName = "" }, errIs: config.ErrMissingRequired},
		{name: "Unknown vector backend", mutate: func(c *config.Config) { c.VectorBackend = "pinecone" }, errIs: config.ErrInvalid},
		{name: "Pgvector without DSN", mutate: func(c *config.Config) { c.VectorBackend = config.VectorBackendPgvector }, errIs: config.ErrMissingRequired},
		{
			name: "Pgvector with DSN",
			mutate: func(c *config.Config) {
				c.VectorBackend = config.VectorBackendPgvector
				c.PgvectorDSN = "postgres://localhost/vectors"
				c.EmbeddingDimension = 768
			},
		},
		{name: "Mongo without URI", mutate: func(c *config.Config) { c.MetadataBackend = config.MetadataBackendMongo }, errIs: config.ErrMissingRequired},
		{name: "Unknown metadata backend", mutate: func(c *config.Config) { c.MetadataBackend = "sqlite" }, errIs: config.ErrInvalid},
		{name: "Negative overlap", mutate: func(c *config.Config) { c.ChunkOverlap = -1 }, errIs: config.ErrInvalid},
		{name: "Overlap not below size", mutate: func(c *config.Config) { c.ChunkOverlap = 500 }, errIs: config.ErrInvalid},
		{name: "Zero top k", mutate: func(c *config.Config) { c.SearchTopK = 0 }, errIs: config.ErrInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errIs == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.errIs)
		})
	}
}

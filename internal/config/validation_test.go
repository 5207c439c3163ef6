package config_test

import (
	"errors"
	"testing"

	"citadex/internal/config"

	"github.com/stretchr/testify/assert"
)

func validConfig() config.Config {
	return config.Config{
		DBHost:            "localhost",
		DBUser:            "user",
		DBName:            "db",
		VectorBackend:     config.BackendWeaviate,
		WeaviateHost:      "localhost:8080",
		EmbeddingProvider: config.ProviderGemini,
		ChunkMin:          800,
		ChunkMax:          1600,
		ChunkOverlap:      0.25,
		FetchMaxAttempts:  3,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr bool
		errIs   error
	}{
		{
			name:    "Valid Config",
			mutate:  func(c *config.Config) {},
			wantErr: false,
		},
		{
			name:    "Missing DBHost",
			mutate:  func(c *config.Config) { c.DBHost = "" },
			wantErr: true,
			errIs:   config.ErrMissingRequired,
		},
		{
			name:    "Missing DBName",
			mutate:  func(c *config.Config) { c.DBName = "" },
			wantErr: true,
			errIs:   config.ErrMissingRequired,
		},
		{
			name: "Memory backend needs no database",
			mutate: func(c *config.Config) {
				c.VectorBackend = config.BackendMemory
				c.DBHost = ""
			},
			wantErr: false,
		},
		{
			name:    "Unknown backend",
			mutate:  func(c *config.Config) { c.VectorBackend = "milvus" },
			wantErr: true,
			errIs:   config.ErrInvalidValue,
		},
		{
			name:    "Unknown embedding provider",
			mutate:  func(c *config.Config) { c.EmbeddingProvider = "openai" },
			wantErr: true,
			errIs:   config.ErrInvalidValue,
		},
		{
			name:    "Overlap outside band",
			mutate:  func(c *config.Config) { c.ChunkOverlap = 0.5 },
			wantErr: true,
			errIs:   config.ErrInvalidValue,
		},
		{
			name:    "Max chunk too wide for min",
			mutate:  func(c *config.Config) { c.ChunkMax = 4000 },
			wantErr: true,
			errIs:   config.ErrInvalidValue,
		},
		{
			name:    "Zero attempts",
			mutate:  func(c *config.Config) { c.FetchMaxAttempts = 0 },
			wantErr: true,
			errIs:   config.ErrInvalidValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				if tt.errIs != nil {
					assert.True(t, errors.Is(err, tt.errIs))
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

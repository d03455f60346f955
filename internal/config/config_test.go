package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing host", func(c *Config) { c.Server.Host = "" }},
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "sqlite" }},
		{"postgres without db host", func(c *Config) { c.Database.Host = "" }},
		{"postgres without redis", func(c *Config) { c.Redis.Host = "" }},
		{"zero attempts", func(c *Config) { c.Engine.MaxTransitionAttempts = 0 }},
		{"zero poll interval", func(c *Config) { c.Engine.TimerPollInterval = 0 }},
		{"zero batch size", func(c *Config) { c.Engine.TimerBatchSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMemoryDriverSkipsDatabaseValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Driver = "memory"
	cfg.Database.Host = ""
	cfg.Redis.Host = ""
	assert.NoError(t, cfg.Validate())
}

func TestValidateAppliesLoggingDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = ""
	cfg.Logging.Format = ""
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

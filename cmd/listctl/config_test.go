package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig()
	require.NoError(t, err)

	assert.Equal(t, storeSQLite, cfg.Store)
	assert.Equal(t, "listctl.db", cfg.SQLitePath)
	assert.Equal(t, uint64(3), cfg.MaxRetries)
	assert.Equal(t, "warning", cfg.LogLevel)
	assert.Empty(t, cfg.OTelEndpoint)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("LISTCTL_STORE", "kurrentdb")
	t.Setenv("LISTCTL_KURRENTDB_URL", "kurrentdb://db:2113?tls=false")
	t.Setenv("LISTCTL_MAX_RETRIES", "7")
	t.Setenv("LISTCTL_LOG_LEVEL", "debug")
	t.Setenv("LISTCTL_OTEL_ENDPOINT", "http://collector:4318")

	cfg, err := loadConfig()
	require.NoError(t, err)

	assert.Equal(t, config{
		Store:        storeKurrentDB,
		SQLitePath:   "listctl.db",
		FileDir:      "listctl-data",
		KurrentDBURL: "kurrentdb://db:2113?tls=false",
		MaxRetries:   7,
		LogLevel:     "debug",
		OTelEndpoint: "http://collector:4318",
	}, cfg)
}

func TestLoadConfig_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		want  string
	}{
		{"unknown store", "LISTCTL_STORE", "postgres", "unknown store"},
		{"bad retries", "LISTCTL_MAX_RETRIES", "many", "parse env"},
		{"bad log level", "LISTCTL_LOG_LEVEL", "loud", "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := loadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseVars() map[string]string {
	return map[string]string{
		"WARDEN_JWT_SECRET": strings.Repeat("k", MinSecretLength),
		"WARDEN_PG_DSN":     "postgres://warden@localhost/warden?sslmode=disable",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(baseVars())
	require.NoError(t, err)

	assert.Equal(t, "warden", cfg.JWTIssuer)
	assert.Equal(t, 24*time.Hour, cfg.AccessTTL)
	assert.Equal(t, 168*time.Hour, cfg.RefreshTTL)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 5*time.Minute, cfg.SessionCacheTTL)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
	assert.Zero(t, cfg.AuditRetention)
	assert.Equal(t, 40, cfg.RateBurst)
	assert.Equal(t, float64(20), cfg.RatePerSec)
	assert.Equal(t, int64(1<<20), cfg.MaxBodyBytes)
	assert.Equal(t, "none", cfg.TraceExporter)
	assert.Equal(t, "USER", cfg.DefaultRole)
	assert.Empty(t, cfg.RedisURL)
	assert.True(t, cfg.RateLimited())
}

func TestLoadOverrides(t *testing.T) {
	vars := baseVars()
	vars["WARDEN_ACCESS_TTL"] = "15m"
	vars["WARDEN_REFRESH_TTL"] = "1h"
	vars["WARDEN_CORS_ORIGINS"] = "https://a.example,https://b.example"
	vars["WARDEN_RATE_PER_SEC"] = "0"
	vars["WARDEN_TRACE_EXPORTER"] = "STDOUT"

	cfg, err := LoadFrom(vars)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.Equal(t, time.Hour, cfg.RefreshTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.False(t, cfg.RateLimited())
	assert.Equal(t, "stdout", cfg.TraceExporter)
}

func TestLoadRejects(t *testing.T) {
	cases := []struct {
		name string
		edit func(map[string]string)
		want string
	}{
		{"missing secret", func(v map[string]string) { delete(v, "WARDEN_JWT_SECRET") }, "WARDEN_JWT_SECRET is required"},
		{"short secret", func(v map[string]string) { v["WARDEN_JWT_SECRET"] = "short" }, "at least 32 bytes"},
		{"missing dsn", func(v map[string]string) { delete(v, "WARDEN_PG_DSN") }, "WARDEN_PG_DSN is required"},
		{"refresh not longer", func(v map[string]string) { v["WARDEN_REFRESH_TTL"] = "24h" }, "WARDEN_REFRESH_TTL"},
		{"zero sweep", func(v map[string]string) { v["WARDEN_SWEEP_INTERVAL"] = "0s" }, "WARDEN_SWEEP_INTERVAL"},
		{"bad exporter", func(v map[string]string) { v["WARDEN_TRACE_EXPORTER"] = "jaeger" }, "WARDEN_TRACE_EXPORTER"},
		{"bad duration", func(v map[string]string) { v["WARDEN_ACCESS_TTL"] = "soon" }, "parse environment"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			vars := baseVars()
			tc.edit(vars)
			_, err := LoadFrom(vars)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	err := Config{}.Validate()
	require.Error(t, err)
	for _, want := range []string{"WARDEN_JWT_SECRET", "WARDEN_PG_DSN", "WARDEN_ACCESS_TTL", "WARDEN_SWEEP_INTERVAL"} {
		assert.Contains(t, err.Error(), want)
	}
}

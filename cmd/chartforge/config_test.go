package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func TestLoadConfigDefaults(t *testing.T) {
	isolateHome(t)

	cfg := loadConfig()
	assert.Equal(t, ":4200", cfg.ListenAddr)
	assert.Equal(t, "gemini", cfg.Provider)
	assert.Equal(t, "gemini-2.5-flash", cfg.FastModel)
	assert.Equal(t, "gemini-2.5-pro", cfg.ReasoningModel)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.Equal(t, 24*time.Hour, cfg.retentionMaxAge())
}

func TestLoadConfigSettingsFileAndEnv(t *testing.T) {
	home := isolateHome(t)
	dir := filepath.Join(home, ".chartforge")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	settings, err := json.Marshal(map[string]any{
		"listen_addr": ":9999",
		"pool_size":   3,
		"provider":    "groq",
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), settings, 0o644))

	// Env beats the settings file.
	t.Setenv("CHARTFORGE_LISTEN_ADDR", ":4300")

	cfg := loadConfig()
	assert.Equal(t, ":4300", cfg.ListenAddr)
	assert.Equal(t, 3, cfg.PoolSize)
	assert.Equal(t, "groq", cfg.Provider)
	assert.Equal(t, "llama-3.1-8b-instant", cfg.FastModel)
	assert.Equal(t, "llama-3.3-70b-versatile", cfg.ReasoningModel)
}

func TestValidateRequiresCredential(t *testing.T) {
	isolateHome(t)
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GROQ_API_KEY", "")

	cfg := defaultConfig()
	cfg.Provider = "gemini"
	assert.Error(t, cfg.validate())

	cfg.Provider = "groq"
	assert.Error(t, cfg.validate())

	t.Setenv("GROQ_API_KEY", "gsk-test")
	assert.NoError(t, cfg.validate())
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	cfg := defaultConfig()
	cfg.Provider = "openai"
	assert.Error(t, cfg.validate())
}

func TestValidateRejectsBadRetentionAge(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	cfg := defaultConfig()
	cfg.RetentionMaxAge = "yesterday"
	assert.Error(t, cfg.validate())
}

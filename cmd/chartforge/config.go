package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all chartforge server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr        string `json:"listen_addr"`
	DBPath            string `json:"db_path"`
	LogLevel          string `json:"log_level"`
	PoolSize          int    `json:"pool_size"`
	Provider          string `json:"provider"`
	FastModel         string `json:"fast_model"`
	ReasoningModel    string `json:"reasoning_model"`
	ProbeCommand      string `json:"probe_command"`
	RetentionSchedule string `json:"retention_schedule"`
	RetentionMaxAge   string `json:"retention_max_age"`
	MaxFixAttempts    int    `json:"max_fix_attempts"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:        ":4200",
		DBPath:            filepath.Join(chartforgeDir(), "chartforge.db"),
		LogLevel:          "info",
		PoolSize:          10,
		Provider:          "gemini",
		RetentionSchedule: "0 * * * *",
		RetentionMaxAge:   "24h",
	}
}

func chartforgeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chartforge"
	}
	return filepath.Join(home, ".chartforge")
}

func settingsPath() string {
	return filepath.Join(chartforgeDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("CHARTFORGE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("CHARTFORGE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CHARTFORGE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CHARTFORGE_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("CHARTFORGE_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("CHARTFORGE_FAST_MODEL"); v != "" {
		cfg.FastModel = v
	}
	if v := os.Getenv("CHARTFORGE_REASONING_MODEL"); v != "" {
		cfg.ReasoningModel = v
	}
	if v := os.Getenv("CHARTFORGE_PROBE_COMMAND"); v != "" {
		cfg.ProbeCommand = v
	}
	if v := os.Getenv("CHARTFORGE_RETENTION_SCHEDULE"); v != "" {
		cfg.RetentionSchedule = v
	}
	if v := os.Getenv("CHARTFORGE_RETENTION_MAX_AGE"); v != "" {
		cfg.RetentionMaxAge = v
	}
	if v := os.Getenv("CHARTFORGE_MAX_FIX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxFixAttempts = n
		}
	}

	// Fill per-provider model defaults after the provider is settled.
	if cfg.FastModel == "" {
		cfg.FastModel = defaultFastModel(cfg.Provider)
	}
	if cfg.ReasoningModel == "" {
		cfg.ReasoningModel = defaultReasoningModel(cfg.Provider)
	}

	return cfg
}

func defaultFastModel(provider string) string {
	if provider == "groq" {
		return "llama-3.1-8b-instant"
	}
	return "gemini-2.5-flash"
}

func defaultReasoningModel(provider string) string {
	if provider == "groq" {
		return "llama-3.3-70b-versatile"
	}
	return "gemini-2.5-pro"
}

// validate rejects configurations the server cannot start with. Model
// credentials live in the environment only, never in settings.json.
func (c Config) validate() error {
	switch c.Provider {
	case "gemini":
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("provider gemini requires GEMINI_API_KEY")
		}
	case "groq":
		if os.Getenv("GROQ_API_KEY") == "" {
			return fmt.Errorf("provider groq requires GROQ_API_KEY")
		}
	default:
		return fmt.Errorf("unknown provider %q (want gemini or groq)", c.Provider)
	}
	if _, err := time.ParseDuration(c.RetentionMaxAge); err != nil {
		return fmt.Errorf("invalid retention_max_age %q: %w", c.RetentionMaxAge, err)
	}
	return nil
}

// retentionMaxAge returns the parsed prune cutoff. validate has already
// checked the string parses.
func (c Config) retentionMaxAge() time.Duration {
	d, err := time.ParseDuration(c.RetentionMaxAge)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

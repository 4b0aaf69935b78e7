package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Config holds all quotekit server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath      string `json:"db_path"`
	LogLevel    string `json:"log_level"`
	JanitorCron string `json:"janitor_cron"`
	RunTTL      string `json:"run_ttl"`
	JanitorOff  bool   `json:"janitor_off"`
}

func defaultConfig() Config {
	return Config{
		DBPath:      filepath.Join(quotekitDir(), "quotekit.db"),
		LogLevel:    "info",
		JanitorCron: "0 * * * *",
		RunTTL:      "720h",
	}
}

func quotekitDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".quotekit"
	}
	return filepath.Join(home, ".quotekit")
}

func settingsPath() string {
	return filepath.Join(quotekitDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("QUOTEKIT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("QUOTEKIT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("QUOTEKIT_JANITOR_CRON"); v != "" {
		cfg.JanitorCron = v
	}
	if v := os.Getenv("QUOTEKIT_RUN_TTL"); v != "" {
		cfg.RunTTL = v
	}
	if v := os.Getenv("QUOTEKIT_JANITOR_OFF"); v != "" {
		cfg.JanitorOff = v == "true" || v == "1"
	}

	return cfg
}

// runTTL parses the configured idle TTL, falling back to 30 days.
func (c Config) runTTL() time.Duration {
	d, err := time.ParseDuration(c.RunTTL)
	if err != nil || d <= 0 {
		return 30 * 24 * time.Hour
	}
	return d
}

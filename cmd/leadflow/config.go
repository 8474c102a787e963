package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all leadflow configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath      string `json:"db_path"`
	LogLevel    string `json:"log_level"`
	Concurrency int    `json:"concurrency"`
	Persist     bool   `json:"persist"`
}

func defaultConfig() Config {
	return Config{
		DBPath:      filepath.Join(leadflowDir(), "leadflow.db"),
		LogLevel:    "info",
		Concurrency: 4,
		Persist:     true,
	}
}

func leadflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".leadflow"
	}
	return filepath.Join(home, ".leadflow")
}

func settingsPath() string {
	return filepath.Join(leadflowDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("LEADFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("LEADFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LEADFLOW_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Concurrency = n
		}
	}
	if v := os.Getenv("LEADFLOW_PERSIST"); v != "" {
		cfg.Persist = v == "true" || v == "1"
	}

	return cfg
}

package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all planweave server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr  string  `json:"listen_addr"`
	StoreKind   string  `json:"store"` // "memory" or "libsql"
	DBPath      string  `json:"db_path"`
	PlansDir    string  `json:"plans_dir"`
	CredsPath   string  `json:"credentials_path"`
	LogLevel    string  `json:"log_level"`
	BackoffBase float64 `json:"backoff_base"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr: ":4800",
		StoreKind:  "libsql",
		DBPath:     filepath.Join(planweaveDir(), "planweave.db"),
		PlansDir:   filepath.Join(planweaveDir(), "plans"),
		CredsPath:  filepath.Join(planweaveDir(), "credentials.json"),
		LogLevel:   "info",
	}
}

func planweaveDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".planweave"
	}
	return filepath.Join(home, ".planweave")
}

func settingsPath() string {
	return filepath.Join(planweaveDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("PLANWEAVE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("PLANWEAVE_STORE"); v != "" {
		cfg.StoreKind = v
	}
	if v := os.Getenv("PLANWEAVE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("PLANWEAVE_PLANS_DIR"); v != "" {
		cfg.PlansDir = v
	}
	if v := os.Getenv("PLANWEAVE_CREDENTIALS_PATH"); v != "" {
		cfg.CredsPath = v
	}
	if v := os.Getenv("PLANWEAVE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PLANWEAVE_BACKOFF_BASE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.BackoffBase = f
		}
	}

	return cfg
}

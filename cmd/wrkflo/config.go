package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all wrkflo configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	ListenAddr           string  `json:"listen_addr"`
	DBPath               string  `json:"db_path"`
	LogLevel             string  `json:"log_level"`
	LogFormat            string  `json:"log_format"`
	MaxSteps             int     `json:"max_steps"`
	RateLimit            float64 `json:"rate_limit"`
	RateBurst            int     `json:"rate_burst"`
	MaxResponseBody      int64   `json:"max_response_body"`
	History              bool    `json:"history"`
	CircuitBreaker       bool    `json:"circuit_breaker"`
	SchedulerConcurrency int     `json:"scheduler_concurrency"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:           ":4200",
		DBPath:               filepath.Join(wrkfloDir(), "wrkflo.db"),
		LogLevel:             "info",
		LogFormat:            "text",
		MaxSteps:             1000,
		MaxResponseBody:      10 * 1024 * 1024,
		History:              true,
		SchedulerConcurrency: 4,
	}
}

func wrkfloDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wrkflo"
	}
	return filepath.Join(home, ".wrkflo")
}

func settingsPath() string {
	return filepath.Join(wrkfloDir(), "settings.json")
}

// loadConfig layers settings.json at path (ignored if missing) and WRKFLO_*
// env vars over the defaults. An empty path uses ~/.wrkflo/settings.json.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		path = settingsPath()
	}

	// Layer 2: settings.json.
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	case !os.IsNotExist(err):
		return cfg, err
	}

	// Layer 3: env vars override.
	if v := os.Getenv("WRKFLO_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("WRKFLO_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("WRKFLO_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("WRKFLO_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("WRKFLO_MAX_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxSteps = n
		}
	}
	if v := os.Getenv("WRKFLO_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimit = f
		}
	}
	if v := os.Getenv("WRKFLO_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateBurst = n
		}
	}
	if v := os.Getenv("WRKFLO_MAX_RESPONSE_BODY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxResponseBody = n
		}
	}
	if v := os.Getenv("WRKFLO_HISTORY"); v != "" {
		cfg.History = v == "true" || v == "1"
	}
	if v := os.Getenv("WRKFLO_CIRCUIT_BREAKER"); v != "" {
		cfg.CircuitBreaker = v == "true" || v == "1"
	}
	if v := os.Getenv("WRKFLO_SCHEDULER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SchedulerConcurrency = n
		}
	}

	return cfg, nil
}

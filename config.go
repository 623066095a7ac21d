package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	storePostgres = "postgres"
	storeMemory   = "memory"
)

type config struct {
	DatabaseURL     string        `yaml:"database_url"`
	HTTPAddr        string        `yaml:"http_addr"`
	JWTSecret       string        `yaml:"jwt_secret"`
	Store           string        `yaml:"store"`
	LogLevel        string        `yaml:"log_level"`
	RedisAddr       string        `yaml:"redis_addr"`
	RedisPassword   string        `yaml:"redis_password"`
	RedisDB         int           `yaml:"redis_db"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	RepairInterval  time.Duration `yaml:"repair_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// loadConfig reads the environment, then overlays the YAML file named by
// EQAS_CONFIG when set.
func loadConfig() (config, error) {
	cfg := config{
		DatabaseURL:     getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:        getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:       getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		Store:           getenvDefault("STORE", storePostgres),
		LogLevel:        getenvDefault("LOG_LEVEL", "info"),
		RedisAddr:       getenvDefault("REDIS_ADDR", ""),
		RedisPassword:   getenvDefault("REDIS_PASSWORD", ""),
		RedisDB:         getenvIntDefault("REDIS_DB", 0),
		CacheTTL:        getenvDuration("CACHE_TTL", 10*time.Minute),
		RepairInterval:  getenvDuration("REPAIR_INTERVAL", 0),
		ShutdownTimeout: getenvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
	}

	if path := os.Getenv("EQAS_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
	}

	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	switch cfg.Store {
	case storePostgres:
		if cfg.DatabaseURL == "" {
			return cfg, errors.New("DATABASE_URL or PG_DSN is required")
		}
		if cfg.JWTSecret == "" {
			return cfg, errors.New("AUTH_JWT_SECRET is required")
		}
	case storeMemory:
	default:
		return cfg, fmt.Errorf("unknown STORE %q", cfg.Store)
	}
	if cfg.CacheTTL <= 0 {
		return cfg, errors.New("CACHE_TTL must be positive")
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr         string
	DBPath           string
	DataDir          string
	StaticDir        string
	DefaultDirectory string
	OMDbAPIKey       string
	TMDbAPIKey       string
	ProviderDelay    time.Duration
	MinSafeGapMS     int
}

func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:         envOrDefault("HTTP_ADDR", ":8080"),
		DataDir:          envOrDefault("DATA_DIR", "/app/data"),
		StaticDir:        envOrDefault("STATIC_DIR", "/app/web/dist"),
		DefaultDirectory: os.Getenv("DEFAULT_DIRECTORY"),
		OMDbAPIKey:       os.Getenv("OMDB_API_KEY"),
		TMDbAPIKey:       os.Getenv("TMDB_API_KEY"),
		ProviderDelay:    envDuration("PROVIDER_CALL_DELAY", 500*time.Millisecond),
		MinSafeGapMS:     envInt("MIN_SAFE_GAP_MS", 500),
	}

	cfg.DBPath = envOrDefault("DB_PATH", filepath.Join(cfg.DataDir, "subplot.db"))

	if err := ensureDirs(cfg.DataDir); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func ensureDirs(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			return errors.New("directory path is empty")
		}
		if err := os.MkdirAll(p, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

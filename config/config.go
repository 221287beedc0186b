package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr    string
	DatabaseURL string

	StorageType string // "local" or "gcs"
	UploadDir   string
	GCSBucket   string
	GCPProject  string

	GeminiAPIKey   string
	GeminiModel    string
	GeminiBackend  string // "gemini" or "vertex"
	GeminiLocation string

	SessionTTL    time.Duration
	SweepInterval time.Duration
	LogLevel      slog.Level

	APIBase string
}

// Load reads .env (outside production) and then the process environment.
func Load() Config {
	if os.Getenv("APP_ENV") != "production" {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			slog.Warn("Config: could not read .env", "error", err)
		}
	}
	return Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:    getEnv("DATABASE_URL", "prompts.db"),
		StorageType:    strings.ToLower(getEnv("STORAGE_TYPE", "local")),
		UploadDir:      getEnv("UPLOAD_DIR", "./uploads"),
		GCSBucket:      os.Getenv("GCS_BUCKET"),
		GCPProject:     os.Getenv("GCP_PROJ_ID"),
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiBackend:  strings.ToLower(getEnv("GEMINI_BACKEND", "gemini")),
		GeminiLocation: getEnv("CLOUD_LOCATION_G", "global"),
		SessionTTL:     parseDuration(os.Getenv("SESSION_TTL"), 24*time.Hour),
		SweepInterval:  parseDuration(os.Getenv("SWEEP_INTERVAL"), time.Hour),
		LogLevel:       parseLevel(getEnv("LOG_LEVEL", "debug")),
		APIBase:        strings.TrimRight(getEnv("API_BASE", "http://localhost:8080"), "/"),
	}
}

// GeminiEnabled reports whether a generation backend can be built.
func (c Config) GeminiEnabled() bool {
	if c.GeminiBackend == "vertex" {
		return c.GCPProject != ""
	}
	return c.GeminiAPIKey != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

// parseDuration accepts Go durations or a bare number of seconds.
func parseDuration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		if num, errNum := strconv.Atoi(value); errNum == nil {
			return time.Duration(num) * time.Second
		}
		return def
	}
	return d
}

func parseLevel(value string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(value)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

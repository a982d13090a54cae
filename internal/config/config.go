package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds runtime configuration values.
type Config struct {
	Port        string
	DatabaseURL string
	AI          AIConfig
	Session     SessionConfig
	Media       MediaConfig
	Log         LogConfig
}

// AIConfig selects the hosted model backend. An empty API key and project
// leaves the service on the offline heuristic interpreter without rendering.
type AIConfig struct {
	APIKey           string
	Project          string
	Location         string
	InterpreterModel string
}

// SessionConfig controls the auth cookie.
type SessionConfig struct {
	Secret       string
	Duration     time.Duration
	SecureCookie bool
}

// MediaConfig describes S3/media related configuration.
type MediaConfig struct {
	Bucket         string
	Region         string
	Endpoint       string
	PublicURL      string
	KeyPrefix      string
	ForcePathStyle bool
	LocalDir       string
}

// LogConfig controls the global zerolog logger.
type LogConfig struct {
	Level  string
	Pretty bool
}

// HasAI reports whether a hosted model backend is configured.
func (c AIConfig) HasAI() bool {
	return c.APIKey != "" || c.Project != ""
}

// LoadDotEnv reads an optional .env file into the process environment.
// Variables already set win.
func LoadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("could not read .env file")
	}
}

// AIFromEnv reads only the model backend settings.
func AIFromEnv() AIConfig {
	return AIConfig{
		APIKey:           firstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY")),
		Project:          os.Getenv("GOOGLE_CLOUD_PROJECT"),
		Location:         getenv("GOOGLE_CLOUD_LOCATION", "us-central1"),
		InterpreterModel: os.Getenv("HOMERA_INTERPRETER_MODEL"),
	}
}

// FromEnv loads an optional .env file, then reads environment variables and applies defaults.
func FromEnv() (Config, error) {
	LoadDotEnv()

	cfg := Config{
		Port:        getenv("APP_PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		AI:          AIFromEnv(),
		Session: SessionConfig{
			Secret:       os.Getenv("SESSION_SECRET"),
			Duration:     getenvDuration("SESSION_DURATION", 7*24*time.Hour),
			SecureCookie: getenvBool("SESSION_SECURE_COOKIE", false),
		},
		Media: MediaConfig{
			Bucket:         os.Getenv("S3_BUCKET"),
			Region:         os.Getenv("S3_REGION"),
			Endpoint:       os.Getenv("S3_ENDPOINT"),
			PublicURL:      os.Getenv("S3_PUBLIC_URL"),
			KeyPrefix:      strings.Trim(os.Getenv("S3_KEY_PREFIX"), "/"),
			ForcePathStyle: getenvBool("S3_FORCE_PATH_STYLE", false),
			LocalDir:       os.Getenv("MEDIA_LOCAL_DIR"),
		},
		Log: LogConfig{
			Level:  getenv("LOG_LEVEL", "info"),
			Pretty: getenvBool("LOG_PRETTY", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late at startup.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Port) == "" {
		return fmt.Errorf("config: APP_PORT cannot be empty")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("config: APP_PORT must be numeric: %w", err)
	}
	if len(c.Session.Secret) < 16 {
		return fmt.Errorf("config: SESSION_SECRET must be at least 16 characters")
	}
	if c.Media.Bucket != "" && c.Media.Region == "" {
		return fmt.Errorf("config: S3_REGION is required when S3_BUCKET is set")
	}
	return nil
}

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return fallback
}

func getenvBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}

	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}

	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}

	parsed, err := time.ParseDuration(val)
	if err != nil || parsed <= 0 {
		return fallback
	}

	return parsed
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

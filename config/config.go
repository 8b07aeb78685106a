package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	BaseURL string
	APIKey  string

	OutputRoot string
	ReportDir  string

	MaxConcurrency  int
	RateLimitPerSec int
	RateLimitBurst  int
	MaxRetries      int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	MaxPages        int

	HTTPTimeout time.Duration
	RunTimeout  time.Duration

	LogLevel string
}

// ErrMissingBaseURL is returned by Validate when WHEELHOUSE_BASE_URL is unset.
var ErrMissingBaseURL = errors.New("config: WHEELHOUSE_BASE_URL must be set")

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() *Config {
	return &Config{
		BaseURL: strings.TrimRight(strings.TrimSpace(os.Getenv("WHEELHOUSE_BASE_URL")), "/"),
		APIKey:  strings.TrimSpace(os.Getenv("WHEELHOUSE_API_KEY")),

		OutputRoot: getEnv("OUTPUT_ROOT", "."),
		ReportDir:  getEnv("REPORT_DIR", "artifacts"),

		MaxConcurrency:  getEnvInt("MAX_CONCURRENCY", 4),
		RateLimitPerSec: getEnvInt("RATE_LIMIT_PER_SEC", 5),
		RateLimitBurst:  getEnvInt("RATE_LIMIT_BURST", 5),
		MaxRetries:      getEnvInt("MAX_RETRIES", 3),
		RetryBaseDelay:  time.Duration(getEnvInt("RETRY_BASE_DELAY_MS", 1000)) * time.Millisecond,
		RetryMaxDelay:   time.Duration(getEnvInt("RETRY_MAX_DELAY_MS", 30000)) * time.Millisecond,
		MaxPages:        getEnvInt("MAX_PAGES", 10000),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 30*time.Second),
		RunTimeout:  getEnvDuration("RUN_TIMEOUT", 30*time.Minute),

		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}
}

// Validate reports configuration the pipeline cannot run without.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrMissingBaseURL
	}
	if c.MaxConcurrency < 1 {
		c.MaxConcurrency = 1
	}
	if c.MaxRetries < 1 {
		c.MaxRetries = 1
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil {
			return d
		}
	}
	return fallback
}

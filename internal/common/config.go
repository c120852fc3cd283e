package common

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Oracle OracleConfig
	Memory MemoryConfig
	Server ServerConfig
	Sheets SheetsConfig
	Ingest IngestConfig
}

// OracleConfig holds vision-extraction client configuration
type OracleConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Temperature    float32
	MaxTokens      int
	RequestTimeout time.Duration
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	RateLimitStep  time.Duration
	MaxImageMB     int
}

// MemoryConfig holds format-memory persistence configuration
type MemoryConfig struct {
	Backend string // "file" or "sqlite"
	Path    string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	HTTPAddr string
}

// IngestConfig holds the watched-inbox configuration; empty dir disables the
// watcher.
type IngestConfig struct {
	WatchDir string
	Workers  int
}

// SheetsConfig holds the spreadsheet sink configuration; empty spreadsheet ID
// disables the sink.
type SheetsConfig struct {
	SpreadsheetID   string
	Range           string
	CredentialsFile string
}

// LoadConfig loads configuration from environment variables, reading a .env
// file first when one is present.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Oracle: OracleConfig{
			APIKey:         getEnv("OPENAI_API_KEY", ""),
			BaseURL:        getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Model:          getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			Temperature:    getEnvAsFloat32("OPENAI_TEMPERATURE", 0.1),
			MaxTokens:      getEnvAsInt("OPENAI_MAX_TOKENS", 2000),
			RequestTimeout: getEnvAsDuration("ORACLE_REQUEST_TIMEOUT", 45*time.Second),
			MaxAttempts:    getEnvAsInt("ORACLE_MAX_ATTEMPTS", 3),
			BaseDelay:      getEnvAsDuration("ORACLE_BASE_DELAY", time.Second),
			MaxDelay:       getEnvAsDuration("ORACLE_MAX_DELAY", 8*time.Second),
			RateLimitStep:  getEnvAsDuration("ORACLE_RATE_LIMIT_STEP", 5*time.Second),
			MaxImageMB:     getEnvAsInt("MAX_IMAGE_MB", 20),
		},
		Memory: MemoryConfig{
			Backend: getEnv("MEMORY_BACKEND", "file"),
			Path:    getEnv("MEMORY_PATH", "data/document-memory.json"),
		},
		Server: ServerConfig{
			HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		},
		Ingest: IngestConfig{
			WatchDir: getEnv("WATCH_DIR", ""),
			Workers:  getEnvAsInt("WATCH_WORKERS", 2),
		},
		Sheets: SheetsConfig{
			SpreadsheetID:   getEnv("SHEETS_SPREADSHEET_ID", ""),
			Range:           getEnv("SHEETS_RANGE", "Sheet1!A:N"),
			CredentialsFile: getEnv("GOOGLE_CREDENTIALS_FILE", ""),
		},
	}
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Oracle.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required", ErrInvalidInput)
	}
	if c.Memory.Backend != "file" && c.Memory.Backend != "sqlite" {
		return NewAppError("CONFIG_ERROR", "MEMORY_BACKEND must be 'file' or 'sqlite'", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

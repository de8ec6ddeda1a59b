package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime settings. Values come from environment
// variables (optionally via a .env file) with defaults tuned for a
// single classroom server.
type Config struct {
	HTTPHost     string
	HTTPPort     int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// HistoryPath is the SQLite file for the session event log.
	// Empty disables event recording entirely.
	HistoryPath string

	// DisconnectGrace is how long a disconnected student's record is
	// retained before eviction from the roster.
	DisconnectGrace time.Duration

	// IdleWindow is how long a session may stay teacherless before
	// the reaper removes it. SweepInterval is the reaper period.
	IdleWindow    time.Duration
	SweepInterval time.Duration

	// CodeAttempts bounds join-code collision retries in CreateSession.
	CodeAttempts int

	// WriteBuffer is the per-connection outbound event queue size.
	WriteBuffer int

	// PingInterval and PongTimeout drive WebSocket heartbeats.
	PingInterval time.Duration
	PongTimeout  time.Duration

	LogLevel  string
	LogFormat string
}

// Default returns the configuration used when no environment
// overrides are present.
func Default() *Config {
	return &Config{
		HTTPHost:        "0.0.0.0",
		HTTPPort:        5000,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		HistoryPath:     "./codeshare.db",
		DisconnectGrace: 2 * time.Minute,
		IdleWindow:      30 * time.Minute,
		SweepInterval:   time.Minute,
		CodeAttempts:    25,
		WriteBuffer:     100,
		PingInterval:    30 * time.Second,
		PongTimeout:     60 * time.Second,
		LogLevel:        "info",
		LogFormat:       "pretty",
	}
}

// Load reads configuration from the environment, loading .env first if
// present (missing .env is not an error).
func Load() *Config {
	_ = godotenv.Load()

	cfg := Default()
	cfg.HTTPHost = getEnv("CODESHARE_HTTP_HOST", cfg.HTTPHost)
	cfg.HTTPPort = getEnvInt("CODESHARE_HTTP_PORT", cfg.HTTPPort)
	cfg.ReadTimeout = getEnvDuration("CODESHARE_HTTP_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = getEnvDuration("CODESHARE_HTTP_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.HistoryPath = getEnvAllowEmpty("CODESHARE_HISTORY_PATH", cfg.HistoryPath)
	cfg.DisconnectGrace = getEnvDuration("CODESHARE_DISCONNECT_GRACE", cfg.DisconnectGrace)
	cfg.IdleWindow = getEnvDuration("CODESHARE_IDLE_WINDOW", cfg.IdleWindow)
	cfg.SweepInterval = getEnvDuration("CODESHARE_SWEEP_INTERVAL", cfg.SweepInterval)
	cfg.CodeAttempts = getEnvInt("CODESHARE_CODE_ATTEMPTS", cfg.CodeAttempts)
	cfg.WriteBuffer = getEnvInt("CODESHARE_WRITE_BUFFER", cfg.WriteBuffer)
	cfg.PingInterval = getEnvDuration("CODESHARE_PING_INTERVAL", cfg.PingInterval)
	cfg.PongTimeout = getEnvDuration("CODESHARE_PONG_TIMEOUT", cfg.PongTimeout)
	cfg.LogLevel = getEnv("CODESHARE_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("CODESHARE_LOG_FORMAT", cfg.LogFormat)
	return cfg
}

// Validate rejects configurations that would misbehave at runtime.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTPHost == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.DisconnectGrace <= 0 {
		return fmt.Errorf("disconnect grace must be positive")
	}
	if c.IdleWindow <= 0 {
		return fmt.Errorf("idle window must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	if c.CodeAttempts <= 0 {
		return fmt.Errorf("code attempts must be positive")
	}
	if c.WriteBuffer <= 0 {
		return fmt.Errorf("write buffer must be positive")
	}
	if c.PingInterval <= 0 || c.PongTimeout <= c.PingInterval {
		return fmt.Errorf("pong timeout must exceed ping interval")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvAllowEmpty treats a set-but-empty variable as an explicit
// empty value (used to disable the history log).
func getEnvAllowEmpty(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

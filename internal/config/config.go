// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Generator backends.
const (
	BackendGRPC = "grpc"
	BackendHTTP = "http"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	LogLevel    string

	// SessionRetention is how long finished sessions stay listed.
	SessionRetention time.Duration

	Bridge    BridgeConfig
	Generator GeneratorConfig
	Reply     ReplyConfig
}

// BridgeConfig points at the chat bridge process.
type BridgeConfig struct {
	URL        string
	Token      string
	AckTimeout time.Duration
}

// GeneratorConfig selects and configures the reply generator.
type GeneratorConfig struct {
	Backend string
	Addr    string
	APIBase string
	APIKey  string
	Model   string
	Timeout time.Duration
	BotName string
}

// ReplyConfig tunes the reply pipeline.
type ReplyConfig struct {
	RateLimitMax    int
	RateLimitWindow time.Duration
	ContextCapacity int
	ContextTTL      time.Duration
	ContextSweep    time.Duration
	TypingMinDelay  time.Duration
	TypingMaxDelay  time.Duration
	PersistTimeout  time.Duration
	MaxChars        int
	FallbacksPath   string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/replybot.db"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		SessionRetention: getEnvDuration("SESSION_RETENTION", 10*time.Minute),
		Bridge: BridgeConfig{
			URL:        getEnv("BRIDGE_URL", "ws://127.0.0.1:3001/bridge"),
			Token:      getEnv("BRIDGE_TOKEN", ""),
			AckTimeout: getEnvDuration("BRIDGE_ACK_TIMEOUT", 10*time.Second),
		},
		Generator: GeneratorConfig{
			Backend: strings.ToLower(getEnv("GENERATOR_BACKEND", BackendHTTP)),
			Addr:    getEnv("GENERATOR_ADDR", "127.0.0.1:50051"),
			APIBase: getEnv("GENERATOR_API_BASE", "https://api.openai.com/v1"),
			APIKey:  getEnv("GENERATOR_API_KEY", ""),
			Model:   getEnv("GENERATOR_MODEL", "gpt-4o-mini"),
			Timeout: getEnvDuration("GENERATE_TIMEOUT", 10*time.Second),
			BotName: getEnv("BOT_NAME", "Rahul"),
		},
		Reply: ReplyConfig{
			RateLimitMax:    getEnvInt("RATE_LIMIT_MAX", 2),
			RateLimitWindow: getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
			ContextCapacity: getEnvInt("CONTEXT_CAPACITY", 3),
			ContextTTL:      getEnvDuration("CONTEXT_TTL", time.Hour),
			ContextSweep:    getEnvDuration("CONTEXT_SWEEP_INTERVAL", time.Minute),
			TypingMinDelay:  getEnvDuration("TYPING_MIN_DELAY", time.Second),
			TypingMaxDelay:  getEnvDuration("TYPING_MAX_DELAY", 3*time.Second),
			PersistTimeout:  getEnvDuration("PERSIST_TIMEOUT", 5*time.Second),
			MaxChars:        getEnvInt("REPLY_MAX_CHARS", 300),
			FallbacksPath:   getEnv("FALLBACKS_PATH", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Bridge.URL == "" {
		return fmt.Errorf("BRIDGE_URL cannot be empty")
	}
	switch c.Generator.Backend {
	case BackendGRPC:
		if c.Generator.Addr == "" {
			return fmt.Errorf("GENERATOR_ADDR is required for the grpc backend")
		}
	case BackendHTTP:
		if c.Generator.APIBase == "" {
			return fmt.Errorf("GENERATOR_API_BASE is required for the http backend")
		}
	default:
		return fmt.Errorf("GENERATOR_BACKEND must be %q or %q, got %q", BackendGRPC, BackendHTTP, c.Generator.Backend)
	}
	if c.Generator.Timeout <= 0 {
		return fmt.Errorf("GENERATE_TIMEOUT must be > 0")
	}
	if c.Reply.RateLimitMax <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX must be > 0")
	}
	if c.Reply.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.Reply.ContextCapacity <= 0 {
		return fmt.Errorf("CONTEXT_CAPACITY must be > 0")
	}
	if c.Reply.ContextTTL <= 0 || c.Reply.ContextSweep <= 0 {
		return fmt.Errorf("CONTEXT_TTL and CONTEXT_SWEEP_INTERVAL must be > 0")
	}
	if c.Reply.TypingMinDelay < 0 || c.Reply.TypingMaxDelay < c.Reply.TypingMinDelay {
		return fmt.Errorf("TYPING_MAX_DELAY must be >= TYPING_MIN_DELAY >= 0")
	}
	if c.Reply.MaxChars < 10 {
		return fmt.Errorf("REPLY_MAX_CHARS must be >= 10")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("90s") or plain milliseconds ("1500").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// SchedulerConfig provides Redis and asynq settings for background work.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// WhatsAppConfig provides settings for the outbound WhatsApp gateway.
type WhatsAppConfig interface {
	GetWhatsAppURL() string
	GetWhatsAppKey() string
	GetWhatsAppDeviceID() string
	GetWhatsAppClosingMessage() string
	GetWhatsAppOwnedAddr() string
}

// WebhookConfig provides settings for the inbound webhook adapter.
type WebhookConfig interface {
	GetWebhookDedupeTTL() time.Duration
	GetWebhookRateLimitPerMinute() int
	GetWebhookSecret() string
}

// LifecycleConfig provides the conversation lifecycle tuning knobs.
type LifecycleConfig interface {
	GetPendingExpiry() time.Duration
	GetProgressExpiry() time.Duration
	GetIdleTimeout() time.Duration
	GetExpirySweepInterval() time.Duration
	GetIdleSweepInterval() time.Duration
	GetClosureKeywords() []string
	GetAutoCloseThreshold() float64
	GetClosurePriorityRanks() map[string]int
	GetDefaultExtensionMinutes() int
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env              string
	HTTPAddr         string
	DatabaseURL      string
	MigrationsDir    string
	CORSAllowAll     bool
	CORSOrigins      []string
	CORSAllowCreds   bool
	RedisURL         string
	RedisTLSInsecure bool
	AsynqQueueName   string
	AsynqConcurrency int

	WhatsAppURL            string
	WhatsAppKey            string
	WhatsAppDeviceID       string
	WhatsAppClosingMessage string
	WhatsAppOwnedAddr      string

	WebhookDedupeTTL          time.Duration
	WebhookRateLimitPerMinute int
	WebhookSecret             string

	PendingExpiry           time.Duration
	ProgressExpiry          time.Duration
	IdleTimeout             time.Duration
	ExpirySweepInterval     time.Duration
	IdleSweepInterval       time.Duration
	ClosureKeywords         []string
	AutoCloseThreshold      float64
	ClosurePriorityRanks    map[string]int
	DefaultExtensionMinutes int
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string        { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool  { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string  { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int   { return c.AsynqConcurrency }

// WhatsAppConfig implementation
func (c *Config) GetWhatsAppURL() string            { return c.WhatsAppURL }
func (c *Config) GetWhatsAppKey() string            { return c.WhatsAppKey }
func (c *Config) GetWhatsAppDeviceID() string       { return c.WhatsAppDeviceID }
func (c *Config) GetWhatsAppClosingMessage() string { return c.WhatsAppClosingMessage }
func (c *Config) GetWhatsAppOwnedAddr() string      { return c.WhatsAppOwnedAddr }

// WebhookConfig implementation
func (c *Config) GetWebhookDedupeTTL() time.Duration  { return c.WebhookDedupeTTL }
func (c *Config) GetWebhookRateLimitPerMinute() int   { return c.WebhookRateLimitPerMinute }
func (c *Config) GetWebhookSecret() string            { return c.WebhookSecret }

// LifecycleConfig implementation
func (c *Config) GetPendingExpiry() time.Duration       { return c.PendingExpiry }
func (c *Config) GetProgressExpiry() time.Duration      { return c.ProgressExpiry }
func (c *Config) GetIdleTimeout() time.Duration         { return c.IdleTimeout }
func (c *Config) GetExpirySweepInterval() time.Duration { return c.ExpirySweepInterval }
func (c *Config) GetIdleSweepInterval() time.Duration   { return c.IdleSweepInterval }
func (c *Config) GetClosureKeywords() []string          { return c.ClosureKeywords }
func (c *Config) GetAutoCloseThreshold() float64        { return c.AutoCloseThreshold }
func (c *Config) GetClosurePriorityRanks() map[string]int {
	return c.ClosurePriorityRanks
}
func (c *Config) GetDefaultExtensionMinutes() int { return c.DefaultExtensionMinutes }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	keywords := splitCSV(getEnv("CLOSURE_KEYWORDS", ""))
	if path := getEnv("CLOSURE_KEYWORDS_FILE", ""); path != "" {
		fromFile, err := loadKeywordsFile(path)
		if err != nil {
			return nil, err
		}
		keywords = append(keywords, fromFile...)
	}

	ranks, err := parseRanks(getEnv("CLOSURE_PRIORITY_RANKS", ""))
	if err != nil {
		return nil, err
	}

	threshold, err := strconv.ParseFloat(getEnv("AUTO_CLOSE_THRESHOLD", "0.8"), 64)
	if err != nil {
		return nil, fmt.Errorf("AUTO_CLOSE_THRESHOLD: %w", err)
	}

	cfg := &Config{
		Env:                       getEnv("APP_ENV", "development"),
		HTTPAddr:                  getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:               getEnv("DATABASE_URL", ""),
		MigrationsDir:             getEnv("MIGRATIONS_DIR", "migrations"),
		CORSAllowAll:              corsAllowAll,
		CORSOrigins:               corsOrigins,
		CORSAllowCreds:            strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "false"), "true"),
		RedisURL:                  getEnv("REDIS_URL", ""),
		RedisTLSInsecure:          strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:            getEnv("ASYNQ_QUEUE", "conversations"),
		AsynqConcurrency:          int(mustInt64(getEnv("ASYNQ_CONCURRENCY", "10"))),
		WhatsAppURL:               getEnv("WHATSAPP_URL", ""),
		WhatsAppKey:               getEnv("WHATSAPP_KEY", ""),
		WhatsAppDeviceID:          getEnv("WHATSAPP_DEVICE_ID", ""),
		WhatsAppClosingMessage:    getEnv("WHATSAPP_CLOSING_MESSAGE", ""),
		WhatsAppOwnedAddr:         getEnv("WHATSAPP_OWNED_NUMBER", ""),
		WebhookDedupeTTL:          mustDuration(getEnv("WEBHOOK_DEDUPE_TTL", "24h")),
		WebhookRateLimitPerMinute: int(mustInt64(getEnv("WEBHOOK_RATE_LIMIT_PER_MINUTE", "600"))),
		WebhookSecret:             getEnv("WHATSAPP_WEBHOOK_SECRET", ""),
		PendingExpiry:             mustDuration(getEnv("PENDING_EXPIRY", "24h")),
		ProgressExpiry:            mustDuration(getEnv("PROGRESS_EXPIRY", "2h")),
		IdleTimeout:               mustDuration(getEnv("IDLE_TIMEOUT", "15m")),
		ExpirySweepInterval:       mustDuration(getEnv("EXPIRY_SWEEP_INTERVAL", "1m")),
		IdleSweepInterval:         mustDuration(getEnv("IDLE_SWEEP_INTERVAL", "1m")),
		ClosureKeywords:           keywords,
		AutoCloseThreshold:        threshold,
		ClosurePriorityRanks:      ranks,
		DefaultExtensionMinutes:   int(mustInt64(getEnv("DEFAULT_EXTENSION_MINUTES", "60"))),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if cfg.AutoCloseThreshold < 0 || cfg.AutoCloseThreshold > 1 {
		return nil, fmt.Errorf("AUTO_CLOSE_THRESHOLD must be within [0,1]")
	}
	if cfg.PendingExpiry <= 0 || cfg.ProgressExpiry <= 0 || cfg.IdleTimeout <= 0 {
		return nil, fmt.Errorf("PENDING_EXPIRY, PROGRESS_EXPIRY and IDLE_TIMEOUT must be positive durations")
	}

	return cfg, nil
}

type keywordsFile struct {
	Keywords []string `yaml:"keywords"`
}

// loadKeywordsFile reads a YAML document of the form `keywords: [..]`.
func loadKeywordsFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read closure keywords file: %w", err)
	}
	var doc keywordsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse closure keywords file: %w", err)
	}
	results := make([]string, 0, len(doc.Keywords))
	for _, kw := range doc.Keywords {
		if trimmed := strings.TrimSpace(kw); trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results, nil
}

// parseRanks parses "failed=1,user_closed=2" into a map.
func parseRanks(value string) (map[string]int, error) {
	ranks := make(map[string]int)
	for _, part := range splitCSV(value) {
		key, raw, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("CLOSURE_PRIORITY_RANKS: malformed entry %q", part)
		}
		rank, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("CLOSURE_PRIORITY_RANKS: rank for %q: %w", key, err)
		}
		ranks[strings.TrimSpace(key)] = rank
	}
	return ranks, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt64(value string) int64 {
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}

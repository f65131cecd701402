package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the hub.
type Config struct {
	Port string
	Env  string

	// Bus backend: "memory" (single instance) or "redis" (cross-process).
	BusBackend string
	RedisURL   string

	// Static token -> "userID:role" map for the built-in token verifier.
	// Production deployments plug in their own verifier instead.
	AuthTokens map[string]string

	// Feature flags
	TypingEnabled      bool
	ReceiptsEnabled    bool
	PublishMessages    bool
	PublishOffers      bool
	PublishShipments   bool
	PublishQR          bool
	PublishAttachments bool

	// Tunables
	TypingTimeout     time.Duration
	HeartbeatInterval time.Duration

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from connection limiting
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		BusBackend:         getEnv("BUS_BACKEND", "memory"),
		RedisURL:           os.Getenv("REDIS_URL"),
		AuthTokens:         make(map[string]string),
		TypingEnabled:      getBool("TYPING_ENABLED", true),
		ReceiptsEnabled:    getBool("RECEIPTS_ENABLED", true),
		PublishMessages:    getBool("PUBLISH_MESSAGES", true),
		PublishOffers:      getBool("PUBLISH_OFFERS", true),
		PublishShipments:   getBool("PUBLISH_SHIPMENTS", true),
		PublishQR:          getBool("PUBLISH_QR", true),
		PublishAttachments: getBool("PUBLISH_ATTACHMENTS", true),
		TypingTimeout:      getDuration("TYPING_TIMEOUT", 6*time.Second),
		HeartbeatInterval:  getDuration("HEARTBEAT_INTERVAL", 20*time.Second),
	}

	// Parse static tokens: "token1=user1:role1,token2=user2:role2"
	if tokens := os.Getenv("AUTH_TOKENS"); tokens != "" {
		for _, entry := range strings.Split(tokens, ",") {
			entry = strings.TrimSpace(entry)
			token, identity, ok := strings.Cut(entry, "=")
			if !ok || token == "" || identity == "" {
				continue
			}
			cfg.AuthTokens[token] = identity
		}
	}

	// Parse whitelist (comma-separated IPs or CIDRs)
	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		for _, entry := range strings.Split(whitelist, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
			}
		}
	}

	// The distributed bus cannot run without its store.
	if cfg.BusBackend == "redis" && cfg.RedisURL == "" {
		panic("REDIS_URL is required when BUS_BACKEND=redis")
	}

	if cfg.Env == "production" && cfg.RedisURL == "" {
		panic("REDIS_URL is required in production")
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1"
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}

// internal/config/config.go
// Centralized configuration management
// Loads from environment variables with sensible defaults

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/imadgeboyega/kiekky-chat/internal/messaging"
)

// Push providers
const (
	PushRedis   = "redis"
	PushGateway = "gateway"
	PushLocal   = "local"
)

// Config holds all application configuration
type Config struct {
	Environment string

	// Database
	DatabaseURL string
	RedisURL    string

	// Push layer
	PushProvider     string // "redis", "gateway" or "local"
	GatewayURL       string // ws:// address clients dial
	GatewayAddr      string // listen address of the gateway
	GatewayJWTSecret string
	GatewayRateLimit int // inbound frames per second per connection
	TokenExpiry      time.Duration

	// Storage
	UseS3          bool
	AWSRegion      string
	S3BucketName   string
	CDNURL         string
	LocalUploadDir string
	BaseURL        string
	MaxUploadSize  int64

	// Device notifications (FCM)
	FCMCredentialsFile string
	FCMCredentialsJSON string
	FCMDeviceTokens    []string

	// Logging
	LogLevel  string
	LogFormat string

	// Sync engine
	ReconcileTolerance       time.Duration
	PollIntervalDisconnected time.Duration
	PollIntervalConnected    time.Duration
	SubscribeTimeout         time.Duration
	ResubscribeBackoff       time.Duration
	TypingIdle               time.Duration
	TypingExpiry             time.Duration
	RecentWindow             int
	DeliveryBatchDelay       time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),

		// Push layer
		PushProvider:     getEnv("PUSH_PROVIDER", PushRedis),
		GatewayURL:       getEnv("GATEWAY_URL", "ws://localhost:8081/ws"),
		GatewayAddr:      getEnv("GATEWAY_ADDR", ":8081"),
		GatewayJWTSecret: getEnv("GATEWAY_JWT_SECRET", "your-super-secret-key-change-this-in-production"),
		GatewayRateLimit: getEnvInt("GATEWAY_RATE_LIMIT", 20),
		TokenExpiry:      getEnvDuration("TOKEN_EXPIRY", "24h"),

		// Storage
		UseS3:          getEnvBool("USE_S3", false),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		S3BucketName:   getEnv("S3_BUCKET_NAME", "kiekky-chat-uploads"),
		CDNURL:         getEnv("CDN_URL", ""),
		LocalUploadDir: getEnv("LOCAL_UPLOAD_DIR", "./uploads"),
		BaseURL:        getEnv("BASE_URL", "http://localhost:8080/uploads"),
		MaxUploadSize:  int64(getEnvInt("MAX_UPLOAD_SIZE", 25*1024*1024)),

		// Device notifications
		FCMCredentialsFile: getEnv("FCM_CREDENTIALS_FILE", ""),
		FCMCredentialsJSON: getEnv("FCM_CREDENTIALS_JSON", ""),
		FCMDeviceTokens:    getEnvList("FCM_DEVICE_TOKENS"),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		// Sync engine
		ReconcileTolerance:       getEnvDuration("RECONCILE_TOLERANCE", "5s"),
		PollIntervalDisconnected: getEnvDuration("POLL_INTERVAL_DISCONNECTED", "3s"),
		PollIntervalConnected:    getEnvDuration("POLL_INTERVAL_CONNECTED", "30s"),
		SubscribeTimeout:         getEnvDuration("SUBSCRIBE_TIMEOUT", "10s"),
		ResubscribeBackoff:       getEnvDuration("RESUBSCRIBE_BACKOFF", "2s"),
		TypingIdle:               getEnvDuration("TYPING_IDLE", "2s"),
		TypingExpiry:             getEnvDuration("TYPING_EXPIRY", "4s"),
		RecentWindow:             getEnvInt("RECENT_WINDOW", 100),
		DeliveryBatchDelay:       getEnvDuration("DELIVERY_BATCH_DELAY", "250ms"),
	}

	// Serve uploads from the CDN when one is configured
	if cfg.CDNURL == "" && cfg.UseS3 {
		cfg.CDNURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.S3BucketName, cfg.AWSRegion)
	}

	return cfg
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.GatewayJWTSecret == "your-super-secret-key-change-this-in-production" && c.IsProduction() {
		return fmt.Errorf("gateway JWT secret must be changed for production")
	}

	switch c.PushProvider {
	case PushRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis push provider")
		}
	case PushGateway:
		if c.GatewayURL == "" {
			return fmt.Errorf("gateway URL is required for the gateway push provider")
		}
	case PushLocal:
		if c.IsProduction() {
			return fmt.Errorf("local push provider cannot be used in production")
		}
	default:
		return fmt.Errorf("invalid push provider: %s", c.PushProvider)
	}

	if c.GatewayRateLimit < 1 {
		return fmt.Errorf("gateway rate limit must be positive")
	}

	// Storage validation
	if c.UseS3 {
		if c.S3BucketName == "" || c.AWSRegion == "" {
			return fmt.Errorf("S3 configuration incomplete")
		}
	} else if c.LocalUploadDir == "" {
		return fmt.Errorf("local upload directory not specified")
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("max upload size must be positive")
	}

	if len(c.FCMDeviceTokens) > 0 && c.FCMCredentialsFile == "" && c.FCMCredentialsJSON == "" {
		return fmt.Errorf("FCM credentials are required when device tokens are set")
	}

	// Sync engine validation
	if c.ReconcileTolerance <= 0 || c.SubscribeTimeout <= 0 || c.ResubscribeBackoff <= 0 {
		return fmt.Errorf("sync timeouts must be positive")
	}
	if c.PollIntervalDisconnected <= 0 {
		return fmt.Errorf("disconnected poll interval must be positive")
	}
	if c.PollIntervalConnected <= c.PollIntervalDisconnected {
		return fmt.Errorf("connected poll interval must be longer than the disconnected one")
	}
	if c.TypingIdle <= 0 || c.TypingExpiry <= c.TypingIdle {
		return fmt.Errorf("typing expiry must be longer than the typing idle timeout")
	}
	if c.RecentWindow < 1 {
		return fmt.Errorf("recent window must be positive")
	}
	if c.DeliveryBatchDelay < 0 {
		return fmt.Errorf("delivery batch delay cannot be negative")
	}

	return nil
}

// SyncOptions converts the sync settings to engine options
func (c *Config) SyncOptions() messaging.Options {
	return messaging.Options{
		ReconcileTolerance:       c.ReconcileTolerance,
		PollIntervalDisconnected: c.PollIntervalDisconnected,
		PollIntervalConnected:    c.PollIntervalConnected,
		SubscribeTimeout:         c.SubscribeTimeout,
		ResubscribeBackoff:       c.ResubscribeBackoff,
		TypingIdle:               c.TypingIdle,
		TypingExpiry:             c.TypingExpiry,
		RecentWindow:             c.RecentWindow,
		DeliveryBatchDelay:       c.DeliveryBatchDelay,
	}
}

// FCMEnabled reports whether inbound messages are forwarded to devices
func (c *Config) FCMEnabled() bool {
	return len(c.FCMDeviceTokens) > 0
}

// IsProduction returns true if running in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Helper functions

// getEnv gets a string value from environment with a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment with a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration value from environment with a default
func getEnvDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		// If parsing fails, try to parse the default
		duration, _ = time.ParseDuration(defaultValue)
	}
	return duration
}

// getEnvBool gets a boolean value from environment with a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping empty items
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

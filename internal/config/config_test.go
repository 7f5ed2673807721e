package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("PUSH_PROVIDER", "")
	t.Setenv("USE_S3", "")
	t.Setenv("CDN_URL", "")

	cfg := Load()
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, PushRedis, cfg.PushProvider)
	assert.Equal(t, 20, cfg.GatewayRateLimit)
	assert.Equal(t, 3*time.Second, cfg.PollIntervalDisconnected)
	assert.Equal(t, 30*time.Second, cfg.PollIntervalConnected)
	assert.Equal(t, 250*time.Millisecond, cfg.DeliveryBatchDelay)
	assert.Empty(t, cfg.CDNURL)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PUSH_PROVIDER", PushGateway)
	t.Setenv("GATEWAY_RATE_LIMIT", "5")
	t.Setenv("TYPING_EXPIRY", "6s")
	t.Setenv("RECENT_WINDOW", "not-a-number")
	t.Setenv("USE_S3", "true")
	t.Setenv("S3_BUCKET_NAME", "chat-media")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("CDN_URL", "")

	cfg := Load()
	assert.Equal(t, PushGateway, cfg.PushProvider)
	assert.Equal(t, 5, cfg.GatewayRateLimit)
	assert.Equal(t, 6*time.Second, cfg.TypingExpiry)
	assert.Equal(t, 100, cfg.RecentWindow)
	assert.Equal(t, "https://chat-media.s3.eu-west-1.amazonaws.com", cfg.CDNURL)
}

func TestDeviceTokenList(t *testing.T) {
	t.Setenv("FCM_DEVICE_TOKENS", " phone, ,tablet ")
	cfg := Load()
	assert.Equal(t, []string{"phone", "tablet"}, cfg.FCMDeviceTokens)
	assert.True(t, cfg.FCMEnabled())

	t.Setenv("FCM_DEVICE_TOKENS", "")
	assert.False(t, Load().FCMEnabled())
}

func TestInvalidDurationFallsBackToDefault(t *testing.T) {
	t.Setenv("SUBSCRIBE_TIMEOUT", "soon")
	assert.Equal(t, 10*time.Second, Load().SubscribeTimeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"default secret in production", func(c *Config) { c.Environment = "production" }, "JWT secret"},
		{"unknown push provider", func(c *Config) { c.PushProvider = "carrier-pigeon" }, "invalid push provider"},
		{"local push in production", func(c *Config) {
			c.Environment = "production"
			c.GatewayJWTSecret = "s3cret"
			c.PushProvider = PushLocal
		}, "local push provider"},
		{"gateway without url", func(c *Config) {
			c.PushProvider = PushGateway
			c.GatewayURL = ""
		}, "gateway URL"},
		{"zero rate limit", func(c *Config) { c.GatewayRateLimit = 0 }, "rate limit"},
		{"incomplete s3", func(c *Config) {
			c.UseS3 = true
			c.S3BucketName = ""
		}, "S3 configuration"},
		{"poll intervals inverted", func(c *Config) { c.PollIntervalConnected = time.Second }, "connected poll interval"},
		{"typing expiry too short", func(c *Config) { c.TypingExpiry = c.TypingIdle }, "typing expiry"},
		{"device tokens without credentials", func(c *Config) {
			c.FCMDeviceTokens = []string{"device"}
			c.FCMCredentialsFile = ""
			c.FCMCredentialsJSON = ""
		}, "FCM credentials"},
		{"empty recent window", func(c *Config) { c.RecentWindow = 0 }, "recent window"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			cfg.PushProvider = PushRedis
			cfg.Environment = "development"
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSyncOptions(t *testing.T) {
	cfg := Load()
	cfg.TypingIdle = 3 * time.Second
	cfg.RecentWindow = 42

	opts := cfg.SyncOptions()
	assert.Equal(t, 3*time.Second, opts.TypingIdle)
	assert.Equal(t, 42, opts.RecentWindow)
	assert.Equal(t, cfg.PollIntervalConnected, opts.PollIntervalConnected)
}

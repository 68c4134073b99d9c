// Package config provides configuration for runhook.
package config

import (
	"fmt"
	"time"

	"github.com/alecthomas/kong"
)

// Config holds the runhook configuration. Every field can be set from the
// environment; flags override the environment.
type Config struct {
	// Server settings
	HTTPPort     int `name:"http-port" env:"HTTP_PORT" default:"8080" help:"Owner-facing API port"`
	InternalPort int `name:"internal-port" env:"INTERNAL_PORT" default:"8081" help:"Sandbox-facing webhook port"`

	// Database
	DatabaseURL string `name:"database-url" env:"DATABASE_URL" default:"file:runhook.db?cache=shared&mode=rwc" help:"SQLite DSN"`

	// Object store
	S3Bucket          string `name:"s3-bucket" env:"S3_BUCKET" help:"Bucket holding storage archives and manifests"`
	S3Region          string `name:"s3-region" env:"S3_REGION" default:"us-east-1"`
	S3Endpoint        string `name:"s3-endpoint" env:"S3_ENDPOINT" help:"Custom endpoint for S3-compatible stores"`
	S3AccessKeyID     string `name:"s3-access-key-id" env:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `name:"s3-secret-access-key" env:"S3_SECRET_ACCESS_KEY"`
	PresignExpiryMS   int    `name:"presign-expiry-ms" env:"PRESIGN_EXPIRY_MS" default:"3600000"`

	// Sandbox
	SandboxAPIURL            string `name:"sandbox-api-url" env:"SANDBOX_API_URL" help:"Sandbox control API; teardown is skipped when empty"`
	SandboxTeardownTimeoutMS int    `name:"sandbox-teardown-timeout-ms" env:"SANDBOX_TEARDOWN_TIMEOUT_MS" default:"30000"`

	// Callbacks
	CallbackTimeoutMS   int  `name:"callback-timeout-ms" env:"CALLBACK_TIMEOUT_MS" default:"30000"`
	CallbackConcurrency int  `name:"callback-concurrency" env:"CALLBACK_CONCURRENCY" default:"8"`
	CallbackDetach      bool `name:"callback-detach" env:"CALLBACK_DETACH" help:"Return from completion before callbacks finish"`

	// Secrets and tokens
	SecretsKey        string `name:"secrets-key" env:"SECRETS_KEY" help:"age identity (AGE-SECRET-KEY-1...); ephemeral when empty"`
	TokenSecret       string `name:"token-secret" env:"TOKEN_SECRET" help:"HMAC secret for sandbox tokens"`
	SandboxTokenTTLMS int    `name:"sandbox-token-ttl-ms" env:"SANDBOX_TOKEN_TTL_MS" default:"86400000"`

	// Signals
	RedisAddr   string `name:"redis-addr" env:"REDIS_ADDR" help:"Redis address for the signals stream; disabled when empty"`
	RedisStream string `name:"redis-stream" env:"REDIS_STREAM" default:"runhook:signals"`

	// Logging
	LogLevel string `name:"log-level" env:"LOG_LEVEL" default:"info" enum:"debug,info,warn,error" help:"Log level (debug|info|warn|error)"`
}

// Load parses args (normally os.Args[1:]) together with the environment.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	parser, err := kong.New(cfg,
		kong.Name("runhook"),
		kong.Description("Run completion and callback delivery service"),
	)
	if err != nil {
		return nil, fmt.Errorf("create parser: %w", err)
	}
	if _, err := parser.Parse(args); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	if c.CallbackConcurrency <= 0 {
		return fmt.Errorf("callback concurrency must be positive, got %d", c.CallbackConcurrency)
	}
	if c.TokenSecret == "" {
		return fmt.Errorf("TOKEN_SECRET is required")
	}
	return nil
}

func (c *Config) PresignExpiry() time.Duration {
	return ms(c.PresignExpiryMS)
}

func (c *Config) SandboxTeardownTimeout() time.Duration {
	return ms(c.SandboxTeardownTimeoutMS)
}

func (c *Config) CallbackTimeout() time.Duration {
	return ms(c.CallbackTimeoutMS)
}

func (c *Config) SandboxTokenTTL() time.Duration {
	return ms(c.SandboxTokenTTLMS)
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

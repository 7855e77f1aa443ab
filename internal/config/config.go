package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	DatabaseURL string `mapstructure:"database_url"`
	RedisURL    string `mapstructure:"redis_url"`
	Port        string `mapstructure:"port"`

	// Dispatch tuning
	Dispatch DispatchConfig `mapstructure:"dispatch"`

	// Push gateway for cleaner offers (used when direct FCM credentials
	// are not available)
	PushGateway PushGatewayConfig `mapstructure:"push_gateway"`

	// SMS gateway for customer and operator messages
	SMSGateway SMSGatewayConfig `mapstructure:"sms_gateway"`

	// External route optimization service (batch-mode tenants)
	RouteOptimizer RouteOptimizerConfig `mapstructure:"route_optimizer"`

	// Operator escalation
	SlackBotToken string `mapstructure:"slack_bot_token"`

	// Signing secret for offer accept/decline action tokens
	ActionTokenSecret string `mapstructure:"action_token_secret"`

	// Firebase service account key path for direct FCM
	FirebaseCredentialsFile string `mapstructure:"firebase_credentials_file"`
}

type DispatchConfig struct {
	// Window within which duplicate triggers for the same correlation
	// key are suppressed
	IdempotencyWindowMinutes int `mapstructure:"idempotency_window_minutes"`
	// How long a cleaner has to answer an offer before it expires
	OfferTimeoutMinutes int `mapstructure:"offer_timeout_minutes"`
	// How often the timeout worker sweeps pending assignments
	TimeoutSweepSeconds int `mapstructure:"timeout_sweep_seconds"`
	// Cron expressions for the scheduled workers
	ManifestCron  string `mapstructure:"manifest_cron"`
	RecomputeCron string `mapstructure:"recompute_cron"`
}

type PushGatewayConfig struct {
	URL        string `mapstructure:"url"`
	APIToken   string `mapstructure:"api_token"`
	InstanceID string `mapstructure:"instance_id"`
}

type SMSGatewayConfig struct {
	URL        string `mapstructure:"url"`
	APIToken   string `mapstructure:"api_token"`
	FromNumber string `mapstructure:"from_number"`
}

type RouteOptimizerConfig struct {
	URL      string `mapstructure:"url"`
	APIToken string `mapstructure:"api_token"`
}

// App holds the global config instance
var App Config

// IdempotencyWindow returns the configured guard window as a duration.
func (c *Config) IdempotencyWindow() time.Duration {
	return time.Duration(c.Dispatch.IdempotencyWindowMinutes) * time.Minute
}

// OfferTimeout returns the configured offer response window as a duration.
func (c *Config) OfferTimeout() time.Duration {
	return time.Duration(c.Dispatch.OfferTimeoutMinutes) * time.Minute
}

// SweepInterval returns how often the timeout worker scans pending offers.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Dispatch.TimeoutSweepSeconds) * time.Second
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(path string) error {
	// Auto-load .env file if present so 'go run' works without manually
	// exporting env vars; absence is not an error.
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded .env file")
	}

	v := viper.New()

	// Defaults
	v.SetDefault("port", "8080")
	v.SetDefault("dispatch.idempotency_window_minutes", 2)
	v.SetDefault("dispatch.offer_timeout_minutes", 15)
	v.SetDefault("dispatch.timeout_sweep_seconds", 30)
	v.SetDefault("dispatch.manifest_cron", "0 18 * * *")
	v.SetDefault("dispatch.recompute_cron", "30 4 * * *")

	// Config file settings
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("fieldops")
		v.SetConfigType("yaml")
	}

	// Environment variable settings
	v.SetEnvPrefix("fieldops")

	// Bind standard environment variables (Docker/deploy compatibility)
	_ = v.BindEnv("database_url", "DATABASE_URL")
	_ = v.BindEnv("redis_url", "REDIS_URL")
	_ = v.BindEnv("port", "PORT")

	_ = v.BindEnv("slack_bot_token", "SLACK_BOT_TOKEN")
	_ = v.BindEnv("action_token_secret", "ACTION_TOKEN_SECRET")
	_ = v.BindEnv("firebase_credentials_file", "FIREBASE_CREDENTIALS_FILE")

	_ = v.BindEnv("push_gateway.url", "PUSH_GATEWAY_URL")
	_ = v.BindEnv("push_gateway.api_token", "PUSH_GATEWAY_TOKEN")
	_ = v.BindEnv("push_gateway.instance_id", "PUSH_GATEWAY_INSTANCE_ID")

	_ = v.BindEnv("sms_gateway.url", "SMS_GATEWAY_URL")
	_ = v.BindEnv("sms_gateway.api_token", "SMS_GATEWAY_TOKEN")
	_ = v.BindEnv("sms_gateway.from_number", "SMS_FROM_NUMBER")

	_ = v.BindEnv("route_optimizer.url", "ROUTE_OPTIMIZER_URL")
	_ = v.BindEnv("route_optimizer.api_token", "ROUTE_OPTIMIZER_TOKEN")

	v.AutomaticEnv()

	// 1. Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and environment variables")
		} else {
			return err
		}
	} else {
		log.Printf("Loaded config from: %s", v.ConfigFileUsed())
	}

	// 2. Unmarshal into struct
	return v.Unmarshal(&App)
}

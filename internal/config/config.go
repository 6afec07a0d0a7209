package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	base "github.com/J9-tops/secure-wallet-api/libs/config"
)

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type PaystackConfig struct {
	SecretKey string
	BaseURL   string
}

type KafkaConfig struct {
	Brokers     []string
	EventsTopic string
	DLQTopic    string
}

type RateLimitRedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type RateLimitConfig struct {
	LoginLimit   int
	WebhookLimit int
	Window       time.Duration
	Redis        RateLimitRedisConfig
}

type Config struct {
	App             base.AppConfig
	JWTSecret       string
	JWTIssuer       string
	SessionTokenTTL time.Duration
	DB              DBConfig
	Google          GoogleOAuthConfig
	Paystack        PaystackConfig
	Kafka           KafkaConfig
	RateLimit       RateLimitConfig
}

func Load() (*Config, error) {
	appCfg, err := base.Load(os.Getenv("WALLET_CONFIG"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App:             *appCfg,
		JWTSecret:       envString("WALLET_JWT_SECRET", ""),
		JWTIssuer:       envString("WALLET_JWT_ISSUER", "walletd"),
		SessionTokenTTL: envDuration("WALLET_SESSION_TOKEN_TTL", 24*time.Hour),
		DB: DBConfig{
			Host:     envString("POSTGRES_HOST", "localhost"),
			Port:     envInt("POSTGRES_PORT", 5432),
			Name:     envString("POSTGRES_DB", "wallet"),
			User:     envString("POSTGRES_USER", "wallet"),
			Password: envString("POSTGRES_PASSWORD", "wallet"),
			SSLMode:  envString("POSTGRES_SSLMODE", "disable"),
		},
		Google: GoogleOAuthConfig{
			ClientID:     envString("WALLET_GOOGLE_CLIENT_ID", ""),
			ClientSecret: envString("WALLET_GOOGLE_CLIENT_SECRET", ""),
			RedirectURL:  envString("WALLET_GOOGLE_REDIRECT_URL", "http://localhost:8000/auth/google/callback"),
		},
		Paystack: PaystackConfig{
			SecretKey: envString("WALLET_PAYSTACK_SECRET_KEY", ""),
			BaseURL:   envString("WALLET_PAYSTACK_BASE_URL", ""),
		},
		Kafka: KafkaConfig{
			Brokers:     envStrings("WALLET_KAFKA_BROKERS", nil),
			EventsTopic: envString("WALLET_KAFKA_EVENTS_TOPIC", "wallet.transactions"),
			DLQTopic:    envString("WALLET_KAFKA_DLQ_TOPIC", "wallet.transactions.dlq"),
		},
		RateLimit: RateLimitConfig{
			LoginLimit:   envInt("WALLET_LOGIN_RATE_LIMIT", 10),
			WebhookLimit: envInt("WALLET_WEBHOOK_RATE_LIMIT", 120),
			Window:       envDuration("WALLET_RATE_WINDOW", 1*time.Minute),
			Redis: RateLimitRedisConfig{
				Addr:     envString("WALLET_RATE_LIMIT_REDIS_ADDR", ""),
				Password: envString("WALLET_RATE_LIMIT_REDIS_PASSWORD", ""),
				DB:       envInt("WALLET_RATE_LIMIT_REDIS_DB", 0),
				Prefix:   envString("WALLET_RATE_LIMIT_REDIS_PREFIX", "wallet:rl:"),
			},
		},
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("WALLET_JWT_SECRET must be set")
	}
	if cfg.Paystack.SecretKey == "" {
		return nil, fmt.Errorf("WALLET_PAYSTACK_SECRET_KEY must be set")
	}

	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envStrings(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		return splitComma(v)
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitComma(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

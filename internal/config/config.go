// Package config содержит логику чтения конфигурации платформы курсов.
package config

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	defaultRunAddress     = "localhost:8080"
	defaultPublicURL      = "http://localhost:8080"
	defaultCurrency       = "usd"
	defaultPaymentTimeout = 10 * time.Second
	defaultPendingTTL     = time.Hour
	defaultSweepSchedule  = "@every 5m"
)

// Config содержит параметры конфигурации платформы курсов.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	PublicURL   string `env:"PUBLIC_URL"`

	PaymentAPIURL        string        `env:"PAYMENT_API_URL"`
	PaymentSecretKey     string        `env:"PAYMENT_SECRET_KEY"`
	PaymentWebhookSecret string        `env:"PAYMENT_WEBHOOK_SECRET"`
	PaymentCurrency      string        `env:"PAYMENT_CURRENCY"`
	PaymentTimeout       time.Duration `env:"PAYMENT_TIMEOUT"`

	AuthSecret string `env:"AUTH_SECRET"`
	AdminLogin string `env:"ADMIN_LOGIN"`

	PendingTTL    time.Duration `env:"PENDING_TTL"`
	SweepSchedule string        `env:"SWEEP_SCHEDULE"`
}

// PaymentsEnabled сообщает, настроен ли платёжный провайдер.
func (c *Config) PaymentsEnabled() bool {
	return c.PaymentAPIURL != "" && c.PaymentSecretKey != ""
}

// Parse считывает конфигурацию из файла .env, флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	// .env необязателен
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envPaymentAPIURL := cfg.PaymentAPIURL
	envPublicURL := cfg.PublicURL

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.PaymentAPIURL, "p", "", "payment provider API address")
	flag.StringVar(&cfg.PublicURL, "u", defaultPublicURL, "public base URL used in checkout redirects")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envPaymentAPIURL != "" {
		cfg.PaymentAPIURL = envPaymentAPIURL
	}
	if envPublicURL != "" {
		cfg.PublicURL = envPublicURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.PublicURL == "" {
		cfg.PublicURL = defaultPublicURL
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")

	if cfg.PaymentCurrency == "" {
		cfg.PaymentCurrency = defaultCurrency
	}
	cfg.PaymentCurrency = strings.ToLower(cfg.PaymentCurrency)
	if cfg.PaymentTimeout <= 0 {
		cfg.PaymentTimeout = defaultPaymentTimeout
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = defaultPendingTTL
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = defaultSweepSchedule
	}

	return cfg, nil
}

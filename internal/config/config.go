package config

import (
	"fmt"

	"github.com/caarlos0/env/v6"
)

type Config struct {
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0:8080"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"DEBUG"`
	AdminAPIKey   string `env:"ADMIN_API_KEY"`
	JWTSecret     string `env:"JWT_SECRET"`
	PostgresConfig
	PaymentsConfig
}

func NewConfig() (*Config, error) {
	config := &Config{}

	err := env.Parse(config)
	if err != nil {
		err = fmt.Errorf("config.NewConfig: %w", err)
	}
	return config, err
}

type PostgresConfig struct {
	Conn            string `env:"POSTGRES_CONN" envDefault:"postgres://test:test@db:5432/test?sslmode=disable"`
	AutoMigrateUp   string `env:"AUTO_MIGRATE_UP" envDefault:"true"`
	AutoMigrateDown string `env:"AUTO_MIGRATE_DOWN" envDefault:"false"`
}

func NewPostgresConfig() (*PostgresConfig, error) {
	config := &PostgresConfig{}

	err := env.Parse(config)
	if err != nil {
		err = fmt.Errorf("config.NewPostgresConfig: %w", err)
	}
	return config, err
}

type PaymentsConfig struct {
	StripeKey         string  `env:"STRIPE_SECRET_KEY"`
	WebhookSecret     string  `env:"STRIPE_WEBHOOK_SECRET"`
	CommissionPercent float64 `env:"COMMISSION_PERCENT" envDefault:"15"`
	Currency          string  `env:"PAYMENT_CURRENCY" envDefault:"usd"`
}

func NewPaymentsConfig() (*PaymentsConfig, error) {
	config := &PaymentsConfig{}

	err := env.Parse(config)
	if err != nil {
		err = fmt.Errorf("config.NewPaymentsConfig: %w", err)
	}
	return config, err
}

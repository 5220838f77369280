// Package config содержит логику чтения конфигурации реферального леджера.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/referral-ledger/internal/model"
)

const (
	defaultRunAddress   = "localhost:8080"
	defaultProcessorURL = "https://api.stripe.com"
)

// Config содержит параметры конфигурации реферального леджера.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`

	AuthSecret   string `env:"AUTH_SECRET"`
	ServiceToken string `env:"CHECKOUT_SERVICE_TOKEN"`

	ProcessorURL string `env:"PROCESSOR_API_URL"`
	// Имена переменных с секретами процессора. Секреты читаются при каждом
	// обращении, поэтому ротация не требует перезапуска.
	ProcessorSecretVars []string `env:"PROCESSOR_SECRET_VARS" envSeparator:"," envDefault:"PROCESSOR_SECRET_KEY,STRIPE_SECRET_KEY"`
	WebhookSecretVars   []string `env:"WEBHOOK_SECRET_VARS" envSeparator:"," envDefault:"PROCESSOR_WEBHOOK_SECRET,STRIPE_WEBHOOK_SECRET"`

	MembershipURL   string `env:"MEMBERSHIP_API_URL"`
	MembershipToken string `env:"MEMBERSHIP_API_TOKEN"`
	EligibleLevels  string `env:"ELIGIBLE_LEVELS"`

	Discount   decimal.Decimal `env:"REFERRAL_DISCOUNT" envDefault:"5.00"`
	Reward     decimal.Decimal `env:"REFERRAL_REWARD" envDefault:"10.00"`
	CodePrefix string          `env:"REFERRAL_CODE_PREFIX" envDefault:"ECOS"`

	Currency       string        `env:"PAYOUT_CURRENCY" envDefault:"eur"`
	AccountCountry string        `env:"CONNECT_ACCOUNT_COUNTRY" envDefault:"DE"`
	SweepInterval  time.Duration `env:"BALANCE_SWEEP_INTERVAL" envDefault:"24h"`

	ShareBaseURL   string   `env:"SHARE_BASE_URL"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	TelegramToken  string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID int64  `env:"TELEGRAM_CHAT_ID"`

	levels []model.LevelRef
}

// Levels возвращает разобранный список уровней членства, дающих право на код.
func (c *Config) Levels() []model.LevelRef {
	return c.levels
}

// Parse считывает конфигурацию из .env, флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg, err := parseEnv()
	if err != nil {
		return nil, err
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envProcessorURL := cfg.ProcessorURL
	envMembershipURL := cfg.MembershipURL

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.ProcessorURL, "p", defaultProcessorURL, "payment processor API address")
	flag.StringVar(&cfg.MembershipURL, "m", "", "membership service address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envProcessorURL != "" {
		cfg.ProcessorURL = envProcessorURL
	}
	if envMembershipURL != "" {
		cfg.MembershipURL = envMembershipURL
	}

	cfg.applyDefaults()
	return cfg, nil
}

// ParseEnv считывает конфигурацию только из .env и окружения. Используется утилитами,
// у которых собственные флаги.
func ParseEnv() (*Config, error) {
	cfg, err := parseEnv()
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func parseEnv() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	levels, err := model.ParseLevelRefs(cfg.EligibleLevels)
	if err != nil {
		return nil, fmt.Errorf("parse ELIGIBLE_LEVELS: %w", err)
	}
	cfg.levels = levels

	if cfg.Discount.IsNegative() || cfg.Reward.IsNegative() {
		return nil, fmt.Errorf("referral discount and reward must not be negative")
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("BALANCE_SWEEP_INTERVAL must be positive")
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RunAddress == "" {
		c.RunAddress = defaultRunAddress
	}
	if c.ProcessorURL == "" {
		c.ProcessorURL = defaultProcessorURL
	}
}

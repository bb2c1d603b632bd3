package app

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// StorageDriver выбирает реализацию хранилища.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// TokenStoreDriver выбирает хранилище refresh-токенов.
type TokenStoreDriver string

const (
	TokenStoreMemory   TokenStoreDriver = "memory"
	TokenStorePostgres TokenStoreDriver = "postgres"
	TokenStoreRedis    TokenStoreDriver = "redis"
)

// Config описывает настройки запуска сервиса. Заполняется из переменных
// окружения с префиксом POS_ поверх значений DefaultConfig.
type Config struct {
	MetricsAddr string `envconfig:"METRICS_ADDR"`

	StorageDriver       StorageDriver `envconfig:"STORAGE_DRIVER"`
	PostgresDSN         string        `envconfig:"POSTGRES_DSN"`
	PostgresAutoMigrate bool          `envconfig:"POSTGRES_AUTO_MIGRATE"`

	TokenStore TokenStoreDriver `envconfig:"TOKEN_STORE"`
	RedisAddr  string           `envconfig:"REDIS_ADDR"`

	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`

	Branch             string `envconfig:"BRANCH"`
	TaxRate            string `envconfig:"TAX_RATE"`
	AllowNegativeStock bool   `envconfig:"ALLOW_NEGATIVE_STOCK"`

	AccessSecret  string        `envconfig:"ACCESS_SECRET"`
	RefreshSecret string        `envconfig:"REFRESH_SECRET"`
	AccessTTL     time.Duration `envconfig:"ACCESS_TTL"`
	RefreshTTL    time.Duration `envconfig:"REFRESH_TTL"`
	TokenIssuer   string        `envconfig:"TOKEN_ISSUER"`

	AuditPollInterval time.Duration `envconfig:"AUDIT_POLL_INTERVAL"`
	AuditBatchSize    int           `envconfig:"AUDIT_BATCH_SIZE"`

	TokenCleanupInterval  time.Duration `envconfig:"TOKEN_CLEANUP_INTERVAL"`
	TokenCleanupBatchSize int           `envconfig:"TOKEN_CLEANUP_BATCH_SIZE"`

	BootstrapAdminUsername string `envconfig:"BOOTSTRAP_ADMIN_USERNAME"`
	BootstrapAdminPassword string `envconfig:"BOOTSTRAP_ADMIN_PASSWORD"`
}

// DefaultConfig возвращает безопасные значения для локального запуска.
func DefaultConfig() Config {
	return Config{
		MetricsAddr:           ":9090",
		StorageDriver:         StorageDriverMemory,
		PostgresAutoMigrate:   true,
		TokenStore:            TokenStoreMemory,
		Branch:                "MAIN",
		TaxRate:               "0.20",
		AccessTTL:             15 * time.Minute,
		RefreshTTL:            720 * time.Hour,
		TokenIssuer:           "pos",
		AuditPollInterval:     time.Second,
		AuditBatchSize:        100,
		TokenCleanupInterval:  10 * time.Minute,
		TokenCleanupBatchSize: 500,
	}
}

// LoadConfig накладывает переменные окружения POS_* на значения по умолчанию.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := envconfig.Process("pos", &cfg); err != nil {
		return Config{}, fmt.Errorf("read environment config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность конфигурации до старта зависимостей.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres storage driver requires POS_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}

	switch c.TokenStore {
	case TokenStoreMemory:
	case TokenStorePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres token store requires POS_POSTGRES_DSN")
		}
	case TokenStoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("redis token store requires POS_REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unknown token store %q", c.TokenStore)
	}

	if _, err := c.ParsedTaxRate(); err != nil {
		return err
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}
	return nil
}

// ParsedTaxRate разбирает налоговую ставку из конфигурации.
func (c Config) ParsedTaxRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.TaxRate)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse tax rate %q: %w", c.TaxRate, err)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Decimal{}, fmt.Errorf("tax rate %s out of range [0, 1]", rate)
	}
	return rate, nil
}

package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/service/invoice"
	"github.com/vladislavdragonenkov/pos/internal/service/ledger"
	"github.com/vladislavdragonenkov/pos/internal/service/refund"
	"github.com/vladislavdragonenkov/pos/internal/service/retry"
	"github.com/vladislavdragonenkov/pos/internal/service/session"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
	"github.com/vladislavdragonenkov/pos/internal/storage/postgres"
	"github.com/vladislavdragonenkov/pos/internal/storage/redisstore"
)

// Dependencies содержит собранные зависимости приложения.
type Dependencies struct {
	Store    domain.Store
	Tokens   domain.TokenRepository
	Users    domain.UserRepository
	Ledger   *ledger.Engine
	Invoices *invoice.Engine
	Refunds  *refund.Engine
	Sessions *session.Manager
	Logger   *log.Entry

	pgStore     *postgres.Store
	redisClient *redis.Client
}

// NewDependencies собирает хранилища и движки согласно конфигурации.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps := &Dependencies{Logger: logger}

	if err := deps.initStorage(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if err := deps.initTokenStore(ctx, cfg, logger); err != nil {
		deps.Close()
		return nil, err
	}

	taxRate, err := cfg.ParsedTaxRate()
	if err != nil {
		deps.Close()
		return nil, err
	}

	deps.Ledger = ledger.NewEngine(deps.Store, cfg.AllowNegativeStock, logger.WithField("component", "ledger"))
	deps.Invoices = invoice.NewEngine(deps.Store, invoice.Config{
		Branch:             cfg.Branch,
		TaxRate:            taxRate,
		AllowNegativeStock: cfg.AllowNegativeStock,
		Retry:              retry.DefaultConfig(),
	}, logger.WithField("component", "invoice"))
	deps.Refunds = refund.NewEngine(deps.Store, retry.DefaultConfig(), logger.WithField("component", "refund"))
	deps.Sessions = session.NewManager(deps.Users, deps.Tokens, deps.Store, session.Config{
		AccessSecret:  []byte(cfg.AccessSecret),
		RefreshSecret: []byte(cfg.RefreshSecret),
		AccessTTL:     cfg.AccessTTL,
		RefreshTTL:    cfg.RefreshTTL,
		Issuer:        cfg.TokenIssuer,
	}, logger.WithField("component", "session"))

	return deps, nil
}

func (d *Dependencies) initStorage(ctx context.Context, cfg Config, logger *log.Entry) error {
	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return fmt.Errorf("apply migrations: %w", err)
			}
		}
		d.pgStore = store
		d.Store = store
		d.Users = postgres.NewUserRepository(store)
		logger.Info("postgres storage initialized")
	case StorageDriverMemory:
		d.Store = memory.NewStore()
		d.Users = memory.NewUserRepository()
		logger.Info("in-memory storage initialized")
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
	return nil
}

func (d *Dependencies) initTokenStore(ctx context.Context, cfg Config, logger *log.Entry) error {
	switch cfg.TokenStore {
	case TokenStoreRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("ping redis: %w", err)
		}
		d.redisClient = client
		d.Tokens = redisstore.NewTokenRepository(client)
		logger.Info("redis token store initialized")
	case TokenStorePostgres:
		if d.pgStore == nil {
			store, err := postgres.Open(ctx, cfg.PostgresDSN)
			if err != nil {
				return fmt.Errorf("open postgres for token store: %w", err)
			}
			if cfg.PostgresAutoMigrate {
				if err := store.MigrateUp(ctx, 0); err != nil {
					_ = store.Close()
					return fmt.Errorf("apply migrations: %w", err)
				}
			}
			d.pgStore = store
		}
		d.Tokens = postgres.NewTokenRepository(d.pgStore)
		logger.Info("postgres token store initialized")
	case TokenStoreMemory:
		d.Tokens = memory.NewTokenRepository()
		logger.Info("in-memory token store initialized")
	default:
		return fmt.Errorf("unknown token store %q", cfg.TokenStore)
	}
	return nil
}

// Close освобождает внешние подключения.
func (d *Dependencies) Close() {
	if d.redisClient != nil {
		if err := d.redisClient.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close redis client")
		}
	}
	if d.pgStore != nil {
		if err := d.pgStore.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close postgres store")
		}
	}
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const pingTimeout = 5 * time.Second

// poolSettings — параметры пула соединений database/sql.
type poolSettings struct {
	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration
	connMaxIdleTime time.Duration
}

func defaultPoolSettings() poolSettings {
	return poolSettings{
		maxOpenConns:    20,
		maxIdleConns:    10,
		connMaxLifetime: time.Hour,
		connMaxIdleTime: 10 * time.Minute,
	}
}

// OpenOption настраивает подключение при открытии.
type OpenOption func(*poolSettings)

// WithMaxOpenConns ограничивает количество одновременных соединений.
func WithMaxOpenConns(n int) OpenOption {
	return func(p *poolSettings) {
		if n > 0 {
			p.maxOpenConns = n
		}
	}
}

// WithConnMaxLifetime задаёт максимальное время жизни соединения.
func WithConnMaxLifetime(d time.Duration) OpenOption {
	return func(p *poolSettings) {
		if d > 0 {
			p.connMaxLifetime = d
		}
	}
}

// Store — PostgreSQL-хранилище коммерческого ядра. Одно подключение
// обслуживает склад, счета, возвраты, аудит и учётные записи.
type Store struct {
	db *sql.DB
}

// Open открывает пул соединений через pgx stdlib-драйвер и проверяет,
// что база отвечает, прежде чем отдать Store вызывающему.
func Open(ctx context.Context, dsn string, opts ...OpenOption) (*Store, error) {
	pool := defaultPoolSettings()
	for _, opt := range opts {
		opt(&pool)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(pool.maxOpenConns)
	db.SetMaxIdleConns(pool.maxIdleConns)
	db.SetConnMaxLifetime(pool.connMaxLifetime)
	db.SetConnMaxIdleTime(pool.connMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{db: db}, nil
}

// DB возвращает raw SQL DB для репозиториев, работающих вне unit of work.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет доступность базы; используется health-чеками.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// Close закрывает пул соединений.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

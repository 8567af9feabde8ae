package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"notification-service/internal/config"
)

// PostgresDB wraps a pgx connection pool.
type PostgresDB struct {
	Pool *pgxpool.Pool
	cfg  config.DatabaseConfig
}

func NewPostgresDB(cfg config.DatabaseConfig) *PostgresDB {
	return &PostgresDB{cfg: cfg}
}

// Connect establishes the connection pool.
func (db *PostgresDB) Connect(ctx context.Context) error {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		db.cfg.User, db.cfg.Password, db.cfg.Host, db.cfg.Port, db.cfg.Database, db.cfg.SSLMode,
	)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("parse database config: %w", err)
	}

	poolCfg.MaxConns = int32(db.cfg.MaxConns)
	poolCfg.MinConns = int32(db.cfg.MinConns)
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("create connection pool: %w", err)
	}

	db.Pool = pool
	log.Info().
		Str("host", db.cfg.Host).
		Str("database", db.cfg.Database).
		Msg("[Database] Connected")

	return nil
}

// HealthCheck verifies the pool is alive and responsive.
func (db *PostgresDB) HealthCheck(ctx context.Context) error {
	if db.Pool == nil {
		return fmt.Errorf("database pool is not initialized")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.Pool.Ping(pingCtx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}

// Close shuts down the pool. Safe to call more than once.
func (db *PostgresDB) Close() {
	if db.Pool == nil {
		return
	}
	db.Pool.Close()
	db.Pool = nil
	log.Info().Msg("[Database] Connection pool closed")
}

// Package infrastructure provides database connection pool setup.
//
// The registration queue is the only relational state; it shares one
// pgxpool with anything else that needs the database.
package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"mintbind.io/mintbind/internal/config"
	"mintbind.io/mintbind/internal/pkg/logger"
)

// DatabaseClients contains the database clients.
type DatabaseClients struct {
	// Pool is the shared connection pool.
	Pool *pgxpool.Pool
}

// NewDatabaseClients creates the shared connection pool.
func NewDatabaseClients(ctx context.Context, cfg config.DatabaseConfig) (*DatabaseClients, error) {
	dsn := cfg.DSN()

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = time.Minute

	// Set UTC timezone on each new connection.
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET timezone = 'UTC'")
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("database connection pool created",
		zap.Int32("max_conns", cfg.MaxConns),
		zap.Int32("min_conns", cfg.MinConns),
	)

	return &DatabaseClients{Pool: pool}, nil
}

// AutoMigrate creates the registration queue table if it is missing.
// Only use in development; production should use managed migrations.
func (c *DatabaseClients) AutoMigrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS registration_queue (
	seq         BIGSERIAL PRIMARY KEY,
	identifier  TEXT        NOT NULL,
	owner       TEXT        NOT NULL,
	operation   CHAR(1)     NOT NULL,
	metadata    TEXT        NOT NULL,
	status      CHAR(1)     NOT NULL DEFAULT 'U',
	batch_id    TEXT        NOT NULL DEFAULT '',
	submit_time BIGINT      NOT NULL DEFAULT 0,
	message     TEXT        NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS registration_queue_identifier_idx
	ON registration_queue (identifier);
`
	if _, err := c.Pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("migrate registration queue: %w", err)
	}
	logger.Info("registration queue migration completed")
	return nil
}

// ConnStats reports (active, total) connection counts for status
// reporting.
func (c *DatabaseClients) ConnStats() (active, total int) {
	s := c.Pool.Stat()
	return int(s.AcquiredConns()), int(s.TotalConns())
}

// CloseIdle closes idle connections; the registration daemon calls
// this at the top of every pass so connections do not linger between
// long idle sleeps.
func (c *DatabaseClients) CloseIdle() {
	c.Pool.Reset()
}

// Close closes the connection pool.
func (c *DatabaseClients) Close() {
	if c.Pool != nil {
		c.Pool.Close()
	}
}

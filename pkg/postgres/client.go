package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"github.com/duskfall/duskfall/pkg/config"
)

// postgresClient wraps a Postgres connection pool
type postgresClient struct {
	db     *sql.DB
	cfg    *config.Config
	logger *slog.Logger
}

// NewClient creates a new Postgres client
func NewClient(cfg *config.Config, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &postgresClient{
		cfg:    cfg,
		logger: logger,
	}
}

// Connect establishes connection to the database
func (c *postgresClient) Connect(ctx context.Context) error {
	c.logger.Info("Connecting to Postgres",
		"host", c.cfg.PostgresHost,
		"port", c.cfg.PostgresPort,
		"database", c.cfg.PostgresDB)

	db, err := sql.Open("postgres", c.cfg.PostgresConnectionString())
	if err != nil {
		return fmt.Errorf("failed to open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(c.cfg.PostgresMaxConnections)
	db.SetMaxIdleConns(c.cfg.PostgresMaxIdleConns)
	db.SetConnMaxLifetime(c.cfg.PostgresConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	c.db = db
	c.logger.Info("Connected to Postgres")

	return nil
}

// Disconnect closes the Postgres connection
func (c *postgresClient) Disconnect() error {
	if c.db == nil {
		return nil
	}

	c.logger.Info("Disconnecting from Postgres")

	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close postgres connection: %w", err)
	}

	c.db = nil
	return nil
}

// Exec executes a query without returning rows
func (c *postgresClient) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if c.db == nil {
		return nil, fmt.Errorf("postgres client not connected")
	}
	return c.db.ExecContext(ctx, query, args...)
}

// Query executes a query that returns rows
func (c *postgresClient) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	if c.db == nil {
		return nil, fmt.Errorf("postgres client not connected")
	}
	return c.db.QueryContext(ctx, query, args...)
}

// QueryRow executes a query that returns a single row
func (c *postgresClient) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	if c.db == nil {
		// Return a row that errors when scanned
		return &sql.Row{}
	}
	return c.db.QueryRowContext(ctx, query, args...)
}

// IsConnected returns whether the client is connected
func (c *postgresClient) IsConnected() bool {
	return c.db != nil
}

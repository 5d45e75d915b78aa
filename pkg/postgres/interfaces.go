package postgres

import (
	"context"
	"database/sql"
)

// Client abstracts the Postgres connection used by the audit trail.
type Client interface {
	// Connect establishes a connection to the database
	Connect(ctx context.Context) error

	// Disconnect closes the connection
	Disconnect() error

	// Exec executes a query without returning any rows
	Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error)

	// Query executes a query that returns rows
	Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)

	// QueryRow executes a query that is expected to return at most one row
	QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row

	// IsConnected returns whether the client is connected
	IsConnected() bool
}

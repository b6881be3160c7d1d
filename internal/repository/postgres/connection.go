package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryConfig holds shared wiring for repository implementations.
type RepositoryConfig struct {
	Pool   *pgxpool.Pool
	Tables *TableNames
	Logger *slog.Logger
}

// TableNames holds environment-prefixed table names so dev/test/prod can share
// one database.
type TableNames struct {
	Chats string
}

// NewTableNames creates table names with the given prefix.
func NewTableNames(prefix string) *TableNames {
	return &TableNames{
		Chats: fmt.Sprintf("%schats", prefix),
	}
}

// CreateConnectionPool creates a pgx connection pool and verifies connectivity.
//
// Dynamic table prefixes interpolated with fmt.Sprintf are safe with prepared
// statements: the SQL string is fixed before it reaches the server, so each
// environment simply gets its own set of statements.
func CreateConnectionPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

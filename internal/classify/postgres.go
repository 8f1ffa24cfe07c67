package classify

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"billextract/internal/billerr"
	"billextract/pkg/models"
)

const lookupQuery = `SELECT multiple_locations FROM account_registry WHERE account_number = $1`

// rowQuerier is the part of *pgxpool.Pool the registry needs.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRegistry looks accounts up in the account_registry table. A row
// with multiple_locations = true is an MLB, false is an SLB.
type PostgresRegistry struct {
	db   rowQuerier
	pool *pgxpool.Pool
}

// NewPostgresRegistry connects to databaseURL and verifies the connection.
func NewPostgresRegistry(ctx context.Context, databaseURL string) (*PostgresRegistry, error) {
	const op = "NewPostgresRegistry"

	if databaseURL == "" {
		return nil, billerr.New(op, billerr.ErrConfiguration, "DATABASE_URL is required for the postgres classifier")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, billerr.New(op, billerr.ErrConfiguration, fmt.Sprintf("failed to create pool: %v", err))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, billerr.Transient(op, err, "database ping failed")
	}

	return &PostgresRegistry{db: pool, pool: pool}, nil
}

// Lookup implements Registry.
func (r *PostgresRegistry) Lookup(ctx context.Context, id string) (models.BillType, bool, error) {
	const op = "PostgresRegistry.Lookup"

	var multiple bool
	err := r.db.QueryRow(ctx, lookupQuery, id).Scan(&multiple)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, billerr.Transient(op, err, "registry query failed")
	}

	if multiple {
		return models.BillTypeMLB, true, nil
	}
	return models.BillTypeSLB, true, nil
}

// Close releases the connection pool.
func (r *PostgresRegistry) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

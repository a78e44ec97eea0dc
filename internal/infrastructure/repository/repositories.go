// Package repository implements the domain persistence contracts on
// PostgreSQL via database/sql over the pgx driver.
package repository

import (
	"context"
	"database/sql"
	"strings"
)

// querier is the subset of *sql.DB and *sql.Tx the repositories use, so
// each repository can run standalone or inside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func isDuplicateKey(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate key")
}

func joinAnd(clauses []string) string {
	return strings.Join(clauses, " AND ")
}

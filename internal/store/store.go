// Package store is the durable task store (spec §4.1): the single source of
// truth for masters, sub-tasks, backend instances and results. Every
// state-changing method is a single SQL statement, guarded by a WHERE clause
// that asserts the expected source state, and reports the affected row count
// so callers can detect "lost the race" without a second round-trip.
package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, following the sqlc
// convention of generating query methods against the narrowest interface
// they need.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Queries is the repository handle. It is safe for concurrent use; callers
// obtain one bound to the shared pool at startup and another, transient one
// per WithTx call.
type Queries struct {
	db DBTX
}

// New returns a Queries bound to db (a *pgxpool.Pool or a pgx.Tx).
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx runs fn inside a database transaction, rolling back on any
// returned error and committing otherwise.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(q *Queries) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(New(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

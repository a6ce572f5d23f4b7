// Package database handles all the lower level support for maintaining the
// ledger in a relational store. The store is sqlite, accessed through sqlx,
// and every multi-step mutation runs inside an atomic scope.
package database

import (
	"context"
	"fmt"
	"net/url"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// busy is the time to wait for a sqlite lock from another process, in ms.
const busy = 1000

// ErrNotFound is returned when a lookup finds no row.
var ErrNotFound = errors.New("not found")

// Config is the required properties to use the database.
type Config struct {
	Path     string
	InMemory bool
}

// DB manages the sqlite handle for the ledger.
type DB struct {
	*sqlx.DB
}

// Open opens the database and makes sure the schema exists.
func Open(cfg Config) (*DB, error) {
	dbx, err := sqlx.Open("sqlite3", uri(cfg))
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}

	// The ledger has a single writer. One connection keeps an in-memory
	// database alive and serializes access to it.
	dbx.SetMaxOpenConns(1)
	dbx.SetMaxIdleConns(1)
	dbx.SetConnMaxLifetime(0)

	db := DB{DB: dbx}
	if err := db.migrate(context.Background()); err != nil {
		dbx.Close()
		return nil, err
	}

	return &db, nil
}

// uri builds the sqlite connection string for the configuration.
func uri(cfg Config) string {
	q := make(url.Values)
	q.Set("_busy_timeout", fmt.Sprint(busy))
	q.Set("_foreign_keys", "on")
	q.Set("_txlock", "immediate")

	name := cfg.Path
	if cfg.InMemory || name == "" {
		name = uuid.NewString()
		q.Set("mode", "memory")
		q.Set("cache", "shared")
	}

	return "file:" + name + "?" + q.Encode()
}

// migrate creates any table or index that does not exist yet.
func (db *DB) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "migrate: %s", stmt)
		}
	}

	return nil
}

// Reset removes every row from the ledger tables.
func (db *DB) Reset(ctx context.Context) error {
	return db.Atomic(ctx, "reset", func(ctx context.Context) error {
		ext := db.Ext(ctx)
		for _, table := range resetOrder {
			if _, err := ext.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return errors.Wrapf(err, "reset: %s", table)
			}
		}
		return nil
	})
}

// =============================================================================

type ctxKey int

const scopeKey ctxKey = 1

// scope is the open transaction carried by a context.
type scope struct {
	tx    *sqlx.Tx
	depth int
}

// Ext returns the executor bound to the context: the open transaction of an
// atomic scope when there is one, the database handle otherwise.
func (db *DB) Ext(ctx context.Context) sqlx.ExtContext {
	if s, ok := ctx.Value(scopeKey).(*scope); ok {
		return s.tx
	}
	return db.DB
}

// InScope reports whether the context carries an atomic scope.
func InScope(ctx context.Context) bool {
	_, ok := ctx.Value(scopeKey).(*scope)
	return ok
}

// Atomic executes fn inside a database transaction. If fn returns an error
// the transaction is rolled back, otherwise it is committed. When ctx
// already carries a scope, fn runs under a savepoint of the outer
// transaction so that its own writes are still all-or-nothing.
func (db *DB) Atomic(ctx context.Context, fnDescription string, fn func(ctx context.Context) error) (err error) {
	if s, ok := ctx.Value(scopeKey).(*scope); ok {
		return db.savepoint(ctx, s, fnDescription, fn)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrapf(err, "%s: begin", fnDescription)
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(context.WithValue(ctx, scopeKey, &scope{tx: tx})); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.CombineErrors(err, errors.Wrapf(rbErr, "%s: rollback", fnDescription))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "%s: commit", fnDescription)
	}

	return nil
}

// savepoint runs fn inside a named savepoint of the outer transaction.
func (db *DB) savepoint(ctx context.Context, outer *scope, fnDescription string, fn func(ctx context.Context) error) error {
	inner := scope{tx: outer.tx, depth: outer.depth + 1}
	name := fmt.Sprintf("sp%d", inner.depth)

	if _, err := outer.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return errors.Wrapf(err, "%s: savepoint", fnDescription)
	}

	if err := fn(context.WithValue(ctx, scopeKey, &inner)); err != nil {
		if _, rbErr := outer.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.CombineErrors(err, errors.Wrapf(rbErr, "%s: rollback to savepoint", fnDescription))
		}
		if _, rlErr := outer.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); rlErr != nil {
			return errors.CombineErrors(err, errors.Wrapf(rlErr, "%s: release savepoint", fnDescription))
		}
		return err
	}

	if _, err := outer.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return errors.Wrapf(err, "%s: release savepoint", fnDescription)
	}

	return nil
}

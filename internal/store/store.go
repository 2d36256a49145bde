// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store provides the relational store for job applications, ingested
// emails, status history and the sync cursor, and owns the reconciliation
// (match-then-upsert) algorithm.
//
// The store runs on SQLite (modernc.org/sqlite) for local use or on Postgres
// (pgx) when given a postgres:// URL. Both share one schema and one set of
// queries written in the common SQL subset.
package store

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const (
	driverSQLite   = "sqlite"
	driverPostgres = "pgx"

	// timeLayout is fixed-width so stored timestamps sort lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

func init() {
	sqlx.BindDriver(driverSQLite, sqlx.QUESTION)
}

// OpError reports which store operation failed. Every error returned by the
// store is an *OpError.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string { return "store: " + e.Op + ": " + e.Err.Error() }

func (e *OpError) Unwrap() error { return e.Err }

func opErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Err: err}
}

// Store is the durable entity store.
type Store struct {
	db     *sqlx.DB
	driver string
	now    func() time.Time
}

// Open connects to the database named by dsn and applies pending migrations.
// A postgres:// or postgresql:// URL selects Postgres; anything else is
// treated as a SQLite file path (":memory:" for an in-memory database).
func Open(ctx context.Context, dsn string) (*Store, error) {
	driver, source := resolveDSN(dsn)

	db, err := sqlx.Open(driver, source)
	if err != nil {
		return nil, opErr("open", err)
	}

	if driver == driverSQLite {
		// One connection: keeps :memory: databases alive and makes this
		// process the single writer.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, opErr("ping", err)
	}

	s := &Store{
		db:     db,
		driver: driver,
		now:    func() time.Time { return time.Now().UTC() },
	}
	if err := s.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("store initialised", "driver", driver)
	return s, nil
}

func resolveDSN(dsn string) (driver, source string) {
	dsn = strings.TrimSpace(dsn)
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return driverPostgres, dsn
	}
	path := strings.TrimPrefix(dsn, "sqlite://")
	return driverSQLite, path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return opErr("ping", s.db.PingContext(ctx))
}

// Tx is one atomic unit of store writes.
type Tx struct {
	tx  *sqlx.Tx
	now time.Time
}

// WithTx runs fn inside a transaction, committing if fn returns nil and
// rolling back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return opErr("begin", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{tx: sqlTx, now: s.now()}); err != nil {
		return err
	}
	return opErr("commit", sqlTx.Commit())
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
	Rebind(string) string
}

// named expands :name parameters (which may repeat) into the driver's
// positional form.
func named(q queryer, query string, arg map[string]any) (string, []any, error) {
	expanded, args, err := sqlx.Named(query, arg)
	if err != nil {
		return "", nil, err
	}
	return q.Rebind(expanded), args, nil
}

func nullable(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func fromNull(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Package sqlstore implements store.Backend over database/sql for SQLite
// and PostgreSQL.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/jacentio/innkeeper/store"
)

// Config holds configuration for a DB.
type Config struct {
	// Dialect selects the database engine.
	// Default: SQLite()
	Dialect Dialect

	// Logger receives statement diagnostics.
	// Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns the SQLite configuration.
func DefaultConfig() Config {
	return Config{Dialect: SQLite(), Logger: slog.Default()}
}

func (c *Config) validate() {
	if c.Dialect == nil {
		c.Dialect = SQLite()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn runs reads against a database or a transaction.
type conn struct {
	q       querier
	dialect Dialect
	log     *slog.Logger
}

// Select implements store.Executor.
func (c conn) Select(ctx context.Context, sel store.Select) ([]store.Row, error) {
	stmt, args := renderSelect(c.dialect, sel)
	c.log.Debug("select", "sql", stmt, "args", len(args))
	rows, err := c.q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", sel.Table, err)
	}
	return scanRows(rows, sel.Columns)
}

// Count implements store.Executor.
func (c conn) Count(ctx context.Context, table string, where store.Cond) (int64, error) {
	stmt, args := renderCount(c.dialect, table, where)
	c.log.Debug("count", "sql", stmt, "args", len(args))
	var n int64
	if err := c.q.QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// NextValue implements store.Executor.
func (c conn) NextValue(ctx context.Context, sequence string) (int64, error) {
	n, err := c.dialect.nextValue(ctx, c.q, sequence)
	if err != nil {
		return 0, fmt.Errorf("next value of %s: %w", sequence, err)
	}
	return n, nil
}

// DB is a store.Backend over a database/sql pool.
type DB struct {
	conn
	db *sql.DB
}

// Open opens a database with the configured dialect's driver and checks
// the connection.
func Open(ctx context.Context, dsn string, cfg Config) (*DB, error) {
	cfg.validate()
	db, err := sql.Open(cfg.Dialect.Name(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Dialect.Name(), err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Dialect.Name(), err)
	}
	return New(db, cfg), nil
}

// SQLiteDSN returns the data source name for a SQLite database file with
// foreign keys enforced, WAL journaling and immediate write transactions.
func SQLiteDSN(path string) string {
	return "file:" + path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=10000&_txlock=immediate"
}

// OpenSQLite opens a SQLite database file with the default configuration.
func OpenSQLite(ctx context.Context, path string) (*DB, error) {
	if path == "" {
		return nil, errors.New("open sqlite: path is empty")
	}
	return Open(ctx, SQLiteDSN(path), Config{Dialect: SQLite()})
}

// New wraps an open pool.
func New(db *sql.DB, cfg Config) *DB {
	cfg.validate()
	return &DB{conn: conn{q: db, dialect: cfg.Dialect, log: cfg.Logger}, db: db}
}

// SQL returns the underlying pool.
func (d *DB) SQL() *sql.DB { return d.db }

// Dialect returns the database dialect.
func (d *DB) Dialect() Dialect { return d.dialect }

// Close closes the pool.
func (d *DB) Close() error { return d.db.Close() }

// Capabilities implements store.Backend.
func (d *DB) Capabilities() store.Capabilities { return d.dialect.Capabilities() }

// Begin implements store.Backend.
func (d *DB) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{conn: conn{q: tx, dialect: d.dialect, log: d.log}, tx: tx}, nil
}

// AdvanceSequence moves a sequence so that it never returns a value at or
// below atLeast.
func (d *DB) AdvanceSequence(ctx context.Context, sequence string, atLeast int64) error {
	if err := d.dialect.setSequence(ctx, d.db, sequence, atLeast); err != nil {
		return fmt.Errorf("advance %s: %w", sequence, err)
	}
	return nil
}

// Tx is one database transaction.
type Tx struct {
	conn
	tx *sql.Tx
}

// Commit implements store.Tx.
func (t *Tx) Commit() error { return t.tx.Commit() }

// Rollback implements store.Tx.
func (t *Tx) Rollback() error { return t.tx.Rollback() }

const batchSavepoint = "innkeeper_batch"

// Apply implements store.Tx. Writes run in order, each after its reference
// checks. An atomic batch stops at the first conflicting write and undoes
// the writes before it.
func (t *Tx) Apply(ctx context.Context, b store.Batch) ([]store.WriteResult, error) {
	if b.Atomic {
		if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+batchSavepoint); err != nil {
			return nil, fmt.Errorf("savepoint: %w", err)
		}
	}
	results := make([]store.WriteResult, 0, len(b.Writes))
	for _, w := range b.Writes {
		if err := t.checks(ctx, w); err != nil {
			return nil, err
		}
		r, err := t.write(ctx, w)
		if err != nil {
			return nil, t.translate(w, err)
		}
		results = append(results, r)
		if b.Atomic && w.Op != store.OpInsert && r.Affected == 0 {
			if _, err := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+batchSavepoint); err != nil {
				return nil, fmt.Errorf("rollback to savepoint: %w", err)
			}
			return results, nil
		}
	}
	if b.Atomic {
		if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+batchSavepoint); err != nil {
			return nil, fmt.Errorf("release savepoint: %w", err)
		}
	}
	return results, nil
}

func (t *Tx) checks(ctx context.Context, w store.Write) error {
	for _, c := range w.Checks {
		found := false
		for _, table := range c.Tables {
			stmt, args := renderCheck(t.dialect, table, c.Column, c.Value)
			var one int
			err := t.q.QueryRowContext(ctx, stmt, args...).Scan(&one)
			if err == nil {
				found = true
				break
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("check %s: %w", table, err)
			}
		}
		if found != c.Exists {
			return &store.IntegrityError{Kind: w.Kind, Key: w.FullKey(), Reason: c.Reason}
		}
	}
	return nil
}

func (t *Tx) write(ctx context.Context, w store.Write) (store.WriteResult, error) {
	if w.Routine != nil {
		t.log.Debug("call routine", "routine", w.Routine.Name, "kind", w.Kind, "op", w.Op)
		row, n, err := t.dialect.callRoutine(ctx, t.q, w.Routine)
		if err != nil {
			return store.WriteResult{}, err
		}
		r := store.WriteResult{Affected: n, Returned: row}
		if tok, ok := row[w.TokenColumn].([]byte); ok && w.TokenColumn != "" {
			r.Token = store.Token(tok)
		}
		return r, nil
	}
	stmt, args := renderWrite(t.dialect, w)
	t.log.Debug("write", "sql", stmt, "args", len(args))
	if w.TokenColumn != "" && w.Op != store.OpDelete {
		var tok []byte
		err := t.q.QueryRowContext(ctx, stmt, args...).Scan(&tok)
		if errors.Is(err, sql.ErrNoRows) {
			return store.WriteResult{}, nil
		}
		if err != nil {
			return store.WriteResult{}, err
		}
		return store.WriteResult{Affected: 1, Token: store.Token(tok)}, nil
	}
	res, err := t.q.ExecContext(ctx, stmt, args...)
	if err != nil {
		return store.WriteResult{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return store.WriteResult{}, err
	}
	return store.WriteResult{Affected: n}, nil
}

// translate maps driver constraint errors onto the engine's error types,
// filling in the write's kind and key.
func (t *Tx) translate(w store.Write, err error) error {
	mapped := t.dialect.translate(err)
	switch e := mapped.(type) {
	case *store.IntegrityError:
		e.Kind, e.Key = w.Kind, w.FullKey()
	case *store.ValidationError:
		e.Kind = w.Kind
	default:
		return fmt.Errorf("%s %s: %w", w.Op, w.Kind, err)
	}
	return mapped
}

// scanRows reads every row into normalized storage values and closes rows.
func scanRows(rows *sql.Rows, cols []store.ColumnRef) ([]store.Row, error) {
	defer func() { _ = rows.Close() }()
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	types := make(map[string]store.ColumnType, len(cols))
	for _, c := range cols {
		types[c.Name] = c.Type
	}
	var out []store.Row
	for rows.Next() {
		raw := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(store.Row, len(names))
		for i, name := range names {
			t, ok := types[name]
			if !ok {
				continue
			}
			v, err := store.Normalize(t, raw[i])
			if err != nil {
				return nil, &store.ConversionError{Column: name, Value: raw[i], Err: err}
			}
			row[name] = v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

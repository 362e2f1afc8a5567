package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/jacentio/innkeeper/internal/ident"
	"github.com/jacentio/innkeeper/store"
)

// Dialect adapts statement rendering, token generation, sequences, routine
// invocation and error translation to one database engine.
type Dialect interface {
	// Name is the database/sql driver name.
	Name() string
	Placeholder(n int) string
	// NewToken is the SQL expression producing a fresh concurrency token.
	NewToken() string
	ColumnType(t store.ColumnType, maxLen int) string
	Capabilities() store.Capabilities

	paging(limit, offset int) string
	nextValue(ctx context.Context, q querier, sequence string) (int64, error)
	setSequence(ctx context.Context, q querier, sequence string, atLeast int64) error
	callRoutine(ctx context.Context, q querier, call *store.RoutineCall) (store.Row, int64, error)
	catalog(sequences []string) []string
	lengthCheck(column string, maxLen int) string
	translate(err error) error
}

// SQLite returns the dialect for github.com/mattn/go-sqlite3. Sequences and
// routine bodies live in the _sequences and _routines tables.
func SQLite() Dialect { return sqliteDialect{} }

// Postgres returns the dialect for github.com/jackc/pgx/v5/stdlib.
func Postgres() Dialect { return postgresDialect{} }

type sqliteDialect struct{}

func (sqliteDialect) Name() string           { return "sqlite3" }
func (sqliteDialect) Placeholder(int) string { return "?" }
func (sqliteDialect) NewToken() string       { return "randomblob(8)" }

func (sqliteDialect) ColumnType(t store.ColumnType, _ int) string {
	switch t {
	case store.TypeInt:
		return "INTEGER"
	case store.TypeReal:
		return "REAL"
	case store.TypeBool:
		return "BOOLEAN"
	case store.TypeTime:
		return "TIMESTAMP"
	case store.TypeBlob:
		return "BLOB"
	}
	return "TEXT"
}

func (sqliteDialect) Capabilities() store.Capabilities {
	return store.Capabilities{Scopes: true, Routines: true, ForeignKeys: true}
}

func (sqliteDialect) paging(limit, offset int) string {
	switch {
	case limit > 0 && offset > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	case limit > 0:
		return fmt.Sprintf(" LIMIT %d", limit)
	case offset > 0:
		return fmt.Sprintf(" LIMIT -1 OFFSET %d", offset)
	}
	return ""
}

func (sqliteDialect) nextValue(ctx context.Context, q querier, sequence string) (int64, error) {
	var n int64
	err := q.QueryRowContext(ctx, `INSERT INTO _sequences (name, value) VALUES (?, 1)
ON CONFLICT (name) DO UPDATE SET value = value + 1
RETURNING value`, sequence).Scan(&n)
	return n, err
}

func (sqliteDialect) setSequence(ctx context.Context, q querier, sequence string, atLeast int64) error {
	_, err := q.ExecContext(ctx, `INSERT INTO _sequences (name, value) VALUES (?, ?)
ON CONFLICT (name) DO UPDATE SET value = MAX(value, excluded.value)`, sequence, atLeast)
	return err
}

// callRoutine runs the catalog body of a routine with named arguments.
func (sqliteDialect) callRoutine(ctx context.Context, q querier, call *store.RoutineCall) (store.Row, int64, error) {
	var body string
	err := q.QueryRowContext(ctx, `SELECT body FROM _routines WHERE name = ?`, call.Name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("routine %s is not installed", call.Name)
	}
	if err != nil {
		return nil, 0, err
	}
	args := make([]any, len(call.Args))
	for i, a := range call.Args {
		args[i] = sql.Named(a.Name, a.Value)
	}
	if len(call.Results) == 0 {
		res, err := q.ExecContext(ctx, body, args...)
		if err != nil {
			return nil, 0, err
		}
		n, err := res.RowsAffected()
		return nil, n, err
	}
	return queryResults(ctx, q, call.Results, body, args...)
}

func (sqliteDialect) catalog([]string) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS _sequences (name TEXT PRIMARY KEY, value INTEGER NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS _routines (name TEXT PRIMARY KEY, body TEXT NOT NULL)`,
	}
}

func (sqliteDialect) lengthCheck(column string, maxLen int) string {
	return fmt.Sprintf("CHECK (length(%s) <= %d)", ident.Quote(column), maxLen)
}

func (sqliteDialect) translate(err error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) || se.Code != sqlite3.ErrConstraint {
		return err
	}
	switch se.ExtendedCode {
	case sqlite3.ErrConstraintCheck:
		return &store.ValidationError{Err: err}
	case sqlite3.ErrConstraintForeignKey:
		return &store.IntegrityError{Reason: "foreign key violated", Err: err}
	case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
		return &store.IntegrityError{Reason: "duplicate key", Err: err}
	case sqlite3.ErrConstraintNotNull:
		return &store.IntegrityError{Reason: "required column is null", Err: err}
	}
	return &store.IntegrityError{Reason: "constraint violated", Err: err}
}

type postgresDialect struct{}

func (postgresDialect) Name() string             { return "pgx" }
func (postgresDialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }
func (postgresDialect) NewToken() string         { return "uuid_send(gen_random_uuid())" }

func (postgresDialect) ColumnType(t store.ColumnType, maxLen int) string {
	switch t {
	case store.TypeInt:
		return "BIGINT"
	case store.TypeReal:
		return "DOUBLE PRECISION"
	case store.TypeBool:
		return "BOOLEAN"
	case store.TypeTime:
		return "TIMESTAMPTZ"
	case store.TypeBlob:
		return "BYTEA"
	case store.TypeUUID:
		return "UUID"
	}
	if maxLen > 0 {
		return fmt.Sprintf("VARCHAR(%d)", maxLen)
	}
	return "TEXT"
}

func (postgresDialect) Capabilities() store.Capabilities {
	return store.Capabilities{Scopes: true, Routines: true, ForeignKeys: true}
}

func (postgresDialect) paging(limit, offset int) string {
	var b strings.Builder
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	if offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", offset)
	}
	return b.String()
}

func (postgresDialect) nextValue(ctx context.Context, q querier, sequence string) (int64, error) {
	var n int64
	err := q.QueryRowContext(ctx, `SELECT nextval($1::regclass)`, sequence).Scan(&n)
	return n, err
}

func (postgresDialect) setSequence(ctx context.Context, q querier, sequence string, atLeast int64) error {
	_, err := q.ExecContext(ctx, fmt.Sprintf(
		`SELECT setval($1::regclass, GREATEST($2::bigint, (SELECT CASE WHEN is_called THEN last_value ELSE 0 END FROM %s)), true)`,
		ident.QuoteName(sequence)), sequence, atLeast)
	return err
}

// callRoutine selects from a set-returning function using named notation.
// A routine without results returns its affected row count.
func (d postgresDialect) callRoutine(ctx context.Context, q querier, call *store.RoutineCall) (store.Row, int64, error) {
	params := make([]string, len(call.Args))
	args := make([]any, len(call.Args))
	for i, a := range call.Args {
		params[i] = fmt.Sprintf("%s => %s", ident.Quote(a.Name), d.Placeholder(i+1))
		args[i] = a.Value
	}
	stmt := fmt.Sprintf("SELECT * FROM %s(%s)", ident.QuoteName(call.Name), strings.Join(params, ", "))
	if len(call.Results) == 0 {
		var n int64
		if err := q.QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
			return nil, 0, err
		}
		return nil, n, nil
	}
	return queryResults(ctx, q, call.Results, stmt, args...)
}

func (postgresDialect) catalog(sequences []string) []string {
	out := make([]string, 0, len(sequences))
	for _, s := range sequences {
		out = append(out, fmt.Sprintf("CREATE SEQUENCE IF NOT EXISTS %s", ident.QuoteName(s)))
	}
	return out
}

func (postgresDialect) lengthCheck(string, int) string { return "" }

func (postgresDialect) translate(err error) error {
	var pe *pgconn.PgError
	if !errors.As(err, &pe) {
		return err
	}
	switch pe.Code {
	case "23503":
		return &store.IntegrityError{Reason: "foreign key violated", Err: err}
	case "23505":
		return &store.IntegrityError{Reason: "duplicate key", Err: err}
	case "23502":
		return &store.IntegrityError{Reason: "required column is null", Err: err}
	case "23514", "22001":
		return &store.ValidationError{Field: pe.ColumnName, Err: err}
	}
	return err
}

// queryResults reads the first returned row as the routine result; no row
// means the routine's precondition matched nothing.
func queryResults(ctx context.Context, q querier, cols []store.ColumnRef, stmt string, args ...any) (store.Row, int64, error) {
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, 0, err
	}
	got, err := scanRows(rows, cols)
	if err != nil {
		return nil, 0, err
	}
	if len(got) == 0 {
		return nil, 0, nil
	}
	return got[0], int64(len(got)), nil
}

package sqlstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/innkeeper/sqlstore"
	"github.com/jacentio/innkeeper/store"
)

type shelf struct {
	ID   int64
	Name string
}

type book struct {
	ID      int64
	ShelfID int64
	Title   string
}

func testRegistry(t *testing.T) *store.Registry {
	t.Helper()
	reg := store.NewRegistry()
	require.NoError(t, reg.Register(
		store.Entity[shelf]("Shelf").
			Key(store.Prop("ID", func(s *shelf) int64 { return s.ID }, func(s *shelf, v int64) { s.ID = v })).
			Props(store.Prop("Name", func(s *shelf) string { return s.Name }, func(s *shelf, v string) { s.Name = v }).MaxLen(5)).
			Sequence("shelf_seq"),
		store.Entity[book]("Book").
			Key(store.Prop("ID", func(b *book) int64 { return b.ID }, func(b *book, v int64) { b.ID = v })).
			Props(
				store.Prop("ShelfID", func(b *book) int64 { return b.ShelfID }, func(b *book, v int64) { b.ShelfID = v }),
				store.Prop("Title", func(b *book) string { return b.Title }, func(b *book, v string) { b.Title = v }),
			).
			Token("row_version").
			References("ShelfID", "Shelf"),
	))
	require.NoError(t, reg.Seal())
	return reg
}

type slot struct {
	ShelfID  int64
	Position int64
	Label    string
}

// slotRegistry adds a kind keyed by (shelf, position) to the shelves.
func slotRegistry(t *testing.T) *store.Registry {
	t.Helper()
	reg := store.NewRegistry()
	require.NoError(t, reg.Register(
		store.Entity[shelf]("Shelf").
			Key(store.Prop("ID", func(s *shelf) int64 { return s.ID }, func(s *shelf, v int64) { s.ID = v })).
			Props(store.Prop("Name", func(s *shelf) string { return s.Name }, func(s *shelf, v string) { s.Name = v })),
		store.Entity[slot]("Slot").
			CompositeKey(
				store.Prop("ShelfID", func(s *slot) int64 { return s.ShelfID }, func(s *slot, v int64) { s.ShelfID = v }),
				store.Prop("Position", func(s *slot) int64 { return s.Position }, func(s *slot, v int64) { s.Position = v }),
			).
			Props(store.Prop("Label", func(s *slot) string { return s.Label }, func(s *slot, v string) { s.Label = v })).
			References("ShelfID", "Shelf"),
	))
	require.NoError(t, reg.Seal())
	return reg
}

func insertSlot(shelfID, position int64, label string) store.Write {
	return store.Write{
		Op: store.OpInsert, Kind: "Slot", Table: "slots", KeyColumn: "shelf_id", Key: shelfID,
		Match: []store.ColumnValue{{Column: "position", Type: store.TypeInt, Value: position}},
		Values: []store.ColumnValue{
			{Column: "shelf_id", Type: store.TypeInt, Value: shelfID},
			{Column: "position", Type: store.TypeInt, Value: position},
			{Column: "label", Type: store.TypeText, Value: label},
		},
	}
}

func openDB(t *testing.T) *sqlstore.DB {
	t.Helper()
	ctx := context.Background()
	db, err := sqlstore.OpenSQLite(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlstore.Provision(ctx, db, testRegistry(t)))
	return db
}

func insertShelf(id int64, name string) store.Write {
	return store.Write{
		Op: store.OpInsert, Kind: "Shelf", Table: "shelves", KeyColumn: "id", Key: id,
		Values: []store.ColumnValue{
			{Column: "id", Type: store.TypeInt, Value: id},
			{Column: "name", Type: store.TypeText, Value: name},
		},
	}
}

func insertBook(id, shelfID int64, title string) store.Write {
	return store.Write{
		Op: store.OpInsert, Kind: "Book", Table: "books", KeyColumn: "id", Key: id,
		Values: []store.ColumnValue{
			{Column: "id", Type: store.TypeInt, Value: id},
			{Column: "shelf_id", Type: store.TypeInt, Value: shelfID},
			{Column: "title", Type: store.TypeText, Value: title},
		},
		TokenColumn: "row_version",
	}
}

func apply(t *testing.T, db *sqlstore.DB, b store.Batch) ([]store.WriteResult, error) {
	t.Helper()
	ctx := context.Background()
	tx, err := db.Begin(ctx)
	require.NoError(t, err)
	res, err := tx.Apply(ctx, b)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	require.NoError(t, tx.Commit())
	return res, nil
}

// --- DDL Tests ---

func TestDDL_SQLite(t *testing.T) {
	stmts, err := sqlstore.DDL(sqlstore.SQLite(), testRegistry(t))
	require.NoError(t, err)
	require.Len(t, stmts, 4)

	assert.Contains(t, stmts[0], "_sequences")
	assert.Contains(t, stmts[1], "_routines")
	assert.Equal(t, `CREATE TABLE IF NOT EXISTS "shelves" (
	"id" INTEGER PRIMARY KEY,
	"name" TEXT NOT NULL CHECK (length("name") <= 5)
)`, stmts[2])
	assert.Contains(t, stmts[3], `"row_version" BLOB NOT NULL`)
	assert.Contains(t, stmts[3], `FOREIGN KEY ("shelf_id") REFERENCES "shelves" ("id")`)
}

func TestDDL_Postgres(t *testing.T) {
	stmts, err := sqlstore.DDL(sqlstore.Postgres(), testRegistry(t))
	require.NoError(t, err)
	require.Len(t, stmts, 3)

	assert.Equal(t, `CREATE SEQUENCE IF NOT EXISTS "shelf_seq"`, stmts[0])
	assert.Contains(t, stmts[1], `"name" VARCHAR(5) NOT NULL`)
	assert.Contains(t, stmts[2], `"row_version" BYTEA NOT NULL`)
}

func TestDDL_CompositeKey(t *testing.T) {
	stmts, err := sqlstore.DDL(sqlstore.SQLite(), slotRegistry(t))
	require.NoError(t, err)
	require.Len(t, stmts, 4)

	assert.Contains(t, stmts[3], `PRIMARY KEY ("shelf_id", "position")`)
	assert.NotContains(t, stmts[3], `INTEGER PRIMARY KEY`)
	assert.Contains(t, stmts[3], `FOREIGN KEY ("shelf_id") REFERENCES "shelves" ("id")`)
}

// --- Backend Tests ---

func TestOpenSQLite_EmptyPath(t *testing.T) {
	_, err := sqlstore.OpenSQLite(context.Background(), "")
	assert.Error(t, err)
}

func TestProvision_IsIdempotent(t *testing.T) {
	db := openDB(t)
	assert.NoError(t, sqlstore.Provision(context.Background(), db, testRegistry(t)))
}

func TestApply_InsertReturnsToken(t *testing.T) {
	db := openDB(t)
	res, err := apply(t, db, store.Batch{Writes: []store.Write{insertShelf(1, "A"), insertBook(10, 1, "Go")}})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.EqualValues(t, 1, res[0].Affected)
	assert.Len(t, res[1].Token, 8)

	rows, err := db.Select(context.Background(), store.Select{
		Table:   "books",
		Columns: []store.ColumnRef{{Name: "id", Type: store.TypeInt}, {Name: "title", Type: store.TypeText}},
	})
	require.NoError(t, err)
	assert.Equal(t, []store.Row{{"id": int64(10), "title": "Go"}}, rows)

	n, err := db.Count(context.Background(), "books", store.ColumnCompare{Column: "title", Op: store.OpEq, Value: "GO", Fold: true})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestApply_StaleTokenAffectsNothing(t *testing.T) {
	db := openDB(t)
	res, err := apply(t, db, store.Batch{Writes: []store.Write{insertShelf(1, "A"), insertBook(10, 1, "Go")}})
	require.NoError(t, err)
	token := res[1].Token

	update := func(expected store.Token) store.Write {
		return store.Write{
			Op: store.OpUpdate, Kind: "Book", Table: "books", KeyColumn: "id", Key: int64(10),
			Values:      []store.ColumnValue{{Column: "title", Type: store.TypeText, Value: "Rust"}},
			TokenColumn: "row_version", Expected: expected,
		}
	}
	res, err = apply(t, db, store.Batch{Writes: []store.Write{update(store.Token("stale"))}})
	require.NoError(t, err)
	assert.EqualValues(t, 0, res[0].Affected)

	res, err = apply(t, db, store.Batch{Writes: []store.Write{update(token)}})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res[0].Affected)
	assert.NotEqual(t, token, res[0].Token)
}

func TestApply_AtomicBatchUndoesEarlierWrites(t *testing.T) {
	db := openDB(t)
	_, err := apply(t, db, store.Batch{Writes: []store.Write{insertShelf(1, "A")}})
	require.NoError(t, err)

	stale := store.Write{
		Op: store.OpDelete, Kind: "Book", Table: "books", KeyColumn: "id", Key: int64(99),
		TokenColumn: "row_version", Expected: store.Token("stale"),
	}
	res, err := apply(t, db, store.Batch{Writes: []store.Write{insertShelf(2, "B"), stale}, Atomic: true})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.EqualValues(t, 0, res[1].Affected)

	n, err := db.Count(context.Background(), "shelves", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestApply_TranslatesConstraintErrors(t *testing.T) {
	tests := []struct {
		name   string
		writes []store.Write
		target error
	}{
		{"duplicate key", []store.Write{insertShelf(1, "A"), insertShelf(1, "B")}, store.ErrIntegrity},
		{"missing principal", []store.Write{insertBook(10, 7, "Go")}, store.ErrIntegrity},
		{"too long", []store.Write{insertShelf(1, "ABCDEFG")}, store.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := openDB(t)
			_, err := apply(t, db, store.Batch{Writes: tt.writes})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), "expected %v, got %v", tt.target, err)
		})
	}
}

func TestApply_CompositeKey(t *testing.T) {
	ctx := context.Background()
	db, err := sqlstore.OpenSQLite(ctx, filepath.Join(t.TempDir(), "slots.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlstore.Provision(ctx, db, slotRegistry(t)))

	_, err = apply(t, db, store.Batch{Writes: []store.Write{insertShelf(1, "A"), insertSlot(1, 1, "x"), insertSlot(1, 2, "y")}})
	require.NoError(t, err)

	_, err = apply(t, db, store.Batch{Writes: []store.Write{insertSlot(1, 1, "z")}})
	assert.True(t, errors.Is(err, store.ErrIntegrity), "expected duplicate key, got %v", err)

	del := store.Write{
		Op: store.OpDelete, Kind: "Slot", Table: "slots", KeyColumn: "shelf_id", Key: int64(1),
		Match: []store.ColumnValue{{Column: "position", Type: store.TypeInt, Value: int64(2)}},
	}
	res, err := apply(t, db, store.Batch{Writes: []store.Write{del}})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res[0].Affected)

	rows, err := db.Select(ctx, store.Select{
		Table:   "slots",
		Columns: []store.ColumnRef{{Name: "position", Type: store.TypeInt}, {Name: "label", Type: store.TypeText}},
	})
	require.NoError(t, err)
	assert.Equal(t, []store.Row{{"position": int64(1), "label": "x"}}, rows)
}

func TestApply_ReferenceChecks(t *testing.T) {
	db := openDB(t)
	w := insertShelf(1, "A")
	w.Checks = []store.Check{{Tables: []string{"shelves"}, Column: "id", Value: int64(1), Exists: false, Reason: "already stored"}}
	_, err := apply(t, db, store.Batch{Writes: []store.Write{w}})
	require.NoError(t, err)

	_, err = apply(t, db, store.Batch{Writes: []store.Write{w}})
	var ie *store.IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "Shelf", ie.Kind)
	assert.Equal(t, "already stored", ie.Reason)
}

func TestSequences(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	tx, err := db.Begin(ctx)
	require.NoError(t, err)
	first, err := tx.NextValue(ctx, "shelf_seq")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.EqualValues(t, 1, first)

	require.NoError(t, db.AdvanceSequence(ctx, "shelf_seq", 40))
	require.NoError(t, db.AdvanceSequence(ctx, "shelf_seq", 3))
	next, err := db.NextValue(ctx, "shelf_seq")
	require.NoError(t, err)
	assert.EqualValues(t, 41, next)
}

func TestInstallRoutine(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	require.NoError(t, sqlstore.InstallRoutine(ctx, db, "shelf_rename", `UPDATE shelves SET name = :name WHERE id = :id`))
	require.NoError(t, sqlstore.InstallRoutine(ctx, db, "shelf_rename", `UPDATE shelves SET name = upper(:name) WHERE id = :id`))
	_, err := apply(t, db, store.Batch{Writes: []store.Write{insertShelf(1, "A")}})
	require.NoError(t, err)

	call := store.Write{
		Op: store.OpUpdate, Kind: "Shelf", Table: "shelves", KeyColumn: "id", Key: int64(1),
		Routine: &store.RoutineCall{Name: "shelf_rename", Args: []store.NamedArg{{Name: "id", Value: int64(1)}, {Name: "name", Value: "b"}}},
	}
	res, err := apply(t, db, store.Batch{Writes: []store.Write{call}})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res[0].Affected)

	rows, err := db.Select(ctx, store.Select{Table: "shelves", Columns: []store.ColumnRef{{Name: "name", Type: store.TypeText}}})
	require.NoError(t, err)
	assert.Equal(t, "B", rows[0]["name"])

	missing := call
	missing.Routine = &store.RoutineCall{Name: "nope"}
	_, err = apply(t, db, store.Batch{Writes: []store.Write{missing}})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "not installed"), "got %v", err)
}

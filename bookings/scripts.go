package bookings

import (
	"context"
	"fmt"

	"github.com/jacentio/innkeeper/sqlstore"
	"github.com/jacentio/innkeeper/store"
)

const (
	tpcRooms    = `(SELECT "id", "number" FROM "standard_rooms" UNION ALL SELECT "id", "number" FROM "suites")`
	singleRooms = `"rooms"`
)

func summarySQL(create, rooms, total string) string {
	return create + ` "vw_reservation_summary" AS
SELECT r."number" AS "room_number",
	COUNT(res."id") AS "reservations_count",
	` + total + ` AS "total_amount"
FROM "reservations" res
JOIN ` + rooms + ` r ON r."id" = res."room_id"
GROUP BY r."number"`
}

const sqliteInsert = `INSERT INTO "reservations"
	("id", "guest_id", "room_id", "check_in", "check_out", "status", "amount", "currency", "created_at", "row_version")
VALUES (:id, :guest_id, :room_id, :check_in, :check_out, :status, :amount, :currency, :created_at, randomblob(8))
RETURNING "row_version"`

const sqliteUpdate = `UPDATE "reservations" SET
	"guest_id" = :guest_id, "room_id" = :room_id, "check_in" = :check_in, "check_out" = :check_out,
	"status" = :status, "amount" = :amount, "currency" = :currency,
	"updated_at" = :updated_at, "row_version" = randomblob(8)
WHERE "id" = :id AND "row_version" = :original_row_version
RETURNING "row_version"`

const sqliteDelete = `DELETE FROM "reservations" WHERE "id" = :id AND "row_version" = :original_row_version`

var postgresRoutines = []string{
	`CREATE OR REPLACE FUNCTION reservation_insert(
	id uuid, guest_id uuid, room_id bigint, check_in timestamptz, check_out timestamptz,
	status varchar, amount bigint, currency varchar, created_at timestamptz)
RETURNS TABLE (row_version bytea) LANGUAGE sql AS $$
	INSERT INTO reservations AS r
		(id, guest_id, room_id, check_in, check_out, status, amount, currency, created_at, row_version)
	VALUES (reservation_insert.id, reservation_insert.guest_id, reservation_insert.room_id,
		reservation_insert.check_in, reservation_insert.check_out, reservation_insert.status,
		reservation_insert.amount, reservation_insert.currency, reservation_insert.created_at,
		uuid_send(gen_random_uuid()))
	RETURNING r.row_version
$$`,

	`CREATE OR REPLACE FUNCTION reservation_update(
	id uuid, guest_id uuid, room_id bigint, check_in timestamptz, check_out timestamptz,
	status varchar, amount bigint, currency varchar, updated_at timestamptz, original_row_version bytea)
RETURNS TABLE (row_version bytea) LANGUAGE sql AS $$
	UPDATE reservations AS r SET
		guest_id = reservation_update.guest_id, room_id = reservation_update.room_id,
		check_in = reservation_update.check_in, check_out = reservation_update.check_out,
		status = reservation_update.status, amount = reservation_update.amount,
		currency = reservation_update.currency, updated_at = reservation_update.updated_at,
		row_version = uuid_send(gen_random_uuid())
	WHERE r.id = reservation_update.id AND r.row_version = reservation_update.original_row_version
	RETURNING r.row_version
$$`,

	`CREATE OR REPLACE FUNCTION reservation_delete(id uuid, original_row_version bytea)
RETURNS bigint LANGUAGE sql AS $$
	WITH d AS (
		DELETE FROM reservations AS r
		WHERE r.id = reservation_delete.id AND r.row_version = reservation_delete.original_row_version
		RETURNING 1
	)
	SELECT count(*) FROM d
$$`,
}

// Scripts returns the statements that follow the generated tables on a
// dialect: the summary view and, for PostgreSQL with routines, the
// reservation functions. SQLite routines live in the routine catalog and
// are installed by Provision.
func Scripts(dialect string, opts Options) ([]string, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	rooms := tpcRooms
	if opts.RoomStrategy == store.StrategySingleTable {
		rooms = singleRooms
	}
	switch dialect {
	case sqlstore.SQLite().Name():
		return []string{summarySQL("CREATE VIEW IF NOT EXISTS", rooms, `SUM(res."amount")`)}, nil
	case sqlstore.Postgres().Name():
		out := []string{summarySQL("CREATE OR REPLACE VIEW", rooms, `CAST(SUM(res."amount") AS BIGINT)`)}
		if opts.Routines {
			out = append(out, postgresRoutines...)
		}
		return out, nil
	}
	return nil, fmt.Errorf("bookings: no scripts for dialect %s", dialect)
}

// Provision creates the booking schema on db.
func Provision(ctx context.Context, db *sqlstore.DB, reg *store.Registry, opts Options) error {
	scripts, err := Scripts(db.Dialect().Name(), opts)
	if err != nil {
		return err
	}
	if err := sqlstore.Provision(ctx, db, reg, scripts...); err != nil {
		return err
	}
	if !opts.Routines || db.Dialect().Name() != sqlstore.SQLite().Name() {
		return nil
	}
	for _, r := range []struct{ name, body string }{
		{reservationRoutines.Insert.Name, sqliteInsert},
		{reservationRoutines.Update.Name, sqliteUpdate},
		{reservationRoutines.Delete.Name, sqliteDelete},
	} {
		if err := sqlstore.InstallRoutine(ctx, db, r.name, r.body); err != nil {
			return err
		}
	}
	return nil
}

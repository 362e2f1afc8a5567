package store_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jacentio/innkeeper/bookings"
	"github.com/jacentio/innkeeper/sqlstore"
	"github.com/jacentio/innkeeper/store"
)

// --- Fixtures ---

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

// sqlRecorder is a slog handler that keeps the "sql" attribute of every record.
type sqlRecorder struct {
	mu    sync.Mutex
	stmts []string
}

func (r *sqlRecorder) Enabled(context.Context, slog.Level) bool { return true }

func (r *sqlRecorder) Handle(_ context.Context, rec slog.Record) error {
	rec.Attrs(func(a slog.Attr) bool {
		if a.Key == "sql" {
			r.mu.Lock()
			r.stmts = append(r.stmts, a.Value.String())
			r.mu.Unlock()
		}
		return true
	})
	return nil
}

func (r *sqlRecorder) WithAttrs([]slog.Attr) slog.Handler { return r }
func (r *sqlRecorder) WithGroup(string) slog.Handler { return r }

func (r *sqlRecorder) reset() {
	r.mu.Lock()
	r.stmts = nil
	r.mu.Unlock()
}

func (r *sqlRecorder) statements() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.stmts...)
}

type fixture struct {
	store *store.Store
	db    *sqlstore.DB
	reg   *store.Registry
	sql   *sqlRecorder
}

// newFixture provisions the booking schema in a fresh SQLite file.
func newFixture(t *testing.T, opts bookings.Options, cfg store.Config) *fixture {
	t.Helper()
	ctx := context.Background()
	rec := &sqlRecorder{}
	db, err := sqlstore.Open(ctx, sqlstore.SQLiteDSN(filepath.Join(t.TempDir(), "innkeeper.db")), sqlstore.Config{
		Dialect: sqlstore.SQLite(),
		Logger:  slog.New(rec),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	reg, err := bookings.NewRegistry(opts)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if err := bookings.Provision(ctx, db, reg, opts); err != nil {
		t.Fatalf("provision: %v", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = fixedClock
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	st, err := store.New(db, reg, cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	rec.reset()
	return &fixture{store: st, db: db, reg: reg, sql: rec}
}

// seeded is newFixture with the reference data stored.
func seeded(t *testing.T, opts bookings.Options, cfg store.Config) *fixture {
	t.Helper()
	f := newFixture(t, opts, cfg)
	seeds, err := bookings.Seeds(f.reg)
	if err != nil {
		t.Fatalf("seeds: %v", err)
	}
	if _, err := f.store.Seed(context.Background(), seeds...); err != nil {
		t.Fatalf("seed: %v", err)
	}
	f.sql.reset()
	return f
}

func (f *fixture) session(t *testing.T) *store.Session {
	t.Helper()
	s := f.store.Session()
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func save(t *testing.T, s *store.Session) store.SaveResult {
	t.Helper()
	res, err := s.SaveChanges(context.Background())
	if err != nil {
		t.Fatalf("save changes: %v", err)
	}
	return res
}

func add(t *testing.T, s *store.Session, entities ...any) {
	t.Helper()
	for _, e := range entities {
		if err := s.Add(e); err != nil {
			t.Fatalf("add %T: %v", e, err)
		}
	}
}

func newGuest(t *testing.T, name, email string) *bookings.Guest {
	t.Helper()
	g, err := bookings.NewGuest(uuid.Nil, name, bookings.MustEmail(email))
	if err != nil {
		t.Fatalf("new guest: %v", err)
	}
	return g
}

func newStandardRoom(t *testing.T, number string) *bookings.StandardRoom {
	t.Helper()
	r, err := bookings.NewStandardRoom(number, 2)
	if err != nil {
		t.Fatalf("new room: %v", err)
	}
	return r
}

func newReservation(t *testing.T, guest *bookings.Guest, room bookings.Room) *bookings.Reservation {
	t.Helper()
	r, err := bookings.NewReservation(uuid.Nil, guest.ID, room.RoomID(),
		time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 4, 0, 0, 0, 0, time.UTC),
		bookings.EUR(30000))
	if err != nil {
		t.Fatalf("new reservation: %v", err)
	}
	r.Room.Set(room)
	return r
}

func findReservation(t *testing.T, s *store.Session, id uuid.UUID) *bookings.Reservation {
	t.Helper()
	r, err := store.FindAs[*bookings.Reservation](context.Background(), s, "Reservation", id)
	if err != nil {
		t.Fatalf("find reservation %s: %v", id, err)
	}
	return r
}

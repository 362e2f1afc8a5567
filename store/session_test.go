package store_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/jacentio/innkeeper/bookings"
	"github.com/jacentio/innkeeper/store"
)

var strategies = []store.Strategy{store.StrategyTablePerConcrete, store.StrategySingleTable}

// --- Insert Tests ---

func TestSaveChanges_InsertGraph(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, bookings.DefaultOptions(), store.Config{})
	sess := f.session(t)

	alice := newGuest(t, "Alice", "alice@example.com")
	room := newStandardRoom(t, "101")
	res := newReservation(t, alice, room)
	add(t, sess, alice, room, res)

	result := save(t, sess)
	if result.Committed != 3 {
		t.Errorf("expected 3 committed writes, got %d", result.Committed)
	}
	if room.ID == 0 {
		t.Fatal("expected the room to get a generated key")
	}
	if res.RoomID != room.ID {
		t.Errorf("expected RoomID to follow the assigned room %d, got %d", room.ID, res.RoomID)
	}
	if _, ok := sess.Token(res); !ok {
		t.Error("expected the reservation to carry a token")
	}
	created, _ := sess.Shadow(res, "CreatedAt")
	if ts, ok := created.(time.Time); !ok || !ts.Equal(fixedNow) {
		t.Errorf("expected CreatedAt %s, got %v", fixedNow, created)
	}
	if updated, _ := sess.Shadow(res, "UpdatedAt"); updated != nil {
		t.Errorf("expected UpdatedAt to stay null, got %v", updated)
	}
	for _, e := range []any{alice, room, res} {
		if got := sess.State(e); got != store.Unchanged {
			t.Errorf("expected %T to be Unchanged, got %s", e, got)
		}
	}

	// The row reads back through a fresh session.
	other := f.session(t)
	got := findReservation(t, other, res.ID)
	if got.Status != bookings.StatusPending || got.Price != bookings.EUR(30000) {
		t.Errorf("unexpected stored reservation %+v", got)
	}
	g, err := got.Guest.Load(ctx)
	if err != nil {
		t.Fatalf("load guest: %v", err)
	}
	if g.Name() != "Alice" || !g.Email.Equal(alice.Email) {
		t.Errorf("unexpected guest %q <%s>", g.Name(), g.Email)
	}
}

func TestSaveChanges_NothingPending(t *testing.T) {
	f := seeded(t, bookings.DefaultOptions(), store.Config{})
	sess := f.session(t)
	findReservation(t, sess, bookings.SeedReservationID)

	res := save(t, sess)
	if res.Committed != 0 || len(res.Conflicts) != 0 {
		t.Errorf("expected an empty save, got %+v", res)
	}
}

// --- Update Tests ---

func TestSaveChanges_UpdateWritesChangedColumnsOnly(t *testing.T) {
	f := seeded(t, bookings.DefaultOptions(), store.Config{})
	sess := f.session(t)
	res := findReservation(t, sess, bookings.SeedReservationID)
	before, _ := sess.Token(res)

	if err := sess.Update(res, func() error {
		res.Status = bookings.StatusCheckedIn
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	f.sql.reset()
	save(t, sess)

	var updates []string
	for _, s := range f.sql.statements() {
		if strings.HasPrefix(s, "UPDATE") {
			updates = append(updates, s)
		}
	}
	want := []string{`UPDATE "reservations" SET "status" = ?, "updated_at" = ?, "row_version" = randomblob(8) ` +
		`WHERE "id" = ? AND "row_version" = ? RETURNING "row_version"`}
	if diff := cmp.Diff(want, updates); diff != "" {
		t.Errorf("update statements mismatch (-want +got):\n%s", diff)
	}

	if got := sess.State(res); got != store.Unchanged {
		t.Errorf("expected Unchanged after save, got %s", got)
	}
	after, _ := sess.Token(res)
	if bytes.Equal(before, after) {
		t.Error("expected a new token after the update")
	}
	updated, _ := sess.Shadow(res, "UpdatedAt")
	if ts, ok := updated.(time.Time); !ok || !ts.Equal(fixedNow) {
		t.Errorf("expected UpdatedAt %s, got %v", fixedNow, updated)
	}
}

func TestUpdate_RestoresOnError(t *testing.T) {
	f := seeded(t, bookings.DefaultOptions(), store.Config{})
	sess := f.session(t)
	res := findReservation(t, sess, bookings.SeedReservationID)

	boom := errors.New("boom")
	err := sess.Update(res, func() error {
		res.Status = bookings.StatusCancelled
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if res.Status != bookings.StatusConfirmed {
		t.Errorf("expected status to be restored, got %s", res.Status)
	}

	err = sess.Update(res, func() error {
		res.ID = uuid.New()
		return nil
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Errorf("expected ErrValidation for a key change, got %v", err)
	}
	if res.ID != bookings.SeedReservationID {
		t.Errorf("expected key to be restored, got %s", res.ID)
	}
}

// --- Concurrency Tests ---

func TestConcurrency_SecondWriterConflicts(t *testing.T) {
	f := seeded(t, bookings.DefaultOptions(), store.Config{})
	first := f.session(t)
	second := f.session(t)

	r1 := findReservation(t, first, bookings.SeedReservationID)
	r2 := findReservation(t, second, bookings.SeedReservationID)
	t0, _ := second.Token(r2)

	if err := r1.Cancel(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res := save(t, first); res.Committed != 1 {
		t.Fatalf("expected first writer to commit, got %+v", res)
	}
	t1, _ := first.Token(r1)
	if bytes.Equal(t0, t1) {
		t.Fatal("expected the first write to change the token")
	}

	r2.Status = bookings.StatusCheckedIn
	res, err := second.SaveChanges(context.Background())
	if err != nil {
		t.Fatalf("expected conflicts in the result, got error %v", err)
	}
	if res.Committed != 0 || len(res.Conflicts) != 1 {
		t.Fatalf("expected one conflict, got %+v", res)
	}
	if !errors.Is(res.Conflicts[0], store.ErrConcurrencyConflict) {
		t.Errorf("expected ErrConcurrencyConflict, got %v", res.Conflicts[0])
	}
	if res.Conflicts[0].Entity != r2 {
		t.Error("expected the conflict to name the stale entity")
	}
	if got := second.State(r2); got != store.Modified {
		t.Errorf("expected the stale entity to stay Modified, got %s", got)
	}
	if tok, _ := second.Token(r2); !bytes.Equal(tok, t0) {
		t.Error("expected the stale token to be kept")
	}

	// The row keeps what the first writer produced.
	fresh := findReservation(t, f.session(t), bookings.SeedReservationID)
	if fresh.Status != bookings.StatusCancelled {
		t.Errorf("expected Cancelled, got %s", fresh.Status)
	}
}

func TestConcurrency_ConflictLeavesOtherWritesCommitted(t *testing.T) {
	ctx := context.Background()
	f := seeded(t, bookings.DefaultOptions(), store.Config{})
	first := f.session(t)
	second := f.session(t)

	r1 := findReservation(t, first, bookings.SeedReservationID)
	r2 := findReservation(t, second, bookings.SeedReservationID)
	guest, err := store.FindAs[*bookings.Guest](ctx, second, "Guest", bookings.SeedGuestID)
	if err != nil {
		t.Fatalf("find guest: %v", err)
	}

	r1.Status = bookings.StatusCheckedIn
	save(t, first)

	r2.Status = bookings.StatusCancelled
	if err := guest.Rename("Alice B"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	res := save(t, second)
	if res.Committed != 1 || len(res.Conflicts) != 1 {
		t.Fatalf("expected one commit and one conflict, got %+v", res)
	}
	if res.Conflicts[0].Entity != r2 {
		t.Error("expected the conflict to name the stale reservation")
	}
	if got := second.State(guest); got != store.Unchanged {
		t.Errorf("expected the renamed guest to be Unchanged, got %s", got)
	}

	stored, err := store.FindAs[*bookings.Guest](ctx, f.session(t), "Guest", bookings.SeedGuestID)
	if err != nil {
		t.Fatalf("find guest: %v", err)
	}
	if stored.Name() != "Alice B" {
		t.Errorf("expected the rename to be stored, got %q", stored.Name())
	}
	if fresh := findReservation(t, f.session(t), bookings.SeedReservationID); fresh.Status != bookings.StatusCheckedIn {
		t.Errorf("expected CheckedIn, got %s", fresh.Status)
	}
}

func TestConcurrency_AllOrNothing(t *testing.T) {
	f := seeded(t, bookings.DefaultOptions(), store.Config{AllOrNothing: true})
	first := f.session(t)
	second := f.session(t)

	r1 := findReservation(t, first, bookings.SeedReservationID)
	r2 := findReservation(t, second, bookings.SeedReservationID)
	guest, err := store.FindAs[*bookings.Guest](context.Background(), second, "Guest", bookings.SeedGuestID)
	if err != nil {
		t.Fatalf("find guest: %v", err)
	}
	guestToken, _ := second.Token(guest)

	r1.Status = bookings.StatusCheckedIn
	save(t, first)

	r2.Status = bookings.StatusCancelled
	if err := guest.Rename("Alice Smith"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	_, err = second.SaveChanges(context.Background())
	if !errors.Is(err, store.ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
	}
	if got := second.State(guest); got != store.Modified {
		t.Errorf("expected guest to stay Modified, got %s", got)
	}
	if tok, _ := second.Token(guest); !bytes.Equal(tok, guestToken) {
		t.Error("expected the guest token to be restored")
	}

	stored, err := store.FindAs[*bookings.Guest](context.Background(), f.session(t), "Guest", bookings.SeedGuestID)
	if err != nil {
		t.Fatalf("find guest: %v", err)
	}
	if stored.Name() != "Alice" {
		t.Errorf("expected the rename to be rolled back, got %q", stored.Name())
	}
}

func TestConcurrency_StaleDelete(t *testing.T) {
	f := seeded(t, bookings.DefaultOptions(), store.Config{})
	first := f.session(t)
	second := f.session(t)

	r1 := findReservation(t, first, bookings.SeedReservationID)
	r2 := findReservation(t, second, bookings.SeedReservationID)
	r1.Status = bookings.StatusCheckedIn
	save(t, first)

	if err := second.Remove(r2); err != nil {
		t.Fatalf("remove: %v", err)
	}
	res := save(t, second)
	if len(res.Conflicts) != 1 {
		t.Fatalf("expected the stale delete to conflict, got %+v", res)
	}
	findReservation(t, f.session(t), bookings.SeedReservationID)
}

// --- Hierarchy Tests ---

func TestHierarchy_SiblingsGetDistinctKeys(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, bookings.Options{RoomStrategy: strategy}, store.Config{})
			sess := f.session(t)

			std := newStandardRoom(t, "101")
			suite, err := bookings.NewSuite("501", 4, true)
			if err != nil {
				t.Fatalf("new suite: %v", err)
			}
			add(t, sess, std, suite)
			save(t, sess)
			if std.ID == 0 || suite.ID == 0 || std.ID == suite.ID {
				t.Fatalf("expected distinct generated keys, got %d and %d", std.ID, suite.ID)
			}

			other := f.session(t)
			rooms, err := store.QueryAs[bookings.Room](ctx, other, "Room", nil, store.OrderBy("ID"))
			if err != nil {
				t.Fatalf("query rooms: %v", err)
			}
			if len(rooms) != 2 {
				t.Fatalf("expected 2 rooms, got %d", len(rooms))
			}
			if _, ok := rooms[0].(*bookings.StandardRoom); !ok {
				t.Errorf("expected first room to be a StandardRoom, got %T", rooms[0])
			}
			s, ok := rooms[1].(*bookings.Suite)
			if !ok || !s.HasLounge {
				t.Errorf("expected second room to be a Suite with a lounge, got %#v", rooms[1])
			}

			found, err := other.Find(ctx, "Room", suite.ID)
			if err != nil {
				t.Fatalf("find room: %v", err)
			}
			if found != rooms[1] {
				t.Error("expected Find to return the tracked instance")
			}
			n, err := other.Count(ctx, "Room", nil)
			if err != nil || n != 2 {
				t.Errorf("expected count 2, got %d (%v)", n, err)
			}
			suites, err := other.Count(ctx, "Suite", nil)
			if err != nil || suites != 1 {
				t.Errorf("expected 1 suite, got %d (%v)", suites, err)
			}
		})
	}
}

func TestHierarchy_DeleteReferencedRoom(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			f := seeded(t, bookings.Options{RoomStrategy: strategy}, store.Config{})
			sess := f.session(t)
			room, err := sess.Find(context.Background(), "StandardRoom", 1)
			if err != nil {
				t.Fatalf("find room: %v", err)
			}
			if err := sess.Remove(room); err != nil {
				t.Fatalf("remove: %v", err)
			}
			_, err = sess.SaveChanges(context.Background())
			if !errors.Is(err, store.ErrIntegrity) {
				t.Fatalf("expected ErrIntegrity, got %v", err)
			}
			if got := sess.State(room); got != store.Deleted {
				t.Errorf("expected the room to stay Deleted, got %s", got)
			}
		})
	}
}

func TestFlush_DeletedPrincipalStillReferenced(t *testing.T) {
	f := seeded(t, bookings.DefaultOptions(), store.Config{})
	sess := f.session(t)
	findReservation(t, sess, bookings.SeedReservationID)
	guest, err := sess.Find(context.Background(), "Guest", bookings.SeedGuestID)
	if err != nil {
		t.Fatalf("find guest: %v", err)
	}
	if err := sess.Remove(guest); err != nil {
		t.Fatalf("remove: %v", err)
	}
	_, err = sess.SaveChanges(context.Background())
	var ie *store.IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("expected IntegrityError, got %v", err)
	}
	if ie.Kind != "Guest" {
		t.Errorf("expected the error to name Guest, got %s", ie.Kind)
	}
}

// --- Filter Tests ---

func TestGlobalFilter_HidesSoftDeletedGuests(t *testing.T) {
	ctx := context.Background()
	f := seeded(t, bookings.DefaultOptions(), store.Config{})
	sess := f.session(t)
	guest, err := store.FindAs[*bookings.Guest](ctx, sess, "Guest", bookings.SeedGuestID)
	if err != nil {
		t.Fatalf("find guest: %v", err)
	}
	guest.MarkDeleted()
	save(t, sess)

	other := f.session(t)
	tests := []struct {
		name string
		run  func() (int, error)
		want int
	}{
		{"query", func() (int, error) {
			got, err := other.Query(ctx, "Guest", nil)
			return len(got), err
		}, 0},
		{"count", func() (int, error) {
			n, err := other.Count(ctx, "Guest", nil)
			return int(n), err
		}, 0},
		{"navigation predicate", func() (int, error) {
			got, err := other.Query(ctx, "Reservation", store.Has("Guest", store.Eq("Name", "Alice")))
			return len(got), err
		}, 0},
		{"compiled query", func() (int, error) {
			got, err := bookings.ReservationsByGuestEmail(ctx, other, bookings.MustEmail("alice@example.com"))
			return len(got), err
		}, 0},
		{"bypassed query", func() (int, error) {
			got, err := other.Query(ctx, "Guest", nil, store.BypassFilters())
			return len(got), err
		}, 1},
		{"bypassed navigation predicate", func() (int, error) {
			got, err := other.Query(ctx, "Reservation", store.Has("Guest", store.Eq("Name", "Alice")), store.BypassFilters())
			return len(got), err
		}, 1},
		{"bypassed count", func() (int, error) {
			n, err := other.Count(ctx, "Guest", nil, store.BypassFilters())
			return int(n), err
		}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.run()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}

	if _, err := other.Find(ctx, "Guest", bookings.SeedGuestID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGlobalFilter_TrackedGuestHiddenAfterSoftDelete(t *testing.T) {
	ctx := context.Background()
	f := seeded(t, bookings.DefaultOptions(), store.Config{})
	sess := f.session(t)
	guest, err := store.FindAs[*bookings.Guest](ctx, sess, "Guest", bookings.SeedGuestID)
	if err != nil {
		t.Fatalf("find guest: %v", err)
	}
	guest.MarkDeleted()
	save(t, sess)

	if _, err := sess.Find(ctx, "Guest", bookings.SeedGuestID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	got, err := sess.Find(ctx, "Guest", bookings.SeedGuestID, store.BypassFilters())
	if err != nil {
		t.Fatalf("find bypassing filters: %v", err)
	}
	if got != guest {
		t.Error("expected the bypassed find to return the tracked instance")
	}
}

func TestFind_ReturnsPendingInsert(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, bookings.DefaultOptions(), store.Config{})
	sess := f.session(t)
	guest := newGuest(t, "Bob", "bob@example.com")
	add(t, sess, guest)

	got, err := sess.Find(ctx, "Guest", guest.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got != guest {
		t.Error("expected the added instance")
	}
}

func TestCompositeKey_LinkFindAndRemove(t *testing.T) {
	ctx := context.Background()
	f := seeded(t, bookings.DefaultOptions(), store.Config{})
	sess := f.session(t)

	tag, err := bookings.NewTag("  late-arrival ")
	if err != nil {
		t.Fatalf("new tag: %v", err)
	}
	add(t, sess, tag)
	save(t, sess)
	if tag.ID == 0 {
		t.Fatal("expected the tag to draw a key")
	}
	guest, err := store.FindAs[*bookings.Guest](ctx, sess, "Guest", bookings.SeedGuestID)
	if err != nil {
		t.Fatalf("find guest: %v", err)
	}
	link, err := bookings.NewGuestTag(guest, tag)
	if err != nil {
		t.Fatalf("new link: %v", err)
	}
	add(t, sess, link)
	if res := save(t, sess); res.Committed != 1 {
		t.Errorf("expected 1 committed write, got %d", res.Committed)
	}
	dup, _ := bookings.NewGuestTag(guest, tag)
	if err := sess.Add(dup); err == nil {
		t.Error("expected the same pair to be rejected while tracked")
	}

	reader := f.session(t)
	key := store.CompositeKey{bookings.SeedGuestID, tag.ID}
	got, err := store.FindAs[*bookings.GuestTag](ctx, reader, "GuestTag", key)
	if err != nil {
		t.Fatalf("find link: %v", err)
	}
	again, err := store.FindAs[*bookings.GuestTag](ctx, reader, "GuestTag", key)
	if err != nil || again != got {
		t.Errorf("expected the tracked link back, got %p and %p (%v)", got, again, err)
	}
	loaded, err := got.Tag.Load(ctx)
	if err != nil {
		t.Fatalf("load tag: %v", err)
	}
	if loaded.Name() != "late-arrival" {
		t.Errorf("expected late-arrival, got %q", loaded.Name())
	}

	if err := reader.Remove(got); err != nil {
		t.Fatalf("remove: %v", err)
	}
	save(t, reader)
	if _, err := store.FindAs[*bookings.GuestTag](ctx, f.session(t), "GuestTag", key); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after remove, got %v", err)
	}
	if _, err := f.session(t).Find(ctx, "Tag", tag.ID); err != nil {
		t.Errorf("expected the tag to outlive its link, got %v", err)
	}
}

func TestCompositeKey_FindNeedsEveryPart(t *testing.T) {
	f := seeded(t, bookings.DefaultOptions(), store.Config{})
	_, err := store.FindAs[*bookings.GuestTag](context.Background(), f.session(t), "GuestTag", bookings.SeedGuestID)
	if !errors.Is(err, store.ErrValidation) {
		t.Errorf("expected ErrValidation for a one-part key, got %v", err)
	}
}

func TestNewGuestTag_RequiresSavedTag(t *testing.T) {
	tag, err := bookings.NewTag("vip-lounge")
	if err != nil {
		t.Fatalf("new tag: %v", err)
	}
	if _, err := bookings.NewGuestTag(newGuest(t, "Bob", "bob@example.com"), tag); !errors.Is(err, store.ErrValidation) {
		t.Errorf("expected ErrValidation for an unsaved tag, got %v", err)
	}
}

// --- Query Tests ---

func TestCompiledQuery_MatchesEmailIgnoringCase(t *testing.T) {
	ctx := context.Background()
	f := seeded(t, bookings.DefaultOptions(), store.Config{})
	sess := f.session(t)

	got, err := bookings.ReservationsByGuestEmail(ctx, sess, bookings.MustEmail("ALICE@Example.com"))
	if err != nil {
		t.Fatalf("compiled query: %v", err)
	}
	if len(got) != 1 || got[0].ID != bookings.SeedReservationID {
		t.Fatalf("expected the seeded reservation, got %v", got)
	}
	if !got[0].Room.Loaded() {
		t.Fatal("expected Room to be included")
	}
	room, ok := got[0].Room.Get()
	if !ok || room.RoomNumber() != "101" {
		t.Errorf("expected room 101, got %v", room)
	}
	if got[0].Guest.Loaded() {
		t.Error("expected Guest to stay unloaded")
	}

	_, err = sess.CompiledQuery(ctx, bookings.ReservationsByGuestEmailQuery, store.Args{"mail": "x"})
	if !errors.Is(err, store.ErrValidation) {
		t.Errorf("expected ErrValidation for an unknown parameter, got %v", err)
	}
}

func TestCompiledQuery_OrdersByCheckInDescending(t *testing.T) {
	ctx := context.Background()
	f := seeded(t, bookings.DefaultOptions(), store.Config{})
	sess := f.session(t)
	room, err := sess.Find(ctx, "StandardRoom", 1)
	if err != nil {
		t.Fatalf("find room: %v", err)
	}
	later, err := bookings.NewReservation(uuid.Nil, bookings.SeedGuestID, 1,
		time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC), bookings.EUR(5000))
	if err != nil {
		t.Fatalf("new reservation: %v", err)
	}
	later.Room.Set(room.(bookings.Room))
	add(t, sess, later)
	save(t, sess)

	got, err := bookings.ReservationsByGuestEmail(ctx, f.session(t), bookings.MustEmail("alice@example.com"))
	if err != nil {
		t.Fatalf("compiled query: %v", err)
	}
	var ids []uuid.UUID
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	if diff := cmp.Diff([]uuid.UUID{later.ID, bookings.SeedReservationID}, ids); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestQuery_PagingAcrossHierarchyTables(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, bookings.DefaultOptions(), store.Config{})
	sess := f.session(t)
	for _, n := range []string{"104", "102"} {
		add(t, sess, newStandardRoom(t, n))
	}
	for _, n := range []string{"103", "101"} {
		s, err := bookings.NewSuite(n, 2, false)
		if err != nil {
			t.Fatalf("new suite: %v", err)
		}
		add(t, sess, s)
	}
	save(t, sess)

	got, err := store.QueryAs[bookings.Room](ctx, f.session(t), "Room", nil,
		store.OrderByDesc("Number"), store.Offset(1), store.Limit(2))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	var numbers []string
	for _, r := range got {
		numbers = append(numbers, r.RoomNumber())
	}
	if diff := cmp.Diff([]string{"103", "102"}, numbers); diff != "" {
		t.Errorf("page mismatch (-want +got):\n%s", diff)
	}
}

func TestProject_Summary(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			f := seeded(t, bookings.Options{RoomStrategy: strategy}, store.Config{})
			sess := f.session(t)
			got, err := bookings.Summaries(context.Background(), sess)
			if err != nil {
				t.Fatalf("summaries: %v", err)
			}
			want := []*bookings.ReservationSummary{{RoomNumber: "101", ReservationsCount: 1, TotalAmount: 12000}}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("summary mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

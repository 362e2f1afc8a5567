package bookings_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jacentio/innkeeper/bookings"
	"github.com/jacentio/innkeeper/store"
)

// --- Email Tests ---

func TestParseEmail(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "trimmed", input: "  alice@example.com ", want: "alice@example.com"},
		{name: "blank", input: "   ", wantErr: true},
		{name: "missing at", input: "alice.example.com", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := bookings.ParseEmail(tt.input)
			if tt.wantErr {
				if !errors.Is(err, store.ErrValidation) {
					t.Errorf("expected ErrValidation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got.String())
			}
		})
	}
}

func TestEmailEqualIgnoresCase(t *testing.T) {
	a := bookings.MustEmail("Alice@Example.com")
	b := bookings.MustEmail("alice@example.COM")
	if !a.Equal(b) {
		t.Errorf("expected %s to equal %s", a, b)
	}
	if a.Equal(bookings.MustEmail("bob@example.com")) {
		t.Error("expected different addresses to differ")
	}
}

// --- Money Tests ---

func TestMoney(t *testing.T) {
	sum, err := bookings.EUR(12050).Add(bookings.EUR(-50))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.String() != "120.00 EUR" {
		t.Errorf("expected 120.00 EUR, got %s", sum)
	}
	if got := bookings.EUR(-5).String(); got != "-0.05 EUR" {
		t.Errorf("expected -0.05 EUR, got %s", got)
	}
	if _, err := bookings.EUR(1).Add(bookings.Zero("USD")); err == nil {
		t.Error("expected currency mismatch error")
	}
}

// --- Guest Tests ---

func TestNewGuest(t *testing.T) {
	g, err := bookings.NewGuest(uuid.Nil, "  Alice  ", bookings.MustEmail("alice@example.com"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.ID == uuid.Nil {
		t.Error("expected a generated id")
	}
	if g.Name() != "Alice" {
		t.Errorf("expected trimmed name, got %q", g.Name())
	}

	if _, err := bookings.NewGuest(uuid.Nil, " ", g.Email); !errors.Is(err, store.ErrValidation) {
		t.Errorf("expected ErrValidation for blank name, got %v", err)
	}
	if err := g.Rename(strings.Repeat("x", 201)); !errors.Is(err, store.ErrValidation) {
		t.Errorf("expected ErrValidation for long name, got %v", err)
	}
	if g.Name() != "Alice" {
		t.Errorf("expected failed rename to keep name, got %q", g.Name())
	}

	g.SetVip(true)
	g.MarkDeleted()
	if !g.IsVip() || !g.IsDeleted() {
		t.Errorf("expected vip and deleted, got vip=%v deleted=%v", g.IsVip(), g.IsDeleted())
	}
}

// --- Room Tests ---

func TestNewRooms(t *testing.T) {
	std, err := bookings.NewStandardRoom(" 101 ", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var r bookings.Room = std
	if r.RoomNumber() != "101" || r.RoomCapacity() != 2 || r.RoomID() != 0 {
		t.Errorf("unexpected room %+v", std.RoomInfo)
	}

	tests := []struct {
		name     string
		number   string
		capacity int
	}{
		{name: "blank number", number: "", capacity: 1},
		{name: "long number", number: strings.Repeat("9", 21), capacity: 1},
		{name: "no capacity", number: "102", capacity: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := bookings.NewSuite(tt.number, tt.capacity, true); !errors.Is(err, store.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

// --- Reservation Tests ---

func day(d int) time.Time { return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC) }

func TestNewReservation(t *testing.T) {
	r, err := bookings.NewReservation(uuid.Nil, uuid.New(), 1, day(10), day(12), bookings.Money{Cents: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Status != bookings.StatusPending {
		t.Errorf("expected Pending, got %s", r.Status)
	}
	if r.Price.Currency != bookings.DefaultCurrency {
		t.Errorf("expected default currency, got %q", r.Price.Currency)
	}
	if r.Nights() != 2 {
		t.Errorf("expected 2 nights, got %d", r.Nights())
	}

	if _, err := bookings.NewReservation(uuid.Nil, uuid.New(), 1, day(12), day(12), bookings.EUR(1)); !errors.Is(err, store.ErrValidation) {
		t.Errorf("expected ErrValidation for empty stay, got %v", err)
	}
	if _, err := bookings.NewReservation(uuid.Nil, uuid.New(), 1, day(10), day(12), bookings.Money{Cents: 1, Currency: "eur"}); !errors.Is(err, store.ErrValidation) {
		t.Errorf("expected ErrValidation for bad currency, got %v", err)
	}
}

func TestReservationTransitions(t *testing.T) {
	r, err := bookings.NewReservation(uuid.Nil, uuid.New(), 1, day(1), day(3), bookings.EUR(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Confirm(); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := r.Confirm(); err == nil {
		t.Error("expected second confirm to fail")
	}
	r.Status = bookings.StatusCheckedIn
	if err := r.Cancel(); err == nil {
		t.Error("expected cancel after check-in to fail")
	}
	if err := r.Reschedule(day(5), day(4)); !errors.Is(err, store.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestNights(t *testing.T) {
	tests := []struct {
		from, to time.Time
		want     int
	}{
		{day(10), day(12), 2},
		{day(10), day(10), 0},
		{day(10), day(10).Add(23 * time.Hour), 0},
		{day(1), day(31), 30},
	}
	for _, tt := range tests {
		if got := bookings.Nights(tt.from, tt.to); got != tt.want {
			t.Errorf("Nights(%s, %s): expected %d, got %d", tt.from, tt.to, tt.want, got)
		}
	}
}

// --- Model Tests ---

func TestNewRegistry(t *testing.T) {
	for _, strategy := range []store.Strategy{store.StrategyTablePerConcrete, store.StrategySingleTable} {
		t.Run(strategy.String(), func(t *testing.T) {
			reg, err := bookings.NewRegistry(bookings.Options{RoomStrategy: strategy, Routines: true})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			room, err := reg.Kind("Room")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !room.Abstract || len(room.Variants) != 2 {
				t.Errorf("expected abstract room with 2 variants, got abstract=%v variants=%d", room.Abstract, len(room.Variants))
			}
			suite, _ := reg.Kind("Suite")
			wantTable := "suites"
			if strategy == store.StrategySingleTable {
				wantTable = "rooms"
			}
			if suite.Table != wantTable {
				t.Errorf("expected table %s, got %s", wantTable, suite.Table)
			}
			if _, ok := reg.Compiled(bookings.ReservationsByGuestEmailQuery); !ok {
				t.Error("expected compiled query to be registered")
			}
			guest, _ := reg.Kind("Guest")
			p, ok := guest.Property("IsVip")
			if !ok || p.Column != "is_vip_yn" || p.Type != store.TypeText {
				t.Errorf("unexpected IsVip mapping %+v", p)
			}
			if email, _ := guest.Property("Email"); !email.CaseInsensitive() {
				t.Error("expected Email to compare case-insensitively")
			}
		})
	}
}

func TestNewRegistryRejectsUnknownStrategy(t *testing.T) {
	if _, err := bookings.NewRegistry(bookings.Options{RoomStrategy: store.Strategy(42)}); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

// --- Settings Tests ---

func TestNewSetting(t *testing.T) {
	reg, err := bookings.NewRegistry(bookings.DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := bookings.NewSetting(reg, 1, "Theme", "dark")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Get("Value") != "dark" || b.Get("ID") != int64(1) {
		t.Errorf("unexpected attributes %v", b.Attrs())
	}
	if _, err := bookings.NewSetting(reg, 3, strings.Repeat("k", 101), "v"); !errors.Is(err, store.ErrValidation) {
		t.Errorf("expected ErrValidation for long key, got %v", err)
	}
}

// --- Script Tests ---

func TestScripts(t *testing.T) {
	tests := []struct {
		name     string
		dialect  string
		opts     bookings.Options
		contains []string
		count    int
	}{
		{
			name:     "sqlite tpc",
			dialect:  "sqlite3",
			opts:     bookings.DefaultOptions(),
			contains: []string{"CREATE VIEW IF NOT EXISTS", `UNION ALL`},
			count:    1,
		},
		{
			name:     "postgres single table with routines",
			dialect:  "pgx",
			opts:     bookings.Options{RoomStrategy: store.StrategySingleTable, Routines: true},
			contains: []string{"CREATE OR REPLACE VIEW", `JOIN "rooms" r`, "reservation_update"},
			count:    4,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := bookings.Scripts(tt.dialect, tt.opts)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != tt.count {
				t.Fatalf("expected %d scripts, got %d", tt.count, len(got))
			}
			all := strings.Join(got, "\n")
			for _, want := range tt.contains {
				if !strings.Contains(all, want) {
					t.Errorf("expected scripts to contain %q", want)
				}
			}
		})
	}
	if _, err := bookings.Scripts("duckdb", bookings.DefaultOptions()); err == nil {
		t.Error("expected error for unknown dialect")
	}
}

package bookings

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jacentio/innkeeper/store"
)

// Reservation books one room for one guest over a date range.
type Reservation struct {
	ID       uuid.UUID
	GuestID  uuid.UUID
	RoomID   int
	CheckIn  time.Time
	CheckOut time.Time
	Price    Money
	Status   Status

	Guest store.Ref[*Guest]
	Room  store.Ref[Room]
}

// NewReservation returns a pending reservation. Check-out must fall after
// check-in and the price must be non-negative.
func NewReservation(id, guestID uuid.UUID, roomID int, checkIn, checkOut time.Time, price Money) (*Reservation, error) {
	if id == uuid.Nil {
		id = uuid.New()
	}
	if !checkOut.After(checkIn) {
		return nil, store.NewValidationError("Reservation", "CheckOut", checkOut, "check-out %s is not after check-in %s",
			checkOut.Format(time.DateOnly), checkIn.Format(time.DateOnly))
	}
	if price.Cents < 0 {
		return nil, store.NewValidationError("Reservation", "Amount", price.Cents, "amount is negative")
	}
	if price.Currency == "" {
		price.Currency = DefaultCurrency
	}
	if !validCurrency(price.Currency) {
		return nil, store.NewValidationError("Reservation", "Currency", price.Currency, "not an ISO currency code")
	}
	return &Reservation{
		ID:       id,
		GuestID:  guestID,
		RoomID:   roomID,
		CheckIn:  checkIn.UTC(),
		CheckOut: checkOut.UTC(),
		Price:    price,
		Status:   StatusPending,
	}, nil
}

// Nights returns the whole days between from and to.
func Nights(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

// Nights returns the length of the stay.
func (r *Reservation) Nights() int { return Nights(r.CheckIn, r.CheckOut) }

// Confirm moves a pending reservation to confirmed.
func (r *Reservation) Confirm() error {
	if r.Status != StatusPending {
		return fmt.Errorf("confirm reservation %s: status is %s", r.ID, r.Status)
	}
	r.Status = StatusConfirmed
	return nil
}

// Cancel cancels a reservation the guest has not checked into.
func (r *Reservation) Cancel() error {
	switch r.Status {
	case StatusCheckedIn, StatusCheckedOut:
		return fmt.Errorf("cancel reservation %s: status is %s", r.ID, r.Status)
	}
	r.Status = StatusCancelled
	return nil
}

// Reschedule moves the stay, keeping check-out after check-in.
func (r *Reservation) Reschedule(checkIn, checkOut time.Time) error {
	if !checkOut.After(checkIn) {
		return store.NewValidationError("Reservation", "CheckOut", checkOut, "check-out is not after check-in")
	}
	r.CheckIn, r.CheckOut = checkIn.UTC(), checkOut.UTC()
	return nil
}

var reservationRoutines = store.Routines{
	Insert: &store.Routine{
		Name: "reservation_insert",
		Params: []store.RoutineParam{
			store.Current("id", "id"),
			store.Current("guest_id", "guest_id"),
			store.Current("room_id", "room_id"),
			store.Current("check_in", "check_in"),
			store.Current("check_out", "check_out"),
			store.Current("status", "status"),
			store.Current("amount", "amount"),
			store.Current("currency", "currency"),
			store.Current("created_at", "created_at"),
		},
		Results: []string{"row_version"},
	},
	Update: &store.Routine{
		Name: "reservation_update",
		Params: []store.RoutineParam{
			store.Original("id", "id"),
			store.Current("guest_id", "guest_id"),
			store.Current("room_id", "room_id"),
			store.Current("check_in", "check_in"),
			store.Current("check_out", "check_out"),
			store.Current("status", "status"),
			store.Current("amount", "amount"),
			store.Current("currency", "currency"),
			store.Current("updated_at", "updated_at"),
			store.Original("original_row_version", "row_version"),
		},
		Results: []string{"row_version"},
	},
	Delete: &store.Routine{
		Name: "reservation_delete",
		Params: []store.RoutineParam{
			store.Original("id", "id"),
			store.Original("original_row_version", "row_version"),
		},
	},
}

func reservationKind(routines bool) store.Definition {
	b := store.Entity[Reservation]("Reservation").
		Key(store.Prop("ID", func(r *Reservation) uuid.UUID { return r.ID }, func(r *Reservation, v uuid.UUID) { r.ID = v })).
		Props(
			store.Prop("GuestID", func(r *Reservation) uuid.UUID { return r.GuestID }, func(r *Reservation, v uuid.UUID) { r.GuestID = v }),
			store.Prop("RoomID", func(r *Reservation) int { return r.RoomID }, func(r *Reservation, v int) { r.RoomID = v }),
			store.Prop("CheckIn", func(r *Reservation) time.Time { return r.CheckIn }, func(r *Reservation, v time.Time) { r.CheckIn = v }),
			store.Prop("CheckOut", func(r *Reservation) time.Time { return r.CheckOut }, func(r *Reservation, v time.Time) { r.CheckOut = v }),
			store.Prop("Status", func(r *Reservation) Status { return r.Status }, func(r *Reservation, v Status) { r.Status = v }).
				Convert(statusConverter()).MaxLen(20),
			store.Prop("Amount", func(r *Reservation) int64 { return r.Price.Cents }, func(r *Reservation, v int64) { r.Price.Cents = v }),
			store.Prop("Currency", func(r *Reservation) string { return r.Price.Currency }, func(r *Reservation, v string) { r.Price.Currency = v }).MaxLen(3),
		).
		Token("row_version").
		Timestamps().
		References("GuestID", "Guest").
		References("RoomID", "Room").
		HasOne("Guest", "Guest", "GuestID", func(r *Reservation) store.Navigator { return &r.Guest }).
		HasOne("Room", "Room", "RoomID", func(r *Reservation) store.Navigator { return &r.Room })
	if routines {
		b = b.Routines(reservationRoutines)
	}
	return b
}

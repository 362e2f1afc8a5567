// Package bookings maps the hotel booking domain onto the innkeeper engine:
// guests and their tags, rooms of several kinds, reservations, shared-type
// settings and a per-room reservation summary.
package bookings

import (
	"context"
	"fmt"

	"github.com/jacentio/innkeeper/store"
)

// ReservationsByGuestEmailQuery finds the reservations of the guest with an
// email, newest check-in first, rooms included.
const ReservationsByGuestEmailQuery = "ReservationsByGuestEmail"

// Options selects the mapping variations of the model.
type Options struct {
	// RoomStrategy maps the room hierarchy.
	// Default: store.StrategyTablePerConcrete
	RoomStrategy store.Strategy

	// Routines writes reservations through stored routines.
	// Default: false
	Routines bool
}

// DefaultOptions maps rooms one table per kind and writes with statements.
func DefaultOptions() Options {
	return Options{RoomStrategy: store.StrategyTablePerConcrete}
}

func (o *Options) validate() error {
	switch o.RoomStrategy {
	case store.StrategyNone:
		o.RoomStrategy = store.StrategyTablePerConcrete
	case store.StrategyTablePerConcrete, store.StrategySingleTable:
	default:
		return fmt.Errorf("bookings: unknown room strategy %d", o.RoomStrategy)
	}
	return nil
}

// Register adds every booking kind and compiled query to reg.
func Register(reg *store.Registry, opts Options) error {
	if err := opts.validate(); err != nil {
		return err
	}
	defs := append([]store.Definition{
		guestKind(),
		roomKinds(opts.RoomStrategy),
		reservationKind(opts.Routines),
		settingsKind(),
		summaryKind(),
	}, tagKinds()...)
	if err := reg.Register(defs...); err != nil {
		return fmt.Errorf("bookings: %w", err)
	}
	if err := reg.Compile(ReservationsByGuestEmailQuery, "Reservation",
		store.Has("Guest", store.Eq("Email", store.P("email"))),
		store.Include("Room"),
		store.OrderByDesc("CheckIn"),
	); err != nil {
		return fmt.Errorf("bookings: %w", err)
	}
	return nil
}

// NewRegistry returns a sealed registry holding the booking model.
func NewRegistry(opts Options) (*store.Registry, error) {
	reg := store.NewRegistry()
	if err := Register(reg, opts); err != nil {
		return nil, err
	}
	if err := reg.Seal(); err != nil {
		return nil, fmt.Errorf("bookings: %w", err)
	}
	return reg, nil
}

// ReservationsByGuestEmail runs the compiled query for email. Matching
// ignores case.
func ReservationsByGuestEmail(ctx context.Context, sess *store.Session, email Email) ([]*Reservation, error) {
	return store.CompiledAs[*Reservation](ctx, sess, ReservationsByGuestEmailQuery, store.Args{"email": email})
}

// Summaries reads the per-room reservation summary ordered by room number.
func Summaries(ctx context.Context, sess *store.Session) ([]*ReservationSummary, error) {
	return store.ProjectAs[*ReservationSummary](ctx, sess, "ReservationSummary", store.OrderBy("RoomNumber"))
}

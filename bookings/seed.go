package bookings

import (
	"time"

	"github.com/google/uuid"

	"github.com/jacentio/innkeeper/store"
)

var (
	// SeedGuestID is the id of the seeded guest.
	SeedGuestID = uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	// SeedReservationID is the id of the seeded reservation.
	SeedReservationID = uuid.MustParse("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb")
)

// Seeds returns the reference data every fresh database starts with. The
// entities are new on each call.
func Seeds(reg *store.Registry) ([]any, error) {
	alice, err := NewGuest(SeedGuestID, "Alice", MustEmail("alice@example.com"))
	if err != nil {
		return nil, err
	}
	alice.SetVip(true)

	std := &StandardRoom{RoomInfo: RoomInfo{ID: 1, Number: "101", Capacity: 2}}
	suite := &Suite{RoomInfo: RoomInfo{ID: 2, Number: "201", Capacity: 2}, HasLounge: true}

	res, err := NewReservation(SeedReservationID, alice.ID, std.ID,
		time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC),
		EUR(12000))
	if err != nil {
		return nil, err
	}
	if err := res.Confirm(); err != nil {
		return nil, err
	}

	retention, err := NewSetting(reg, 1, "RetentionDays", "90")
	if err != nil {
		return nil, err
	}
	theme, err := NewSetting(reg, 2, "Theme", "dark")
	if err != nil {
		return nil, err
	}
	return []any{alice, std, suite, res, retention, theme}, nil
}

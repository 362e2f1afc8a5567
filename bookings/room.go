package bookings

import (
	"strings"
	"unicode/utf8"

	"github.com/jacentio/innkeeper/store"
)

const maxRoomNumber = 20

// Room is any bookable room kind.
type Room interface {
	RoomID() int
	RoomNumber() string
	RoomCapacity() int
}

// RoomInfo holds what every room kind has. A zero ID is drawn from the
// shared room sequence on save.
type RoomInfo struct {
	ID       int
	Number   string
	Capacity int
}

func (r *RoomInfo) RoomID() int { return r.ID }
func (r *RoomInfo) RoomNumber() string { return r.Number }
func (r *RoomInfo) RoomCapacity() int { return r.Capacity }

func newRoomInfo(number string, capacity int) (RoomInfo, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return RoomInfo{}, store.NewValidationError("Room", "Number", number, "room number is required")
	}
	if utf8.RuneCountInString(number) > maxRoomNumber {
		return RoomInfo{}, store.NewValidationError("Room", "Number", number, "room number is longer than %d characters", maxRoomNumber)
	}
	if capacity <= 0 {
		return RoomInfo{}, store.NewValidationError("Room", "Capacity", capacity, "capacity must be positive")
	}
	return RoomInfo{Number: number, Capacity: capacity}, nil
}

// StandardRoom is a plain room.
type StandardRoom struct {
	RoomInfo
}

// NewStandardRoom returns an unsaved standard room.
func NewStandardRoom(number string, capacity int) (*StandardRoom, error) {
	info, err := newRoomInfo(number, capacity)
	if err != nil {
		return nil, err
	}
	return &StandardRoom{RoomInfo: info}, nil
}

// Suite is a room that may come with a lounge.
type Suite struct {
	RoomInfo
	HasLounge bool
}

// NewSuite returns an unsaved suite.
func NewSuite(number string, capacity int, lounge bool) (*Suite, error) {
	info, err := newRoomInfo(number, capacity)
	if err != nil {
		return nil, err
	}
	return &Suite{RoomInfo: info, HasLounge: lounge}, nil
}

// roomProps declares the properties every room kind shares, reached
// through info.
func roomProps[E any](info func(*E) *RoomInfo) (*store.PropertySpec, []*store.PropertySpec) {
	key := store.Prop("ID", func(e *E) int { return info(e).ID }, func(e *E, v int) { info(e).ID = v })
	return key, []*store.PropertySpec{
		store.Prop("Number", func(e *E) string { return info(e).Number }, func(e *E, v string) { info(e).Number = v }).MaxLen(maxRoomNumber),
		store.Prop("Capacity", func(e *E) int { return info(e).Capacity }, func(e *E, v int) { info(e).Capacity = v }),
	}
}

func roomKinds(strategy store.Strategy) store.Definition {
	stdKey, stdProps := roomProps(func(r *StandardRoom) *RoomInfo { return &r.RoomInfo })
	suiteKey, suiteProps := roomProps(func(r *Suite) *RoomInfo { return &r.RoomInfo })

	h := store.Hierarchy("Room", strategy).Token("row_version")
	switch strategy {
	case store.StrategyTablePerConcrete:
		h = h.Sequence("room_seq")
	case store.StrategySingleTable:
		h = h.Table("rooms").Discriminator("room_type").Sequence("room_seq")
	}
	return h.
		Variant(store.Entity[StandardRoom]("StandardRoom").
			Table("standard_rooms").
			Discriminator("standard").
			Key(stdKey).
			Props(stdProps...)).
		Variant(store.Entity[Suite]("Suite").
			Table("suites").
			Discriminator("suite").
			Key(suiteKey).
			Props(suiteProps...).
			Props(store.Prop("HasLounge", func(s *Suite) bool { return s.HasLounge }, func(s *Suite, v bool) { s.HasLounge = v })))
}

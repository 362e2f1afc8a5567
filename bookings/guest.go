package bookings

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/jacentio/innkeeper/store"
)

const maxGuestName = 200

// Guest is a person who books rooms. Deleted guests are hidden from every
// query unless filters are bypassed.
type Guest struct {
	ID    uuid.UUID
	Email Email

	name    string
	vip     bool
	deleted bool

	Reservations store.Many[*Reservation]
}

// NewGuest validates name and returns a guest with a fresh id when id is zero.
func NewGuest(id uuid.UUID, name string, email Email) (*Guest, error) {
	g := &Guest{ID: id, Email: email}
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	if err := g.Rename(name); err != nil {
		return nil, err
	}
	return g, nil
}

// Name returns the trimmed display name.
func (g *Guest) Name() string { return g.name }

// Rename trims and validates the display name.
func (g *Guest) Rename(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.NewValidationError("Guest", "Name", name, "name is required")
	}
	if utf8.RuneCountInString(name) > maxGuestName {
		return store.NewValidationError("Guest", "Name", name, "name is longer than %d characters", maxGuestName)
	}
	g.name = name
	return nil
}

// IsVip reports whether the guest gets VIP treatment.
func (g *Guest) IsVip() bool { return g.vip }

// SetVip sets the VIP flag.
func (g *Guest) SetVip(vip bool) { g.vip = vip }

// IsDeleted reports a soft delete.
func (g *Guest) IsDeleted() bool { return g.deleted }

// MarkDeleted soft-deletes the guest; the row stays but is filtered out.
func (g *Guest) MarkDeleted() { g.deleted = true }

func guestKind() store.Definition {
	return store.Entity[Guest]("Guest").
		Key(store.Prop("ID", func(g *Guest) uuid.UUID { return g.ID }, func(g *Guest, v uuid.UUID) { g.ID = v })).
		Props(
			store.Prop("Name", (*Guest).Name, func(g *Guest, v string) { g.name = v }).MaxLen(maxGuestName),
			store.Prop("Email", func(g *Guest) Email { return g.Email }, func(g *Guest, v Email) { g.Email = v }).
				Convert(emailConverter()).MaxLen(320),
			store.Prop("IsVip", (*Guest).IsVip, (*Guest).SetVip).Column("is_vip_yn").Convert(store.YesNo()).MaxLen(1),
			store.Prop("IsDeleted", (*Guest).IsDeleted, func(g *Guest, v bool) { g.deleted = v }),
		).
		Token("row_version").
		Timestamps().
		Filter(store.Eq("IsDeleted", false)).
		HasMany("Reservations", "Reservation", "GuestID", func(g *Guest) store.Navigator { return &g.Reservations })
}

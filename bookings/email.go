package bookings

import (
	"strings"

	"github.com/jacentio/innkeeper/internal/keyhash"
	"github.com/jacentio/innkeeper/store"
)

// Email is a trimmed e-mail address. Two addresses are equal when they
// differ only in case.
type Email struct {
	addr string
}

// ParseEmail trims s and requires a non-blank address containing '@'.
func ParseEmail(s string) (Email, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Email{}, store.NewValidationError("Guest", "Email", s, "email is required")
	}
	if !strings.Contains(s, "@") {
		return Email{}, store.NewValidationError("Guest", "Email", s, "email %q has no @", s)
	}
	return Email{addr: s}, nil
}

// MustEmail is ParseEmail for literals; it panics on invalid input.
func MustEmail(s string) Email {
	e, err := ParseEmail(s)
	if err != nil {
		panic(err)
	}
	return e
}

func (e Email) String() string { return e.addr }

// Equal compares addresses case-insensitively.
func (e Email) Equal(o Email) bool { return strings.EqualFold(e.addr, o.addr) }

// emailConverter stores an Email as text; tracked comparisons and queries
// ignore case.
func emailConverter() *store.ValueConverter[Email, string] {
	return store.NewConverter(store.TypeText,
		func(e Email) string { return e.addr },
		ParseEmail,
	).Compare(Email.Equal, func(e Email) uint64 { return keyhash.Fold(e.addr) }).FoldCase()
}

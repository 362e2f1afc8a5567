package bookings

import (
	"fmt"
	"strings"
)

// DefaultCurrency is used when a price names none.
const DefaultCurrency = "EUR"

// Money is an amount in minor units of an ISO 4217 currency.
type Money struct {
	Cents    int64
	Currency string
}

// Zero returns no money in currency.
func Zero(currency string) Money { return Money{Currency: currency} }

// EUR returns cents euro cents.
func EUR(cents int64) Money { return Money{Cents: cents, Currency: "EUR"} }

// Add sums two amounts of the same currency.
func (m Money) Add(o Money) (Money, error) {
	if m.Currency != o.Currency {
		return Money{}, fmt.Errorf("add money: %s and %s differ", m.Currency, o.Currency)
	}
	return Money{Cents: m.Cents + o.Cents, Currency: m.Currency}, nil
}

func (m Money) String() string {
	sign := ""
	c := m.Cents
	if c < 0 {
		sign, c = "-", -c
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, c/100, c%100, m.Currency)
}

func validCurrency(c string) bool {
	return len(c) == 3 && strings.ToUpper(c) == c
}

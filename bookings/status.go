package bookings

import "github.com/jacentio/innkeeper/store"

// Status is the lifecycle state of a reservation, stored as its name.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusConfirmed  Status = "Confirmed"
	StatusCancelled  Status = "Cancelled"
	StatusCheckedIn  Status = "CheckedIn"
	StatusCheckedOut Status = "CheckedOut"
)

func statusConverter() *store.ValueConverter[Status, string] {
	return store.Enum(StatusPending, StatusConfirmed, StatusCancelled, StatusCheckedIn, StatusCheckedOut)
}

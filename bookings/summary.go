package bookings

import "github.com/jacentio/innkeeper/store"

// SummaryView is the relation projected into ReservationSummary rows.
const SummaryView = "vw_reservation_summary"

// ReservationSummary aggregates the reservations of one room number.
type ReservationSummary struct {
	RoomNumber        string
	ReservationsCount int64
	TotalAmount       int64
}

func summaryKind() store.Definition {
	return store.View[ReservationSummary]("ReservationSummary", SummaryView).
		Props(
			store.Prop("RoomNumber", func(s *ReservationSummary) string { return s.RoomNumber }, func(s *ReservationSummary, v string) { s.RoomNumber = v }),
			store.Prop("ReservationsCount", func(s *ReservationSummary) int64 { return s.ReservationsCount }, func(s *ReservationSummary, v int64) { s.ReservationsCount = v }),
			store.Prop("TotalAmount", func(s *ReservationSummary) int64 { return s.TotalAmount }, func(s *ReservationSummary, v int64) { s.TotalAmount = v }),
		)
}

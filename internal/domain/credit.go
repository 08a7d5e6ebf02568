package domain

import "time"

// ReservationStatus enumerates the settlement states of a credit reservation.
type ReservationStatus string

const (
	ReservationHeld      ReservationStatus = "held"
	ReservationCommitted ReservationStatus = "committed"
	ReservationReleased  ReservationStatus = "released"
)

// Account is a user's credit balance.
type Account struct {
	UserID    string
	Balance   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Reservation is a held-but-not-yet-committed deduction against an account.
// Ref is the id of the job the reservation backs.
type Reservation struct {
	ID        string
	UserID    string
	Ref       string
	Amount    int64
	Status    ReservationStatus
	CreatedAt time.Time
	SettledAt *time.Time
}

// Stats aggregates a user's jobs by state.
type Stats struct {
	TotalProcessed   int   `json:"total_processed"`
	Successful       int   `json:"successful"`
	Failed           int   `json:"failed"`
	Rejected         int   `json:"rejected"`
	Pending          int   `json:"pending"`
	CreditsRemaining int64 `json:"credits_remaining"`
}

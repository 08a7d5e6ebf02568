// Package memory provides process-local implementations of the ledger and job
// store. They back the "memory" store driver for single-instance development and
// the engine test suites.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"jobengine/internal/domain"
)

// Ledger implements domain.Ledger with a single mutex serializing every
// balance mutation.
type Ledger struct {
	mu           sync.Mutex
	accounts     map[string]*domain.Account
	reservations map[string]*domain.Reservation
	now          func() time.Time
}

// NewLedger constructs an empty in-memory ledger.
func NewLedger() *Ledger {
	return &Ledger{
		accounts:     make(map[string]*domain.Account),
		reservations: make(map[string]*domain.Reservation),
		now:          time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

func (l *Ledger) OpenAccount(_ context.Context, userID string, startingBalance int64) (*domain.Account, error) {
	if userID == "" {
		return nil, &domain.ValidationError{Field: "user_id", Message: "required"}
	}
	if startingBalance < 0 {
		return nil, &domain.ValidationError{Field: "starting_balance", Message: "must not be negative"}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if acct, ok := l.accounts[userID]; ok {
		copy := *acct
		return &copy, nil
	}
	now := l.now()
	acct := &domain.Account{UserID: userID, Balance: startingBalance, CreatedAt: now, UpdatedAt: now}
	l.accounts[userID] = acct
	copy := *acct
	return &copy, nil
}

func (l *Ledger) Grant(_ context.Context, userID string, amount int64) (*domain.Account, error) {
	if amount <= 0 {
		return nil, &domain.ValidationError{Field: "amount", Message: "must be positive"}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.accounts[userID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	acct.Balance += amount
	acct.UpdatedAt = l.now()
	copy := *acct
	return &copy, nil
}

func (l *Ledger) Reserve(_ context.Context, userID string, amount int64, ref string) (*domain.Reservation, error) {
	if amount <= 0 {
		return nil, &domain.ValidationError{Field: "amount", Message: "must be positive"}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.accounts[userID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	if acct.Balance < amount {
		return nil, domain.ErrInsufficientCredit
	}
	now := l.now()
	acct.Balance -= amount
	acct.UpdatedAt = now
	res := &domain.Reservation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Ref:       ref,
		Amount:    amount,
		Status:    domain.ReservationHeld,
		CreatedAt: now,
	}
	l.reservations[res.ID] = res
	copy := *res
	return &copy, nil
}

func (l *Ledger) Commit(_ context.Context, reservationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.reservations[reservationID]
	if !ok {
		return domain.ErrUnknownReservation
	}
	if res.Status != domain.ReservationHeld {
		return nil
	}
	now := l.now()
	res.Status = domain.ReservationCommitted
	res.SettledAt = &now
	return nil
}

func (l *Ledger) Release(_ context.Context, reservationID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.reservations[reservationID]
	if !ok {
		return 0, domain.ErrUnknownReservation
	}
	if res.Status != domain.ReservationHeld {
		return 0, nil
	}
	acct, ok := l.accounts[res.UserID]
	if !ok {
		return 0, domain.ErrAccountNotFound
	}
	now := l.now()
	acct.Balance += res.Amount
	acct.UpdatedAt = now
	res.Status = domain.ReservationReleased
	res.SettledAt = &now
	return res.Amount, nil
}

func (l *Ledger) Reservation(_ context.Context, reservationID string) (*domain.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.reservations[reservationID]
	if !ok {
		return nil, domain.ErrUnknownReservation
	}
	copy := *res
	return &copy, nil
}

func (l *Ledger) Balance(_ context.Context, userID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.accounts[userID]
	if !ok {
		return 0, domain.ErrAccountNotFound
	}
	return acct.Balance, nil
}

func (l *Ledger) ListHeld(_ context.Context, olderThan time.Time, limit int) ([]domain.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []domain.Reservation
	for _, res := range l.reservations {
		if res.Status == domain.ReservationHeld && res.CreatedAt.Before(olderThan) {
			out = append(out, *res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ domain.Ledger = (*Ledger)(nil)

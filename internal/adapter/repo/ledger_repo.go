package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"jobengine/internal/domain"
	"jobengine/internal/infra"
	"jobengine/internal/sqlinline"
)

// LedgerPG implements domain.Ledger on Postgres. Every balance mutation is a
// single statement so the account row lock serializes concurrent reservations.
type LedgerPG struct {
	db infra.SQLExecutor
}

// NewLedger creates a Postgres-backed ledger.
func NewLedger(db infra.SQLExecutor) *LedgerPG {
	return &LedgerPG{db: db}
}

func (l *LedgerPG) OpenAccount(ctx context.Context, userID string, startingBalance int64) (*domain.Account, error) {
	if userID == "" {
		return nil, &domain.ValidationError{Field: "user_id", Message: "required"}
	}
	if startingBalance < 0 {
		return nil, &domain.ValidationError{Field: "starting_balance", Message: "must not be negative"}
	}
	acct, err := scanAccount(l.db.QueryRow(ctx, sqlinline.QOpenCreditAccount, userID, startingBalance))
	if infra.IsNoRows(err) {
		acct, err = scanAccount(l.db.QueryRow(ctx, sqlinline.QSelectCreditAccount, userID))
	}
	if err != nil {
		return nil, fmt.Errorf("open account: %w", err)
	}
	return acct, nil
}

func (l *LedgerPG) Grant(ctx context.Context, userID string, amount int64) (*domain.Account, error) {
	if amount <= 0 {
		return nil, &domain.ValidationError{Field: "amount", Message: "must be positive"}
	}
	acct, err := scanAccount(l.db.QueryRow(ctx, sqlinline.QGrantCredits, userID, amount))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("grant credits: %w", err)
	}
	return acct, nil
}

func (l *LedgerPG) Reserve(ctx context.Context, userID string, amount int64, ref string) (*domain.Reservation, error) {
	if amount <= 0 {
		return nil, &domain.ValidationError{Field: "amount", Message: "must be positive"}
	}
	row := l.db.QueryRow(ctx, sqlinline.QReserveCredits, uuid.NewString(), userID, amount, ref)
	res, err := scanReservation(row)
	if err == nil {
		return res, nil
	}
	if !infra.IsNoRows(err) {
		return nil, fmt.Errorf("reserve credits: %w", err)
	}
	// Nothing was debited: either the account is missing or it is short.
	if _, err := l.Balance(ctx, userID); err != nil {
		return nil, err
	}
	return nil, domain.ErrInsufficientCredit
}

func (l *LedgerPG) Commit(ctx context.Context, reservationID string) error {
	if _, err := uuid.Parse(reservationID); err != nil {
		return domain.ErrUnknownReservation
	}
	tag, err := l.db.Exec(ctx, sqlinline.QCommitReservation, reservationID)
	if err != nil {
		return fmt.Errorf("commit reservation: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	_, err = l.Reservation(ctx, reservationID)
	return err
}

func (l *LedgerPG) Release(ctx context.Context, reservationID string) (int64, error) {
	if _, err := uuid.Parse(reservationID); err != nil {
		return 0, domain.ErrUnknownReservation
	}
	var refunded int64
	if err := l.db.QueryRow(ctx, sqlinline.QReleaseReservation, reservationID).Scan(&refunded); err != nil {
		return 0, fmt.Errorf("release reservation: %w", err)
	}
	if refunded > 0 {
		return refunded, nil
	}
	if _, err := l.Reservation(ctx, reservationID); err != nil {
		return 0, err
	}
	return 0, nil
}

func (l *LedgerPG) Reservation(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	if _, err := uuid.Parse(reservationID); err != nil {
		return nil, domain.ErrUnknownReservation
	}
	res, err := scanReservation(l.db.QueryRow(ctx, sqlinline.QSelectReservation, reservationID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrUnknownReservation
		}
		return nil, fmt.Errorf("select reservation: %w", err)
	}
	return res, nil
}

func (l *LedgerPG) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	if err := l.db.QueryRow(ctx, sqlinline.QSelectCreditBalance, userID).Scan(&balance); err != nil {
		if infra.IsNoRows(err) {
			return 0, domain.ErrAccountNotFound
		}
		return 0, fmt.Errorf("select balance: %w", err)
	}
	return balance, nil
}

func (l *LedgerPG) ListHeld(ctx context.Context, olderThan time.Time, limit int) ([]domain.Reservation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.Query(ctx, sqlinline.QListHeldReservations, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list held reservations: %w", err)
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var acct domain.Account
	if err := row.Scan(&acct.UserID, &acct.Balance, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
		return nil, err
	}
	return &acct, nil
}

func scanReservation(row pgx.Row) (*domain.Reservation, error) {
	var (
		res    domain.Reservation
		status string
	)
	if err := row.Scan(&res.ID, &res.UserID, &res.Ref, &res.Amount, &status, &res.CreatedAt, &res.SettledAt); err != nil {
		return nil, err
	}
	res.Status = domain.ReservationStatus(status)
	return &res, nil
}

var _ domain.Ledger = (*LedgerPG)(nil)

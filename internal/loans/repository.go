package loans

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coopledger/coopledger/internal/platform/db"
)

// ErrNotFound indicates the loan does not exist.
var ErrNotFound = errors.New("loans: not found")

// Repository provides PostgreSQL backed persistence for loans and their
// ledger.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a loan row.
func (r *Repository) Create(ctx context.Context, l Loan) (Loan, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO loans (id, group_id, principal, outstanding_balance, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at`,
		l.ID, l.GroupID, l.Principal, l.Outstanding, l.Status, l.CreatedAt, l.UpdatedAt).Scan(&l.CreatedAt)
	if err != nil {
		return Loan{}, fmt.Errorf("loans: create: %w", err)
	}
	return l, nil
}

// Get returns a loan by id.
func (r *Repository) Get(ctx context.Context, id string) (Loan, error) {
	var l Loan
	err := r.pool.QueryRow(ctx, `SELECT id, group_id, principal, outstanding_balance, status, created_at, updated_at
FROM loans WHERE id = $1`, id).
		Scan(&l.ID, &l.GroupID, &l.Principal, &l.Outstanding, &l.Status, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Loan{}, ErrNotFound
		}
		return Loan{}, fmt.Errorf("loans: get: %w", err)
	}
	return l, nil
}

// ListByGroup returns all loans for a group, oldest first.
func (r *Repository) ListByGroup(ctx context.Context, groupID string) ([]Loan, error) {
	return r.list(ctx, `SELECT id, group_id, principal, outstanding_balance, status, created_at, updated_at
FROM loans WHERE group_id = $1 ORDER BY created_at ASC`, groupID)
}

// ListOutstandingByGroup returns loans with a positive outstanding balance for
// a group, ordered by creation time ascending. The order is the FIFO
// allocation order used by settlement.
func (r *Repository) ListOutstandingByGroup(ctx context.Context, groupID string) ([]Loan, error) {
	return r.list(ctx, `SELECT id, group_id, principal, outstanding_balance, status, created_at, updated_at
FROM loans WHERE group_id = $1 AND outstanding_balance > 0 ORDER BY created_at ASC`, groupID)
}

func (r *Repository) list(ctx context.Context, query string, groupID string) ([]Loan, error) {
	rows, err := r.pool.Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("loans: list: %w", err)
	}
	defer rows.Close()
	var out []Loan
	for rows.Next() {
		var l Loan
		if err := rows.Scan(&l.ID, &l.GroupID, &l.Principal, &l.Outstanding, &l.Status, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("loans: scan: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loans: rows: %w", err)
	}
	return out, nil
}

const deductQuery = `WITH prev AS (
	SELECT outstanding_balance FROM loans WHERE id = $1 FOR UPDATE
)
UPDATE loans l SET
	outstanding_balance = GREATEST(l.outstanding_balance - $2, 0),
	status = CASE WHEN GREATEST(l.outstanding_balance - $2, 0) = 0 THEN 'SETTLED' ELSE l.status END,
	updated_at = $3
FROM prev
WHERE l.id = $1
RETURNING prev.outstanding_balance, l.outstanding_balance`

// DeductBalance atomically decrements a loan's outstanding balance with a
// floor at zero and returns the balance before and after. The row lock plus
// GREATEST make concurrent deductions against the same loan safe: each caller
// observes the balance it actually changed, never a stale snapshot.
func (r *Repository) DeductBalance(ctx context.Context, loanID string, amount float64) (BalanceChange, error) {
	var change BalanceChange
	err := r.pool.QueryRow(ctx, deductQuery, loanID, amount, time.Now().UTC()).Scan(&change.Before, &change.After)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BalanceChange{}, ErrNotFound
		}
		return BalanceChange{}, fmt.Errorf("loans: deduct balance: %w", err)
	}
	return change, nil
}

const insertEntryQuery = `INSERT INTO loan_ledger_entries (id, farmer_id, loan_id, entry_type, amount, balance_after, payout_id, season_id, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// AppendLedgerEntry appends an audit line. Entries are never updated or
// deleted.
func (r *Repository) AppendLedgerEntry(ctx context.Context, input LedgerEntryInput) (LedgerEntry, error) {
	entry := LedgerEntry{
		ID:           uuid.NewString(),
		FarmerID:     input.FarmerID,
		LoanID:       input.LoanID,
		EntryType:    input.EntryType,
		Amount:       input.Amount,
		BalanceAfter: input.BalanceAfter,
		PayoutID:     input.PayoutID,
		SeasonID:     input.SeasonID,
		CreatedBy:    input.CreatedBy,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := r.pool.Exec(ctx, insertEntryQuery,
		entry.ID, entry.FarmerID, entry.LoanID, entry.EntryType, entry.Amount, entry.BalanceAfter,
		entry.PayoutID, entry.SeasonID, entry.CreatedBy, entry.CreatedAt)
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("loans: append ledger entry: %w", err)
	}
	return entry, nil
}

// RecordRepayment applies a repayment and its ledger entry in one
// transaction. Unlike settlement allocation, a repayment has no prior commit
// point to protect, so both writes succeed or fail together.
func (r *Repository) RecordRepayment(ctx context.Context, loanID, farmerID, createdBy string, amount float64) (BalanceChange, error) {
	var change BalanceChange
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, deductQuery, loanID, amount, time.Now().UTC()).Scan(&change.Before, &change.After); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("loans: repay: %w", err)
		}
		applied := change.Applied()
		if applied <= 0 {
			return nil
		}
		_, err := tx.Exec(ctx, insertEntryQuery,
			uuid.NewString(), farmerID, loanID, EntryTypeRepayment, -applied, change.After,
			nil, nil, createdBy, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("loans: repay ledger entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return BalanceChange{}, err
	}
	return change, nil
}

// ListLedgerByLoan returns the append-only trail for a loan, oldest first.
func (r *Repository) ListLedgerByLoan(ctx context.Context, loanID string) ([]LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, farmer_id, loan_id, entry_type, amount, balance_after, payout_id, season_id, created_by, created_at
FROM loan_ledger_entries WHERE loan_id = $1 ORDER BY created_at ASC`, loanID)
	if err != nil {
		return nil, fmt.Errorf("loans: list ledger: %w", err)
	}
	defer rows.Close()
	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.FarmerID, &e.LoanID, &e.EntryType, &e.Amount, &e.BalanceAfter, &e.PayoutID, &e.SeasonID, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("loans: scan ledger: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loans: ledger rows: %w", err)
	}
	return out, nil
}

package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// Repository provides PostgreSQL backed persistence for payouts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert persists a payout. The unique index on delivery_id makes this the
// commit point of a settlement: a second insert for the same delivery is
// rejected by the database and reported as ErrAlreadyProcessed, regardless of
// what any earlier existence check observed.
func (r *Repository) Insert(ctx context.Context, p Payout) (Payout, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO payouts (id, payout_number, delivery_id, gross_amount, loan_deduction, net_paid, payment_method, reference, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING created_at`,
		p.ID, p.Number, p.DeliveryID, p.GrossAmount, p.LoanDeduction, p.NetPaid, p.Method, p.Reference, p.CreatedBy, p.CreatedAt).
		Scan(&p.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Payout{}, ErrAlreadyProcessed
		}
		return Payout{}, fmt.Errorf("settlement: insert payout: %w", err)
	}
	return p, nil
}

// GetByDelivery returns the payout for a delivery, or ErrNoPayout.
func (r *Repository) GetByDelivery(ctx context.Context, deliveryID string) (Payout, error) {
	var p Payout
	err := r.pool.QueryRow(ctx, `SELECT id, payout_number, delivery_id, gross_amount, loan_deduction, net_paid, payment_method, reference, created_by, created_at
FROM payouts WHERE delivery_id = $1`, deliveryID).
		Scan(&p.ID, &p.Number, &p.DeliveryID, &p.GrossAmount, &p.LoanDeduction, &p.NetPaid, &p.Method, &p.Reference, &p.CreatedBy, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payout{}, ErrNoPayout
		}
		return Payout{}, fmt.Errorf("settlement: get payout: %w", err)
	}
	return p, nil
}

// ListRecent returns the most recent payouts, newest first.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]Payout, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT id, payout_number, delivery_id, gross_amount, loan_deduction, net_paid, payment_method, reference, created_by, created_at
FROM payouts ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("settlement: list payouts: %w", err)
	}
	defer rows.Close()
	var out []Payout
	for rows.Next() {
		var p Payout
		if err := rows.Scan(&p.ID, &p.Number, &p.DeliveryID, &p.GrossAmount, &p.LoanDeduction, &p.NetPaid, &p.Method, &p.Reference, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("settlement: scan payout: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("settlement: payout rows: %w", err)
	}
	return out, nil
}

package deliveries

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the delivery does not exist.
var ErrNotFound = errors.New("deliveries: not found")

// Repository provides PostgreSQL backed persistence for deliveries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a delivery row.
func (r *Repository) Create(ctx context.Context, d Delivery) (Delivery, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO deliveries (id, farmer_id, group_id, weight_kg, unit_price, officer_id, note, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at`,
		d.ID, d.FarmerID, d.GroupID, d.WeightKG, d.UnitPrice, d.OfficerID, d.Note, d.CreatedAt).Scan(&d.CreatedAt)
	if err != nil {
		return Delivery{}, fmt.Errorf("deliveries: create: %w", err)
	}
	return d, nil
}

// Get returns the bare delivery row without relational context.
func (r *Repository) Get(ctx context.Context, id string) (Delivery, error) {
	var d Delivery
	err := r.pool.QueryRow(ctx, `SELECT id, farmer_id, group_id, weight_kg, unit_price, officer_id, note, created_at
FROM deliveries WHERE id = $1`, id).
		Scan(&d.ID, &d.FarmerID, &d.GroupID, &d.WeightKG, &d.UnitPrice, &d.OfficerID, &d.Note, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Delivery{}, ErrNotFound
		}
		return Delivery{}, fmt.Errorf("deliveries: get: %w", err)
	}
	return d, nil
}

// GetWithContext returns the delivery joined with farmer and group names.
// Callers fall back to Get when the joined lookup fails; the join must never
// block settlement of the numeric fields.
func (r *Repository) GetWithContext(ctx context.Context, id string) (DeliveryWithContext, error) {
	var d DeliveryWithContext
	err := r.pool.QueryRow(ctx, `SELECT d.id, d.farmer_id, d.group_id, d.weight_kg, d.unit_price, d.officer_id, d.note, d.created_at,
COALESCE(f.name, ''), COALESCE(g.name, '')
FROM deliveries d
LEFT JOIN farmers f ON f.id = d.farmer_id
LEFT JOIN farmer_groups g ON g.id = d.group_id
WHERE d.id = $1`, id).
		Scan(&d.ID, &d.FarmerID, &d.GroupID, &d.WeightKG, &d.UnitPrice, &d.OfficerID, &d.Note, &d.CreatedAt,
			&d.FarmerName, &d.GroupName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DeliveryWithContext{}, ErrNotFound
		}
		return DeliveryWithContext{}, fmt.Errorf("deliveries: get with context: %w", err)
	}
	return d, nil
}

// ListByGroup returns recent deliveries for a group, newest first.
func (r *Repository) ListByGroup(ctx context.Context, groupID string, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT id, farmer_id, group_id, weight_kg, unit_price, officer_id, note, created_at
FROM deliveries WHERE group_id = $1 ORDER BY created_at DESC LIMIT $2`, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("deliveries: list: %w", err)
	}
	defer rows.Close()
	var out []Delivery
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.ID, &d.FarmerID, &d.GroupID, &d.WeightKG, &d.UnitPrice, &d.OfficerID, &d.Note, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("deliveries: scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("deliveries: rows: %w", err)
	}
	return out, nil
}

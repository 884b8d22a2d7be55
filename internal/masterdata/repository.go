package masterdata

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("masterdata: not found")

// Repository provides PostgreSQL backed lookups.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetFarmer returns a farmer by id.
func (r *Repository) GetFarmer(ctx context.Context, id string) (Farmer, error) {
	var f Farmer
	err := r.pool.QueryRow(ctx, `SELECT id, name, group_id, created_at FROM farmers WHERE id = $1`, id).
		Scan(&f.ID, &f.Name, &f.GroupID, &f.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Farmer{}, ErrNotFound
		}
		return Farmer{}, fmt.Errorf("masterdata: get farmer: %w", err)
	}
	return f, nil
}

// GetFarmerGroup returns a farmer group by id.
func (r *Repository) GetFarmerGroup(ctx context.Context, id string) (FarmerGroup, error) {
	var g FarmerGroup
	err := r.pool.QueryRow(ctx, `SELECT id, name, region, created_at FROM farmer_groups WHERE id = $1`, id).
		Scan(&g.ID, &g.Name, &g.Region, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FarmerGroup{}, ErrNotFound
		}
		return FarmerGroup{}, fmt.Errorf("masterdata: get group: %w", err)
	}
	return g, nil
}

// GetActiveSeason returns the currently active season, or ErrNotFound when no
// season is marked active. Callers treat absence as non-fatal.
func (r *Repository) GetActiveSeason(ctx context.Context) (Season, error) {
	var s Season
	err := r.pool.QueryRow(ctx, `SELECT id, name, starts_at, ends_at, active FROM seasons WHERE active ORDER BY starts_at DESC LIMIT 1`).
		Scan(&s.ID, &s.Name, &s.StartsAt, &s.EndsAt, &s.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Season{}, ErrNotFound
		}
		return Season{}, fmt.Errorf("masterdata: get active season: %w", err)
	}
	return s, nil
}

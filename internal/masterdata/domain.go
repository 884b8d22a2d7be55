// Package masterdata exposes read-only cooperative context: farmers, farmer
// groups and growing seasons. These records are administered elsewhere; the
// settlement service only looks them up.
package masterdata

import "time"

// Farmer is a cooperative member who delivers harvested goods.
type Farmer struct {
	ID        string
	Name      string
	GroupID   string
	CreatedAt time.Time
}

// FarmerGroup is the lending unit. Loans are extended to groups, not to
// individual farmers.
type FarmerGroup struct {
	ID        string
	Name      string
	Region    string
	CreatedAt time.Time
}

// Season is a growing season. At most one season is active at a time; ledger
// entries carry the active season id when one exists.
type Season struct {
	ID       string
	Name     string
	StartsAt time.Time
	EndsAt   time.Time
	Active   bool
}

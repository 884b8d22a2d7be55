package deliveries

import "time"

// Delivery is an immutable record of a completed goods handover, recorded by a
// field officer. The settlement engine reads deliveries; it never mutates them.
type Delivery struct {
	ID        string
	FarmerID  string
	GroupID   string
	WeightKG  float64
	UnitPrice float64
	OfficerID string
	Note      string
	CreatedAt time.Time
}

// DeliveryWithContext is a delivery joined with denormalized farmer and group
// names. The names are display context only; settlement works off the numeric
// fields of the embedded Delivery.
type DeliveryWithContext struct {
	Delivery
	FarmerName string
	GroupName  string
}

// CreateDeliveryInput carries the fields required to record a delivery.
type CreateDeliveryInput struct {
	FarmerID  string
	WeightKG  float64
	UnitPrice float64
	OfficerID string
	Note      string
}
